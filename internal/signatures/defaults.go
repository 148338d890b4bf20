package signatures

import (
	"net/url"
	"regexp"
	"strings"
)

var scannerAgents = regexp.MustCompile(`(?i)(?:sqlmap|nikto|nmap|masscan|acunetix|nessus|openvas|zgrab|dirbuster|gobuster|nuclei|wpscan|havij|commix|w3af|arachni)`)

// injectedField is a line break followed by something shaped like a header
// field. A URL scheme ("https://") is not a field.
var injectedField = regexp.MustCompile(`[\r\n]+[A-Za-z0-9-]+[ \t]*:(?:[^/]|$)`)

// crlfInjected reports whether v, raw or after up to two rounds of percent
// decoding, smuggles a header field behind a line break.
func crlfInjected(v string) bool {
	for i := 0; i < 3; i++ {
		if injectedField.MatchString(v) {
			return true
		}
		d, err := url.QueryUnescape(v)
		if err != nil || d == v {
			return false
		}
		v = d
	}
	return false
}

// maxHeaderCount mirrors the limit most HTTP servers enforce; more headers
// than this is a smuggling or resource-exhaustion probe.
const maxHeaderCount = 100

func defaultSignatures() []*Signature {
	return []*Signature{
		// Injection
		{
			ID:             "sqli-union-select",
			Category:       CategoryInjection,
			Matcher:        MustPattern(`(?i)\bunion\b(?:\s+all)?\s+select\b`),
			Severity:       SeverityCritical,
			Description:    "SQL injection: UNION-based data extraction",
			Countermeasure: "Use parameterized queries; never concatenate input into SQL",
		},
		{
			ID:             "sqli-tautology",
			Category:       CategoryInjection,
			Matcher:        MustPattern(`(?i)['"]\s*(?:or|and)\s+['"]?\w+['"]?\s*=\s*['"]?\w+`),
			Severity:       SeverityHigh,
			Description:    "SQL injection: boolean tautology such as ' OR 1=1",
			Countermeasure: "Use parameterized queries and strict input typing",
		},
		{
			ID:             "sqli-stacked-ddl",
			Category:       CategoryInjection,
			Matcher:        MustPattern(`(?i);\s*(?:drop|truncate|alter)\s+(?:table|database|schema)\b`),
			Severity:       SeverityCritical,
			Description:    "SQL injection: stacked destructive statement",
			Countermeasure: "Disable multi-statement execution on the database driver",
		},
		{
			ID:             "sqli-time-blind",
			Category:       CategoryInjection,
			Matcher:        MustPattern(`(?i)(?:\b(?:sleep|benchmark|pg_sleep)\s*\(|\bwaitfor\s+delay\s+')`),
			Severity:       SeverityHigh,
			Description:    "SQL injection: time-based blind probe",
			Countermeasure: "Use parameterized queries; cap query execution time",
		},
		{
			ID:             "sqli-schema-probe",
			Category:       CategoryInjection,
			Matcher:        MustPattern(`(?i)(?:\binformation_schema\b|\bsys\.(?:tables|objects|columns)\b|\bpg_catalog\b)`),
			Severity:       SeverityHigh,
			Description:    "SQL injection: schema enumeration",
			Countermeasure: "Restrict database account privileges",
		},
		{
			ID:             "sqli-comment-evasion",
			Category:       CategoryInjection,
			Matcher:        MustPattern(`(?:'\s*(?:--|#)|/\*!?\d*\s*\*/)`),
			Severity:       SeverityMedium,
			Description:    "SQL injection: comment used to truncate or obfuscate a query",
			Countermeasure: "Use parameterized queries",
		},
		{
			ID:             "nosql-operator",
			Category:       CategoryInjection,
			Matcher:        MustPattern(`(?i)(?:\[\$(?:ne|gt|gte|lt|lte|regex|where|exists)\]|"\$(?:ne|gt|where|regex|exists)"\s*:)`),
			Severity:       SeverityMedium,
			Description:    "NoSQL injection: query operator smuggled through input",
			Countermeasure: "Reject operator keys in user-supplied documents",
		},
		{
			ID:             "ldap-filter-injection",
			Category:       CategoryInjection,
			Matcher:        MustPattern(`\)\s*\(\s*[|&!]\s*\(`),
			Severity:       SeverityMedium,
			Description:    "LDAP injection: filter breakout",
			Countermeasure: "Escape LDAP filter metacharacters",
		},
		{
			ID:       "header-crlf-injection",
			Category: CategoryInjection,
			Matcher: PredicateOf(func(a Attrs) bool {
				if crlfInjected(a.Path) || crlfInjected(a.RawQuery) {
					return true
				}
				for _, vals := range a.Header {
					for _, v := range vals {
						if crlfInjected(v) {
							return true
						}
					}
				}
				return false
			}),
			Severity:       SeverityHigh,
			Description:    "Header injection: encoded CR/LF followed by a header field",
			Countermeasure: "Never copy request input into response headers without stripping CR/LF",
		},

		// Script
		{
			ID:             "xss-script-tag",
			Category:       CategoryScript,
			Matcher:        MustPattern(`(?i)<\s*script\b`),
			Severity:       SeverityHigh,
			Description:    "Cross-site scripting: script tag",
			Countermeasure: "Contextually encode output; enforce a strict CSP",
		},
		{
			ID:             "xss-event-handler",
			Category:       CategoryScript,
			Matcher:        MustPattern(`(?i)<[^>]+\bon(?:error|load|click|mouseover|focus|blur|submit|toggle|animationstart)\s*=`),
			Severity:       SeverityHigh,
			Description:    "Cross-site scripting: inline event handler",
			Countermeasure: "Sanitize HTML with an allow-list",
		},
		{
			ID:             "xss-javascript-uri",
			Category:       CategoryScript,
			Matcher:        MustPattern(`(?i)\b(?:javascript|vbscript)\s*:`),
			Severity:       SeverityHigh,
			Description:    "Cross-site scripting: script URI scheme",
			Countermeasure: "Allow only http(s) URLs in links",
		},
		{
			ID:             "xss-dom-sink",
			Category:       CategoryScript,
			Matcher:        MustPattern(`(?i)(?:document\s*\.\s*(?:cookie|write|location)|\beval\s*\(|String\.fromCharCode\s*\(|\batob\s*\()`),
			Severity:       SeverityMedium,
			Description:    "Cross-site scripting: DOM sink or obfuscation primitive",
			Countermeasure: "Avoid dangerous sinks; enforce Trusted Types",
		},
		{
			ID:             "xss-embedded-content",
			Category:       CategoryScript,
			Matcher:        MustPattern(`(?i)<\s*(?:iframe|object|embed|svg|math|base)\b`),
			Severity:       SeverityMedium,
			Description:    "Cross-site scripting: embedded active content",
			Countermeasure: "Strip embedding elements from user content",
		},
		{
			ID:             "template-injection",
			Category:       CategoryScript,
			Matcher:        MustPattern(`(?:\{\{[^}]{1,200}\}\}|<%[^%]{1,200}%>)`),
			Severity:       SeverityMedium,
			Description:    "Server-side template injection marker",
			Countermeasure: "Never render user input as a template",
		},

		// Command
		{
			ID:             "cmd-chained-binary",
			Category:       CategoryCommand,
			Matcher:        MustPattern("(?i)(?:;|\\|\\|?|&&|\\$\\(|`)\\s*(?:cat|ls|id|whoami|uname|wget|curl|nc|ncat|bash|sh|zsh|python[23]?|perl|ruby|php|chmod|chown|rm)\\b"),
			Severity:       SeverityCritical,
			Description:    "Command injection: shell metacharacter followed by a system binary",
			Countermeasure: "Never pass input to a shell; use argument vectors",
		},
		{
			ID:             "cmd-substitution",
			Category:       CategoryCommand,
			Matcher:        MustPattern("(?:\\$\\([^)]{1,200}\\)|`[^`]{1,200}`)"),
			Severity:       SeverityMedium,
			Description:    "Command injection: shell substitution syntax",
			Countermeasure: "Never pass input to a shell",
		},
		{
			ID:             "cmd-windows-shell",
			Category:       CategoryCommand,
			Matcher:        MustPattern(`(?i)\b(?:cmd(?:\.exe)?\s+/c|powershell(?:\.exe)?\s+-(?:enc|encodedcommand|e|c|command)\b)`),
			Severity:       SeverityCritical,
			Description:    "Command injection: Windows shell invocation",
			Countermeasure: "Never pass input to a shell",
		},
		{
			ID:             "cmd-reverse-shell",
			Category:       CategoryCommand,
			Matcher:        MustPattern(`(?i)(?:/dev/tcp/|\bnc\s+-e\b|\bbash\s+-i\s*>&|\bmkfifo\s+/tmp/)`),
			Severity:       SeverityCritical,
			Description:    "Command injection: reverse shell primitive",
			Countermeasure: "Block egress from application hosts",
		},

		// Traversal
		{
			ID:             "path-traversal",
			Category:       CategoryTraversal,
			Matcher:        MustPattern(`(?:\.\.[\\/]|[\\/]\.\.(?:[\\/]|$))`),
			Severity:       SeverityHigh,
			Description:    "Path traversal: parent directory sequence",
			Countermeasure: "Resolve paths and verify they stay inside the base directory",
		},
		{
			ID:             "path-traversal-encoded",
			Category:       CategoryTraversal,
			Matcher:        MustPattern(`(?i)(?:%2e%2e(?:%2f|%5c|/|\\)|\.\.%2f|\.\.%5c|%c0%ae|%252e%252e)`),
			Severity:       SeverityHigh,
			Description:    "Path traversal: encoded parent directory sequence",
			Countermeasure: "Decode once, then resolve and verify paths",
		},
		{
			ID:             "sensitive-file-probe",
			Category:       CategoryTraversal,
			Matcher:        MustPattern(`(?i)(?:/etc/(?:passwd|shadow|hosts|group)\b|/proc/self/|[a-z]:\\windows\\|\bwin\.ini\b|\bboot\.ini\b|/\.(?:env|git|ssh|aws|htpasswd)(?:/|$|\b))`),
			Severity:       SeverityHigh,
			Description:    "Path traversal: probe for a sensitive system or secrets file",
			Countermeasure: "Deny access to dotfiles and system paths",
		},
		{
			ID:             "null-byte",
			Category:       CategoryTraversal,
			Matcher:        MustPattern(`(?i)%00`),
			Severity:       SeverityMedium,
			Description:    "Path traversal: null byte truncation",
			Countermeasure: "Reject NUL in paths and file names",
		},

		// Malware (file content)
		{
			ID:             "malware-eicar",
			Category:       CategoryMalware,
			Matcher:        Binary([]byte(`EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`)),
			Severity:       SeverityCritical,
			Description:    "EICAR anti-malware test file",
			Countermeasure: "Quarantine; the file is harmless but proves the scanner path works",
		},
		{
			ID:             "malware-php-webshell",
			Category:       CategoryMalware,
			Matcher:        MustPattern(`(?is)<\?(?:php|=).{0,400}?\b(?:eval|assert|system|passthru|shell_exec|exec|popen|proc_open)\s*\(\s*(?:@?\s*)?(?:base64_decode|gzinflate|gzuncompress|str_rot13|\$_(?:GET|POST|REQUEST|COOKIE|SERVER))`),
			Severity:       SeverityCritical,
			Description:    "PHP web shell executing request-controlled code",
			Countermeasure: "Quarantine and never serve uploads from an executable path",
		},
		{
			ID:             "malware-jsp-webshell",
			Category:       CategoryMalware,
			Matcher:        MustPattern(`(?i)Runtime\s*\.\s*getRuntime\s*\(\s*\)\s*\.\s*exec\s*\(`),
			Severity:       SeverityCritical,
			Description:    "JSP web shell",
			Countermeasure: "Quarantine",
		},
		{
			ID:             "malware-powershell-dropper",
			Category:       CategoryMalware,
			Matcher:        MustPattern(`(?i)(?:\b(?:IEX|Invoke-Expression)\b.{0,80}(?:Net\.WebClient|DownloadString|DownloadFile)|FromBase64String\s*\(.{0,40}\)\s*\|\s*IEX)`),
			Severity:       SeverityHigh,
			Description:    "PowerShell download-and-execute stager",
			Countermeasure: "Quarantine",
		},
		{
			ID:             "malware-office-autoexec",
			Category:       CategoryMalware,
			Matcher:        MustPattern(`(?is)\b(?:AutoOpen|Document_Open|Workbook_Open|Auto_Open)\b.{0,600}\b(?:Shell|CreateObject|WScript)\b`),
			Severity:       SeverityHigh,
			Description:    "Office macro auto-executing a shell or COM object",
			Countermeasure: "Quarantine; strip macros from documents",
		},
		{
			ID:             "malware-html-dropper",
			Category:       CategoryMalware,
			Matcher:        MustPattern(`(?is)<script[^>]*>\s*(?:eval|document\.write)\s*\(\s*(?:unescape|atob|decodeURIComponent)\s*\(`),
			Severity:       SeverityHigh,
			Description:    "Obfuscated script dropper embedded in HTML",
			Countermeasure: "Quarantine",
		},
		{
			ID:             "malware-pe-executable",
			Category:       CategoryMalware,
			Matcher:        Binary([]byte("This program cannot be run in DOS mode")),
			Severity:       SeverityHigh,
			Description:    "Windows PE executable disguised as an upload",
			Countermeasure: "Do not accept executables as uploads",
		},
		{
			ID:             "malware-elf-executable",
			Category:       CategoryMalware,
			Matcher:        Binary([]byte{0x7f, 'E', 'L', 'F', 0x02, 0x01, 0x01}),
			Severity:       SeverityHigh,
			Description:    "Linux ELF executable disguised as an upload",
			Countermeasure: "Do not accept executables as uploads",
		},

		// Zero-day heuristics
		{
			ID:             "jndi-lookup",
			Category:       CategoryZeroDay,
			Matcher:        MustPattern(`(?i)\$\{\s*(?:jndi|\$\{lower:j\}|\$\{::-j\})`),
			Severity:       SeverityCritical,
			Description:    "Infrastructure exploitation: JNDI lookup (Log4Shell class)",
			Countermeasure: "Disable message lookups in logging libraries",
		},
		{
			ID:             "cloud-metadata-ssrf",
			Category:       CategoryZeroDay,
			Matcher:        MustPattern(`(?i)(?:169\.254\.169\.254|metadata\.google\.internal|100\.100\.100\.200|fd00:ec2::254)`),
			Severity:       SeverityHigh,
			Description:    "Cloud/edge escape: instance metadata endpoint reference",
			Countermeasure: "Block link-local egress; require IMDSv2",
		},
		{
			ID:             "container-escape",
			Category:       CategoryZeroDay,
			Matcher:        MustPattern(`(?i)(?:/var/run/docker\.sock|/proc/1/root|release_agent|\bnsenter\s+(?:-t|--target)\s*1\b)`),
			Severity:       SeverityCritical,
			Description:    "Cloud/edge escape: container breakout primitive",
			Countermeasure: "Run workloads unprivileged with a read-only root",
		},
		{
			ID:             "ssrf-internal-scheme",
			Category:       CategoryZeroDay,
			Matcher:        MustPattern(`(?i)\b(?:gopher|dict|ldap|jar)://`),
			Severity:       SeverityHigh,
			Description:    "Infrastructure exploitation: exotic URL scheme for SSRF",
			Countermeasure: "Allow only http(s) for server-side fetches",
		},
		{
			ID:             "prototype-pollution",
			Category:       CategoryZeroDay,
			Matcher:        MustPattern(`(?i)(?:__proto__|constructor\s*\[\s*['"]?prototype|constructor\.prototype)`),
			Severity:       SeverityHigh,
			Description:    "Prototype pollution payload",
			Countermeasure: "Freeze prototypes; reject magic keys",
		},
		{
			ID:             "ai-prompt-injection",
			Category:       CategoryZeroDay,
			Matcher:        MustPattern(`(?i)(?:ignore\s+(?:all\s+)?(?:previous|prior|above)\s+instructions|disregard\s+(?:your|the)\s+system\s+prompt|you\s+are\s+now\s+in\s+developer\s+mode)`),
			Severity:       SeverityMedium,
			Description:    "AI/ML misuse: prompt injection aimed at downstream models",
			Countermeasure: "Isolate user content from model instructions",
		},
		{
			ID:             "k8s-secret-probe",
			Category:       CategoryZeroDay,
			Matcher:        MustPattern(`(?i)(?:/api/v1/namespaces/[^/\s]+/secrets|/\.kube/config|serviceaccount/token)`),
			Severity:       SeverityMedium,
			Description:    "Infrastructure exploitation: orchestrator credential probe",
			Countermeasure: "Never mount service account tokens into web workloads",
		},
		{
			ID:       "scanner-user-agent",
			Category: CategoryZeroDay,
			Matcher: PredicateOf(func(a Attrs) bool {
				return a.UserAgent != "" && scannerAgents.MatchString(a.UserAgent)
			}),
			Severity:       SeverityHigh,
			Description:    "Known vulnerability scanner user agent",
			Countermeasure: "Block the origin",
		},
		{
			ID:       "protocol-debug-method",
			Category: CategoryZeroDay,
			Matcher: PredicateOf(func(a Attrs) bool {
				switch strings.ToUpper(a.Method) {
				case "TRACE", "TRACK", "DEBUG", "CONNECT":
					return true
				}
				return false
			}),
			Severity:       SeverityMedium,
			Description:    "Protocol abuse: debug or tunnelling HTTP method",
			Countermeasure: "Allow only the methods the application serves",
		},
		{
			ID:       "header-flood",
			Category: CategoryZeroDay,
			Matcher: PredicateOf(func(a Attrs) bool {
				return len(a.Header) > maxHeaderCount
			}),
			Severity:       SeverityMedium,
			Description:    "Protocol abuse: excessive header count",
			Countermeasure: "Cap header count at the edge",
		},
	}
}
