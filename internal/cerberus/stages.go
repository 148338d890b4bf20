package cerberus

import (
	"encoding/json"
	"fmt"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/Wikid82/argus/internal/anomaly"
	"github.com/Wikid82/argus/internal/events"
	"github.com/Wikid82/argus/internal/logger"
	"github.com/Wikid82/argus/internal/ratelimit"
	"github.com/Wikid82/argus/internal/signatures"
	"github.com/Wikid82/argus/internal/util"
)

// Stage names, also used as metric labels.
const (
	StageReputation = "reputation"
	StageRateLimit  = "rate_limit"
	StageAnomaly    = "anomaly"
	StagePattern    = "pattern"
	StageCSRF       = "csrf"
)

// Response headers set by the stages.
const (
	HeaderRateLimit   = "X-RateLimit-Status"
	HeaderAnomaly     = "X-Anomaly-Status"
	HeaderThreat      = "X-Threat-Status"
	HeaderScan        = "X-Scan-Status"
	HeaderCSRFToken   = "X-CSRF-Token"
	HeaderSessionID   = "X-Session-ID"
	SessionCookieName = "argus_session"
)

// Record logs e to the event log and the process logger.
func (s *Store) Record(e events.Event) events.Event {
	e = s.Events.Log(e)
	entry := logger.ForComponent("cerberus").WithFields(map[string]interface{}{
		"event_id":   e.ID,
		"source":     e.Type,
		"severity":   e.Severity.String(),
		"origin":     e.Origin,
		"path":       e.Path,
		"decision":   e.Action,
		"outcome":    e.Outcome,
		"request_id": e.RequestID,
	})
	switch e.Outcome {
	case events.OutcomeBlocked, events.OutcomeQuarantined:
		entry.Warn(e.Detail)
	default:
		entry.Info(e.Detail)
	}
	return e
}

func (s *Store) recordFor(r *Request, e events.Event) {
	e.Origin = r.Origin
	e.Method = r.Method
	e.Path = util.LogSafe(r.Path, 256)
	e.RequestID = r.RequestID
	s.Record(e)
}

// ReputationStage rejects origins on the block list.
type ReputationStage struct{ store *Store }

func (ReputationStage) Name() string { return StageReputation }

func (st ReputationStage) Inspect(r *Request) Verdict {
	if !r.Config.Flags.Reputation || !st.store.Reputation.IsBlocked(r.Origin) {
		return Pass()
	}
	st.store.recordFor(r, events.Event{
		Type:     events.TypeReputation,
		Severity: signatures.SeverityHigh,
		Detail:   "request from blocked origin",
		Action:   "deny",
		Outcome:  events.OutcomeBlocked,
	})
	return Deny(http.StatusForbidden, "Access denied", nil)
}

// RateStage counts requests per origin in a fixed window.
type RateStage struct{ store *Store }

func (RateStage) Name() string { return StageRateLimit }

func (st RateStage) Inspect(r *Request) Verdict {
	if !r.Config.Flags.RateLimit {
		return Pass()
	}
	d := st.store.Rate.Admit(r.Origin)
	switch d.Verdict {
	case ratelimit.Warn:
		if d.Escalated {
			st.store.Reputation.RecordSuspicious(r.Origin, "rate-warning", signatures.SeverityMedium)
			st.store.recordFor(r, events.Event{
				Type:     events.TypeRateLimit,
				Severity: signatures.SeverityMedium,
				Detail:   fmt.Sprintf("request rate warning: %d requests in window", d.Count),
				Action:   "flag",
				Outcome:  events.OutcomeMonitored,
			})
		}
		return Mark(map[string]string{HeaderRateLimit: "warning"})
	case ratelimit.Block:
		if d.Escalated {
			st.store.Reputation.RecordSuspicious(r.Origin, "rate-limit-exceeded", signatures.SeverityCritical)
			st.store.recordFor(r, events.Event{
				Type:     events.TypeRateLimit,
				Severity: signatures.SeverityCritical,
				Detail:   fmt.Sprintf("request rate exceeded: %d requests in window", d.Count),
				Action:   "block-origin",
				Outcome:  events.OutcomeBlocked,
			})
		}
		retry := int(math.Ceil(d.RetryAfter.Seconds()))
		if retry < 1 {
			retry = 1
		}
		v := Deny(http.StatusTooManyRequests, "Too many requests", map[string]interface{}{"retry_after_seconds": retry})
		v.Headers = map[string]string{HeaderRateLimit: "blocked", "Retry-After": fmt.Sprint(retry)}
		return v
	}
	return Pass()
}

// AnomalyStage flags automation-like behaviour without blocking.
type AnomalyStage struct{ store *Store }

func (AnomalyStage) Name() string { return StageAnomaly }

func (st AnomalyStage) Inspect(r *Request) Verdict {
	if !r.Config.Flags.Anomaly {
		return Pass()
	}
	res := st.store.Anomaly.Analyze(r.Origin, anomaly.Meta{
		Path:      r.Path,
		Size:      r.Size,
		UserAgent: r.UserAgent,
		At:        r.ReceivedAt,
	})
	if !res.Anomalous {
		return Pass()
	}
	reasons := strings.Join(res.Reasons, ",")
	if res.Escalated {
		st.store.Reputation.RecordSuspicious(r.Origin, "anomaly:"+reasons, signatures.SeverityMedium)
		st.store.recordFor(r, events.Event{
			Type:     events.TypeAnomaly,
			Severity: signatures.SeverityMedium,
			Detail:   "anomalous behaviour: " + reasons,
			Action:   "flag",
			Outcome:  events.OutcomeMonitored,
		})
	}
	return Mark(map[string]string{HeaderAnomaly: reasons})
}

// PatternStage matches request content against the attack signatures.
// Malware signatures are left to the upload scanner.
type PatternStage struct{ store *Store }

func (PatternStage) Name() string { return StagePattern }

func (st PatternStage) Inspect(r *Request) (v Verdict) {
	if !r.Config.Flags.Pattern || r.Trusted || pathListed(r.Config.PatternExemptPaths, r.Path) {
		return Pass()
	}
	defer func() {
		if p := recover(); p != nil {
			logger.ForComponent("cerberus").WithFields(map[string]interface{}{
				"stage":      StagePattern,
				"request_id": r.RequestID,
			}).Errorf("pattern matching panicked: %v", p)
			v = Pass()
		}
	}()

	matches := signatures.Match(subjectFor(r), st.store.Catalog.Except(signatures.CategoryMalware))
	if len(matches) == 0 {
		return Pass()
	}
	sev := signatures.AggregateSeverity(matches)
	st.store.Reputation.RecordSuspicious(r.Origin, matches[0].ID, sev)

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	e := events.Event{
		Type:     events.TypePattern,
		Severity: sev,
		Detail:   "attack signatures matched: " + strings.Join(ids, ","),
	}
	if sev < signatures.SeverityHigh {
		e.Action, e.Outcome = "flag", events.OutcomeMonitored
		st.store.recordFor(r, e)
		return Mark(map[string]string{HeaderThreat: "monitored"})
	}
	e.Action, e.Outcome = "deny", events.OutcomeBlocked
	st.store.recordFor(r, e)
	return Deny(http.StatusForbidden, "Request blocked by security policy", map[string]interface{}{
		"category": string(matches[0].Category),
		"severity": sev.String(),
	})
}

// CSRFStage requires a same-origin request and a valid single-use token on
// state-changing methods.
type CSRFStage struct{ store *Store }

func (CSRFStage) Name() string { return StageCSRF }

func (st CSRFStage) Inspect(r *Request) Verdict {
	if !r.Config.Flags.CSRF || !isMutating(r.Method) || pathListed(r.Config.CSRFExemptPaths, r.Path) {
		return Pass()
	}
	// Bearer-authenticated API calls carry no ambient credentials.
	if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		return Pass()
	}

	if origin := r.Header.Get("Origin"); origin != "" && !sameOrigin(origin, r.Host) && !r.Config.OriginAllowed(origin) {
		return st.reject(r, "cross-origin request from "+util.LogSafe(origin, 128), "Cross-origin request rejected")
	}

	token := r.Header.Get(HeaderCSRFToken)
	if r.Session == "" || token == "" {
		return st.reject(r, "missing CSRF token or session", "Invalid or missing CSRF token")
	}
	if !st.store.CSRF.Validate(r.Session, token) {
		return st.reject(r, "invalid, expired or reused CSRF token", "Invalid or missing CSRF token")
	}
	return Pass()
}

func (st CSRFStage) reject(r *Request, detail, message string) Verdict {
	st.store.Reputation.RecordSuspicious(r.Origin, "csrf", signatures.SeverityLow)
	st.store.recordFor(r, events.Event{
		Type:     events.TypeCSRF,
		Severity: signatures.SeverityMedium,
		Detail:   detail,
		Action:   "deny",
		Outcome:  events.OutcomeBlocked,
	})
	return Deny(http.StatusForbidden, message, nil)
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func sameOrigin(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

// pathListed matches exact entries, or prefixes for entries ending in "/*".
func pathListed(list []string, path string) bool {
	for _, p := range list {
		if prefix, ok := strings.CutSuffix(p, "/*"); ok {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
			continue
		}
		if p == path {
			return true
		}
	}
	return false
}

// inspectedHeaders are the request headers commonly used to smuggle payloads.
var inspectedHeaders = []string{
	"User-Agent",
	"Referer",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Original-URL",
	"X-Rewrite-URL",
}

func subjectFor(r *Request) signatures.Subject {
	var text []string
	add := func(v string) {
		text = append(text, signatures.Variants(v)...)
	}

	add(r.Path)
	add(r.RawQuery)
	for k, vals := range r.Query {
		add(k)
		for _, v := range vals {
			add(v)
		}
	}
	for _, h := range inspectedHeaders {
		for _, v := range r.Header.Values(h) {
			add(v)
		}
	}
	for _, v := range bodyText(r.ContentType, r.Body) {
		add(v)
	}

	return signatures.Subject{
		Text: text,
		Raw:  r.Body,
		Attrs: &signatures.Attrs{
			Method:    r.Method,
			Path:      r.Path,
			RawQuery:  r.RawQuery,
			UserAgent: r.UserAgent,
			Header:    r.Header,
		},
	}
}

// bodyText extracts the matchable strings from a request body: decoded values
// for JSON and form bodies, the raw text for other textual types.
func bodyText(contentType string, body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	mt, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mt == "application/json" || strings.HasSuffix(mt, "+json"):
		var v interface{}
		if err := json.Unmarshal(body, &v); err != nil {
			return []string{string(body)}
		}
		var out []string
		flattenJSON(v, &out)
		return out
	case mt == "application/x-www-form-urlencoded":
		vals, err := url.ParseQuery(string(body))
		if err != nil {
			return []string{string(body)}
		}
		var out []string
		for k, vs := range vals {
			out = append(out, k)
			out = append(out, vs...)
		}
		return out
	case strings.HasPrefix(mt, "multipart/"):
		return nil
	case mt == "" || strings.HasPrefix(mt, "text/") || strings.HasSuffix(mt, "xml"):
		return []string{string(body)}
	}
	return nil
}

func flattenJSON(v interface{}, out *[]string) {
	switch t := v.(type) {
	case string:
		*out = append(*out, t)
	case map[string]interface{}:
		for k, child := range t {
			*out = append(*out, k)
			flattenJSON(child, out)
		}
	case []interface{}:
		for _, child := range t {
			flattenJSON(child, out)
		}
	}
}
