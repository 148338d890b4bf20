package signatures

import (
	"bytes"
	"fmt"
	"net/http"
	"regexp"
	"sync/atomic"
	"time"
)

// MatcherKind tags which variant a Matcher holds.
type MatcherKind int

const (
	// KindPattern is a regular expression tested against normalized text.
	KindPattern MatcherKind = iota + 1
	// KindBinary is a byte sequence searched for in raw content.
	KindBinary
	// KindPredicate is a function over structured request attributes.
	KindPredicate
)

func (k MatcherKind) String() string {
	switch k {
	case KindPattern:
		return "pattern"
	case KindBinary:
		return "binary"
	case KindPredicate:
		return "predicate"
	default:
		return "unknown"
	}
}

// Attrs are the structured request attributes predicates can inspect.
type Attrs struct {
	Method    string
	Path      string
	RawQuery  string
	UserAgent string
	Header    http.Header
}

// Predicate decides whether a request's attributes are malicious.
type Predicate func(Attrs) bool

// Matcher is a tagged variant over the three ways a signature can match.
// Construct it with Pattern, MustPattern, Binary or PredicateOf.
type Matcher struct {
	kind MatcherKind
	re   *regexp.Regexp
	raw  []byte
	pred Predicate
}

// Pattern compiles expr into a text matcher.
func Pattern(expr string) (Matcher, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Matcher{}, fmt.Errorf("compile pattern: %w", err)
	}
	return Matcher{kind: KindPattern, re: re}, nil
}

// MustPattern is Pattern for the static tables; it panics on a bad expression.
func MustPattern(expr string) Matcher {
	m, err := Pattern(expr)
	if err != nil {
		panic(err)
	}
	return m
}

// Binary matches when b occurs anywhere in the raw payload.
func Binary(b []byte) Matcher {
	return Matcher{kind: KindBinary, raw: append([]byte(nil), b...)}
}

// PredicateOf wraps fn as a matcher over request attributes.
func PredicateOf(fn Predicate) Matcher {
	return Matcher{kind: KindPredicate, pred: fn}
}

// Kind reports the matcher variant.
func (m Matcher) Kind() MatcherKind { return m.kind }

// Expr returns the source expression of a pattern matcher.
func (m Matcher) Expr() string {
	if m.re == nil {
		return ""
	}
	return m.re.String()
}

// Subject is the payload a matcher is evaluated against. Text must already be
// normalized; Raw is only consulted by binary matchers and Attrs only by
// predicates.
type Subject struct {
	Text  []string
	Raw   []byte
	Attrs *Attrs
}

func (m Matcher) matches(s Subject) bool {
	switch m.kind {
	case KindPattern:
		for _, t := range s.Text {
			if t != "" && m.re.MatchString(t) {
				return true
			}
		}
	case KindBinary:
		return len(m.raw) > 0 && bytes.Contains(s.Raw, m.raw)
	case KindPredicate:
		return s.Attrs != nil && m.pred != nil && m.pred(*s.Attrs)
	}
	return false
}

// Signature is a named detection rule.
type Signature struct {
	ID             string
	Category       Category
	Matcher        Matcher
	Severity       Severity
	Description    string
	Countermeasure string

	detections   atomic.Int64
	lastDetected atomic.Int64
}

// DetectionCount is the number of times the signature matched.
func (s *Signature) DetectionCount() int64 { return s.detections.Load() }

// LastDetectedAt is zero until the first match.
func (s *Signature) LastDetectedAt() time.Time {
	ns := s.lastDetected.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *Signature) record(now time.Time) {
	s.detections.Add(1)
	s.lastDetected.Store(now.UnixNano())
}

// Summary is the serializable view of a signature returned to callers.
type Summary struct {
	ID             string     `json:"id"`
	Category       Category   `json:"category"`
	Kind           string     `json:"kind"`
	Severity       Severity   `json:"severity"`
	Description    string     `json:"description"`
	Countermeasure string     `json:"countermeasure,omitempty"`
	DetectionCount int64      `json:"detection_count"`
	LastDetectedAt *time.Time `json:"last_detected_at,omitempty"`
}

// Summarize captures the signature's current counters.
func (s *Signature) Summarize() Summary {
	out := Summary{
		ID:             s.ID,
		Category:       s.Category,
		Kind:           s.Matcher.Kind().String(),
		Severity:       s.Severity,
		Description:    s.Description,
		Countermeasure: s.Countermeasure,
		DetectionCount: s.DetectionCount(),
	}
	if t := s.LastDetectedAt(); !t.IsZero() {
		out.LastDetectedAt = &t
	}
	return out
}

// Match returns every signature in sigs whose matcher fires on subject. The
// only side effect is the detection counter update on matched entries.
func Match(subject Subject, sigs []*Signature) []*Signature {
	var matched []*Signature
	now := time.Now()
	for _, sig := range sigs {
		if sig == nil || !sig.Matcher.matches(subject) {
			continue
		}
		sig.record(now)
		matched = append(matched, sig)
	}
	return matched
}

// AggregateSeverity is critical when any match is critical and the highest
// matched severity otherwise.
func AggregateSeverity(matches []*Signature) Severity {
	sev := SeverityNone
	for _, m := range matches {
		if m.Severity == SeverityCritical {
			return SeverityCritical
		}
		sev = Max(sev, m.Severity)
	}
	return sev
}

// Summaries converts matches for response bodies and reports.
func Summaries(matches []*Signature) []Summary {
	out := make([]Summary, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Summarize())
	}
	return out
}
