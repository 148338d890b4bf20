package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Wikid82/argus/internal/signatures"
)

// Type identifies which detector produced an event.
type Type string

const (
	TypeReputation Type = "reputation"
	TypeRateLimit  Type = "rate-limit"
	TypeAnomaly    Type = "anomaly"
	TypePattern    Type = "pattern"
	TypeCSRF       Type = "csrf"
	TypePageToken  Type = "page-token"
	TypeLockout    Type = "lockout"
	TypeFileScan   Type = "file-scan"
	TypeAdmin      Type = "admin"
)

// Outcome is what happened to the request or file.
type Outcome string

const (
	OutcomeBlocked     Outcome = "blocked"
	OutcomeQuarantined Outcome = "quarantined"
	OutcomeAllowed     Outcome = "allowed"
	OutcomeMonitored   Outcome = "monitored"
)

// Event is one detector verdict.
type Event struct {
	ID        string              `json:"id"`
	Timestamp time.Time           `json:"timestamp"`
	Type      Type                `json:"type"`
	Severity  signatures.Severity `json:"severity"`
	Origin    string              `json:"origin"`
	Method    string              `json:"method,omitempty"`
	Path      string              `json:"path,omitempty"`
	Detail    string              `json:"detail"`
	Action    string              `json:"action"`
	Outcome   Outcome             `json:"outcome"`
	RequestID string              `json:"request_id,omitempty"`
}

// Sink receives every logged event. Sinks are called synchronously after the
// event is stored and must not block.
type Sink interface {
	Handle(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Handle(e Event) { f(e) }

const DefaultCapacity = 1000

// Log is an append-only ring buffer of security events. When full the oldest
// event is overwritten.
type Log struct {
	now func() time.Time

	mu        sync.RWMutex
	buf       []Event
	next      int
	full      bool
	total     int64
	byType    map[Type]int64
	bySev     map[signatures.Severity]int64
	byOutcome map[Outcome]int64
	sinks     []Sink
}

// New creates a log holding at most capacity events.
func New(capacity int, now func() time.Time) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &Log{
		now:       now,
		buf:       make([]Event, capacity),
		byType:    make(map[Type]int64),
		bySev:     make(map[signatures.Severity]int64),
		byOutcome: make(map[Outcome]int64),
	}
}

// AddSink registers s for every subsequent event.
func (l *Log) AddSink(s Sink) {
	l.mu.Lock()
	l.sinks = append(l.sinks, s)
	l.mu.Unlock()
}

// Log stores e, filling in its id and timestamp when missing, and returns the
// stored copy.
func (l *Log) Log(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}

	l.mu.Lock()
	l.buf[l.next] = e
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	l.total++
	l.byType[e.Type]++
	l.bySev[e.Severity]++
	l.byOutcome[e.Outcome]++
	sinks := l.sinks
	l.mu.Unlock()

	for _, s := range sinks {
		s.Handle(e)
	}
	return e
}

// Filter narrows Recent. Zero fields match everything.
type Filter struct {
	MinSeverity signatures.Severity
	Type        Type
	Outcome     Outcome
	Origin      string
	Limit       int
}

func (f Filter) matches(e *Event) bool {
	if e.Severity < f.MinSeverity {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if f.Origin != "" && e.Origin != f.Origin {
		return false
	}
	return true
}

// Recent returns matching events, newest first.
func (l *Log) Recent(f Filter) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.next
	if l.full {
		n = len(l.buf)
	}
	out := make([]Event, 0, min(n, max(f.Limit, 0)))
	for i := 0; i < n; i++ {
		idx := (l.next - 1 - i + len(l.buf)) % len(l.buf)
		e := &l.buf[idx]
		if !f.matches(e) {
			continue
		}
		out = append(out, *e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Stats are the cumulative counters; they are not reduced by eviction.
type Stats struct {
	Total     int64                         `json:"total"`
	Buffered  int                           `json:"buffered"`
	Capacity  int                           `json:"capacity"`
	ByType    map[Type]int64                `json:"by_type"`
	BySev     map[signatures.Severity]int64 `json:"by_severity"`
	ByOutcome map[Outcome]int64             `json:"by_outcome"`
}

func (l *Log) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := Stats{
		Total:     l.total,
		Buffered:  l.next,
		Capacity:  len(l.buf),
		ByType:    make(map[Type]int64, len(l.byType)),
		BySev:     make(map[signatures.Severity]int64, len(l.bySev)),
		ByOutcome: make(map[Outcome]int64, len(l.byOutcome)),
	}
	if l.full {
		st.Buffered = len(l.buf)
	}
	for k, v := range l.byType {
		st.ByType[k] = v
	}
	for k, v := range l.bySev {
		st.BySev[k] = v
	}
	for k, v := range l.byOutcome {
		st.ByOutcome[k] = v
	}
	return st
}
