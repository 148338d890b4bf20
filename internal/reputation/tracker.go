package reputation

import (
	"sort"
	"sync"
	"time"

	"github.com/Wikid82/argus/internal/signatures"
)

const (
	// DefaultThreshold is the attempt count at which an origin is blocked.
	DefaultThreshold = 5
	// DefaultMaxLabels bounds the label history kept per origin.
	DefaultMaxLabels = 32
	// DefaultIdleTTL is how long a non-blocked record survives without activity.
	DefaultIdleTTL = 24 * time.Hour
)

// Record is the suspicion ledger entry for one origin.
type Record struct {
	Origin        string              `json:"origin"`
	AttemptCount  int                 `json:"attempt_count"`
	FirstSeenAt   time.Time           `json:"first_seen_at"`
	LastAttemptAt time.Time           `json:"last_attempt_at"`
	Labels        []string            `json:"labels"`
	Severity      signatures.Severity `json:"severity"`
	Blocked       bool                `json:"blocked"`
	BlockedAt     time.Time           `json:"blocked_at,omitempty"`
	BlockReason   string              `json:"block_reason,omitempty"`
}

func (r *Record) clone() Record {
	out := *r
	out.Labels = append([]string(nil), r.Labels...)
	return out
}

// Config tunes a Tracker. Zero values fall back to the defaults above.
type Config struct {
	Threshold int
	MaxLabels int
	IdleTTL   time.Duration
	Now       func() time.Time
	// OnBlock is called, outside the tracker lock, each time an origin
	// transitions into the blocked state.
	OnBlock func(Record)
}

// Tracker owns the per-origin suspicion records and the block set.
type Tracker struct {
	cfg Config

	mu      sync.Mutex
	records map[string]*Record
	blocked map[string]struct{}
}

// NewTracker builds an empty tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MaxLabels <= 0 {
		cfg.MaxLabels = DefaultMaxLabels
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		cfg:     cfg,
		records: make(map[string]*Record),
		blocked: make(map[string]struct{}),
	}
}

// RecordSuspicious counts one detection against origin and escalates it to
// blocked once the attempt threshold is reached or the severity is critical.
// The increment and the escalation check happen under the same lock.
func (t *Tracker) RecordSuspicious(origin, label string, sev signatures.Severity) Record {
	now := t.cfg.Now()

	t.mu.Lock()
	r := t.recordLocked(origin, now)
	r.AttemptCount++
	r.LastAttemptAt = now
	if label != "" {
		r.Labels = append(r.Labels, label)
		if over := len(r.Labels) - t.cfg.MaxLabels; over > 0 {
			r.Labels = append([]string(nil), r.Labels[over:]...)
		}
	}
	r.Severity = signatures.Max(r.Severity, sev)

	escalated := false
	if !r.Blocked && (r.AttemptCount >= t.cfg.Threshold || sev == signatures.SeverityCritical) {
		reason := "attempt threshold reached"
		if sev == signatures.SeverityCritical {
			reason = "critical detection"
		}
		if label != "" {
			reason += ": " + label
		}
		t.blockLocked(r, reason, now)
		escalated = true
	}
	out := r.clone()
	t.mu.Unlock()

	if escalated && t.cfg.OnBlock != nil {
		t.cfg.OnBlock(out)
	}
	return out
}

// IsBlocked reports whether origin is in the block set.
func (t *Tracker) IsBlocked(origin string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.blocked[origin]
	return ok
}

// Block adds origin to the block set without consulting the threshold.
func (t *Tracker) Block(origin, reason string) Record {
	now := t.cfg.Now()

	t.mu.Lock()
	r := t.recordLocked(origin, now)
	already := r.Blocked
	if !already {
		t.blockLocked(r, reason, now)
	}
	out := r.clone()
	t.mu.Unlock()

	if !already && t.cfg.OnBlock != nil {
		t.cfg.OnBlock(out)
	}
	return out
}

// Unblock returns origin to the clean state by dropping its record. It
// reports whether the origin was blocked.
func (t *Tracker) Unblock(origin string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.blocked[origin]
	delete(t.blocked, origin)
	delete(t.records, origin)
	return ok
}

// Restore re-applies persisted blocks, typically at start-up. OnBlock is not
// invoked for restored entries.
func (t *Tracker) Restore(records []Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, in := range records {
		if in.Origin == "" {
			continue
		}
		at := in.BlockedAt
		if at.IsZero() {
			at = t.cfg.Now()
		}
		r := t.recordLocked(in.Origin, at)
		if in.Severity > r.Severity {
			r.Severity = in.Severity
		}
		if !r.Blocked {
			t.blockLocked(r, in.BlockReason, at)
		}
	}
}

// Get returns a copy of origin's record.
func (t *Tracker) Get(origin string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[origin]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// Blocked lists blocked origins, most recently blocked first.
func (t *Tracker) Blocked() []Record {
	t.mu.Lock()
	out := make([]Record, 0, len(t.blocked))
	for origin := range t.blocked {
		out = append(out, t.records[origin].clone())
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockedAt.Equal(out[j].BlockedAt) {
			return out[i].Origin < out[j].Origin
		}
		return out[i].BlockedAt.After(out[j].BlockedAt)
	})
	return out
}

// Counts reports the number of tracked and blocked origins.
func (t *Tracker) Counts() (tracked, blocked int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records), len(t.blocked)
}

// Sweep purges idle records that are not blocked and returns how many were
// removed.
func (t *Tracker) Sweep() int {
	now := t.cfg.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for origin, r := range t.records {
		if r.Blocked {
			continue
		}
		if now.Sub(r.LastAttemptAt) > t.cfg.IdleTTL {
			delete(t.records, origin)
			removed++
		}
	}
	return removed
}

func (t *Tracker) recordLocked(origin string, now time.Time) *Record {
	r, ok := t.records[origin]
	if !ok {
		r = &Record{Origin: origin, FirstSeenAt: now, LastAttemptAt: now}
		t.records[origin] = r
	}
	return r
}

func (t *Tracker) blockLocked(r *Record, reason string, now time.Time) {
	r.Blocked = true
	r.BlockedAt = now
	r.BlockReason = reason
	t.blocked[r.Origin] = struct{}{}
}
