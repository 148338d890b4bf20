package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Protection flag names, shared by the settings table, the admin API and the
// status policy.
const (
	FlagReputation = "reputation"
	FlagRateLimit  = "rate_limit"
	FlagAnomaly    = "anomaly"
	FlagPattern    = "pattern"
	FlagCSRF       = "csrf"
	FlagPageTokens = "page_tokens"
	FlagLockout    = "lockout"
	FlagFileScan   = "file_scan"
)

// FlagNames lists every protection flag in pipeline order.
var FlagNames = []string{
	FlagReputation,
	FlagRateLimit,
	FlagAnomaly,
	FlagPattern,
	FlagCSRF,
	FlagPageTokens,
	FlagLockout,
	FlagFileScan,
}

// Flags toggles each protection subsystem.
type Flags struct {
	Reputation bool `json:"reputation"`
	RateLimit  bool `json:"rate_limit"`
	Anomaly    bool `json:"anomaly"`
	Pattern    bool `json:"pattern"`
	CSRF       bool `json:"csrf"`
	PageTokens bool `json:"page_tokens"`
	Lockout    bool `json:"lockout"`
	FileScan   bool `json:"file_scan"`
}

func (f *Flags) ptr(name string) *bool {
	switch name {
	case FlagReputation:
		return &f.Reputation
	case FlagRateLimit:
		return &f.RateLimit
	case FlagAnomaly:
		return &f.Anomaly
	case FlagPattern:
		return &f.Pattern
	case FlagCSRF:
		return &f.CSRF
	case FlagPageTokens:
		return &f.PageTokens
	case FlagLockout:
		return &f.Lockout
	case FlagFileScan:
		return &f.FileScan
	}
	return nil
}

// Enabled reports a flag by name; unknown names are disabled.
func (f Flags) Enabled(name string) bool {
	if p := f.ptr(name); p != nil {
		return *p
	}
	return false
}

// Set changes a flag by name.
func (f *Flags) Set(name string, v bool) error {
	p := f.ptr(name)
	if p == nil {
		return fmt.Errorf("unknown protection flag %q", name)
	}
	*p = v
	return nil
}

// Map returns the flags keyed by name.
func (f Flags) Map() map[string]bool {
	out := make(map[string]bool, len(FlagNames))
	for _, n := range FlagNames {
		out[n] = f.Enabled(n)
	}
	return out
}

// AllOn returns flags with every protection enabled.
func AllOn() Flags {
	var f Flags
	for _, n := range FlagNames {
		_ = f.Set(n, true)
	}
	return f
}

// Snapshot is one immutable version of the runtime security configuration.
// Requests capture a snapshot on entry and keep it for their lifetime.
type Snapshot struct {
	Version            int64     `json:"version"`
	Flags              Flags     `json:"flags"`
	Lockdown           bool      `json:"lockdown"`
	AllowedOrigins     []string  `json:"allowed_origins"`
	PatternExemptPaths []string  `json:"pattern_exempt_paths"`
	CSRFExemptPaths    []string  `json:"csrf_exempt_paths"`
	UpdatedAt          time.Time `json:"updated_at"`
	UpdatedBy          string    `json:"updated_by"`
}

func (s *Snapshot) clone() *Snapshot {
	out := *s
	out.AllowedOrigins = append([]string(nil), s.AllowedOrigins...)
	out.PatternExemptPaths = append([]string(nil), s.PatternExemptPaths...)
	out.CSRFExemptPaths = append([]string(nil), s.CSRFExemptPaths...)
	return &out
}

// OriginAllowed reports whether origin is in the allowed list. An empty list
// allows nothing cross-origin.
func (s *Snapshot) OriginAllowed(origin string) bool {
	for _, o := range s.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Live publishes configuration snapshots. Readers never lock; writers are
// serialized and each write produces a new version.
type Live struct {
	cur atomic.Pointer[Snapshot]
	now func() time.Time

	mu        sync.Mutex
	listeners []func(*Snapshot)
}

// NewLive publishes version 1 built from sec.
func NewLive(sec SecurityConfig) *Live {
	l := &Live{now: time.Now}
	l.cur.Store(&Snapshot{
		Version:            1,
		Flags:              sec.Flags,
		AllowedOrigins:     append([]string(nil), sec.AllowedOrigins...),
		PatternExemptPaths: append([]string(nil), sec.PatternExemptPaths...),
		CSRFExemptPaths:    append([]string(nil), sec.CSRFExemptPaths...),
		UpdatedAt:          l.now(),
		UpdatedBy:          "environment",
	})
	return l
}

// Current returns the latest snapshot. Callers must not modify it.
func (l *Live) Current() *Snapshot {
	return l.cur.Load()
}

// OnChange registers fn to run after every published update.
func (l *Live) OnChange(fn func(*Snapshot)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Update applies fn to a copy of the current snapshot and publishes it as
// the next version.
func (l *Live) Update(actor string, fn func(*Snapshot) error) (*Snapshot, error) {
	l.mu.Lock()
	next := l.cur.Load().clone()
	if err := fn(next); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	next.Version++
	next.UpdatedAt = l.now()
	next.UpdatedBy = actor
	if next.Lockdown {
		next.Flags = AllOn()
	}
	l.cur.Store(next)
	listeners := slices.Clone(l.listeners)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	return next, nil
}

// ErrLockdownActive is returned when a change would turn a protection off
// while lockdown is set.
var ErrLockdownActive = errors.New("protections cannot be disabled during lockdown")

// ApplyFlags sets the named flags on s in name order. During lockdown no
// flag may be turned off.
func (s *Snapshot) ApplyFlags(changes map[string]bool) error {
	names := make([]string, 0, len(changes))
	for n := range changes {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if s.Lockdown && !changes[n] {
			return fmt.Errorf("%w: %s", ErrLockdownActive, n)
		}
		if err := s.Flags.Set(n, changes[n]); err != nil {
			return err
		}
	}
	return nil
}

// SetFlags changes the named flags. During lockdown turning a flag off fails
// with ErrLockdownActive.
func (l *Live) SetFlags(actor string, changes map[string]bool) (*Snapshot, error) {
	return l.Update(actor, func(s *Snapshot) error {
		return s.ApplyFlags(changes)
	})
}

// Lockdown forces every protection on until EndLockdown.
func (l *Live) Lockdown(actor string) *Snapshot {
	s, _ := l.Update(actor, func(s *Snapshot) error {
		s.Lockdown = true
		return nil
	})
	return s
}

// EndLockdown lifts the lockdown; flags stay as they are until changed.
func (l *Live) EndLockdown(actor string) *Snapshot {
	s, _ := l.Update(actor, func(s *Snapshot) error {
		s.Lockdown = false
		return nil
	})
	return s
}
