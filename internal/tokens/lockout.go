package tokens

import (
	"sync"
	"time"
)

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 15 * time.Minute
	DefaultLockoutIdleTTL   = time.Hour
)

type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
	// IdleTTL removes unlocked records with no failure for this long.
	IdleTTL time.Duration
	Now     func() time.Time
}

// Status is the lockout state of one key.
type Status struct {
	Key       string        `json:"key"`
	Failures  int           `json:"failures"`
	Locked    bool          `json:"locked"`
	LockUntil time.Time     `json:"lock_until,omitempty"`
	Remaining time.Duration `json:"remaining"`
}

type lockRecord struct {
	failures      int
	lastFailureAt time.Time
	lockUntil     time.Time
}

// Lockout counts failed attempts per key and locks the key for a fixed
// duration once the threshold is reached.
type Lockout struct {
	cfg LockoutConfig

	mu         sync.Mutex
	records    map[string]*lockRecord
	totalLocks int64
}

func NewLockout(cfg LockoutConfig) *Lockout {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultLockoutThreshold
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultLockoutDuration
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultLockoutIdleTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Lockout{cfg: cfg, records: make(map[string]*lockRecord)}
}

// Key joins an origin and an account identity into a lockout key.
func Key(origin, identity string) string {
	return origin + "|" + identity
}

// RecordFailure counts a failed attempt. While the key is locked the attempt
// is rejected with the remaining lock time and the lock is not extended.
func (l *Lockout) RecordFailure(key string) Status {
	now := l.cfg.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[key]
	if !ok {
		r = &lockRecord{}
		l.records[key] = r
	}
	if now.Before(r.lockUntil) {
		return l.statusLocked(key, r, now)
	}
	l.expireLocked(r, now)

	r.failures++
	r.lastFailureAt = now
	if r.failures >= l.cfg.Threshold {
		r.lockUntil = now.Add(l.cfg.Duration)
		l.totalLocks++
	}
	return l.statusLocked(key, r, now)
}

// Check reports the current state of key without counting an attempt.
func (l *Lockout) Check(key string) Status {
	now := l.cfg.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[key]
	if !ok {
		return Status{Key: key}
	}
	return l.statusLocked(key, r, now)
}

// RecordSuccess clears key entirely.
func (l *Lockout) RecordSuccess(key string) {
	l.mu.Lock()
	delete(l.records, key)
	l.mu.Unlock()
}

// Sweep clears expired locks, halving their failure count, and drops idle
// unlocked records.
func (l *Lockout) Sweep() int {
	now := l.cfg.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := 0
	for key, r := range l.records {
		if l.expireLocked(r, now) {
			changed++
			continue
		}
		if r.lockUntil.IsZero() && now.Sub(r.lastFailureAt) > l.cfg.IdleTTL {
			delete(l.records, key)
			changed++
		}
	}
	return changed
}

// expireLocked lifts an elapsed lock and decays the failure count. It
// reports whether a lock was lifted.
func (l *Lockout) expireLocked(r *lockRecord, now time.Time) bool {
	if r.lockUntil.IsZero() || now.Before(r.lockUntil) {
		return false
	}
	r.lockUntil = time.Time{}
	r.failures /= 2
	if r.failures < 1 {
		r.failures = 1
	}
	// The decayed record starts its idle period at unlock time.
	r.lastFailureAt = now
	return true
}

func (l *Lockout) statusLocked(key string, r *lockRecord, now time.Time) Status {
	st := Status{Key: key, Failures: r.failures}
	if now.Before(r.lockUntil) {
		st.Locked = true
		st.LockUntil = r.lockUntil
		st.Remaining = r.lockUntil.Sub(now)
	}
	return st
}

// LockoutStats summarizes the ledger.
type LockoutStats struct {
	Tracked    int   `json:"tracked"`
	Locked     int   `json:"locked"`
	TotalLocks int64 `json:"total_locks"`
}

func (l *Lockout) Stats() LockoutStats {
	now := l.cfg.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	st := LockoutStats{Tracked: len(l.records), TotalLocks: l.totalLocks}
	for _, r := range l.records {
		if now.Before(r.lockUntil) {
			st.Locked++
		}
	}
	return st
}
