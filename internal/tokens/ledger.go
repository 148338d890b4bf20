package tokens

import (
	"errors"
	"sync"
	"time"
)

var ErrOwnerRequired = errors.New("token owner is required")

// LedgerStats summarizes a token ledger.
type LedgerStats struct {
	Active    int   `json:"active"`
	Issued    int64 `json:"issued"`
	Validated int64 `json:"validated"`
	Rejected  int64 `json:"rejected"`
	Evicted   int64 `json:"evicted"`
}

// ledger stores single-use tokens keyed by value with a per-owner cap. Used
// tokens stay in the table, marked, until the next sweep.
type ledger struct {
	ttl      time.Duration
	perOwner int
	now      func() time.Time

	mu      sync.Mutex
	tokens  map[string]*Token
	byOwner map[string][]string
	stats   LedgerStats
}

func newLedger(ttl time.Duration, perOwner int, now func() time.Time) *ledger {
	if now == nil {
		now = time.Now
	}
	return &ledger{
		ttl:      ttl,
		perOwner: perOwner,
		now:      now,
		tokens:   make(map[string]*Token),
		byOwner:  make(map[string][]string),
	}
}

func (l *ledger) issue(owner, kind string) (Token, error) {
	if owner == "" {
		return Token{}, ErrOwnerRequired
	}
	value, err := newValue()
	if err != nil {
		return Token{}, err
	}
	now := l.now()
	t := &Token{Value: value, Owner: owner, Kind: kind, CreatedAt: now, ExpiresAt: now.Add(l.ttl)}

	l.mu.Lock()
	defer l.mu.Unlock()
	live := l.byOwner[owner]
	for l.perOwner > 0 && len(live) >= l.perOwner {
		delete(l.tokens, live[0])
		live = live[1:]
		l.stats.Evicted++
	}
	l.tokens[value] = t
	l.byOwner[owner] = append(live, value)
	l.stats.Issued++
	return *t, nil
}

// consume checks value and marks it used in one step.
func (l *ledger) consume(value, owner, kind string) bool {
	if value == "" || owner == "" {
		return false
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[value]
	if !ok || t.Used || t.expired(now) || !equal(t.Owner, owner) || t.Kind != kind {
		l.stats.Rejected++
		return false
	}
	t.Used = true
	l.dropOwnerLocked(t.Owner, value)
	l.stats.Validated++
	return true
}

func (l *ledger) dropOwnerLocked(owner, value string) {
	live := l.byOwner[owner]
	for i, v := range live {
		if v == value {
			live = append(live[:i:i], live[i+1:]...)
			break
		}
	}
	if len(live) == 0 {
		delete(l.byOwner, owner)
		return
	}
	l.byOwner[owner] = live
}

func (l *ledger) sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for v, t := range l.tokens {
		if t.Used || t.expired(now) {
			if !t.Used {
				l.dropOwnerLocked(t.Owner, v)
			}
			delete(l.tokens, v)
			removed++
		}
	}
	return removed
}

func (l *ledger) snapshot() LedgerStats {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stats
	for _, t := range l.tokens {
		if !t.Used && !t.expired(now) {
			st.Active++
		}
	}
	return st
}
