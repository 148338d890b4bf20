package tokens

import (
	"errors"
	"time"
)

const (
	DefaultPageTTL          = 10 * time.Minute
	DefaultPageMaxPerOrigin = 5
)

var ErrKindRequired = errors.New("page kind is required")

type PageConfig struct {
	TTL          time.Duration
	MaxPerOrigin int
	Now          func() time.Time
}

// PageLedger binds a form submission to a freshly rendered page of a given
// kind, for a given origin.
type PageLedger struct {
	l *ledger
}

func NewPageLedger(cfg PageConfig) *PageLedger {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultPageTTL
	}
	if cfg.MaxPerOrigin <= 0 {
		cfg.MaxPerOrigin = DefaultPageMaxPerOrigin
	}
	return &PageLedger{l: newLedger(cfg.TTL, cfg.MaxPerOrigin, cfg.Now)}
}

// Issue creates a token for origin and kind. When origin already holds the
// maximum number of tokens the oldest one is evicted.
func (p *PageLedger) Issue(origin, kind string) (Token, error) {
	if kind == "" {
		return Token{}, ErrKindRequired
	}
	return p.l.issue(origin, kind)
}

// Validate consumes value if it was issued to origin for kind and has not
// expired.
func (p *PageLedger) Validate(value, origin, kind string) bool {
	if kind == "" {
		return false
	}
	return p.l.consume(value, origin, kind)
}

func (p *PageLedger) Sweep() int { return p.l.sweep() }

func (p *PageLedger) Stats() LedgerStats { return p.l.snapshot() }
