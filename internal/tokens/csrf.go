package tokens

import "time"

const (
	DefaultCSRFTTL           = time.Hour
	DefaultCSRFMaxPerSession = 16
)

type CSRFConfig struct {
	TTL           time.Duration
	MaxPerSession int
	Now           func() time.Time
}

// CSRF issues and validates anti-forgery tokens bound to a session.
type CSRF struct {
	l *ledger
}

func NewCSRF(cfg CSRFConfig) *CSRF {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCSRFTTL
	}
	if cfg.MaxPerSession <= 0 {
		cfg.MaxPerSession = DefaultCSRFMaxPerSession
	}
	return &CSRF{l: newLedger(cfg.TTL, cfg.MaxPerSession, cfg.Now)}
}

// Issue creates a token for session.
func (c *CSRF) Issue(session string) (Token, error) {
	return c.l.issue(session, "")
}

// Validate reports whether value is an unused, unexpired token issued to
// session and marks it used. A token validates at most once.
func (c *CSRF) Validate(session, value string) bool {
	return c.l.consume(value, session, "")
}

// Sweep drops used and expired tokens.
func (c *CSRF) Sweep() int { return c.l.sweep() }

func (c *CSRF) Stats() LedgerStats { return c.l.snapshot() }
