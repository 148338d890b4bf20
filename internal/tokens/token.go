package tokens

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"
)

// tokenBytes is the entropy of every issued token value.
const tokenBytes = 32

// Token is a short-lived single-use credential.
type Token struct {
	Value     string    `json:"token"`
	Owner     string    `json:"-"`
	Kind      string    `json:"kind,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"-"`
}

func (t *Token) expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func newValue() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
