package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"clean", "GET /api/v1/uploads", "GET /api/v1/uploads"},
		{"crlf injection", "/login\r\nX-Forged: 1", "/login X-Forged: 1"},
		{"newlines", "a\nb\nc", "a b c"},
		{"null and escapes", "id=1\x00\x1b[31m", "id=1 [31m"},
		{"tab", "a\tb", "a b"},
		{"del run", "x\x7F\x7Fy", "x y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeForLog(tt.input))
		})
	}
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", Clip("short", 10))
	assert.Equal(t, "abc...", Clip("abcdef", 3))
	assert.Equal(t, "unlimited", Clip("unlimited", 0))

	// "é" is two bytes; cutting inside it backs up to the rune start.
	assert.Equal(t, "caf...", Clip("café au lait", 4))
}

func TestLogSafe(t *testing.T) {
	assert.Equal(t, "a b...", LogSafe("a\nbcdef", 3))
}
