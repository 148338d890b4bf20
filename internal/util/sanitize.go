package util

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var controlChars = regexp.MustCompile(`[\x00-\x1F\x7F]+`)

// SanitizeForLog collapses newlines and control characters in
// client-supplied text to single spaces.
func SanitizeForLog(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", " ")
	return controlChars.ReplaceAllString(s, " ")
}

// Clip shortens s to at most n bytes without splitting a UTF-8 sequence and
// marks the cut with "...".
func Clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// LogSafe sanitizes and clips s for event details and log fields.
func LogSafe(s string, n int) string {
	return Clip(SanitizeForLog(s), n)
}
