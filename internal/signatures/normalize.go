package signatures

import (
	"html"
	"net/url"
	"strings"
)

// maxDecodePasses bounds repeated URL decoding so %252527 style payloads are
// unwrapped without looping on hostile input.
const maxDecodePasses = 3

// Normalize decodes and canonicalizes a text sample before matching.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	out := s
	for i := 0; i < maxDecodePasses; i++ {
		decoded, err := url.QueryUnescape(out)
		if err != nil || decoded == out {
			break
		}
		out = decoded
	}
	out = html.UnescapeString(out)
	out = strings.ReplaceAll(out, "\x00", "")
	out = strings.Join(strings.Fields(out), " ")
	return out
}

// Variants returns the distinct forms of s worth testing: the raw value, its
// normalized form and a plus-as-space variant for query strings.
func Variants(s string) []string {
	if s == "" {
		return nil
	}
	out := []string{s}
	if n := Normalize(s); n != s {
		out = append(out, n)
	}
	if strings.Contains(s, "+") {
		out = append(out, Normalize(strings.ReplaceAll(s, "+", " ")))
	}
	return dedup(out)
}

func dedup(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
