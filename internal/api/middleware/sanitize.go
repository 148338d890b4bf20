package middleware

import (
	"net/http"
	"strings"

	"github.com/Wikid82/argus/internal/util"
)

const maxLoggedValue = 200

// sensitiveHeaders are never written to logs.
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"set-cookie":          {},
	"proxy-authorization": {},
	"x-api-key":           {},
	"x-auth-token":        {},
	"x-csrf-token":        {},
	"x-session-id":        {},
	"x-forwarded-for":     {},
}

// SanitizeHeaders returns a copy of h that is safe to log: credentials and
// session material are redacted, other values are sanitized and clipped.
func SanitizeHeaders(h http.Header) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, vals := range h {
		if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok {
			out[k] = []string{"<redacted>"}
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			clean = append(clean, util.LogSafe(v, maxLoggedValue))
		}
		out[k] = clean
	}
	return out
}

// SanitizePath drops the query string and makes the path safe to log.
func SanitizePath(p string) string {
	if i := strings.IndexByte(p, '?'); i != -1 {
		p = p[:i]
	}
	return util.LogSafe(p, maxLoggedValue)
}
