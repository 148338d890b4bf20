package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// verdictHeaders are the pipeline annotations worth keeping in access logs.
var verdictHeaders = map[string]string{
	"X-RateLimit-Status": "rate_limit",
	"X-Anomaly-Status":   "anomaly",
	"X-Threat-Status":    "threat",
	"X-Scan-Status":      "scan",
}

// RequestLogger logs each handled request with its request_id and any
// security annotations the pipeline attached to the response.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := logrus.Fields{
			"status":  status,
			"method":  c.Request.Method,
			"path":    SanitizePath(c.Request.URL.Path),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		}
		for h, field := range verdictHeaders {
			if v := c.Writer.Header().Get(h); v != "" {
				fields[field] = v
			}
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		entry := GetRequestLogger(c).WithFields(fields)
		switch {
		case status >= 500:
			entry.Error("handled request")
		case status >= 400:
			entry.Warn("handled request")
		default:
			entry.Info("handled request")
		}
	}
}
