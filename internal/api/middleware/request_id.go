package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/argus/internal/api/response"
	"github.com/Wikid82/argus/internal/logger"
)

const (
	RequestIDKey    = response.RequestIDKey
	RequestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

// RequestID assigns each request an id, echoes it in the response header and
// stores a request-scoped logger. An inbound X-Request-ID is kept only when it
// is a well-formed UUID, so clients cannot inject arbitrary text into logs.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(rid); err != nil {
			rid = uuid.NewString()
		}
		c.Set(RequestIDKey, rid)
		c.Writer.Header().Set(RequestIDHeader, rid)
		c.Set(loggerKey, logger.WithFields(logrus.Fields{"request_id": rid}))
		c.Next()
	}
}

// GetRequestLogger retrieves the request-scoped logger from context or the global logger
func GetRequestLogger(c *gin.Context) *logrus.Entry {
	if v, ok := c.Get(loggerKey); ok {
		if entry, ok := v.(*logrus.Entry); ok {
			return entry
		}
	}
	return logger.Log()
}
