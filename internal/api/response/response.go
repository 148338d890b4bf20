// Package response writes the JSON error envelope shared by the security
// pipeline and the API handlers.
package response

import (
	"runtime/debug"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// RequestIDKey is the gin context key the request ID middleware sets.
const RequestIDKey = "requestID"

var development atomic.Bool

// SetDevelopment toggles stack traces in error bodies.
func SetDevelopment(on bool) { development.Store(on) }

// ErrorBody is the error member of the envelope.
type ErrorBody struct {
	Message    string                 `json:"message"`
	StatusCode int                    `json:"statusCode"`
	RequestID  string                 `json:"requestId,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Stack      string                 `json:"stack,omitempty"`
}

// Envelope is the body of every terminating error response.
type Envelope struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// Build assembles the envelope for c without writing it.
func Build(c *gin.Context, status int, message string, details map[string]interface{}) Envelope {
	body := ErrorBody{Message: message, StatusCode: status, Details: details}
	if c != nil {
		body.RequestID = c.GetString(RequestIDKey)
	}
	if development.Load() {
		body.Stack = string(debug.Stack())
	}
	return Envelope{Error: body}
}

// Abort writes the envelope and stops the handler chain.
func Abort(c *gin.Context, status int, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(status, Build(c, status, message, details))
}

// Error writes the envelope without aborting, for use at the end of a
// handler.
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, Build(c, status, message, nil))
}
