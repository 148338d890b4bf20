package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/argus/internal/api/response"
	"github.com/Wikid82/argus/internal/services"
)

// Context keys set by AuthMiddleware.
const (
	UserIDKey = "userID"
	EmailKey  = "email"
	RoleKey   = "role"
)

// AuthMiddleware requires a valid bearer token and stores the caller's id,
// email and role in the context.
func AuthMiddleware(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Abort(c, http.StatusUnauthorized, "Authorization header required", nil)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			response.Abort(c, http.StatusUnauthorized, "Invalid authorization header format", nil)
			return
		}

		claims, err := authService.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			GetRequestLogger(c).WithError(err).Debug("rejected bearer token")
			response.Abort(c, http.StatusUnauthorized, "Invalid or expired token", nil)
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(EmailKey, claims.Email)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// BearerHasRole reports whether a request carries a valid bearer token for
// role. It does not touch the response.
func BearerHasRole(authService *services.AuthService, role string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return false
		}
		claims, err := authService.ValidateToken(strings.TrimSpace(token))
		return err == nil && claims.Role == role
	}
}

// RequireRole rejects callers whose role differs from role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(RoleKey) != role {
			response.Abort(c, http.StatusForbidden, "Insufficient permissions", nil)
			return
		}
		c.Next()
	}
}
