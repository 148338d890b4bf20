package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Wikid82/argus/internal/api/response"
	"github.com/Wikid82/argus/internal/cerberus"
)

// Page-token kinds the public API will issue.
var pageTokenKinds = map[string]struct{}{
	"login":    {},
	"register": {},
	"upload":   {},
	"contact":  {},
}

// TokenHandler issues CSRF and page-verification tokens.
type TokenHandler struct {
	store  *cerberus.Store
	secure bool
}

func NewTokenHandler(store *cerberus.Store, secureCookies bool) *TokenHandler {
	return &TokenHandler{store: store, secure: secureCookies}
}

// CSRFToken issues a token bound to the caller's session, creating the
// session cookie when the request has none.
func (h *TokenHandler) CSRFToken(c *gin.Context) {
	session := cerberus.SessionID(c)
	if session == "" {
		session = uuid.NewString()
		c.SetSameSite(http.SameSiteStrictMode)
		c.SetCookie(cerberus.SessionCookieName, session, 0, "/", "", h.secure, true)
	}

	tok, err := h.store.CSRF.Issue(session)
	if err != nil {
		GetLogger(c).WithError(err).Error("failed to issue CSRF token")
		response.Error(c, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	c.Header(cerberus.HeaderCSRFToken, tok.Value)
	c.JSON(http.StatusOK, gin.H{
		"token":      tok.Value,
		"session_id": session,
		"expires_at": tok.ExpiresAt,
	})
}

// PageToken issues a single-use token for one form kind to the calling origin.
func (h *TokenHandler) PageToken(c *gin.Context) {
	kind := strings.ToLower(strings.TrimSpace(c.Query("kind")))
	if _, ok := pageTokenKinds[kind]; !ok {
		response.Error(c, http.StatusBadRequest, "Unknown page token kind")
		return
	}
	tok, err := h.store.Pages.Issue(c.ClientIP(), kind)
	if err != nil {
		GetLogger(c).WithError(err).Error("failed to issue page token")
		response.Error(c, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	c.JSON(http.StatusOK, tok)
}
