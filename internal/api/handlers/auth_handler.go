package handlers

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/argus/internal/api/middleware"
	"github.com/Wikid82/argus/internal/api/response"
	"github.com/Wikid82/argus/internal/cerberus"
	"github.com/Wikid82/argus/internal/events"
	"github.com/Wikid82/argus/internal/services"
	"github.com/Wikid82/argus/internal/signatures"
	"github.com/Wikid82/argus/internal/tokens"
	"github.com/Wikid82/argus/internal/util"
)

const loginPageKind = "login"

type AuthHandler struct {
	authService *services.AuthService
	store       *cerberus.Store
}

func NewAuthHandler(authService *services.AuthService, store *cerberus.Store) *AuthHandler {
	return &AuthHandler{authService: authService, store: store}
}

type LoginRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required"`
	PageToken string `json:"page_token"`
}

// Login checks the page token and the lockout state before the credentials.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "email and password are required")
		return
	}
	snap := snapshot(c, h.store)
	origin := c.ClientIP()

	if snap.Flags.PageTokens && !h.store.Pages.Validate(req.PageToken, origin, loginPageKind) {
		h.store.Reputation.RecordSuspicious(origin, "page-token", signatures.SeverityLow)
		record(c, h.store, events.Event{
			Type:     events.TypePageToken,
			Severity: signatures.SeverityMedium,
			Detail:   "login without a valid page token",
			Action:   "deny",
			Outcome:  events.OutcomeBlocked,
		})
		response.Error(c, http.StatusForbidden, "Invalid or missing page token")
		return
	}

	key := tokens.Key(origin, strings.ToLower(strings.TrimSpace(req.Email)))
	if snap.Flags.Lockout {
		if st := h.store.Lockout.Check(key); st.Locked {
			h.locked(c, st, "login attempt while locked out")
			return
		}
	}

	token, err := h.authService.Login(req.Email, req.Password)
	switch {
	case err == nil:
		h.store.Lockout.RecordSuccess(key)
		c.JSON(http.StatusOK, gin.H{"token": token})
	case errors.Is(err, services.ErrInvalidCredentials):
		if snap.Flags.Lockout {
			if st := h.store.Lockout.RecordFailure(key); st.Locked {
				h.store.Reputation.RecordSuspicious(origin, "login-lockout", signatures.SeverityMedium)
				h.locked(c, st, fmt.Sprintf("account locked after %d failed logins for %s", st.Failures, util.LogSafe(req.Email, 128)))
				return
			}
		}
		response.Error(c, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, services.ErrAccountDisabled):
		response.Error(c, http.StatusForbidden, "Account disabled")
	default:
		GetLogger(c).WithError(err).Error("login failed")
		response.Error(c, http.StatusInternalServerError, "Login failed")
	}
}

func (h *AuthHandler) locked(c *gin.Context, st tokens.Status, detail string) {
	retry := int(math.Ceil(st.Remaining.Seconds()))
	if retry < 1 {
		retry = 1
	}
	record(c, h.store, events.Event{
		Type:     events.TypeLockout,
		Severity: signatures.SeverityHigh,
		Detail:   detail,
		Action:   "lock",
		Outcome:  events.OutcomeBlocked,
	})
	c.Header("Retry-After", fmt.Sprint(retry))
	response.Abort(c, http.StatusTooManyRequests, "Too many failed login attempts", map[string]interface{}{
		"retry_after_seconds": retry,
	})
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

// Register creates an operator account. It is mounted behind the admin role.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "email, password (min 8) and name are required")
		return
	}
	user, err := h.authService.Register(req.Email, req.Password, req.Name)
	if errors.Is(err, services.ErrEmailTaken) {
		response.Error(c, http.StatusConflict, "Email already registered")
		return
	}
	if err != nil {
		GetLogger(c).WithError(err).Error("register failed")
		response.Error(c, http.StatusInternalServerError, "Failed to create user")
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *AuthHandler) Me(c *gin.Context) {
	id, _ := c.Get(middleware.UserIDKey)
	uid, _ := id.(uint)
	u, err := h.authService.GetUserByID(uid)
	if err != nil {
		response.Error(c, http.StatusNotFound, "User not found")
		return
	}
	c.JSON(http.StatusOK, u)
}
