package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/argus/internal/logger"
)

func TestRequestIDAddsHeaderAndLogger(t *testing.T) {
	logger.Init(true, &bytes.Buffer{})

	var seen string
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		_, ok := c.Get("logger")
		assert.True(t, ok, "expected request-scoped logger in context")
		seen = c.GetString(RequestIDKey)
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	require.Equal(t, http.StatusOK, w.Code)
	rid := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, rid)
	assert.Equal(t, rid, seen)
}

func TestRequestIDKeepsValidInboundID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	inbound := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, inbound)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, inbound, w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "forged\nlevel=error")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	got := w.Header().Get(RequestIDHeader)
	assert.NotContains(t, got, "forged")
	_, err := uuid.Parse(got)
	assert.NoError(t, err)
}

func TestGetRequestLoggerFallback(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.NotNil(t, GetRequestLogger(c))
}
