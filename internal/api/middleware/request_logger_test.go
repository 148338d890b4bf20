package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/argus/internal/logger"
)

func TestRequestLoggerIncludesRequestID(t *testing.T) {
	buf := &bytes.Buffer{}
	logger.Init(true, buf)

	router := gin.New()
	router.Use(RequestID())
	router.Use(RequestLogger())
	router.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.Equal(t, http.StatusOK, w.Code)

	out := buf.String()
	assert.Contains(t, out, "request_id")
	assert.Contains(t, out, "handled request")
	assert.Contains(t, out, "level=info")
}

func TestRequestLoggerRecordsVerdictHeaders(t *testing.T) {
	buf := &bytes.Buffer{}
	logger.Init(true, buf)

	router := gin.New()
	router.Use(RequestID())
	router.Use(RequestLogger())
	router.GET("/blocked", func(c *gin.Context) {
		c.Header("X-Threat-Status", "monitored")
		c.Status(http.StatusForbidden)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/blocked?token=abc", nil))
	require.Equal(t, http.StatusForbidden, w.Code)

	out := buf.String()
	assert.Contains(t, out, "threat=monitored")
	assert.Contains(t, out, "level=warning")
	assert.NotContains(t, out, "token=abc")
}
