package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbort_Envelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	SetDevelopment(false)

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(RequestIDKey, "rid-1"); c.Next() })
	r.GET("/x", func(c *gin.Context) {
		Abort(c, http.StatusForbidden, "Access denied", map[string]interface{}{"category": "sql-injection"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, http.StatusForbidden, w.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Equal(t, "Access denied", env.Error.Message)
	assert.Equal(t, http.StatusForbidden, env.Error.StatusCode)
	assert.Equal(t, "rid-1", env.Error.RequestID)
	assert.Equal(t, "sql-injection", env.Error.Details["category"])
	assert.Empty(t, env.Error.Stack)
}

func TestBuild_StackOnlyInDevelopment(t *testing.T) {
	SetDevelopment(true)
	defer SetDevelopment(false)

	env := Build(nil, http.StatusInternalServerError, "internal server error", nil)
	assert.Contains(t, env.Error.Stack, "goroutine")
}
