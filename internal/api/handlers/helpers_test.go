package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/argus/internal/api/middleware"
	"github.com/Wikid82/argus/internal/api/response"
	"github.com/Wikid82/argus/internal/cerberus"
	"github.com/Wikid82/argus/internal/config"
)

const testClientIP = "192.0.2.1"

func newTestStore(t *testing.T, mutate func(*config.SecurityConfig)) *cerberus.Store {
	t.Helper()
	dir := t.TempDir()
	sec := config.SecurityConfig{
		Flags:         config.AllOn(),
		UploadDir:     filepath.Join(dir, "uploads"),
		QuarantineDir: filepath.Join(dir, "quarantine"),
		ScanWorkers:   1,
	}
	if mutate != nil {
		mutate(&sec)
	}
	st, err := cerberus.NewStore(sec, nil)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

// asAdmin stands in for AuthMiddleware in handler tests.
func asAdmin(email string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.EmailKey, email)
		c.Set(middleware.RoleKey, "admin")
		c.Next()
	}
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	return r
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorBody {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Error
}
