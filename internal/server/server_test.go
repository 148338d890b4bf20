package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/argus/internal/config"
	"github.com/Wikid82/argus/internal/database"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := database.Connect(filepath.Join(t.TempDir(), "argus.db"))
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := config.Config{
		HTTPPort:  "0",
		JWTSecret: "test-secret",
		Security: config.SecurityConfig{
			Flags:         config.AllOn(),
			UploadDir:     filepath.Join(dir, "uploads"),
			QuarantineDir: filepath.Join(dir, "quarantine"),
		},
	}
	srv, err := New(db, cfg)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func TestNew(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "route not found")
}

func TestRun_StopsOnCancel(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
