package config

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ARGUS_DB_PATH", filepath.Join(t.TempDir(), "db", "argus.db"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, AllOn(), cfg.Security.Flags)
	assert.Equal(t, 5, cfg.Security.ReputationThreshold)
	assert.Equal(t, 200, cfg.Security.RateBlockThreshold)
	assert.Equal(t, time.Minute, cfg.Security.RateWindow)
	assert.Equal(t, 15*time.Minute, cfg.Security.LockoutDuration)
	assert.Contains(t, cfg.Security.PatternExemptPaths, "/api/v1/auth/login")
	assert.Equal(t, int64(32<<20), cfg.Security.MaxUploadBytes)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ARGUS_DB_PATH", filepath.Join(t.TempDir(), "argus.db"))
	t.Setenv("ARGUS_ENV", "development")
	t.Setenv("SECURITY_ANOMALY_ENABLED", "false")
	t.Setenv("SECURITY_ALLOWED_ORIGINS", "https://civic.example, ,https://admin.civic.example")
	t.Setenv("SECURITY_RATE_BLOCK_THRESHOLD", "50")
	t.Setenv("SECURITY_RATE_WARN_THRESHOLD", "25")
	t.Setenv("SECURITY_LOCKOUT_DURATION", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.Security.Flags.Anomaly)
	assert.True(t, cfg.Security.Flags.Pattern)
	assert.Equal(t, []string{"https://civic.example", "https://admin.civic.example"}, cfg.Security.AllowedOrigins)
	assert.Equal(t, 50, cfg.Security.RateBlockThreshold)
	assert.Equal(t, 30*time.Second, cfg.Security.LockoutDuration)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("ARGUS_DB_PATH", filepath.Join(t.TempDir(), "argus.db"))

	t.Run("bad int", func(t *testing.T) {
		t.Setenv("SECURITY_REPUTATION_THRESHOLD", "five")
		_, err := Load()
		assert.ErrorContains(t, err, "SECURITY_REPUTATION_THRESHOLD")
	})
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("SECURITY_CSRF_TOKEN_TTL", "-1m")
		_, err := Load()
		assert.ErrorContains(t, err, "SECURITY_CSRF_TOKEN_TTL")
	})
	t.Run("warn above block", func(t *testing.T) {
		t.Setenv("SECURITY_RATE_WARN_THRESHOLD", "300")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestFlags_SetAndMap(t *testing.T) {
	var f Flags
	require.NoError(t, f.Set(FlagCSRF, true))
	assert.True(t, f.CSRF)
	assert.True(t, f.Enabled(FlagCSRF))
	assert.Error(t, f.Set("telepathy", true))
	assert.False(t, f.Enabled("telepathy"))

	m := f.Map()
	assert.Len(t, m, len(FlagNames))
	assert.True(t, m[FlagCSRF])
	assert.False(t, m[FlagPattern])
}

func TestLive_VersionedSnapshots(t *testing.T) {
	l := NewLive(SecurityConfig{Flags: Flags{Pattern: true}, AllowedOrigins: []string{"https://a.example"}})
	first := l.Current()
	assert.Equal(t, int64(1), first.Version)

	var seen []int64
	l.OnChange(func(s *Snapshot) { seen = append(seen, s.Version) })

	next, err := l.SetFlags("alice", map[string]bool{FlagPattern: false, FlagCSRF: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Version)
	assert.Equal(t, "alice", next.UpdatedBy)
	assert.False(t, next.Flags.Pattern)
	assert.True(t, next.Flags.CSRF)

	// The snapshot captured earlier is untouched.
	assert.True(t, first.Flags.Pattern)
	assert.False(t, first.Flags.CSRF)
	assert.Equal(t, []int64{2}, seen)

	_, err = l.SetFlags("alice", map[string]bool{"bogus": true})
	assert.Error(t, err)
	assert.Equal(t, int64(2), l.Current().Version)
}

func TestLive_Lockdown(t *testing.T) {
	l := NewLive(SecurityConfig{})
	s := l.Lockdown("ops")
	assert.True(t, s.Lockdown)
	assert.Equal(t, AllOn(), s.Flags)

	before := l.Current().Version
	_, err := l.SetFlags("ops", map[string]bool{FlagAnomaly: false})
	assert.ErrorIs(t, err, ErrLockdownActive)
	assert.Equal(t, before, l.Current().Version, "rejected change publishes nothing")
	assert.True(t, l.Current().Flags.Anomaly)

	s, err = l.SetFlags("ops", map[string]bool{FlagAnomaly: true})
	require.NoError(t, err)
	assert.True(t, s.Flags.Anomaly)

	s = l.EndLockdown("ops")
	assert.False(t, s.Lockdown)
	assert.True(t, s.Flags.Anomaly)
	s, _ = l.SetFlags("ops", map[string]bool{FlagAnomaly: false})
	assert.False(t, s.Flags.Anomaly)
}

func TestLive_ConcurrentUpdates(t *testing.T) {
	l := NewLive(SecurityConfig{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(on bool) {
			defer wg.Done()
			_, _ = l.SetFlags("t", map[string]bool{FlagLockout: on})
			_ = l.Current().Flags.Lockout
		}(i%2 == 0)
	}
	wg.Wait()
	assert.Equal(t, int64(21), l.Current().Version)
}

func TestSnapshot_OriginAllowed(t *testing.T) {
	s := &Snapshot{AllowedOrigins: []string{"https://civic.example"}}
	assert.True(t, s.OriginAllowed("https://civic.example"))
	assert.False(t, s.OriginAllowed("https://evil.example"))
	assert.True(t, (&Snapshot{AllowedOrigins: []string{"*"}}).OriginAllowed("https://x"))
	assert.False(t, (&Snapshot{}).OriginAllowed("https://x"))
}
