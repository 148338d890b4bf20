package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment   string
	HTTPPort      string
	DatabasePath  string
	LogDir        string
	Debug         bool
	JWTSecret     string
	TokenTTL      time.Duration
	AdminEmail    string
	AdminPassword string
	Security      SecurityConfig
}

// SecurityConfig holds detector thresholds and the initial protection
// toggles. Toggles changed at runtime live in a Live snapshot instead.
type SecurityConfig struct {
	Flags              Flags
	AllowedOrigins     []string
	PatternExemptPaths []string
	CSRFExemptPaths    []string

	ReputationThreshold int
	ReputationIdleTTL   time.Duration

	RateWindow         time.Duration
	RateWarnThreshold  int
	RateBlockThreshold int

	AnomalyRapidThreshold int
	AnomalyDistinctPaths  int

	CSRFTokenTTL        time.Duration
	PageTokenTTL        time.Duration
	PageTokensPerOrigin int

	LockoutThreshold int
	LockoutDuration  time.Duration

	UploadDir      string
	QuarantineDir  string
	MaxUploadBytes int64
	ScanWorkers    int
	SignatureFile  string

	EventBuffer   int
	SweepSchedule string

	AlertURLs        []string
	AlertMinSeverity string
	AlertsPerMinute  int
}

// IsDevelopment reports whether stack traces and verbose diagnostics may be
// returned to clients.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:   getEnv("ARGUS_ENV", "production"),
		HTTPPort:      getEnv("ARGUS_HTTP_PORT", "8080"),
		DatabasePath:  getEnv("ARGUS_DB_PATH", filepath.Join("data", "argus.db")),
		LogDir:        getEnv("ARGUS_LOG_DIR", filepath.Join("data", "logs")),
		Debug:         getEnvBool("ARGUS_DEBUG", false),
		JWTSecret:     getEnv("ARGUS_JWT_SECRET", "change-me-in-production"),
		AdminEmail:    getEnv("ARGUS_ADMIN_EMAIL", "admin@localhost"),
		AdminPassword: getEnv("ARGUS_ADMIN_PASSWORD", ""),
	}

	ttl, err := getEnvDuration("ARGUS_TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenTTL = ttl

	sec, err := loadSecurity()
	if err != nil {
		return Config{}, err
	}
	cfg.Security = sec

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func loadSecurity() (SecurityConfig, error) {
	sec := SecurityConfig{
		Flags: Flags{
			Reputation: getEnvBool("SECURITY_REPUTATION_ENABLED", true),
			RateLimit:  getEnvBool("SECURITY_RATE_LIMIT_ENABLED", true),
			Anomaly:    getEnvBool("SECURITY_ANOMALY_ENABLED", true),
			Pattern:    getEnvBool("SECURITY_PATTERN_ENABLED", true),
			CSRF:       getEnvBool("SECURITY_CSRF_ENABLED", true),
			PageTokens: getEnvBool("SECURITY_PAGE_TOKENS_ENABLED", true),
			Lockout:    getEnvBool("SECURITY_LOCKOUT_ENABLED", true),
			FileScan:   getEnvBool("SECURITY_FILE_SCAN_ENABLED", true),
		},
		AllowedOrigins:     getEnvList("SECURITY_ALLOWED_ORIGINS", nil),
		PatternExemptPaths: getEnvList("SECURITY_PATTERN_EXEMPT_PATHS", []string{"/api/v1/auth/login", "/api/v1/auth/register"}),
		CSRFExemptPaths:    getEnvList("SECURITY_CSRF_EXEMPT_PATHS", []string{"/api/v1/auth/login", "/api/v1/auth/register"}),

		UploadDir:        getEnv("SECURITY_UPLOAD_DIR", filepath.Join("data", "uploads")),
		QuarantineDir:    getEnv("SECURITY_QUARANTINE_DIR", filepath.Join("data", "quarantine")),
		SignatureFile:    getEnv("SECURITY_SIGNATURE_FILE", ""),
		SweepSchedule:    getEnv("SECURITY_SWEEP_SCHEDULE", "@every 1m"),
		AlertURLs:        getEnvList("SECURITY_ALERT_URLS", nil),
		AlertMinSeverity: getEnv("SECURITY_ALERT_MIN_SEVERITY", "critical"),
	}

	var err error
	ints := []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"SECURITY_REPUTATION_THRESHOLD", 5, &sec.ReputationThreshold},
		{"SECURITY_RATE_WARN_THRESHOLD", 100, &sec.RateWarnThreshold},
		{"SECURITY_RATE_BLOCK_THRESHOLD", 200, &sec.RateBlockThreshold},
		{"SECURITY_ANOMALY_RAPID_THRESHOLD", 10, &sec.AnomalyRapidThreshold},
		{"SECURITY_ANOMALY_DISTINCT_PATHS", 20, &sec.AnomalyDistinctPaths},
		{"SECURITY_PAGE_TOKENS_PER_ORIGIN", 5, &sec.PageTokensPerOrigin},
		{"SECURITY_LOCKOUT_THRESHOLD", 5, &sec.LockoutThreshold},
		{"SECURITY_SCAN_WORKERS", 4, &sec.ScanWorkers},
		{"SECURITY_EVENT_BUFFER", 1000, &sec.EventBuffer},
		{"SECURITY_ALERTS_PER_MINUTE", 6, &sec.AlertsPerMinute},
	}
	for _, i := range ints {
		if *i.dst, err = getEnvInt(i.key, i.fallback); err != nil {
			return SecurityConfig{}, err
		}
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"SECURITY_REPUTATION_IDLE_TTL", 24 * time.Hour, &sec.ReputationIdleTTL},
		{"SECURITY_RATE_WINDOW", time.Minute, &sec.RateWindow},
		{"SECURITY_CSRF_TOKEN_TTL", time.Hour, &sec.CSRFTokenTTL},
		{"SECURITY_PAGE_TOKEN_TTL", 10 * time.Minute, &sec.PageTokenTTL},
		{"SECURITY_LOCKOUT_DURATION", 15 * time.Minute, &sec.LockoutDuration},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, d.fallback); err != nil {
			return SecurityConfig{}, err
		}
	}

	maxUpload, err := getEnvInt("SECURITY_MAX_UPLOAD_BYTES", 32<<20)
	if err != nil {
		return SecurityConfig{}, err
	}
	sec.MaxUploadBytes = int64(maxUpload)

	if sec.RateWarnThreshold > sec.RateBlockThreshold {
		return SecurityConfig{}, fmt.Errorf("SECURITY_RATE_WARN_THRESHOLD (%d) exceeds SECURITY_RATE_BLOCK_THRESHOLD (%d)", sec.RateWarnThreshold, sec.RateBlockThreshold)
	}
	return sec, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	if b, err := strconv.ParseBool(val); err == nil {
		return b
	}
	return val == "1" || strings.EqualFold(val, "yes")
}

func getEnvInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: expected a positive integer, got %q", key, val)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: expected a positive duration, got %q", key, val)
	}
	return d, nil
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(val, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
