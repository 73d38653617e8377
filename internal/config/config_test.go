package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs Load away from any .env file in the package directory.
func inTempDir(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)
	t.Setenv("BACKEND", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendSnapshot, cfg.Backend)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 24*time.Hour, cfg.TripWindow)
	assert.Equal(t, 300*time.Minute, cfg.HistoryWindow)
	assert.Equal(t, 3*time.Hour, cfg.DeparturesWindow)
	assert.Equal(t, 2*time.Hour, cfg.RoutesWindow)
	assert.Equal(t, time.Hour, cfg.FreshnessWindow)
	assert.Equal(t, 600*time.Second, cfg.TTLRoutes)
	assert.Equal(t, 10*time.Second, cfg.TTLHistory)
	assert.Equal(t, 120*time.Second, cfg.TTLFreshness)
	assert.Equal(t, "delays.updated.>", cfg.NATSSubject)
	assert.True(t, cfg.CacheEnabled)
	assert.False(t, cfg.RedisEnabled)
}

func TestLoadOverrides(t *testing.T) {
	inTempDir(t)
	t.Setenv("BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/delays")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HISTORY_WINDOW", "2h")
	t.Setenv("TTL_TRIP", "not-a-duration")
	t.Setenv("RATE_LIMIT_WHITELIST", " 10.0.0.1, ,10.0.0.2 ")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 2*time.Hour, cfg.HistoryWindow)
	assert.Equal(t, 30*time.Second, cfg.TTLTrip, "invalid values fall back to the default")
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.RateLimitWhitelist)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown backend", map[string]string{"BACKEND": "mongo"}, `unknown BACKEND "mongo"`},
		{"postgres without url", map[string]string{"BACKEND": "postgres"}, "DATABASE_URL"},
		{"elastic without settings", map[string]string{"BACKEND": "elastic", "ELASTIC_HOSTS": "http://es:9200"}, "env not defined (ELASTIC_API_KEY, ELASTIC_INDEX)"},
		{"zero refresh", map[string]string{"REFRESH_INTERVAL": "0s"}, "REFRESH_INTERVAL"},
		{"zero snapshot reload", map[string]string{"SNAPSHOT_RELOAD": "0s"}, "SNAPSHOT_RELOAD"},
		{"zero rate limit window", map[string]string{"RATE_LIMIT_WINDOW": "0s"}, "RATE_LIMIT_WINDOW"},
		{"negative ttl", map[string]string{"TTL_ROUTES": "-1s"}, "TTL_ROUTES must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inTempDir(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadZeroTTLDisablesCaching(t *testing.T) {
	inTempDir(t)
	t.Setenv("BACKEND", "")
	t.Setenv("TTL_ROUTES", "0s")
	t.Setenv("CACHE_WARM_ON_START", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.TTLRoutes)
	assert.True(t, cfg.CacheWarmOnStart)
}

func TestLoadDotEnv(t *testing.T) {
	inTempDir(t)
	for _, key := range []string{"HTTP_ADDR", "BACKEND"} {
		// Setenv restores the original value once the test ends.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	require.NoError(t, os.WriteFile(filepath.Join(".", ".env"), []byte("HTTP_ADDR=:9090\nBACKEND=sqlite\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, BackendSQLite, cfg.Backend)
}
