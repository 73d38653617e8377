package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Backend string

const (
	BackendSnapshot Backend = "snapshot"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendElastic  Backend = "elastic"
)

type Config struct {
	LogLevel        slog.Level
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	Backend        Backend
	SnapshotPath   string
	SnapshotReload time.Duration
	SQLitePath     string
	DatabaseURL    string
	ElasticHosts   []string
	ElasticAPIKey  string
	ElasticIndex   string

	TripWindow       time.Duration
	HistoryWindow    time.Duration
	DeparturesWindow time.Duration
	RoutesWindow     time.Duration
	FreshnessWindow  time.Duration

	CacheEnabled     bool
	CacheSize        int
	RedisEnabled     bool
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	CacheWarmOnStart bool

	TTLRoutes     time.Duration
	TTLDirections time.Duration
	TTLStops      time.Duration
	TTLDepartures time.Duration
	TTLTrip       time.Duration
	TTLHistory    time.Duration
	TTLFreshness  time.Duration

	RefreshInterval time.Duration

	NATSEnabled bool
	NATSURL     string
	NATSSubject string

	MetricsEnabled bool

	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	RateLimitWhitelist []string
}

// Load reads the configuration from the environment, after loading a .env
// file from the working directory when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		LogLevel:        getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		Backend:        Backend(strings.ToLower(getEnv("BACKEND", string(BackendSnapshot)))),
		SnapshotPath:   getEnv("SNAPSHOT_PATH", "data/observations.csv"),
		SnapshotReload: getDurationEnv("SNAPSHOT_RELOAD", 90*time.Second),
		SQLitePath:     getEnv("SQLITE_PATH", "data/observations.db"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		ElasticHosts:   getCSVEnv("ELASTIC_HOSTS"),
		ElasticAPIKey:  getEnv("ELASTIC_API_KEY", ""),
		ElasticIndex:   getEnv("ELASTIC_INDEX", ""),

		TripWindow:       getDurationEnv("TRIP_WINDOW", 24*time.Hour),
		HistoryWindow:    getDurationEnv("HISTORY_WINDOW", 300*time.Minute),
		DeparturesWindow: getDurationEnv("DEPARTURES_WINDOW", 3*time.Hour),
		RoutesWindow:     getDurationEnv("ROUTES_WINDOW", 2*time.Hour),
		FreshnessWindow:  getDurationEnv("FRESHNESS_WINDOW", time.Hour),

		CacheEnabled:     getBoolEnv("CACHE_ENABLED", true),
		CacheSize:        getIntEnv("CACHE_SIZE", 1000),
		RedisEnabled:     getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getIntEnv("REDIS_DB", 0),
		CacheWarmOnStart: getBoolEnv("CACHE_WARM_ON_START", true),

		TTLRoutes:     getDurationEnv("TTL_ROUTES", 600*time.Second),
		TTLDirections: getDurationEnv("TTL_DIRECTIONS", 30*time.Second),
		TTLStops:      getDurationEnv("TTL_STOPS", 30*time.Second),
		TTLDepartures: getDurationEnv("TTL_DEPARTURES", 60*time.Second),
		TTLTrip:       getDurationEnv("TTL_TRIP", 30*time.Second),
		TTLHistory:    getDurationEnv("TTL_HISTORY", 10*time.Second),
		TTLFreshness:  getDurationEnv("TTL_FRESHNESS", 120*time.Second),

		RefreshInterval: getDurationEnv("REFRESH_INTERVAL", 15*time.Second),

		NATSEnabled: getBoolEnv("NATS_ENABLED", false),
		NATSURL:     getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		NATSSubject: getEnv("NATS_SUBJECT", "delays.updated.>"),

		MetricsEnabled: getBoolEnv("METRICS_ENABLED", true),

		RateLimitPerWindow: getIntEnv("RATE_LIMIT_PER_WINDOW", 120),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitWhitelist: getCSVEnv("RATE_LIMIT_WHITELIST"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendSnapshot:
		if c.SnapshotReload <= 0 {
			return fmt.Errorf("SNAPSHOT_RELOAD must be positive")
		}
	case BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is required for the postgres backend")
		}
	case BackendElastic:
		var missing []string
		if len(c.ElasticHosts) == 0 {
			missing = append(missing, "ELASTIC_HOSTS")
		}
		if c.ElasticAPIKey == "" {
			missing = append(missing, "ELASTIC_API_KEY")
		}
		if c.ElasticIndex == "" {
			missing = append(missing, "ELASTIC_INDEX")
		}
		if len(missing) > 0 {
			return fmt.Errorf("env not defined (%s)", strings.Join(missing, ", "))
		}
	default:
		return fmt.Errorf("unknown BACKEND %q", c.Backend)
	}

	if c.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("CACHE_SIZE must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	ttls := []struct {
		key string
		ttl time.Duration
	}{
		{"TTL_ROUTES", c.TTLRoutes},
		{"TTL_DIRECTIONS", c.TTLDirections},
		{"TTL_STOPS", c.TTLStops},
		{"TTL_DEPARTURES", c.TTLDepartures},
		{"TTL_TRIP", c.TTLTrip},
		{"TTL_HISTORY", c.TTLHistory},
		{"TTL_FRESHNESS", c.TTLFreshness},
	}
	for _, t := range ttls {
		if t.ttl < 0 {
			return fmt.Errorf("%s must not be negative", t.key)
		}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}
