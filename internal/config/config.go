// Package config loads the stepflowd daemon configuration from the
// environment. All settings have working defaults, so an empty environment
// boots an in-memory single-process instance.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Backend names a session storage implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
	BackendMongo    Backend = "mongo"
)

// Config is the full daemon configuration.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string

	// Backend selects where sessions, locks, and dedup results live.
	Backend Backend

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string

	// RedisAddr and RedisDB configure the redis backend.
	RedisAddr string
	RedisDB   int

	// MongoURI and MongoDB configure the mongo backend.
	MongoURI string
	MongoDB  string

	// RateLimit allows this many submissions per user per RateWindow.
	RateLimit  int
	RateWindow time.Duration

	// HandlerTimeout bounds one submission end to end.
	HandlerTimeout time.Duration

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// Production suppresses internal error detail in HTTP responses.
	Production bool
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:           getEnv("STEPFLOW_ADDR", ":8080"),
		Backend:        Backend(getEnv("STEPFLOW_BACKEND", string(BackendMemory))),
		SQLitePath:     getEnv("STEPFLOW_SQLITE_PATH", "stepflow.db"),
		PostgresDSN:    getEnv("STEPFLOW_POSTGRES_DSN", ""),
		RedisAddr:      getEnv("STEPFLOW_REDIS_ADDR", "localhost:6379"),
		RedisDB:        getEnvInt("STEPFLOW_REDIS_DB", 0),
		MongoURI:       getEnv("STEPFLOW_MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:        getEnv("STEPFLOW_MONGO_DB", "stepflow"),
		RateLimit:      getEnvInt("STEPFLOW_RATE_LIMIT", 10),
		RateWindow:     getEnvDuration("STEPFLOW_RATE_WINDOW", time.Minute),
		HandlerTimeout: getEnvDuration("STEPFLOW_HANDLER_TIMEOUT", 30*time.Second),
		LogLevel:       getEnv("STEPFLOW_LOG_LEVEL", "info"),
		Production:     getEnvBool("STEPFLOW_PRODUCTION", false),
	}

	switch cfg.Backend {
	case BackendMemory, BackendSQLite, BackendRedis, BackendMongo:
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("STEPFLOW_POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
