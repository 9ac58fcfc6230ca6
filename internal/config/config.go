/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// EventBusBackend selects how session events reach other instances.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	InstanceID    string

	// Session dispatch
	DispatchTimeout time.Duration

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Redis (cache and event bus)
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	CacheEnabled     bool
	CacheSessionsTTL time.Duration

	// Event bus
	EventBus EventBusBackend
	NATSURL  string

	// Background jobs (robfig/cron spec)
	DBStatsSchedule string

	LegacyEnvWarnings []string
}

// Load reads an optional .env file and environment variables, applies
// defaults, and validates the result. Variables already set in the
// environment win over the .env file.
func Load() (*Config, error) {
	if err := loadDotEnv(getEnvAny([]string{"CONFERENCE_HALL_ENV_FILE", "CH_ENV_FILE"}, ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment:   getEnvAny([]string{"CONFERENCE_HALL_ENV", "CH_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"CONFERENCE_HALL_HTTP_BIND", "CH_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"CONFERENCE_HALL_HTTP_PORT", "CH_HTTP_PORT"}, 8080),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"CONFERENCE_HALL_DB_BACKEND", "CH_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:         getEnvAny([]string{"CONFERENCE_HALL_DB_DSN", "CH_DB_DSN"}, ""),
		JWTSigningKey: getEnvAny([]string{"CONFERENCE_HALL_JWT_SIGNING_KEY", "CH_JWT_SIGNING_KEY"}, ""),
		InstanceID:    getEnvAny([]string{"CONFERENCE_HALL_INSTANCE_ID", "CH_INSTANCE_ID"}, ""),

		DispatchTimeout: time.Duration(getEnvIntAny([]string{"CONFERENCE_HALL_DISPATCH_TIMEOUT_SECONDS", "CH_DISPATCH_TIMEOUT_SECONDS"}, 10)) * time.Second,

		TracingEnabled:    getEnvBoolAny([]string{"CONFERENCE_HALL_TRACING_ENABLED", "CH_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"CONFERENCE_HALL_OTLP_ENDPOINT", "CH_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"CONFERENCE_HALL_TRACING_SAMPLE_RATE", "CH_TRACING_SAMPLE_RATE"}, 1.0),

		RedisAddr:        getEnvAny([]string{"CONFERENCE_HALL_REDIS_ADDR", "CH_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:    getEnvAny([]string{"CONFERENCE_HALL_REDIS_PASSWORD", "CH_REDIS_PASSWORD"}, ""),
		RedisDB:          getEnvIntAny([]string{"CONFERENCE_HALL_REDIS_DB", "CH_REDIS_DB"}, 0),
		CacheEnabled:     getEnvBoolAny([]string{"CONFERENCE_HALL_CACHE_ENABLED", "CH_CACHE_ENABLED"}, false),
		CacheSessionsTTL: time.Duration(getEnvIntAny([]string{"CONFERENCE_HALL_CACHE_SESSIONS_TTL_SECONDS", "CH_CACHE_SESSIONS_TTL_SECONDS"}, 300)) * time.Second,

		EventBus: EventBusBackend(strings.ToLower(getEnvAny([]string{"CONFERENCE_HALL_EVENT_BUS", "CH_EVENT_BUS"}, string(EventBusMemory)))),
		NATSURL:  getEnvAny([]string{"CONFERENCE_HALL_NATS_URL", "CH_NATS_URL"}, "nats://127.0.0.1:4222"),

		DBStatsSchedule: getEnvAny([]string{"CONFERENCE_HALL_DB_STATS_SCHEDULE", "CH_DB_STATS_SCHEDULE"}, "@every 30s"),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("CONFERENCE_HALL_DB_DSN or CH_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("CONFERENCE_HALL_JWT_SIGNING_KEY or CH_JWT_SIGNING_KEY must be provided")
	}

	switch cfg.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return nil, fmt.Errorf("unsupported event bus %q", cfg.EventBus)
	}

	if cfg.DispatchTimeout <= 0 {
		return nil, fmt.Errorf("CONFERENCE_HALL_DISPATCH_TIMEOUT_SECONDS must be positive")
	}

	if strings.EqualFold(cfg.Environment, "production") && len(cfg.JWTSigningKey) < 32 {
		return nil, fmt.Errorf("CONFERENCE_HALL_JWT_SIGNING_KEY must be at least 32 bytes in production")
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// HTTPAddr returns the listen address for the HTTP server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"DATABASE_URL":    "use CONFERENCE_HALL_DB_DSN (or CH_DB_DSN)",
		"JWT_SIGNING_KEY": "use CONFERENCE_HALL_JWT_SIGNING_KEY (or CH_JWT_SIGNING_KEY)",
		"REDIS_URL":       "use CONFERENCE_HALL_REDIS_ADDR (or CH_REDIS_ADDR)",
		"TRACING_ENABLED": "use CONFERENCE_HALL_TRACING_ENABLED (or CH_TRACING_ENABLED)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
