/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based read-through cache for schedules and
// their confirmed sessions.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/conference-hall/scheduler/internal/sessions"
	"github.com/conference-hall/scheduler/internal/telemetry"
)

// Default TTL values for different cache types
const (
	DefaultSessionsTTL = 5 * time.Minute
	DefaultScheduleTTL = 30 * time.Minute
)

// Key prefixes for Redis cache
const (
	keyRoot     = "conferencehall:cache:"
	KeySessions        = keyRoot + "sessions:"         // + schedule_id + ":" + version
	KeySessionsVersion = keyRoot + "sessions_version:" // + schedule_id
	KeySchedule        = keyRoot + "schedule:"         // + schedule_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SessionsTTL time.Duration
	ScheduleTTL time.Duration

	// DisableOnError trips the breaker on the first Redis error.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		SessionsTTL:    DefaultSessionsTTL,
		ScheduleTTL:    DefaultScheduleTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback. A nil *Cache is
// valid and behaves as a permanently disabled cache.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. An unreachable Redis yields a disabled
// cache rather than an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.SessionsTTL <= 0 {
		cfg.SessionsTTL = DefaultSessionsTTL
	}
	if cfg.ScheduleTTL <= 0 {
		cfg.ScheduleTTL = DefaultScheduleTTL
	}
	logger = logger.With().Str("component", "cache").Logger()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
		return &Cache{logger: logger, config: cfg, disabled: true}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")
	return &Cache{client: client, logger: logger, config: cfg}, nil
}

// NewWithClient wraps an existing client, skipping the connectivity probe.
func NewWithClient(client *redis.Client, cfg Config, logger zerolog.Logger) *Cache {
	if cfg.SessionsTTL <= 0 {
		cfg.SessionsTTL = DefaultSessionsTTL
	}
	if cfg.ScheduleTTL <= 0 {
		cfg.ScheduleTTL = DefaultScheduleTTL
	}
	return &Cache{client: client, logger: logger.With().Str("component", "cache").Logger(), config: cfg}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) bool {
	if !c.IsAvailable() {
		return false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		telemetry.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return false
	}
	if err != nil {
		telemetry.CacheRequestsTotal.WithLabelValues("error").Inc()
		c.handleError(err, "get")
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		telemetry.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return false
	}

	telemetry.CacheRequestsTotal.WithLabelValues("hit").Inc()
	return true
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

func (c *Cache) delete(ctx context.Context, keys ...string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}

func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// CachedTrack is a track as stored with a cached schedule.
type CachedTrack struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// CachedSchedule represents a cached schedule with its tracks.
type CachedSchedule struct {
	ID              string        `json:"id"`
	EventID         string        `json:"event_id"`
	Name            string        `json:"name"`
	Timezone        string        `json:"timezone"`
	StartDate       time.Time     `json:"start_date"`
	EndDate         time.Time     `json:"end_date"`
	IntervalMinutes int           `json:"interval_minutes"`
	DayStartTime    string        `json:"day_start_time"`
	DayEndTime      string        `json:"day_end_time"`
	Tracks          []CachedTrack `json:"tracks"`
}

// GetSchedule retrieves a cached schedule.
func (c *Cache) GetSchedule(ctx context.Context, scheduleID string) (*CachedSchedule, bool) {
	var schedule CachedSchedule
	if !c.get(ctx, KeySchedule+scheduleID, &schedule) {
		return nil, false
	}
	c.logger.Debug().Str("schedule_id", scheduleID).Msg("schedule cache hit")
	return &schedule, true
}

// SetSchedule caches a schedule.
func (c *Cache) SetSchedule(ctx context.Context, schedule *CachedSchedule) error {
	if !c.IsAvailable() {
		return nil
	}
	return c.set(ctx, KeySchedule+schedule.ID, schedule, c.config.ScheduleTTL)
}

func sessionsKey(scheduleID string, version int64) string {
	return KeySessions + scheduleID + ":" + strconv.FormatInt(version, 10)
}

// SessionsVersion returns the current version of a schedule's cached
// sessions. Read it before loading from the database and pass it to
// SetSessions: an invalidation in between bumps the version, and the write
// lands on a key nobody reads.
func (c *Cache) SessionsVersion(ctx context.Context, scheduleID string) (int64, bool) {
	if !c.IsAvailable() {
		return 0, false
	}
	version, err := c.client.Get(ctx, KeySessionsVersion+scheduleID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		c.handleError(err, "get_version")
		return 0, false
	}
	return version, true
}

// GetSessions retrieves the cached confirmed sessions of a schedule at
// version.
func (c *Cache) GetSessions(ctx context.Context, scheduleID string, version int64) ([]sessions.Session, bool) {
	var list []sessions.Session
	if !c.get(ctx, sessionsKey(scheduleID, version), &list) {
		return nil, false
	}
	c.logger.Debug().Str("schedule_id", scheduleID).Int64("version", version).Int("count", len(list)).Msg("sessions cache hit")
	return list, true
}

// SetSessions caches the confirmed sessions of a schedule under version.
func (c *Cache) SetSessions(ctx context.Context, scheduleID string, version int64, list []sessions.Session) error {
	if !c.IsAvailable() {
		return nil
	}
	if list == nil {
		list = []sessions.Session{}
	}
	return c.set(ctx, sessionsKey(scheduleID, version), list, c.config.SessionsTTL)
}

// InvalidateSessions bumps the sessions version of a schedule and drops the
// entry of the previous one.
func (c *Cache) InvalidateSessions(ctx context.Context, scheduleID string) error {
	if !c.IsAvailable() {
		return nil
	}
	c.logger.Debug().Str("schedule_id", scheduleID).Msg("invalidating sessions cache")

	version, err := c.client.Incr(ctx, KeySessionsVersion+scheduleID).Result()
	if err != nil {
		c.handleError(err, "incr_version")
		return err
	}
	return c.delete(ctx, sessionsKey(scheduleID, version-1))
}

// InvalidateSchedule drops every cache entry of a schedule.
func (c *Cache) InvalidateSchedule(ctx context.Context, scheduleID string) error {
	if !c.IsAvailable() {
		return nil
	}
	c.logger.Debug().Str("schedule_id", scheduleID).Msg("invalidating schedule caches")
	if err := c.delete(ctx, KeySchedule+scheduleID); err != nil {
		return err
	}
	return c.InvalidateSessions(ctx, scheduleID)
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, keyRoot+"*")
}
