/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/conference-hall/scheduler/internal/events"
)

// RedisBus implements a Redis pub/sub event bus for multi-instance
// deployments.
type RedisBus struct {
	client *redis.Client
	pubsub *redis.PubSub
	local  *events.Bus
	logger zerolog.Logger
	nodeID string
	cfg    RedisConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Circuit breaker state
	mu          sync.Mutex
	useFallback bool
	failCount   int
	lastCheck   time.Time
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// NewRedisBus creates a Redis-backed event bus. When Redis is unreachable
// the bus starts in local-only mode and retries on later publishes.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) (*RedisBus, error) {
	ctx, cancel := context.WithCancel(context.Background())
	rb := &RedisBus{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}),
		local:  events.NewBus(),
		logger: logger.With().Str("component", "eventbus").Str("backend", "redis").Logger(),
		nodeID: nodeID,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()

	if err := rb.client.Ping(pingCtx).Err(); err != nil {
		rb.logger.Warn().Err(err).Msg("Redis connection failed, using in-memory fallback")
		rb.useFallback = true
		rb.lastCheck = time.Now()
		return rb, nil
	}

	rb.listen()
	rb.logger.Info().Str("addr", cfg.Addr).Str("node_id", nodeID).Msg("Redis event bus initialized")
	return rb, nil
}

// listen subscribes to every event channel and relays remote messages.
func (rb *RedisBus) listen() {
	rb.pubsub = rb.client.PSubscribe(rb.ctx, SubjectPrefix+"*")
	rb.wg.Add(1)
	go rb.receive(rb.pubsub)
}

func (rb *RedisBus) receive(pubsub *redis.PubSub) {
	defer rb.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-rb.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rb.logger.Debug().Msg("Redis subscription closed")
				return
			}
			relay(rb.local, rb.nodeID, []byte(msg.Payload), rb.logger)
		}
	}
}

// Subscribe registers a local subscriber for an event type.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	return rb.local.Subscribe(eventType)
}

// Unsubscribe removes a local subscriber.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.local.Unsubscribe(eventType, sub)
}

// Publish delivers payload locally and forwards it to other instances.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)

	if rb.fallbackActive() {
		return
	}

	data, err := marshalMessage(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal Redis message")
		return
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()

	if err := rb.client.Publish(ctx, SubjectPrefix+string(eventType), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to Redis")
		rb.handleFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}

// fallbackActive reports whether Redis is bypassed, retrying the connection
// once per check interval.
func (rb *RedisBus) fallbackActive() bool {
	rb.mu.Lock()
	if !rb.useFallback {
		rb.mu.Unlock()
		return false
	}
	rb.mu.Unlock()
	return rb.tryReconnect() != nil
}

func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.cfg.MaxFailures && !rb.useFallback {
		rb.logger.Warn().
			Int("fail_count", rb.failCount).
			Msg("Redis failure threshold reached, switching to in-memory fallback")
		rb.useFallback = true
		rb.lastCheck = time.Now()
	}
}

func (rb *RedisBus) tryReconnect() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.useFallback {
		return nil
	}
	if time.Since(rb.lastCheck) < rb.cfg.CheckInterval {
		return fmt.Errorf("too soon to retry")
	}
	rb.lastCheck = time.Now()

	ctx, cancel := context.WithTimeout(rb.ctx, 5*time.Second)
	defer cancel()
	if err := rb.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis still unavailable: %w", err)
	}

	rb.useFallback = false
	rb.failCount = 0
	if rb.pubsub == nil {
		rb.listen()
	}
	rb.logger.Info().Msg("reconnected to Redis, disabling fallback")
	return nil
}

// Close stops the receiver and closes the Redis client.
func (rb *RedisBus) Close() error {
	rb.cancel()
	rb.mu.Lock()
	pubsub := rb.pubsub
	rb.mu.Unlock()
	if pubsub != nil {
		_ = pubsub.Close()
	}
	rb.wg.Wait()

	if err := rb.client.Close(); err != nil {
		rb.logger.Error().Err(err).Msg("failed to close Redis client")
		return err
	}
	rb.logger.Info().Msg("Redis event bus closed")
	return nil
}
