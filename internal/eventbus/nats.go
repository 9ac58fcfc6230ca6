package eventbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/conference-hall/scheduler/internal/events"
)

// NATSBus implements a NATS-backed event bus. Delivery is at-most-once:
// boards reload their baseline on every event, so a missed event only delays
// a refresh until the next one.
type NATSBus struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	local  *events.Bus
	logger zerolog.Logger
	nodeID string
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewNATSBus creates a NATS-backed event bus. Falls back to local-only
// delivery if NATS is unavailable at startup.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	nb := &NATSBus{
		local:  events.NewBus(),
		logger: logger.With().Str("component", "eventbus").Str("backend", "nats").Logger(),
		nodeID: nodeID,
	}

	opts := []nats.Option{
		nats.Name("conferencehall-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				nb.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			nb.logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		nb.logger.Warn().Err(err).Msg("NATS connection failed, using in-memory event bus fallback")
		return nb, nil
	}

	sub, err := conn.Subscribe(SubjectPrefix+">", func(m *nats.Msg) {
		relay(nb.local, nb.nodeID, m.Data, nb.logger)
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %s>: %w", SubjectPrefix, err)
	}

	nb.conn = conn
	nb.sub = sub
	nb.logger.Info().Str("url", cfg.URL).Str("node_id", nodeID).Msg("NATS event bus initialized")
	return nb, nil
}

// Subscribe registers a local subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	return nb.local.Subscribe(eventType)
}

// Unsubscribe removes a local subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// Publish delivers payload locally and to other instances.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	if nb.conn == nil {
		return
	}

	data, err := marshalMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal NATS message")
		return
	}
	if err := nb.conn.Publish(SubjectPrefix+string(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to NATS")
	}
}

// Close drains the subscription and closes the connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}
	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
