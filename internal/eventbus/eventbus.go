/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus relays session and schedule events between instances.
// Every bus delivers locally through an in-process events.Bus and forwards
// to a broker; messages coming back from the broker are re-published locally
// unless this node sent them.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/conference-hall/scheduler/internal/config"
	"github.com/conference-hall/scheduler/internal/events"
)

// SubjectPrefix namespaces broker channels and subjects.
const SubjectPrefix = "conferencehall.events."

// Bus is an events.Broker that owns a connection.
type Bus interface {
	events.Broker
	Close() error
}

// localBus adapts the in-process bus to Bus.
type localBus struct {
	*events.Bus
}

func (localBus) Close() error { return nil }

// NewLocal returns an in-process bus for single-instance deployments.
func NewLocal() Bus {
	return localBus{Bus: events.NewBus()}
}

// New builds the bus selected by cfg.EventBus.
func New(cfg *config.Config, logger zerolog.Logger) (Bus, error) {
	nodeID := NodeID(cfg.InstanceID)
	switch cfg.EventBus {
	case config.EventBusRedis:
		rc := DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		return NewRedisBus(rc, nodeID, logger)
	case config.EventBusNATS:
		nc := DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		return NewNATSBus(nc, nodeID, logger)
	case config.EventBusMemory, "":
		return NewLocal(), nil
	default:
		return nil, fmt.Errorf("unsupported event bus %q", cfg.EventBus)
	}
}

// NodeID returns instanceID, or hostname plus a random suffix when empty.
func NodeID(instanceID string) string {
	if instanceID != "" {
		return instanceID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}

// OriginKey is set on relayed payloads to the node that published them.
// Locally published payloads do not carry it.
const OriginKey = "origin_node"

// IsRemote reports whether payload was relayed from another node.
func IsRemote(payload events.Payload) bool {
	_, ok := payload[OriginKey]
	return ok
}

// message is the wire format shared by the broker-backed buses.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal bus message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("bus message without event type")
	}
	return &msg, nil
}

// relay re-publishes a broker message on local unless nodeID sent it.
// It reports whether the message was delivered.
func relay(local *events.Bus, nodeID string, data []byte, logger zerolog.Logger) bool {
	msg, err := unmarshalMessage(data)
	if err != nil {
		logger.Error().Err(err).Msg("failed to decode bus message")
		return false
	}
	if msg.NodeID == nodeID {
		return false
	}
	if msg.Payload == nil {
		msg.Payload = events.Payload{}
	}
	msg.Payload[OriginKey] = msg.NodeID
	local.Publish(msg.EventType, msg.Payload)
	logger.Debug().
		Str("event_type", string(msg.EventType)).
		Str("source_node", msg.NodeID).
		Msg("delivered remote event to local subscribers")
	return true
}
