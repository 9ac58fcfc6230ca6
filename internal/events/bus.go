/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Session mutations, published once the store has settled them.
	EventSessionAdded    EventType = "session.added"
	EventSessionUpdated  EventType = "session.updated"
	EventSessionDeleted  EventType = "session.deleted"
	EventSessionRejected EventType = "session.rejected"

	// Schedule layout changes (import, track edits).
	EventScheduleUpdated EventType = "schedule.updated"
)

// SessionEvents lists every session event type.
var SessionEvents = []EventType{
	EventSessionAdded,
	EventSessionUpdated,
	EventSessionDeleted,
	EventSessionRejected,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is implemented by every bus flavour.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Broker is a bus that can also be subscribed to.
type Broker interface {
	Publisher
	Subscribe(eventType EventType) Subscriber
	Unsubscribe(eventType EventType, sub Subscriber)
}

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 16)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers miss events rather
// than block the publisher.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	// sends never block, so holding the read lock keeps Unsubscribe from
	// closing a channel mid-send
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes it.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}
