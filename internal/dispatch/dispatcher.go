/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package dispatch applies session mutations in the background. Mutations
// sharing a correlation key are applied one at a time in submission order;
// mutations with different keys run concurrently. Until a mutation settles it
// is reported by Pending so boards can display it optimistically.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/conference-hall/scheduler/internal/events"
	"github.com/conference-hall/scheduler/internal/sessions"
	"github.com/conference-hall/scheduler/internal/telemetry"
)

// DefaultApplyTimeout bounds a single Apply call.
const DefaultApplyTimeout = 10 * time.Second

// Applier persists a mutation.
type Applier interface {
	Apply(ctx context.Context, m sessions.Mutation) error
}

// SettleFunc is called after a mutation has been applied or has failed, before
// it leaves the in-flight list.
type SettleFunc func(ctx context.Context, m sessions.Mutation, err error)

type request struct {
	key         string
	mutation    sessions.Mutation
	submittedAt time.Time
}

// Dispatcher is the asynchronous submission path for session mutations.
type Dispatcher struct {
	applier   Applier
	publisher events.Publisher
	logger    zerolog.Logger
	timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	queues   map[string][]*request
	inflight []*request
	settlers []SettleFunc
	closed   bool
}

// New creates a dispatcher. publisher may be nil.
func New(applier Applier, publisher events.Publisher, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultApplyTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		applier:   applier,
		publisher: publisher,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		timeout:   timeout,
		ctx:       ctx,
		cancel:    cancel,
		queues:    make(map[string][]*request),
	}
}

// OnSettle registers fn to run whenever a mutation settles.
func (d *Dispatcher) OnSettle(fn SettleFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settlers = append(d.settlers, fn)
}

// Submit queues m behind earlier mutations with the same key and returns
// immediately.
func (d *Dispatcher) Submit(key string, m sessions.Mutation) {
	req := &request{key: key, mutation: m, submittedAt: time.Now()}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn().Str("key", key).Str("intent", string(m.Intent)).Msg("dispatcher closed, dropping mutation")
		return
	}
	d.inflight = append(d.inflight, req)
	queue := d.queues[key]
	d.queues[key] = append(queue, req)
	// the head of a queue stays in place while it is applied, so an empty
	// queue means no worker owns the key
	startWorker := len(queue) == 0
	if startWorker {
		d.wg.Add(1)
	}
	d.mu.Unlock()

	telemetry.SessionMutationsInflight.Inc()
	if startWorker {
		go d.drain(key)
	}
}

// Pending returns the unsettled mutations for scheduleID in submission order.
func (d *Dispatcher) Pending(scheduleID string) []sessions.Mutation {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]sessions.Mutation, 0, len(d.inflight))
	for _, req := range d.inflight {
		if req.mutation.ScheduleID == scheduleID {
			out = append(out, req.mutation)
		}
	}
	return out
}

// InflightCount returns the number of unsettled mutations.
func (d *Dispatcher) InflightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Close stops accepting mutations and waits for queued ones to settle.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
	return nil
}

func (d *Dispatcher) drain(key string) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		queue := d.queues[key]
		if len(queue) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		req := queue[0]
		d.mu.Unlock()

		d.process(req)

		d.mu.Lock()
		d.queues[key] = d.queues[key][1:]
		d.mu.Unlock()
	}
}

func (d *Dispatcher) process(req *request) {
	m := req.mutation
	err := d.apply(m)

	d.mu.Lock()
	settlers := append([]SettleFunc(nil), d.settlers...)
	d.mu.Unlock()

	settleCtx, cancel := context.WithTimeout(d.ctx, d.timeout)
	for _, settle := range settlers {
		settle(settleCtx, m, err)
	}
	cancel()

	d.removeInflight(req)

	outcome := "applied"
	if err != nil {
		outcome = "failed"
		d.logger.Warn().Err(err).
			Str("schedule_id", m.ScheduleID).
			Str("session_id", m.ID).
			Str("intent", string(m.Intent)).
			Msg("session mutation failed")
	}
	telemetry.SessionMutationsInflight.Dec()
	telemetry.SessionMutationsTotal.WithLabelValues(string(m.Intent), outcome).Inc()
	telemetry.SessionMutationDuration.WithLabelValues(string(m.Intent)).Observe(time.Since(req.submittedAt).Seconds())

	d.publish(m, err)
}

func (d *Dispatcher) apply(m sessions.Mutation) error {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "dispatch", "session."+string(m.Intent),
		attribute.String("schedule_id", m.ScheduleID),
		attribute.String("session_id", m.ID),
	)
	defer span.End()

	err := d.applier.Apply(ctx, m)
	telemetry.RecordError(span, err)
	return err
}

func (d *Dispatcher) removeInflight(req *request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, candidate := range d.inflight {
		if candidate == req {
			d.inflight = append(d.inflight[:i], d.inflight[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) publish(m sessions.Mutation, err error) {
	if d.publisher == nil {
		return
	}

	payload := events.Payload{
		"schedule_id": m.ScheduleID,
		"session_id":  m.ID,
		"intent":      string(m.Intent),
	}
	if m.Intent != sessions.IntentDelete {
		payload["track_id"] = m.TrackID
		payload["start"] = m.Start
		payload["end"] = m.End
	}

	if err != nil {
		payload["error"] = err.Error()
		d.publisher.Publish(events.EventSessionRejected, payload)
		return
	}
	d.publisher.Publish(eventFor(m.Intent), payload)
}

func eventFor(intent sessions.Intent) events.EventType {
	switch intent {
	case sessions.IntentAdd:
		return events.EventSessionAdded
	case sessions.IntentDelete:
		return events.EventSessionDeleted
	default:
		return events.EventSessionUpdated
	}
}
