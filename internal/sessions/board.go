/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sessions

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/conference-hall/scheduler/internal/timeslot"
)

// Submitter persists mutations asynchronously. Submit must not block on
// completion.
type Submitter interface {
	Submit(key string, m Mutation)
}

// Inflight reports mutations submitted for a schedule and not yet settled,
// in submission order.
type Inflight interface {
	Pending(scheduleID string) []Mutation
}

// Board holds the sessions of one schedule as the organizers see them:
// the confirmed baseline with in-flight mutations applied.
type Board struct {
	scheduleID string
	submitter  Submitter
	inflight   Inflight
	newID      func() string
	logger     zerolog.Logger

	mu        sync.RWMutex
	confirmed []Session
}

// NewBoard creates a board for scheduleID with an empty baseline.
func NewBoard(scheduleID string, submitter Submitter, inflight Inflight, logger zerolog.Logger) *Board {
	return &Board{
		scheduleID: scheduleID,
		submitter:  submitter,
		inflight:   inflight,
		newID:      uuid.NewString,
		logger:     logger.With().Str("component", "board").Str("schedule_id", scheduleID).Logger(),
	}
}

// SetIDGenerator replaces the generator used for new session ids.
func (b *Board) SetIDGenerator(fn func() string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.newID = fn
}

// ScheduleID returns the schedule the board belongs to.
func (b *Board) ScheduleID() string {
	return b.scheduleID
}

// SetConfirmed replaces the confirmed baseline.
func (b *Board) SetConfirmed(confirmed []Session) {
	snapshot := make([]Session, len(confirmed))
	copy(snapshot, confirmed)

	b.mu.Lock()
	b.confirmed = snapshot
	b.mu.Unlock()
}

// Confirmed returns a snapshot of the confirmed baseline.
func (b *Board) Confirmed() []Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Session, len(b.confirmed))
	copy(out, b.confirmed)
	return out
}

// Data returns the displayed sessions.
func (b *Board) Data() []Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data()
}

func (b *Board) data() []Session {
	return Project(b.confirmed, b.inflight.Pending(b.scheduleID))
}

// Add places a new session on trackID. It returns the new session id, or
// false without submitting anything when slot overlaps another session on
// the track.
func (b *Board) Add(trackID string, slot timeslot.Slot) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if HasConflict(b.data(), trackID, slot, "") {
		b.logger.Debug().Str("track_id", trackID).Stringer("slot", slot).Msg("add rejected: slot conflict")
		return "", false
	}

	id := b.newID()
	b.submitter.Submit(CorrelationKey(id), Mutation{
		Intent:     IntentAdd,
		ScheduleID: b.scheduleID,
		ID:         id,
		TrackID:    trackID,
		Start:      slot.Start.UTC(),
		End:        slot.End.UTC(),
	})
	return id, true
}

// Update moves session to trackID and slot. It returns false without
// submitting when the new placement overlaps another session on the track.
func (b *Board) Update(session Session, trackID string, slot timeslot.Slot) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if HasConflict(b.data(), trackID, slot, session.ID) {
		b.logger.Debug().Str("session_id", session.ID).Str("track_id", trackID).Stringer("slot", slot).Msg("update rejected: slot conflict")
		return false
	}

	b.submitter.Submit(CorrelationKey(session.ID), Mutation{
		Intent:     IntentUpdate,
		ScheduleID: b.scheduleID,
		ID:         session.ID,
		TrackID:    trackID,
		Start:      slot.Start.UTC(),
		End:        slot.End.UTC(),
	})
	return true
}

// Move relocates session to start where target starts, on trackID, keeping
// the session's duration.
func (b *Board) Move(session Session, trackID string, target timeslot.Slot) bool {
	return b.Update(session, trackID, timeslot.MoveStart(session.Slot, target.Start))
}

// Delete removes session.
func (b *Board) Delete(session Session) {
	b.submitter.Submit(CorrelationKey(session.ID), Mutation{
		Intent:     IntentDelete,
		ScheduleID: b.scheduleID,
		ID:         session.ID,
	})
}
