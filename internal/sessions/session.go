/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sessions reconciles the sessions placed on a schedule: it projects
// in-flight mutations over the confirmed baseline and guards new placements
// against conflicts on the same track.
package sessions

import (
	"time"

	"github.com/conference-hall/scheduler/internal/timeslot"
)

// Track is a scheduling lane (room or stage).
type Track struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Speaker is the speaker summary shown on a scheduled proposal.
type Speaker struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// ProposalData is the proposal attached to a session, if any.
type ProposalData struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Speakers []Speaker `json:"speakers,omitempty"`
}

// Session is a block placed on the grid.
type Session struct {
	ID       string        `json:"id"`
	TrackID  string        `json:"track_id"`
	Slot     timeslot.Slot `json:"timeslot"`
	Name     string        `json:"name,omitempty"`
	Color    string        `json:"color,omitempty"`
	Proposal *ProposalData `json:"proposal,omitempty"`
}

// Intent enumerates mutation kinds.
type Intent string

const (
	IntentAdd    Intent = "add-session"
	IntentUpdate Intent = "update-session"
	IntentDelete Intent = "delete-session"
)

// Mutation is a submitted change that the confirmed baseline may not
// reflect yet. TrackID, Start and End are empty for deletes.
type Mutation struct {
	Intent     Intent    `json:"intent"`
	ScheduleID string    `json:"schedule_id"`
	ID         string    `json:"id"`
	TrackID    string    `json:"track_id,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// Slot returns the mutation's target slot.
func (m Mutation) Slot() timeslot.Slot {
	return timeslot.New(m.Start, m.End)
}

// CorrelationKey returns the key that orders mutations of one session.
// Mutations sharing a key resolve in submission order; different keys are
// independent.
func CorrelationKey(sessionID string) string {
	return "session:" + sessionID
}
