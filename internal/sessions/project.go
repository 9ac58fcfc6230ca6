/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sessions

import "github.com/conference-hall/scheduler/internal/timeslot"

// Project overlays pending mutations on the confirmed baseline and returns
// the sessions to display. Adds and updates replace or insert by id (fields a
// mutation does not carry are kept from the existing entry); deletes remove.
// Baseline order is kept for existing ids and new ids follow in mutation order.
func Project(baseline []Session, pending []Mutation) []Session {
	order := make([]string, 0, len(baseline)+len(pending))
	byID := make(map[string]Session, len(baseline)+len(pending))

	put := func(s Session) {
		if _, exists := byID[s.ID]; !exists {
			order = append(order, s.ID)
		}
		byID[s.ID] = s
	}

	for _, s := range baseline {
		put(s)
	}

	for _, m := range pending {
		switch m.Intent {
		case IntentAdd, IntentUpdate:
			s := byID[m.ID]
			s.ID = m.ID
			s.TrackID = m.TrackID
			s.Slot = m.Slot()
			put(s)
		case IntentDelete:
			delete(byID, m.ID)
		}
	}

	out := make([]Session, 0, len(byID))
	for _, id := range order {
		if s, ok := byID[id]; ok {
			out = append(out, s)
			// a deleted-then-re-added id would otherwise appear twice
			delete(byID, id)
		}
	}
	return out
}

// HasConflict reports whether slot overlaps any session on trackID other
// than excludeID.
func HasConflict(sessions []Session, trackID string, slot timeslot.Slot, excludeID string) bool {
	for _, s := range sessions {
		if s.TrackID != trackID || (excludeID != "" && s.ID == excludeID) {
			continue
		}
		if timeslot.AreOverlapping(slot, s.Slot) {
			return true
		}
	}
	return false
}

// Find returns the session with id.
func Find(sessions []Session, id string) (Session, bool) {
	for _, s := range sessions {
		if s.ID == id {
			return s, true
		}
	}
	return Session{}, false
}
