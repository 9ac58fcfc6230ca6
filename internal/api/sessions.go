/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/conference-hall/scheduler/internal/models"
	"github.com/conference-hall/scheduler/internal/sessions"
	"github.com/conference-hall/scheduler/internal/telemetry"
	"github.com/conference-hall/scheduler/internal/timeslot"
)

// sessionView is a displayed session with the number of grid rows it spans.
type sessionView struct {
	sessions.Session
	Rows int `json:"rows"`
}

type placementRequest struct {
	TrackID string `json:"track_id"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

func (a *API) board(w http.ResponseWriter, r *http.Request) (*sessions.Board, *models.Schedule, bool) {
	sched := scheduleFromContext(r.Context())
	board, err := a.boards.Board(r.Context(), sched.ID)
	if err != nil {
		a.logger.Error().Err(err).Str("schedule_id", sched.ID).Msg("load board failed")
		writeError(w, http.StatusInternalServerError, "server_error")
		return nil, nil, false
	}
	return board, sched, true
}

// sessionFromView resolves the session named in the route against the
// displayed sessions, so a session added a moment ago can already be edited.
func (a *API) sessionFromView(w http.ResponseWriter, r *http.Request, board *sessions.Board) (sessions.Session, bool) {
	session, ok := sessions.Find(board.Data(), chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found")
	}
	return session, ok
}

func (a *API) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	board, sched, ok := a.board(w, r)
	if !ok {
		return
	}
	data := board.Data()
	out := make([]sessionView, 0, len(data))
	for _, s := range data {
		out = append(out, sessionView{Session: s, Rows: timeslot.CountIntervals(s.Slot, sched.IntervalMinutes)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (a *API) handleSessionAdd(w http.ResponseWriter, r *http.Request) {
	board, sched, ok := a.board(w, r)
	if !ok {
		return
	}
	var req placementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if !hasTrack(sched, req.TrackID) {
		writeError(w, http.StatusBadRequest, "unknown_track")
		return
	}
	slot, ok := parseSlot(req.Start, req.End)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_slot")
		return
	}

	id, ok := board.Add(req.TrackID, slot)
	if !ok {
		a.conflict(w)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (a *API) handleSessionUpdate(w http.ResponseWriter, r *http.Request) {
	board, sched, ok := a.board(w, r)
	if !ok {
		return
	}
	session, ok := a.sessionFromView(w, r, board)
	if !ok {
		return
	}
	var req placementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	trackID := queryOr(req.TrackID, session.TrackID)
	if !hasTrack(sched, trackID) {
		writeError(w, http.StatusBadRequest, "unknown_track")
		return
	}
	slot, ok := parseSlot(req.Start, req.End)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_slot")
		return
	}

	if !board.Update(session, trackID, slot) {
		a.conflict(w)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": session.ID})
}

func (a *API) handleSessionMove(w http.ResponseWriter, r *http.Request) {
	board, sched, ok := a.board(w, r)
	if !ok {
		return
	}
	session, ok := a.sessionFromView(w, r, board)
	if !ok {
		return
	}
	var req struct {
		TrackID string `json:"track_id"`
		Start   string `json:"start"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	trackID := queryOr(req.TrackID, session.TrackID)
	if !hasTrack(sched, trackID) {
		writeError(w, http.StatusBadRequest, "unknown_track")
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.Start))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot")
		return
	}

	if !board.Move(session, trackID, timeslot.New(start, start)) {
		a.conflict(w)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": session.ID})
}

func (a *API) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	board, _, ok := a.board(w, r)
	if !ok {
		return
	}
	session, ok := a.sessionFromView(w, r, board)
	if !ok {
		return
	}
	board.Delete(session)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": session.ID})
}

func (a *API) conflict(w http.ResponseWriter) {
	telemetry.SessionConflictsTotal.WithLabelValues("board").Inc()
	writeError(w, http.StatusConflict, "slot_conflict")
}

func parseSlot(rawStart, rawEnd string) (timeslot.Slot, bool) {
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(rawStart))
	if err != nil {
		return timeslot.Slot{}, false
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(rawEnd))
	if err != nil || end.Before(start) {
		return timeslot.Slot{}, false
	}
	return timeslot.New(start, end), true
}

func hasTrack(sched *models.Schedule, trackID string) bool {
	return slices.ContainsFunc(sched.Tracks, func(t models.Track) bool { return t.ID == trackID })
}
