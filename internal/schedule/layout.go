/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/conference-hall/scheduler/internal/events"
	"github.com/conference-hall/scheduler/internal/models"
	"github.com/conference-hall/scheduler/internal/timeslot"
)

const layoutDateFormat = "2006-01-02"

// Layout is the YAML description of a schedule: its days, tracks and
// optionally a set of sessions to seed it with.
type Layout struct {
	ID              string          `yaml:"id"`
	EventID         string          `yaml:"event_id"`
	Name            string          `yaml:"name"`
	Timezone        string          `yaml:"timezone"`
	StartDate       string          `yaml:"start_date"`
	EndDate         string          `yaml:"end_date"`
	IntervalMinutes int             `yaml:"interval_minutes"`
	DayStart        string          `yaml:"day_start"`
	DayEnd          string          `yaml:"day_end"`
	Tracks          []LayoutTrack   `yaml:"tracks"`
	Sessions        []LayoutSession `yaml:"sessions"`
}

// LayoutTrack declares a track. ID defaults to the slug of Name.
type LayoutTrack struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// LayoutSession seeds a session. Start and End are wall-clock times in the
// schedule timezone ("2006-01-02T15:04") or RFC 3339 timestamps.
type LayoutSession struct {
	ID       string           `yaml:"id"`
	Track    string           `yaml:"track"`
	Start    string           `yaml:"start"`
	End      string           `yaml:"end"`
	Name     string           `yaml:"name"`
	Color    string           `yaml:"color"`
	Proposal *models.Proposal `yaml:"proposal"`
}

// Violation describes one problem found in a layout.
type Violation struct {
	Field       string
	Message     string
	AffectedIDs []string
}

// LayoutError carries every violation found while validating a layout.
type LayoutError struct {
	Violations []Violation
}

func (e *LayoutError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("%s: %s", ErrInvalidLayout, e.Violations[0].Message)
	}
	return fmt.Sprintf("%s: %d problems, first: %s", ErrInvalidLayout, len(e.Violations), e.Violations[0].Message)
}

func (e *LayoutError) Unwrap() error {
	return ErrInvalidLayout
}

// ParseLayout decodes a YAML layout. Unknown keys are rejected.
func ParseLayout(r io.Reader) (Layout, error) {
	var layout Layout
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&layout); err != nil {
		return Layout{}, fmt.Errorf("decode layout: %w", err)
	}
	return layout, nil
}

type compiledLayout struct {
	schedule models.Schedule
	tracks   []models.Track
	sessions []models.ScheduleSession
	seeded   bool
}

// Validate checks the layout and reports every violation found.
func (l Layout) Validate() []Violation {
	_, violations := l.compile()
	return violations
}

func (l Layout) compile() (compiledLayout, []Violation) {
	var out compiledLayout
	var violations []Violation
	add := func(field, format string, args ...any) {
		violations = append(violations, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(l.Name) == "" {
		add("name", "the schedule needs a name")
	}
	if strings.TrimSpace(l.EventID) == "" {
		add("event_id", "the schedule needs the id of its event")
	}

	tz := l.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		add("timezone", "unknown timezone %q", l.Timezone)
		loc = time.UTC
	}

	startDate, errStart := time.ParseInLocation(layoutDateFormat, l.StartDate, loc)
	if errStart != nil {
		add("start_date", "start_date %q must look like 2026-06-12", l.StartDate)
	}
	endDate, errEnd := time.ParseInLocation(layoutDateFormat, l.EndDate, loc)
	if errEnd != nil {
		add("end_date", "end_date %q must look like 2026-06-12", l.EndDate)
	}
	if errStart == nil && errEnd == nil && endDate.Before(startDate) {
		add("end_date", "end_date %s is before start_date %s", l.EndDate, l.StartDate)
	}

	interval := l.IntervalMinutes
	if interval == 0 {
		interval = 15
	}
	if interval < 0 || interval > 24*60 {
		add("interval_minutes", "interval_minutes must be between 1 and 1440, got %d", l.IntervalMinutes)
	}

	dayStart, dayEnd := defaultString(l.DayStart, "09:00"), defaultString(l.DayEnd, "18:00")
	ref := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	openAt, errOpen := timeslot.AtTimeOfDay(ref, dayStart)
	if errOpen != nil {
		add("day_start", "day_start %q must look like 09:00", l.DayStart)
	}
	closeAt, errClose := timeslot.AtTimeOfDay(ref, dayEnd)
	if errClose != nil {
		add("day_end", "day_end %q must look like 18:00", l.DayEnd)
	}
	if errOpen == nil && errClose == nil && !closeAt.After(openAt) {
		add("day_end", "day_end %s must be after day_start %s", dayEnd, dayStart)
	}

	out.schedule = models.Schedule{
		ID:              defaultString(l.ID, uuid.NewString()),
		EventID:         l.EventID,
		Name:            strings.TrimSpace(l.Name),
		Timezone:        tz,
		StartDate:       startDate.UTC(),
		EndDate:         endDate.UTC(),
		IntervalMinutes: interval,
		DayStartTime:    dayStart,
		DayEndTime:      dayEnd,
	}

	if len(l.Tracks) == 0 {
		add("tracks", "the schedule needs at least one track")
	}
	trackIDs := make(map[string]bool, len(l.Tracks))
	for i, t := range l.Tracks {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			add(fmt.Sprintf("tracks[%d].name", i), "track %d has no name", i+1)
			continue
		}
		id := t.ID
		if id == "" {
			id = slug.Make(name)
		}
		if trackIDs[id] {
			add(fmt.Sprintf("tracks[%d].id", i), "track id %q is used twice; give one of the tracks an explicit id", id)
			continue
		}
		trackIDs[id] = true
		out.tracks = append(out.tracks, models.Track{ID: id, ScheduleID: out.schedule.ID, Name: name, Position: i})
	}

	out.seeded = l.Sessions != nil
	sessionIDs := make(map[string]bool, len(l.Sessions))
	for i, ls := range l.Sessions {
		field := fmt.Sprintf("sessions[%d]", i)
		trackID := ls.Track
		if !trackIDs[trackID] && trackIDs[slug.Make(trackID)] {
			trackID = slug.Make(trackID)
		}
		if !trackIDs[trackID] {
			add(field+".track", "session %d uses unknown track %q", i+1, ls.Track)
			continue
		}
		start, errS := parseLayoutTime(ls.Start, loc)
		end, errE := parseLayoutTime(ls.End, loc)
		if errS != nil || errE != nil {
			add(field, "session %d needs start and end like 2026-06-12T09:00", i+1)
			continue
		}
		if end.Before(start) {
			add(field+".end", "session %d ends before it starts", i+1)
			continue
		}
		id := defaultString(ls.ID, uuid.NewString())
		if sessionIDs[id] {
			add(field+".id", "session id %q is used twice", id)
			continue
		}
		sessionIDs[id] = true

		row := models.ScheduleSession{
			ID:         id,
			ScheduleID: out.schedule.ID,
			TrackID:    trackID,
			StartsAt:   start.UTC(),
			EndsAt:     end.UTC(),
			Name:       ls.Name,
			Color:      strings.ToLower(ls.Color),
			Proposal:   ls.Proposal,
		}
		if ls.Proposal != nil && ls.Proposal.ID != "" {
			pid := ls.Proposal.ID
			row.ProposalID = &pid
		}
		out.sessions = append(out.sessions, row)
	}

	violations = append(violations, overlapViolations(out.sessions)...)
	return out, violations
}

// overlapViolations reports every pair of seeded sessions sharing a track and
// overlapping in time.
func overlapViolations(rows []models.ScheduleSession) []Violation {
	var violations []Violation
	for i := 0; i < len(rows); i++ {
		for j := i + 1; j < len(rows); j++ {
			a, b := rows[i], rows[j]
			if a.TrackID != b.TrackID {
				continue
			}
			slotA := timeslot.New(a.StartsAt, a.EndsAt)
			slotB := timeslot.New(b.StartsAt, b.EndsAt)
			if !timeslot.AreOverlapping(slotA, slotB) {
				continue
			}
			overlapStart := maxTime(a.StartsAt, b.StartsAt)
			overlapEnd := minTime(a.EndsAt, b.EndsAt)
			minutes := int(overlapEnd.Sub(overlapStart).Minutes())
			if minutes < 0 {
				minutes = 0
			}
			violations = append(violations, Violation{
				Field: "sessions",
				Message: fmt.Sprintf("%s and %s both use track %q from %s to %s (%d minute overlap). Move one of them.",
					sessionLabel(a), sessionLabel(b), a.TrackID,
					overlapStart.Format(time.RFC3339), overlapEnd.Format(time.RFC3339), minutes),
				AffectedIDs: []string{a.ID, b.ID},
			})
		}
	}
	return violations
}

// ImportLayout creates or replaces a schedule from a layout. Tracks are
// replaced wholesale. When the layout lists sessions they replace the stored
// ones; otherwise stored sessions are kept and their tracks must survive.
func (s *Service) ImportLayout(ctx context.Context, layout Layout) (*models.Schedule, error) {
	compiled, violations := layout.compile()
	if len(violations) > 0 {
		return nil, &LayoutError{Violations: violations}
	}
	sched := compiled.schedule

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Schedule
		err := tx.First(&existing, "event_id = ?", sched.EventID).Error
		switch {
		case err == nil:
			if layout.ID != "" && layout.ID != existing.ID {
				return fmt.Errorf("%w: event %s already has schedule %s", ErrInvalidLayout, sched.EventID, existing.ID)
			}
			sched.ID = existing.ID
			sched.CreatedAt = existing.CreatedAt
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("load existing schedule: %w", err)
		}
		for i := range compiled.tracks {
			compiled.tracks[i].ScheduleID = sched.ID
		}
		for i := range compiled.sessions {
			compiled.sessions[i].ScheduleID = sched.ID
		}

		if err := tx.Save(&sched).Error; err != nil {
			return fmt.Errorf("save schedule: %w", err)
		}

		if compiled.seeded {
			if err := tx.Where("schedule_id = ?", sched.ID).Delete(&models.ScheduleSession{}).Error; err != nil {
				return fmt.Errorf("clear sessions: %w", err)
			}
		}

		keep := make([]string, 0, len(compiled.tracks))
		for _, t := range compiled.tracks {
			keep = append(keep, t.ID)
		}
		var orphaned int64
		if err := tx.Model(&models.ScheduleSession{}).
			Where("schedule_id = ? AND track_id NOT IN ?", sched.ID, keep).
			Count(&orphaned).Error; err != nil {
			return fmt.Errorf("check removed tracks: %w", err)
		}
		if orphaned > 0 {
			return fmt.Errorf("%w: %d sessions are placed on tracks missing from the layout", ErrTrackInUse, orphaned)
		}
		if err := tx.Where("schedule_id = ? AND id NOT IN ?", sched.ID, keep).Delete(&models.Track{}).Error; err != nil {
			return fmt.Errorf("remove tracks: %w", err)
		}
		for i := range compiled.tracks {
			if err := tx.Save(&compiled.tracks[i]).Error; err != nil {
				return fmt.Errorf("save track %s: %w", compiled.tracks[i].ID, err)
			}
		}

		if len(compiled.sessions) > 0 {
			if err := tx.Create(&compiled.sessions).Error; err != nil {
				return fmt.Errorf("create sessions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.cache.InvalidateSchedule(ctx, sched.ID); err != nil {
		s.logger.Warn().Err(err).Str("schedule_id", sched.ID).Msg("invalidate schedule cache failed")
	}
	s.publish(events.EventScheduleUpdated, events.Payload{
		"schedule_id": sched.ID,
		"event_id":    sched.EventID,
		"tracks":      len(compiled.tracks),
		"sessions":    len(compiled.sessions),
	})
	s.logger.Info().
		Str("schedule_id", sched.ID).
		Str("event_id", sched.EventID).
		Int("tracks", len(compiled.tracks)).
		Int("sessions", len(compiled.sessions)).
		Msg("schedule layout imported")

	return s.Get(ctx, sched.ID)
}

func parseLayoutTime(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02T15:04", value, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

func defaultString(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
