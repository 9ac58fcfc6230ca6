/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule persists schedules, their tracks and confirmed sessions.
// It is the authoritative overlap guard: every mutation is re-checked against
// the stored sessions of its track inside a transaction.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/conference-hall/scheduler/internal/cache"
	"github.com/conference-hall/scheduler/internal/events"
	"github.com/conference-hall/scheduler/internal/models"
	"github.com/conference-hall/scheduler/internal/sessions"
	"github.com/conference-hall/scheduler/internal/telemetry"
	"github.com/conference-hall/scheduler/internal/timeslot"
)

// Service reads and writes schedules.
type Service struct {
	db        *gorm.DB
	cache     *cache.Cache
	publisher events.Publisher
	logger    zerolog.Logger
}

// NewService creates a schedule service. cache and publisher may be nil.
func NewService(db *gorm.DB, c *cache.Cache, publisher events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		db:        db,
		cache:     c,
		publisher: publisher,
		logger:    logger.With().Str("component", "schedule").Logger(),
	}
}

// Get returns the schedule with its tracks ordered by position.
func (s *Service) Get(ctx context.Context, scheduleID string) (*models.Schedule, error) {
	if cached, ok := s.cache.GetSchedule(ctx, scheduleID); ok {
		return fromCachedSchedule(cached), nil
	}

	var sched models.Schedule
	err := s.db.WithContext(ctx).
		Preload("Tracks", func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC, id ASC") }).
		First(&sched, "id = ?", scheduleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, scheduleID)
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	if err := s.cache.SetSchedule(ctx, toCachedSchedule(&sched)); err != nil {
		s.logger.Debug().Err(err).Str("schedule_id", scheduleID).Msg("cache schedule failed")
	}
	return &sched, nil
}

// Sessions returns the confirmed sessions of a schedule ordered by start.
func (s *Service) Sessions(ctx context.Context, scheduleID string) ([]sessions.Session, error) {
	version, cacheable := s.cache.SessionsVersion(ctx, scheduleID)
	if cacheable {
		if cached, ok := s.cache.GetSessions(ctx, scheduleID, version); ok {
			return cached, nil
		}
	}

	if err := s.ensureSchedule(s.db.WithContext(ctx), scheduleID); err != nil {
		return nil, err
	}

	var rows []models.ScheduleSession
	if err := s.db.WithContext(ctx).Where("schedule_id = ?", scheduleID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	out := make([]sessions.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, toSession(row))
	}
	slices.SortStableFunc(out, func(a, b sessions.Session) int {
		if c := a.Slot.Start.Compare(b.Slot.Start); c != 0 {
			return c
		}
		if a.TrackID != b.TrackID {
			if a.TrackID < b.TrackID {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})

	if cacheable {
		if err := s.cache.SetSessions(ctx, scheduleID, version, out); err != nil {
			s.logger.Debug().Err(err).Str("schedule_id", scheduleID).Msg("cache sessions failed")
		}
	}
	return out, nil
}

// Apply persists a session mutation.
func (s *Service) Apply(ctx context.Context, m sessions.Mutation) error {
	ctx, span := telemetry.StartSpan(ctx, "schedule", "schedule.apply",
		attribute.String("schedule_id", m.ScheduleID),
		attribute.String("session_id", m.ID),
		attribute.String("intent", string(m.Intent)),
	)
	defer span.End()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureSchedule(tx, m.ScheduleID); err != nil {
			return err
		}
		switch m.Intent {
		case sessions.IntentAdd:
			return s.add(tx, m)
		case sessions.IntentUpdate:
			return s.update(tx, m)
		case sessions.IntentDelete:
			return s.remove(tx, m)
		default:
			return fmt.Errorf("unknown mutation intent %q", m.Intent)
		}
	})
	telemetry.RecordError(span, err)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			telemetry.SessionConflictsTotal.WithLabelValues("store").Inc()
		}
		return err
	}

	if err := s.cache.InvalidateSessions(ctx, m.ScheduleID); err != nil {
		s.logger.Warn().Err(err).Str("schedule_id", m.ScheduleID).Msg("invalidate sessions cache failed")
	}
	s.logger.Debug().
		Str("schedule_id", m.ScheduleID).
		Str("session_id", m.ID).
		Str("intent", string(m.Intent)).
		Msg("session mutation applied")
	return nil
}

func (s *Service) add(tx *gorm.DB, m sessions.Mutation) error {
	slot, err := validSlot(m)
	if err != nil {
		return err
	}
	if err := s.lockTrack(tx, m.ScheduleID, m.TrackID); err != nil {
		return err
	}

	var count int64
	if err := tx.Model(&models.ScheduleSession{}).Where("id = ?", m.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("check session id: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrSessionExists, m.ID)
	}

	if err := checkOverlap(tx, m.ScheduleID, m.TrackID, m.ID, slot); err != nil {
		return err
	}

	row := models.ScheduleSession{
		ID:         m.ID,
		ScheduleID: m.ScheduleID,
		TrackID:    m.TrackID,
		StartsAt:   slot.Start,
		EndsAt:     slot.End,
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Service) update(tx *gorm.DB, m sessions.Mutation) error {
	slot, err := validSlot(m)
	if err != nil {
		return err
	}

	var row models.ScheduleSession
	err = tx.First(&row, "id = ? AND schedule_id = ?", m.ID, m.ScheduleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, m.ID)
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	if err := s.lockTrack(tx, m.ScheduleID, m.TrackID); err != nil {
		return err
	}
	if err := checkOverlap(tx, m.ScheduleID, m.TrackID, m.ID, slot); err != nil {
		return err
	}

	if err := tx.Model(&row).Updates(map[string]any{
		"track_id":  m.TrackID,
		"starts_at": slot.Start,
		"ends_at":   slot.End,
	}).Error; err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func (s *Service) remove(tx *gorm.DB, m sessions.Mutation) error {
	res := tx.Where("id = ? AND schedule_id = ?", m.ID, m.ScheduleID).Delete(&models.ScheduleSession{})
	if res.Error != nil {
		return fmt.Errorf("delete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, m.ID)
	}
	return nil
}

func (s *Service) ensureSchedule(tx *gorm.DB, scheduleID string) error {
	var count int64
	if err := tx.Model(&models.Schedule{}).Where("id = ?", scheduleID).Count(&count).Error; err != nil {
		return fmt.Errorf("check schedule: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, scheduleID)
	}
	return nil
}

// lockTrack loads the track row, holding a row lock where the backend
// supports one so concurrent writers to the same track serialize.
func (s *Service) lockTrack(tx *gorm.DB, scheduleID, trackID string) error {
	q := tx
	if tx.Dialector.Name() != "sqlite" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var track models.Track
	err := q.First(&track, "schedule_id = ? AND id = ?", scheduleID, trackID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
	}
	if err != nil {
		return fmt.Errorf("load track: %w", err)
	}
	return nil
}

func validSlot(m sessions.Mutation) (timeslot.Slot, error) {
	if m.Start.IsZero() || m.End.IsZero() || m.End.Before(m.Start) {
		return timeslot.Slot{}, fmt.Errorf("%w: %s to %s", ErrInvalidSlot, m.Start.Format(time.RFC3339), m.End.Format(time.RFC3339))
	}
	return timeslot.New(m.Start, m.End).UTC(), nil
}

func checkOverlap(tx *gorm.DB, scheduleID, trackID, excludeID string, slot timeslot.Slot) error {
	var others []models.ScheduleSession
	if err := tx.Where("schedule_id = ? AND track_id = ? AND id <> ?", scheduleID, trackID, excludeID).
		Find(&others).Error; err != nil {
		return fmt.Errorf("load track sessions: %w", err)
	}
	for _, other := range others {
		otherSlot := timeslot.New(other.StartsAt, other.EndsAt)
		if timeslot.AreOverlapping(slot, otherSlot) {
			return fmt.Errorf("%w: %s runs from %s to %s",
				ErrConflict, sessionLabel(other), other.StartsAt.UTC().Format(time.RFC3339), other.EndsAt.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

func sessionLabel(row models.ScheduleSession) string {
	if row.Proposal != nil && row.Proposal.Title != "" {
		return fmt.Sprintf("%q", row.Proposal.Title)
	}
	if row.Name != "" {
		return fmt.Sprintf("%q", row.Name)
	}
	return "session " + row.ID
}

func (s *Service) publish(eventType events.EventType, payload events.Payload) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(eventType, payload)
}

func toSession(row models.ScheduleSession) sessions.Session {
	out := sessions.Session{
		ID:      row.ID,
		TrackID: row.TrackID,
		Slot:    timeslot.New(row.StartsAt, row.EndsAt).UTC(),
		Name:    row.Name,
		Color:   row.Color,
	}
	if row.Proposal != nil {
		data := &sessions.ProposalData{ID: row.Proposal.ID, Title: row.Proposal.Title}
		for _, sp := range row.Proposal.Speakers {
			data.Speakers = append(data.Speakers, sessions.Speaker{ID: sp.ID, Name: sp.Name, Picture: sp.Picture})
		}
		out.Proposal = data
	}
	return out
}

func toCachedSchedule(sched *models.Schedule) *cache.CachedSchedule {
	out := &cache.CachedSchedule{
		ID:              sched.ID,
		EventID:         sched.EventID,
		Name:            sched.Name,
		Timezone:        sched.Timezone,
		StartDate:       sched.StartDate,
		EndDate:         sched.EndDate,
		IntervalMinutes: sched.IntervalMinutes,
		DayStartTime:    sched.DayStartTime,
		DayEndTime:      sched.DayEndTime,
	}
	for _, t := range sched.Tracks {
		out.Tracks = append(out.Tracks, cache.CachedTrack{ID: t.ID, Name: t.Name, Position: t.Position})
	}
	return out
}

func fromCachedSchedule(c *cache.CachedSchedule) *models.Schedule {
	out := &models.Schedule{
		ID:              c.ID,
		EventID:         c.EventID,
		Name:            c.Name,
		Timezone:        c.Timezone,
		StartDate:       c.StartDate,
		EndDate:         c.EndDate,
		IntervalMinutes: c.IntervalMinutes,
		DayStartTime:    c.DayStartTime,
		DayEndTime:      c.DayEndTime,
	}
	for _, t := range c.Tracks {
		out.Tracks = append(out.Tracks, models.Track{ID: t.ID, ScheduleID: c.ID, Name: t.Name, Position: t.Position})
	}
	return out
}
