/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/conference-hall/scheduler/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Schedule{},
		&models.Track{},
		&models.ScheduleSession{},
	); err != nil {
		return err
	}

	if err := applyPostgresSessionOverlapGuard(database); err != nil {
		return err
	}
	if err := normalizeSessionColors(database); err != nil {
		return err
	}

	return nil
}

// normalizeSessionColors lower-cases hex colors written by older clients so
// equality checks on the color column stay stable.
func normalizeSessionColors(database *gorm.DB) error {
	if err := database.Exec(
		"UPDATE schedule_sessions SET color = LOWER(color) WHERE color <> LOWER(color)",
	).Error; err != nil {
		return fmt.Errorf("normalize session colors: %w", err)
	}
	return nil
}

// applyPostgresSessionOverlapGuard rejects overlapping sessions on the same
// track at the database level. Ranges are half-open, so back-to-back sessions
// are allowed.
func applyPostgresSessionOverlapGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_track_session_overlap()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF NEW.ends_at < NEW.starts_at THEN
    RAISE EXCEPTION 'session end must not be before start'
      USING ERRCODE = '23514';
  END IF;

  IF EXISTS (
    SELECT 1
    FROM schedule_sessions ss
    WHERE ss.schedule_id = NEW.schedule_id
      AND ss.track_id = NEW.track_id
      AND ss.id <> NEW.id
      AND tstzrange(ss.starts_at, ss.ends_at, '[)') && tstzrange(NEW.starts_at, NEW.ends_at, '[)')
  ) THEN
    RAISE EXCEPTION 'overlapping sessions are not allowed on track %', NEW.track_id
      USING ERRCODE = '23514';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_track_session_overlap ON schedule_sessions;

CREATE TRIGGER trg_prevent_track_session_overlap
BEFORE INSERT OR UPDATE OF schedule_id, track_id, starts_at, ends_at
ON schedule_sessions
FOR EACH ROW
EXECUTE FUNCTION prevent_track_session_overlap();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres session overlap guard: %w", err)
	}

	return nil
}
