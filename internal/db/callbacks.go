/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/conference-hall/scheduler/internal/telemetry"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	_startTime = "telemetry:start_time"
)

// registrar is satisfied by gorm's callback position handles.
type registrar interface {
	Register(name string, fn func(*gorm.DB)) error
}

// RegisterCallbacks registers telemetry callbacks for GORM operations.
func RegisterCallbacks(db *gorm.DB) error {
	cb := db.Callback()

	if err := register(cb.Query().Before("gorm:query"), cb.Query().After("gorm:query"), "query"); err != nil {
		return err
	}
	if err := register(cb.Create().Before("gorm:create"), cb.Create().After("gorm:create"), "create"); err != nil {
		return err
	}
	if err := register(cb.Update().Before("gorm:update"), cb.Update().After("gorm:update"), "update"); err != nil {
		return err
	}
	return register(cb.Delete().Before("gorm:delete"), cb.Delete().After("gorm:delete"), "delete")
}

func register(before, after registrar, operation string) error {
	if err := before.Register("telemetry:before_"+operation, beforeCallback); err != nil {
		return fmt.Errorf("register before %s: %w", operation, err)
	}
	if err := after.Register("telemetry:after_"+operation, afterCallback(operation)); err != nil {
		return fmt.Errorf("register after %s: %w", operation, err)
	}
	return nil
}

func beforeCallback(db *gorm.DB) {
	db.InstanceSet(_startTime, time.Now())
}

func afterCallback(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		value, exists := db.InstanceGet(_startTime)
		if !exists {
			return
		}
		startTime, ok := value.(time.Time)
		if !ok {
			return
		}

		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}
		telemetry.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(time.Since(startTime).Seconds())

		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			telemetry.DatabaseErrorsTotal.WithLabelValues(operation, errorType(db.Error)).Inc()
		}
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return "duplicate_key"
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return "foreign_key"
	case errors.Is(err, gorm.ErrCheckConstraintViolated):
		return "check_constraint"
	default:
		return "query_error"
	}
}

// UpdateConnectionMetrics updates connection pool metrics.
func UpdateConnectionMetrics(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}

// StartStatsJob refreshes connection pool metrics on spec (a robfig/cron
// expression such as "@every 30s"). The returned cron must be stopped by the
// caller.
func StartStatsJob(db *gorm.DB, spec string, logger zerolog.Logger) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { UpdateConnectionMetrics(db) }); err != nil {
		return nil, fmt.Errorf("schedule db stats job %q: %w", spec, err)
	}
	c.Start()
	logger.Debug().Str("schedule", spec).Msg("db stats job started")
	UpdateConnectionMetrics(db)
	return c, nil
}
