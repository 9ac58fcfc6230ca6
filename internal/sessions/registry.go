/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sessions

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Source loads the confirmed sessions of a schedule.
type Source interface {
	Sessions(ctx context.Context, scheduleID string) ([]Session, error)
}

// Registry keeps one board per schedule, loading baselines on demand.
//
// Every refresh takes a generation number before it reads the store. A load
// is applied only when no newer one has been applied, so a slow read that
// started before a commit cannot overwrite a baseline that includes it.
type Registry struct {
	submitter Submitter
	inflight  Inflight
	confirmed Source
	logger    zerolog.Logger

	mu      sync.Mutex
	boards  map[string]*Board
	gen     map[string]uint64
	applied map[string]uint64
}

// NewRegistry creates an empty registry.
func NewRegistry(confirmed Source, submitter Submitter, inflight Inflight, logger zerolog.Logger) *Registry {
	return &Registry{
		submitter: submitter,
		inflight:  inflight,
		confirmed: confirmed,
		logger:    logger,
		boards:    make(map[string]*Board),
		gen:       make(map[string]uint64),
		applied:   make(map[string]uint64),
	}
}

// Board returns the board for scheduleID, loading its baseline the first
// time it is requested. A refresh that lands while the first load is running
// makes it load again.
func (r *Registry) Board(ctx context.Context, scheduleID string) (*Board, error) {
	for {
		r.mu.Lock()
		board, ok := r.boards[scheduleID]
		gen := r.gen[scheduleID]
		r.mu.Unlock()
		if ok {
			return board, nil
		}

		baseline, err := r.confirmed.Sessions(ctx, scheduleID)
		if err != nil {
			return nil, fmt.Errorf("load sessions for schedule %s: %w", scheduleID, err)
		}

		r.mu.Lock()
		if existing, ok := r.boards[scheduleID]; ok {
			r.mu.Unlock()
			return existing, nil
		}
		if r.gen[scheduleID] != gen {
			r.mu.Unlock()
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			continue
		}
		board = NewBoard(scheduleID, r.submitter, r.inflight, r.logger)
		board.SetConfirmed(baseline)
		r.boards[scheduleID] = board
		r.applied[scheduleID] = gen
		r.mu.Unlock()
		return board, nil
	}
}

// Refresh reloads the baseline of a loaded board. Schedules without a board
// are skipped; they load fresh on first use. Results older than an already
// applied refresh are dropped.
func (r *Registry) Refresh(ctx context.Context, scheduleID string) error {
	r.mu.Lock()
	r.gen[scheduleID]++
	gen := r.gen[scheduleID]
	_, ok := r.boards[scheduleID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	baseline, err := r.confirmed.Sessions(ctx, scheduleID)
	if err != nil {
		return fmt.Errorf("refresh sessions for schedule %s: %w", scheduleID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	board, ok := r.boards[scheduleID]
	if !ok || gen <= r.applied[scheduleID] {
		r.logger.Debug().Str("schedule_id", scheduleID).Uint64("generation", gen).Msg("dropping outdated board refresh")
		return nil
	}
	board.SetConfirmed(baseline)
	r.applied[scheduleID] = gen
	return nil
}

// Forget drops the board for scheduleID.
func (r *Registry) Forget(scheduleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.boards, scheduleID)
	delete(r.applied, scheduleID)
}
