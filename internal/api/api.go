/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/conference-hall/scheduler/internal/auth"
	"github.com/conference-hall/scheduler/internal/events"
	"github.com/conference-hall/scheduler/internal/models"
	"github.com/conference-hall/scheduler/internal/schedule"
	"github.com/conference-hall/scheduler/internal/sessions"
	"github.com/conference-hall/scheduler/internal/telemetry"
)

// Schedules is the read side of the schedule store used by the API.
type Schedules interface {
	Get(ctx context.Context, scheduleID string) (*models.Schedule, error)
}

// API exposes HTTP handlers.
type API struct {
	schedules Schedules
	boards    *sessions.Registry
	bus       events.Broker
	jwtSecret []byte
	logger    zerolog.Logger
}

// New creates the API router.
func New(schedules Schedules, boards *sessions.Registry, bus events.Broker, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		schedules: schedules,
		boards:    boards,
		bus:       bus,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers API routes on router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.With(a.requireRoles(models.TeamRoleOwner, models.TeamRoleMember, models.TeamRoleReviewer)).Get("/events", a.handleEvents)

			pr.Route("/schedules/{scheduleID}", func(r chi.Router) {
				r.Use(a.scheduleContext)

				r.Group(func(read chi.Router) {
					read.Use(a.requireRoles(models.TeamRoleOwner, models.TeamRoleMember, models.TeamRoleReviewer))
					read.Get("/", a.handleScheduleGet)
					read.Get("/timeslots", a.handleTimeslots)
					read.Get("/sessions", a.handleSessionsList)
				})

				r.Group(func(write chi.Router) {
					write.Use(a.requireRoles(models.TeamRoleOwner, models.TeamRoleMember))
					write.Post("/sessions", a.handleSessionAdd)
					write.Patch("/sessions/{sessionID}", a.handleSessionUpdate)
					write.Post("/sessions/{sessionID}/move", a.handleSessionMove)
					write.Delete("/sessions/{sessionID}", a.handleSessionDelete)
				})
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type scheduleCtxKey struct{}

// scheduleContext loads the schedule named in the route and checks that the
// bearer belongs to its event team.
func (a *API) scheduleContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		sched, err := a.schedules.Get(r.Context(), chi.URLParam(r, "scheduleID"))
		if err != nil {
			if errors.Is(err, schedule.ErrScheduleNotFound) {
				writeError(w, http.StatusNotFound, "schedule_not_found")
				return
			}
			a.logger.Error().Err(err).Msg("load schedule failed")
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		if !claims.CanAccessEvent(sched.EventID) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), scheduleCtxKey{}, sched)))
	})
}

func scheduleFromContext(ctx context.Context) *models.Schedule {
	sched, _ := ctx.Value(scheduleCtxKey{}).(*models.Schedule)
	return sched
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	scheduleID := strings.TrimSpace(r.URL.Query().Get("schedule_id"))
	if scheduleID == "" {
		writeError(w, http.StatusBadRequest, "schedule_id_required")
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	sched, err := a.schedules.Get(r.Context(), scheduleID)
	if err != nil {
		if errors.Is(err, schedule.ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "schedule_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if claims == nil || !claims.CanAccessEvent(sched.EventID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	types := parseEventTypes(r.URL.Query()["types"])
	if len(types) == 0 {
		types = defaultEventTypes()
	}

	// the stream is write-only; CloseRead cancels ctx when the client goes away
	ctx := conn.CloseRead(r.Context())

	type delivery struct {
		eventType events.EventType
		payload   events.Payload
	}
	merged := make(chan delivery, 32)
	subs := make(map[events.EventType]events.Subscriber, len(types))
	for _, t := range types {
		sub := a.bus.Subscribe(t)
		subs[t] = sub
		go func(t events.EventType, sub events.Subscriber) {
			for payload := range sub {
				select {
				case merged <- delivery{eventType: t, payload: payload}:
				case <-ctx.Done():
				}
			}
		}(t, sub)
	}
	defer func() {
		for t, sub := range subs {
			a.bus.Unsubscribe(t, sub)
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case d := <-merged:
			if id, ok := d.payload["schedule_id"].(string); ok && id != scheduleID {
				continue
			}
			if err := writeEvent(ctx, conn, d.eventType, d.payload); err != nil {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, eventType events.EventType, payload events.Payload) error {
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (a *API) requireRoles(roles ...models.TeamRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range roles {
				if claims.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient_role")
		})
	}
}

// defaultEventTypes lists what the server publishes for a schedule.
func defaultEventTypes() []events.EventType {
	return append(slices.Clone(events.SessionEvents), events.EventScheduleUpdated)
}

func parseEventTypes(values []string) []events.EventType {
	var types []events.EventType
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t := events.EventType(part)
			if !slices.Contains(types, t) {
				types = append(types, t)
			}
		}
	}
	return types
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
