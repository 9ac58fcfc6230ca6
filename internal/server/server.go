/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/conference-hall/scheduler/internal/api"
	"github.com/conference-hall/scheduler/internal/cache"
	"github.com/conference-hall/scheduler/internal/config"
	"github.com/conference-hall/scheduler/internal/db"
	"github.com/conference-hall/scheduler/internal/dispatch"
	"github.com/conference-hall/scheduler/internal/eventbus"
	"github.com/conference-hall/scheduler/internal/events"
	"github.com/conference-hall/scheduler/internal/schedule"
	"github.com/conference-hall/scheduler/internal/sessions"
	"github.com/conference-hall/scheduler/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db         *gorm.DB
	cache      *cache.Cache
	bus        eventbus.Bus
	schedules  *schedule.Service
	dispatcher *dispatch.Dispatcher
	boards     *sessions.Registry
	api        *api.API
	statsJob   *cron.Cron

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("conference-hall-api"))
	router.Use(telemetry.MetricsMiddleware)
	// websocket streams outlive any request timeout
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// handlers manage their own deadlines; websockets stay open
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database

	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		cacheCfg.SessionsTTL = s.cfg.CacheSessionsTTL
		entityCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = entityCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	bus, err := eventbus.New(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.bus = bus
	s.DeferClose(func() error { return bus.Close() })

	s.schedules = schedule.NewService(database, s.cache, bus, s.logger)

	s.dispatcher = dispatch.New(s.schedules, bus, s.cfg.DispatchTimeout, s.logger)
	s.DeferClose(func() error { return s.dispatcher.Close() })

	s.boards = sessions.NewRegistry(s.schedules, s.dispatcher, s.dispatcher, s.logger)
	s.dispatcher.OnSettle(func(ctx context.Context, m sessions.Mutation, _ error) {
		if err := s.boards.Refresh(ctx, m.ScheduleID); err != nil {
			s.logger.Warn().Err(err).Str("schedule_id", m.ScheduleID).Msg("board refresh after settle failed")
		}
	})

	s.api = api.New(s.schedules, s.boards, bus, []byte(s.cfg.JWTSigningKey), s.logger)

	statsJob, err := db.StartStatsJob(database, s.cfg.DBStatsSchedule, s.logger)
	if err != nil {
		return fmt.Errorf("start db stats job: %w", err)
	}
	s.statsJob = statsJob
	s.DeferClose(func() error {
		<-statsJob.Stop().Done()
		return nil
	})

	return nil
}

// HTTPServer returns the configured HTTP server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Schedules returns the schedule store.
func (s *Server) Schedules() *schedule.Service {
	return s.schedules
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// subscribe before returning so no event published after New is missed
	types := append([]events.EventType{events.EventScheduleUpdated}, events.SessionEvents...)
	subs := make(map[events.EventType]events.Subscriber, len(types))
	for _, t := range types {
		subs[t] = s.bus.Subscribe(t)
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runBoardRefreshListener(ctx, subs)
	}()
}

// runBoardRefreshListener reloads board baselines when a schedule changes
// outside this node's dispatcher: layout imports anywhere, and session
// mutations settled by other instances.
func (s *Server) runBoardRefreshListener(ctx context.Context, subs map[events.EventType]events.Subscriber) {
	defer func() {
		for t, sub := range subs {
			s.bus.Unsubscribe(t, sub)
		}
	}()

	merged := make(chan events.Payload, 32)
	for t, sub := range subs {
		go func(t events.EventType, sub events.Subscriber) {
			for payload := range sub {
				if t != events.EventScheduleUpdated && !eventbus.IsRemote(payload) {
					continue
				}
				select {
				case merged <- payload:
				case <-ctx.Done():
				}
			}
		}(t, sub)
	}

	s.logger.Info().Msg("board refresh listener started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("board refresh listener stopped")
			return
		case payload := <-merged:
			scheduleID, _ := payload["schedule_id"].(string)
			if scheduleID == "" {
				continue
			}
			if err := s.boards.Refresh(ctx, scheduleID); err != nil {
				s.logger.Warn().Err(err).Str("schedule_id", scheduleID).Msg("board refresh failed")
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","inflight":%d,"cache":%t}`, s.dispatcher.InflightCount(), s.cache.IsAvailable())
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
