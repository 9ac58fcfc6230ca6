package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/conference-hall/scheduler/internal/cache"
	"github.com/conference-hall/scheduler/internal/config"
	"github.com/conference-hall/scheduler/internal/db"
	"github.com/conference-hall/scheduler/internal/logging"
	"github.com/conference-hall/scheduler/internal/server"
	"github.com/conference-hall/scheduler/internal/telemetry"
	"github.com/conference-hall/scheduler/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "conferencehall",
	Short:         "Conference Hall schedule engine",
	Long:          "Conference Hall builds event schedules: tracks, a daily timeslot grid and the sessions placed on it.",
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the schedule API server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.String()).Msg("Conference Hall starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "conference-hall",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr()).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	// pending mutations drain before the store closes
	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("Conference Hall stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()

	if err := db.Migrate(database); err != nil {
		return err
	}
	logger.Info().Str("backend", string(cfg.DBBackend)).Msg("schema up to date")

	// cached entries were encoded against the previous schema
	entityCache := openCache()
	defer func() { _ = entityCache.Close() }()
	if err := entityCache.FlushAll(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("cache flush after migration failed")
	}
	return nil
}

// openCache connects the entity cache when enabled. The result may be nil,
// which every cache method treats as disabled.
func openCache() *cache.Cache {
	if !cfg.CacheEnabled {
		return nil
	}
	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = cfg.RedisAddr
	cacheCfg.RedisPassword = cfg.RedisPassword
	cacheCfg.RedisDB = cfg.RedisDB
	cacheCfg.SessionsTTL = cfg.CacheSessionsTTL
	entityCache, err := cache.New(cacheCfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("cache unavailable")
		return nil
	}
	return entityCache
}
