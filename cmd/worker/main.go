package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dvloznov/statement-ledger/internal/app"
	"github.com/dvloznov/statement-ledger/internal/config"
	"github.com/dvloznov/statement-ledger/internal/logger"
	"github.com/dvloznov/statement-ledger/internal/session"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("LEDGER_CONFIG"), "Path to YAML config file (or set LEDGER_CONFIG env)")
		once       = flag.Bool("once", false, "Run a single scan and exit")
	)
	flag.Parse()

	bootLog := logger.New()
	if err := config.LoadEnvFile(); err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load .env")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := logger.NewWithConfig(cfg.Log, os.Stdout)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.Worker.Prefix == "" {
		log.Fatal().Msg("WATCH_PREFIX (worker.prefix) is required")
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	// Kept apart from API sessions so the server never requeues a scan.
	sessions, err := session.NewFileStore(filepath.Join(cfg.Server.SessionDir, "worker"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open session store")
	}

	w := &watcher{
		lister:     a.Store,
		ledger:     a.Tracker,
		sessions:   sessions,
		deps:       a.Deps,
		categories: a.Categories,
		prefix:     cfg.Worker.Prefix,
	}

	if *once {
		if _, err := w.scan(ctx); err != nil {
			log.Fatal().Err(err).Msg("Scan failed")
		}
		return
	}

	loc, err := time.LoadLocation(cfg.Worker.TimeZone)
	if err != nil {
		log.Warn().Err(err).Str("time_zone", cfg.Worker.TimeZone).Msg("Invalid time zone, falling back to UTC")
		loc = time.UTC
	}

	c := cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogger{log}))
	_, err = c.AddFunc(cfg.Worker.Schedule, func() {
		start := time.Now()
		added, err := w.scan(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Scheduled scan failed")
			return
		}
		log.Info().Int("added", added).Dur("duration", time.Since(start)).Msg("Scheduled scan finished")
	})
	if err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Worker.Schedule).Msg("Unable to schedule scan")
	}

	c.Start()
	log.Info().
		Str("prefix", cfg.Worker.Prefix).
		Str("schedule", cfg.Worker.Schedule).
		Str("time_zone", loc.String()).
		Msg("Worker service started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Cancelling halts a running scan at its next file or row.
	cancel()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Timed out waiting for running scan")
	}

	log.Info().Msg("Worker service exited")
}

// cronLogger routes cron's own messages through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
