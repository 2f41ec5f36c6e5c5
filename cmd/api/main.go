package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-ledger/internal/api/handlers"
	"github.com/dvloznov/statement-ledger/internal/api/middleware"
	"github.com/dvloznov/statement-ledger/internal/app"
	"github.com/dvloznov/statement-ledger/internal/config"
	"github.com/dvloznov/statement-ledger/internal/logger"
	"github.com/dvloznov/statement-ledger/internal/pipeline"
	"github.com/dvloznov/statement-ledger/internal/session"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", os.Getenv("LEDGER_CONFIG"), "Path to YAML config file (or set LEDGER_CONFIG env)")
		authToken  = flag.String("auth-token", os.Getenv("API_TOKEN"), "Bearer token required by the API (or set API_TOKEN env)")
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

	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	// Initialize session infrastructure
	sessions, err := session.NewFileStore(cfg.Server.SessionDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open session store")
	}
	runner := session.NewRunner(sessions, a.Deps, 100)

	// Start worker in background to process sessions
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	runner.Start(workerCtx)
	requeueInterrupted(ctx, sessions, runner)

	// Initialize handlers
	sessionsHandler := handlers.NewSessionsHandler(sessions, runner, a.Store, a.Tracker, a.Deps,
		a.Categories, cfg.Server.SpoolDir, log)
	dashboardHandler := handlers.NewDashboardHandler(a.Tracker, a.Categories, log)

	// Create router
	mux := http.NewServeMux()
	sessionsHandler.Register(mux)
	dashboardHandler.Register(mux)

	handler := middleware.Chain(mux,
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS(cfg.Server.AllowedOrigins),
		middleware.Auth(*authToken),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("workbook", cfg.Workbook.Location).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// The running session halts at its next unit boundary and can be resumed.
	if err := runner.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping session runner")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}

// requeueInterrupted queues sessions left in processing by a previous run.
func requeueInterrupted(ctx context.Context, store session.Store, runner *session.Runner) {
	log := logger.FromContext(ctx)
	states, err := store.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list sessions")
		return
	}
	for _, st := range states {
		if st.Step != pipeline.StepProcessing {
			continue
		}
		if err := runner.Enqueue(ctx, st.ID); err != nil {
			log.Error().Err(err).Str("session_id", st.ID).Msg("Failed to requeue session")
			continue
		}
		log.Info().Str("session_id", st.ID).Msg("Requeued interrupted session")
	}
}
