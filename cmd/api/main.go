package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-importer/internal/api/handlers"
	"github.com/dvloznov/statement-importer/internal/api/middleware"
	"github.com/dvloznov/statement-importer/internal/app"
	"github.com/dvloznov/statement-importer/internal/config"
	"github.com/dvloznov/statement-importer/internal/logger"
)

func main() {
	var (
		envFile = flag.String("env", ".env", "Optional dotenv file")
		port    = flag.String("port", "", "HTTP server port (overrides PORT)")
	)
	flag.Parse()

	bootLog := logger.New()
	cfg, err := config.Load(*envFile)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}
	if *port != "" {
		cfg.Port = *port
	}

	log, err := logger.NewWithConfig(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Invalid logging config")
	}

	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise application")
	}

	if a.Archiver == nil {
		log.Warn().Msg("No GCS bucket configured - uploads will not be archived")
	}
	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET not set - trusting the " + middleware.UserIDHeader + " header")
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	if err := a.Start(workerCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start export workers")
	}
	if a.Queue != nil {
		log.Info().Int("workers", cfg.JobWorkers).Msg("Export workers started")
	}

	h := &handlers.Handlers{
		Imports: handlers.NewImportsHandler(a.Importer, a.Archiver, cfg.MaxUploadSize, cfg.PreviewTTL, log),
		Schemas: handlers.NewSchemasHandler(a.Importer, log),
		Tags:    handlers.NewTagsHandler(a.Importer, log),
		Jobs:    handlers.NewJobsHandler(a.JobStore, log),
	}

	mux := http.NewServeMux()
	h.Register(mux)

	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(log)(
				middleware.CORS(
					middleware.Auth(cfg.JWTSecret, handlers.HealthPath)(
						middleware.RateLimit(cfg.RateLimit, cfg.RateBurst)(mux),
					),
				),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Drain in-flight exports before cancelling the workers
	if err := a.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error closing application")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
