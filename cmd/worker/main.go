// Package main provides the entrypoint for the Pub/Sub trigger worker: it
// consumes retrain messages and drives pipeline runs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dividash/modelops/internal/backup"
	"github.com/dividash/modelops/internal/database"
	"github.com/dividash/modelops/internal/notify"
	"github.com/dividash/modelops/internal/pipeline"
	"github.com/dividash/modelops/internal/runstore"
	"github.com/dividash/modelops/internal/status"
	"github.com/dividash/modelops/internal/validate"
	"github.com/dividash/modelops/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "modelops-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting model-ops worker")

	// Worker also exposes a health endpoint for Cloud Run.
	port := getEnvOrDefault("APP_PORT", "8080")

	projectID := os.Getenv("PUBSUB_PROJECT_ID")
	if projectID == "" {
		log.Fatal().Msg("PUBSUB_PROJECT_ID is required")
	}
	subscription := getEnvOrDefault("PUBSUB_SUBSCRIPTION", "modelops-triggers")

	productionDir := getEnvOrDefault("MODELS_PRODUCTION_DIR", "/var/lib/modelops/production")
	outputDir := getEnvOrDefault("MODELS_OUTPUT_DIR", "/var/lib/modelops/staging")
	backupRoot := getEnvOrDefault("MODELS_BACKUP_DIR", "/var/lib/modelops/backups")
	statusDir := getEnvOrDefault("STATUS_DIR", "/var/lib/modelops/status")
	modelsConfig := getEnvOrDefault("MODELS_CONFIG", "/etc/modelops/models.json")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run history: Postgres when configured, in-memory otherwise.
	var runs runstore.Repository
	if os.Getenv("DB_HOST") != "" {
		pool, err := database.Connect(ctx, database.ConfigFromEnv())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		runs = runstore.NewPostgresRepository(pool)
	} else {
		log.Warn().Msg("DB_HOST not set, keeping run history in memory")
		runs = runstore.NewInMemoryRepository()
	}

	store, err := backup.NewStore(backup.StoreConfig{Root: backupRoot, Logger: log})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize backup store")
	}

	statusWriter, err := status.NewWriter(status.WriterConfig{Dir: statusDir, Logger: log})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize status writer")
	}

	var notifier pipeline.Notifier
	if webhookURL := os.Getenv("NOTIFY_WEBHOOK_URL"); webhookURL != "" {
		notifier = notify.NewWebhookNotifier(notify.WebhookConfig{URL: webhookURL, Logger: log})
	}

	specs, err := pipeline.LoadModelSpecs(modelsConfig)
	if err != nil {
		log.Fatal().Err(err).Str("path", modelsConfig).Msg("failed to load models config")
	}
	trainers, incremental := pipeline.BuildTrainers(specs, outputDir, log)

	pipe := pipeline.New(pipeline.Config{
		Logger:            log,
		Backups:           store,
		Validator:         validate.NewValidator(validate.ValidatorConfig{Logger: log}),
		Runs:              runs,
		Status:            statusWriter,
		Notifier:          notifier,
		Trainers:          trainers,
		IncrementalModels: incremental,
		ProductionDir:     productionDir,
	})

	handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
		ProjectID:        projectID,
		SubscriptionName: subscription,
		Pipeline:         pipe,
		Logger:           log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub handler")
	}
	defer handler.Close()

	// Create HTTP server for health checks
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","version":"%s"}`, Version)
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// Start health check server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	// Start consuming trigger messages
	go func() {
		if err := handler.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("pubsub receive stopped")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
