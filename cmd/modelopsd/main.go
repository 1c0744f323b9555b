// Package main provides the entrypoint for the model-ops daemon: the
// self-healing monitor, the training scheduler, and the operational API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dividash/modelops/internal/api"
	"github.com/dividash/modelops/internal/api/middleware"
	"github.com/dividash/modelops/internal/backup"
	"github.com/dividash/modelops/internal/database"
	"github.com/dividash/modelops/internal/notify"
	"github.com/dividash/modelops/internal/pipeline"
	"github.com/dividash/modelops/internal/probe"
	"github.com/dividash/modelops/internal/recovery"
	"github.com/dividash/modelops/internal/remote"
	"github.com/dividash/modelops/internal/runstore"
	"github.com/dividash/modelops/internal/selfheal"
	"github.com/dividash/modelops/internal/status"
	"github.com/dividash/modelops/internal/telemetry"
	"github.com/dividash/modelops/internal/validate"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "modelops"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting model-ops daemon")

	// Get configuration from environment
	port := getEnvOrDefault("APP_PORT", "8080")
	env := getEnvOrDefault("APP_ENV", "development")
	otlpEndpoint := getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")

	productionDir := getEnvOrDefault("MODELS_PRODUCTION_DIR", "/var/lib/modelops/production")
	outputDir := getEnvOrDefault("MODELS_OUTPUT_DIR", "/var/lib/modelops/staging")
	backupRoot := getEnvOrDefault("MODELS_BACKUP_DIR", "/var/lib/modelops/backups")
	statusDir := getEnvOrDefault("STATUS_DIR", "/var/lib/modelops/status")
	modelsConfig := getEnvOrDefault("MODELS_CONFIG", "/etc/modelops/models.json")

	controlPlaneURL := getEnvOrDefault("CONTROL_PLANE_URL", "http://localhost:9090")
	controlPlaneToken := os.Getenv("CONTROL_PLANE_TOKEN")
	inferenceProbeURL := getEnvOrDefault("INFERENCE_PROBE_URL", "http://localhost:8000/health")

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryEnabled := os.Getenv("OTEL_ENABLED") == "true"

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        telemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryEnabled {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	pipelineMetrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize pipeline metrics")
		os.Exit(1)
	}

	// Initialize run history: Postgres when configured, in-memory otherwise.
	var runs runstore.Repository
	if os.Getenv("DB_HOST") != "" {
		dbConfig := database.ConfigFromEnv()
		pool, err := database.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")
		runs = runstore.NewPostgresRepository(pool)
	} else {
		log.Warn().Msg("DB_HOST not set, keeping run history in memory")
		runs = runstore.NewInMemoryRepository()
	}

	// Remote control plane and health probing
	controller := remote.NewHTTPController(remote.HTTPControllerConfig{
		BaseURL: controlPlaneURL,
		Token:   controlPlaneToken,
		Logger:  log,
	})

	// Self-healing manager with restart strategies for the three managed
	// services.
	manager := selfheal.NewManager(selfheal.ManagerConfig{Logger: log})

	inferenceProbe := probe.New(probe.Config{URL: inferenceProbeURL, Logger: log})
	manager.Register("inference-api", recovery.NewRestartStrategy(recovery.RestartConfig{
		Service:    "inference-api",
		Controller: controller,
		Probe:      inferenceProbe,
		Logger:     log,
	}), selfheal.BreakerConfig{})

	manager.Register("training-jobs", recovery.NewRestartStrategy(recovery.RestartConfig{
		Service:    "training-jobs",
		Action:     remote.ActionRestartTimer,
		Controller: controller,
		Probe:      probeAlwaysHealthy{},
		Logger:     log,
	}), selfheal.BreakerConfig{})

	manager.Register("alert-jobs", recovery.NewRestartStrategy(recovery.RestartConfig{
		Service:    "alert-jobs",
		Action:     remote.ActionRestartTimer,
		Controller: controller,
		Probe:      probeAlwaysHealthy{},
		Logger:     log,
	}), selfheal.BreakerConfig{})

	// Backup store and artifact validation
	store, err := backup.NewStore(backup.StoreConfig{Root: backupRoot, Logger: log})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize backup store")
	}

	validator := validate.NewValidator(validate.ValidatorConfig{Logger: log})

	// Status documents and notifications
	statusWriter, err := status.NewWriter(status.WriterConfig{Dir: statusDir, Logger: log})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize status writer")
	}

	var notifier pipeline.Notifier
	if webhookURL := os.Getenv("NOTIFY_WEBHOOK_URL"); webhookURL != "" {
		notifier = notify.NewWebhookNotifier(notify.WebhookConfig{URL: webhookURL, Logger: log})
		log.Info().Msg("webhook notifier initialized")
	} else {
		log.Warn().Msg("NOTIFY_WEBHOOK_URL not set, notifications disabled")
	}

	// Training pipeline
	specs, err := pipeline.LoadModelSpecs(modelsConfig)
	if err != nil {
		log.Fatal().Err(err).Str("path", modelsConfig).Msg("failed to load models config")
	}
	trainers, incremental := pipeline.BuildTrainers(specs, outputDir, log)
	log.Info().Int("models", len(trainers)).Int("incremental", len(incremental)).Msg("models configured")

	pipe := pipeline.New(pipeline.Config{
		Logger:            log,
		Backups:           store,
		Validator:         validator,
		Manager:           manager,
		Runs:              runs,
		Status:            pipeline.MultiStatus(statusWriter, pipelineMetrics),
		Notifier:          notifier,
		Trainers:          trainers,
		IncrementalModels: incremental,
		ProductionDir:     productionDir,
	})

	// Background loops: self-healing monitor and training schedules.
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go manager.Monitor(monitorCtx)

	scheduler, err := pipeline.StartScheduler(pipeline.SchedulerConfig{
		Pipeline: pipe,
		Logger:   log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		Manager:     manager,
		Pipeline:    pipe,
		Runs:        runs,
		Status:      statusWriter,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	stopMonitor()
	schedulerCtx := scheduler.Stop()

	// Let an in-flight scheduled run finish before pulling the plug.
	select {
	case <-schedulerCtx.Done():
	case <-time.After(30 * time.Second):
		log.Warn().Msg("scheduled run still in flight, abandoning")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

// probeAlwaysHealthy is for scheduled-job services with no health endpoint:
// a confirmed restart-timer action is the best signal available.
type probeAlwaysHealthy struct{}

func (probeAlwaysHealthy) Check(context.Context) error { return nil }

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
