package pipeline

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// SchedulerConfig holds configuration for the training schedules.
type SchedulerConfig struct {
	// Pipeline is the pipeline to drive (required).
	Pipeline *Pipeline

	// Logger for scheduler operations.
	Logger zerolog.Logger

	// FullSpec is the cron expression (with seconds) for the daily full
	// run. Default: 02:00 every day.
	FullSpec string

	// IncrementalSpec is the cron expression for the incremental run.
	// Default: every 6 hours on the hour.
	IncrementalSpec string

	// ValidationSpec is the cron expression for the validation sweep.
	// Default: every 12 hours at half past.
	ValidationSpec string

	// RunTimeout bounds each scheduled invocation. Default: 4 hours
	RunTimeout time.Duration
}

// StartScheduler registers the three training schedules and starts the cron
// runner. The returned cron must be stopped by the caller on shutdown.
func StartScheduler(cfg SchedulerConfig) (*cron.Cron, error) {
	if cfg.FullSpec == "" {
		cfg.FullSpec = "0 0 2 * * *"
	}
	if cfg.IncrementalSpec == "" {
		cfg.IncrementalSpec = "0 0 */6 * * *"
	}
	if cfg.ValidationSpec == "" {
		cfg.ValidationSpec = "0 30 */12 * * *"
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 4 * time.Hour
	}

	c := cron.New(cron.WithSeconds())

	schedules := []struct {
		spec string
		mode Mode
	}{
		{cfg.FullSpec, ModeFull},
		{cfg.IncrementalSpec, ModeIncremental},
		{cfg.ValidationSpec, ModeValidate},
	}

	for _, s := range schedules {
		mode := s.mode
		_, err := c.AddFunc(s.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.RunTimeout)
			defer cancel()

			run, err := cfg.Pipeline.Run(ctx, RunOptions{Mode: mode})
			if err != nil {
				cfg.Logger.Error().Err(err).Str("mode", string(mode)).Msg("scheduled pipeline run failed")
				return
			}
			cfg.Logger.Info().
				Str("mode", string(mode)).
				Str("run_id", run.ID).
				Str("status", run.Status).
				Msg("scheduled pipeline run finished")
		})
		if err != nil {
			return nil, err
		}
	}

	c.Start()
	cfg.Logger.Info().
		Str("full", cfg.FullSpec).
		Str("incremental", cfg.IncrementalSpec).
		Str("validation", cfg.ValidationSpec).
		Msg("training schedules started")

	return c, nil
}
