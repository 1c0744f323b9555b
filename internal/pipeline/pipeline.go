package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dividash/modelops/internal/backup"
	"github.com/dividash/modelops/internal/selfheal"
	"github.com/dividash/modelops/internal/validate"
)

// Errors returned by the pipeline.
var (
	// ErrRunInProgress is returned when a run is requested while another
	// is still executing.
	ErrRunInProgress = errors.New("pipeline run already in progress")

	// ErrRollbackFailed means restoring the entry snapshot failed. It is
	// the single fatal condition: the run aborts and external intervention
	// is required.
	ErrRollbackFailed = errors.New("rollback from backup failed")
)

// RunRepository persists completed runs. Implemented by runstore.
type RunRepository interface {
	Save(ctx context.Context, run *Run) error
}

// StatusSink receives completed runs for the externally-consumed status
// documents. Implemented by status.Writer.
type StatusSink interface {
	RecordRun(run *Run) error
}

// Notifier delivers best-effort notifications. Implemented by
// notify.WebhookNotifier.
type Notifier interface {
	Notify(ctx context.Context, message string, success bool)
}

// multiStatus fans a completed run out to several sinks.
type multiStatus []StatusSink

func (m multiStatus) RecordRun(run *Run) error {
	var firstErr error
	for _, s := range m {
		if err := s.RecordRun(run); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MultiStatus combines status sinks into one.
func MultiStatus(sinks ...StatusSink) StatusSink {
	return multiStatus(sinks)
}

// Config holds configuration for the training pipeline.
type Config struct {
	Logger zerolog.Logger

	// Backups stores and restores artifact snapshots (required).
	Backups *backup.Store

	// Validator applies performance thresholds (required).
	Validator *validate.Validator

	// Manager reports outcomes and drives the inference restart (optional).
	Manager *selfheal.Manager

	// Runs persists completed runs (optional).
	Runs RunRepository

	// Status writes the externally-consumed status documents (optional).
	Status StatusSink

	// Notifier delivers run notifications (optional).
	Notifier Notifier

	// Trainers are the registered models.
	Trainers []Trainer

	// IncrementalModels names the subset retrained by incremental runs.
	// Empty means incremental runs cover every model.
	IncrementalModels []string

	// ProductionDir holds the promoted artifacts (required).
	ProductionDir string

	// FreshnessWindow is the minimum artifact age before automatic
	// retraining. Default: 7 days
	FreshnessWindow time.Duration

	// TrainTimeout bounds each model's training job. Default: 1 hour
	TrainTimeout time.Duration

	// HealthyThreshold is the minimum success rate for a healthy run.
	// Default: 0.80
	HealthyThreshold float64

	// Retention is how many backup snapshots to keep. Default: 7
	Retention int

	// InferenceService is the tracked service restarted after promotion.
	// Default: "inference-api"
	InferenceService string

	// TrainingService is the tracked service name run outcomes are
	// reported under. Default: "training-jobs"
	TrainingService string

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// RunOptions selects what a single invocation does.
type RunOptions struct {
	// Mode defaults to ModeFull.
	Mode Mode

	// Force bypasses the freshness window.
	Force bool
}

// Pipeline drives the model lifecycle as a state machine over a run:
// idle → backing_up → training → validating → {promoting | rolling_back} → done.
// At most one run executes at a time.
type Pipeline struct {
	logger            zerolog.Logger
	backups           *backup.Store
	validator         *validate.Validator
	manager           *selfheal.Manager
	runs              RunRepository
	status            StatusSink
	notifier          Notifier
	trainers          []Trainer
	incrementalModels map[string]bool
	productionDir     string
	freshnessWindow   time.Duration
	trainTimeout      time.Duration
	healthyThreshold  float64
	retention         int
	inferenceService  string
	trainingService   string
	now               func() time.Time

	runMu   sync.Mutex
	stateMu sync.Mutex
	state   State
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = 7 * 24 * time.Hour
	}
	if cfg.TrainTimeout <= 0 {
		cfg.TrainTimeout = time.Hour
	}
	if cfg.HealthyThreshold <= 0 {
		cfg.HealthyThreshold = 0.80
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7
	}
	if cfg.InferenceService == "" {
		cfg.InferenceService = "inference-api"
	}
	if cfg.TrainingService == "" {
		cfg.TrainingService = "training-jobs"
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	incremental := make(map[string]bool, len(cfg.IncrementalModels))
	for _, name := range cfg.IncrementalModels {
		incremental[name] = true
	}

	return &Pipeline{
		logger:            cfg.Logger,
		backups:           cfg.Backups,
		validator:         cfg.Validator,
		manager:           cfg.Manager,
		runs:              cfg.Runs,
		status:            cfg.Status,
		notifier:          cfg.Notifier,
		trainers:          cfg.Trainers,
		incrementalModels: incremental,
		productionDir:     cfg.ProductionDir,
		freshnessWindow:   cfg.FreshnessWindow,
		trainTimeout:      cfg.TrainTimeout,
		healthyThreshold:  cfg.HealthyThreshold,
		retention:         cfg.Retention,
		inferenceService:  cfg.InferenceService,
		trainingService:   cfg.TrainingService,
		now:               cfg.Clock,
		state:             StateIdle,
	}
}

// State returns the pipeline's current position in a run.
func (p *Pipeline) State() State {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
}

// Run executes one pipeline invocation. Per-model failures and timeouts
// never abort the run; only a failed rollback does, returning
// ErrRollbackFailed.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Run, error) {
	if !p.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.runMu.Unlock()

	mode := opts.Mode
	if mode == "" {
		mode = ModeFull
	}

	run := &Run{
		ID:        uuid.NewString(),
		Mode:      mode,
		Forced:    opts.Force,
		StartTime: p.now(),
	}

	logger := p.logger.With().Str("run_id", run.ID).Str("mode", string(mode)).Logger()
	logger.Info().Int("models", len(p.trainers)).Msg("pipeline run starting")
	p.notify(ctx, fmt.Sprintf("training run %s started (mode=%s)", run.ID, mode), true)

	// Entry backup is best-effort: a first run has nothing to snapshot.
	var snap *backup.Snapshot
	if mode != ModeValidate {
		p.setState(StateBackingUp)
		var err error
		snap, err = p.backups.Backup(p.productionDir)
		if err != nil {
			logger.Warn().Err(err).Msg("entry backup failed, continuing without snapshot")
		}
	}

	trainers := p.selectTrainers(mode)

	var artifacts map[string]*Artifact
	if mode == ModeValidate {
		p.setState(StateValidating)
		run.Results = p.validateProduction(trainers)
	} else {
		p.setState(StateTraining)
		run.Results, artifacts = p.trainAll(ctx, trainers, opts.Force, logger)
		run.TrainedCount = countOutcome(run.Results, OutcomeSuccess)

		p.setState(StateValidating)
		p.validateArtifacts(run, artifacts)
	}

	run.SuccessRate = successRate(run.Results)
	healthy := run.SuccessRate >= p.healthyThreshold

	var fatal error
	if mode != ModeValidate {
		if healthy {
			p.setState(StatePromoting)
			if err := p.promote(artifacts); err != nil {
				logger.Error().Err(err).Msg("promotion failed, rolling back")
				healthy = false
				fatal = p.rollback(ctx, run, snap, logger)
			} else if run.TrainedCount > 0 {
				// A skip-only run changed nothing, so no restart. Any
				// actual retrain restarts inference so it reloads the
				// artifacts, regardless of which models were promoted.
				p.restartInference(ctx, logger)
			}
		} else {
			logger.Warn().
				Float64("success_rate", run.SuccessRate).
				Msg("run unhealthy, rolling back")
			fatal = p.rollback(ctx, run, snap, logger)
		}
	}

	run.EndTime = p.now()
	run.Status = RunStatusNeedsAttention
	if healthy && !run.RolledBack {
		run.Status = RunStatusHealthy
	}
	p.setState(StateDone)

	p.persist(ctx, run, logger)
	p.reportOutcome(healthy && fatal == nil)

	if fatal != nil {
		return run, fatal
	}

	if _, err := p.backups.Prune(p.retention); err != nil {
		logger.Warn().Err(err).Msg("backup pruning failed")
	}

	logger.Info().
		Float64("success_rate", run.SuccessRate).
		Str("status", run.Status).
		Dur("duration", run.EndTime.Sub(run.StartTime)).
		Msg("pipeline run completed")
	p.notify(ctx, fmt.Sprintf("training run %s completed: %s (success rate %.2f)",
		run.ID, run.Status, run.SuccessRate), healthy)

	return run, nil
}

// selectTrainers returns the trainers covered by the given mode.
func (p *Pipeline) selectTrainers(mode Mode) []Trainer {
	if mode != ModeIncremental || len(p.incrementalModels) == 0 {
		return p.trainers
	}
	var selected []Trainer
	for _, t := range p.trainers {
		if p.incrementalModels[t.Name()] {
			selected = append(selected, t)
		}
	}
	return selected
}

// trainAll attempts each model sequentially. Timeouts and errors map to
// per-model outcomes, never to a run abort.
func (p *Pipeline) trainAll(ctx context.Context, trainers []Trainer, force bool, logger zerolog.Logger) ([]ModelResult, map[string]*Artifact) {
	results := make([]ModelResult, 0, len(trainers))
	artifacts := make(map[string]*Artifact)

	for _, t := range trainers {
		if !force && p.isFresh(t.Name()) {
			logger.Debug().Str("model", t.Name()).Msg("artifact still fresh, skipping")
			results = append(results, ModelResult{Model: t.Name(), Outcome: OutcomeSkipped})
			continue
		}

		artifact, result := p.trainOne(ctx, t)
		if artifact != nil {
			artifacts[t.Name()] = artifact
		}
		if result.Outcome != OutcomeSuccess {
			logger.Warn().
				Str("model", result.Model).
				Str("outcome", string(result.Outcome)).
				Str("reason", result.Reason).
				Msg("model training did not succeed")
		}
		results = append(results, result)
	}

	return results, artifacts
}

// isFresh reports whether the model's production artifact is younger than
// the freshness window.
func (p *Pipeline) isFresh(model string) bool {
	rec, err := readProductionRecord(p.productionDir, model)
	if err != nil {
		return false
	}
	return p.now().Sub(rec.TrainedAt) < p.freshnessWindow
}

// trainOne runs a single training job under the per-model timeout. Panics
// from trainers are contained as failed outcomes.
func (p *Pipeline) trainOne(ctx context.Context, t Trainer) (artifact *Artifact, result ModelResult) {
	result = ModelResult{Model: t.Name()}
	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)
		if r := recover(); r != nil {
			artifact = nil
			result.Outcome = OutcomeFailed
			result.Reason = fmt.Sprintf("training panicked: %v", r)
		}
	}()

	trainCtx, cancel := context.WithTimeout(ctx, p.trainTimeout)
	defer cancel()

	a, err := t.Train(trainCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			result.Outcome = OutcomeTimeout
			result.Reason = fmt.Sprintf("training exceeded %s timeout", p.trainTimeout)
		} else {
			result.Outcome = OutcomeFailed
			result.Reason = err.Error()
		}
		return nil, result
	}

	a.Status = StatusCandidate
	result.Outcome = OutcomeSuccess
	result.Metrics = a.Metrics
	return a, result
}

// validateArtifacts classifies every successfully trained artifact. A model
// whose artifact fails validation counts as a training failure for
// aggregation.
func (p *Pipeline) validateArtifacts(run *Run, artifacts map[string]*Artifact) {
	for i := range run.Results {
		result := &run.Results[i]
		if result.Outcome != OutcomeSuccess {
			continue
		}
		artifact := artifacts[result.Model]
		vr := p.validator.Validate(artifact.ModelName, artifact.Type, artifact.Metrics)
		if vr.Valid {
			artifact.Status = StatusValidated
			continue
		}
		artifact.Status = StatusRejected
		result.Outcome = OutcomeFailed
		result.Reason = vr.Reason
	}
}

// validateProduction is the validation-only sweep: it checks the promoted
// artifacts against current thresholds without retraining anything.
func (p *Pipeline) validateProduction(trainers []Trainer) []ModelResult {
	results := make([]ModelResult, 0, len(trainers))
	for _, t := range trainers {
		rec, err := readProductionRecord(p.productionDir, t.Name())
		if err != nil {
			results = append(results, ModelResult{
				Model:   t.Name(),
				Outcome: OutcomeFailed,
				Reason:  "no production artifact",
			})
			continue
		}

		typ := rec.Type
		if typ == "" {
			typ = t.Type()
		}
		vr := p.validator.Validate(t.Name(), typ, rec.Metrics)
		if vr.Valid {
			results = append(results, ModelResult{Model: t.Name(), Outcome: OutcomeSuccess, Metrics: rec.Metrics})
		} else {
			results = append(results, ModelResult{Model: t.Name(), Outcome: OutcomeFailed, Reason: vr.Reason})
		}
	}
	return results
}

// promote replaces the production copies with every validated artifact.
func (p *Pipeline) promote(artifacts map[string]*Artifact) error {
	if err := os.MkdirAll(p.productionDir, 0o755); err != nil {
		return fmt.Errorf("creating production dir: %w", err)
	}

	for _, artifact := range artifacts {
		if artifact.Status != StatusValidated {
			continue
		}

		target := filepath.Join(p.productionDir, filepath.Base(artifact.StoragePath))
		if err := copyFile(artifact.StoragePath, target); err != nil {
			return fmt.Errorf("promoting %s: %w", artifact.ModelName, err)
		}

		rec := &productionRecord{
			ModelName:    artifact.ModelName,
			Type:         artifact.Type,
			TrainedAt:    artifact.TrainedAt,
			ArtifactFile: filepath.Base(artifact.StoragePath),
			Metrics:      artifact.Metrics,
		}
		if err := writeProductionRecord(p.productionDir, rec); err != nil {
			return fmt.Errorf("recording promotion of %s: %w", artifact.ModelName, err)
		}

		p.logger.Info().Str("model", artifact.ModelName).Str("target", target).Msg("artifact promoted")
	}
	return nil
}

// rollback restores the entry snapshot and restarts inference. A restore
// failure is the pipeline's single fatal condition.
func (p *Pipeline) rollback(ctx context.Context, run *Run, snap *backup.Snapshot, logger zerolog.Logger) error {
	p.setState(StateRollingBack)
	run.RolledBack = true

	if snap == nil {
		logger.Warn().Msg("no entry snapshot to restore, skipping rollback copy")
	} else if err := p.backups.Restore(snap, p.productionDir); err != nil {
		logger.Error().Err(err).Msg("rollback restore failed")
		p.notify(ctx, fmt.Sprintf("CRITICAL: training run %s rollback failed: %v", run.ID, err), false)
		return fmt.Errorf("%w: %v", ErrRollbackFailed, err)
	}

	p.restartInference(ctx, logger)
	return nil
}

// restartInference asks the self-healing manager to restart the inference
// service so it reloads the production artifacts. The manager's per-service
// lock keeps this from racing a monitor-initiated recovery.
func (p *Pipeline) restartInference(ctx context.Context, logger zerolog.Logger) {
	if p.manager == nil {
		return
	}
	if ok := p.manager.AttemptRecovery(ctx, p.inferenceService); !ok {
		logger.Warn().Str("service", p.inferenceService).Msg("inference restart did not confirm healthy")
	}
}

// persist writes the run to the repository and status documents, best-effort.
func (p *Pipeline) persist(ctx context.Context, run *Run, logger zerolog.Logger) {
	if p.runs != nil {
		if err := p.runs.Save(ctx, run); err != nil {
			logger.Error().Err(err).Msg("failed to persist run record")
		}
	}
	if p.status != nil {
		if err := p.status.RecordRun(run); err != nil {
			logger.Error().Err(err).Msg("failed to write status documents")
		}
	}
}

// reportOutcome feeds the run result back into the self-healing manager's
// view of the training service.
func (p *Pipeline) reportOutcome(healthy bool) {
	if p.manager == nil {
		return
	}
	if healthy {
		p.manager.RecordSuccess(p.trainingService)
	} else {
		p.manager.RecordFailure(p.trainingService, errors.New("pipeline run unhealthy"))
	}
}

func (p *Pipeline) notify(ctx context.Context, message string, success bool) {
	if p.notifier == nil {
		return
	}
	p.notifier.Notify(ctx, message, success)
}

func countOutcome(results []ModelResult, outcome Outcome) int {
	n := 0
	for _, r := range results {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// successRate is (succeeded + skipped) / total. An empty run is trivially
// healthy.
func successRate(results []ModelResult) float64 {
	if len(results) == 0 {
		return 1.0
	}
	ok := countOutcome(results, OutcomeSuccess) + countOutcome(results, OutcomeSkipped)
	return float64(ok) / float64(len(results))
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
