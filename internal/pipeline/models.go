// Package pipeline orchestrates the automated model lifecycle: backup,
// retrain, validate, promote-or-rollback, restart, and run reporting.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dividash/modelops/internal/validate"
)

// Mode selects which pipeline entry point runs.
type Mode string

// Run modes.
const (
	// ModeFull retrains every registered model.
	ModeFull Mode = "full"

	// ModeIncremental retrains only the frequently-drifting models.
	ModeIncremental Mode = "incremental"

	// ModeValidate validates the current production artifacts without
	// retraining anything.
	ModeValidate Mode = "validate"
)

// State is the pipeline's position in a run.
type State string

// Pipeline states.
const (
	StateIdle        State = "idle"
	StateBackingUp   State = "backing_up"
	StateTraining    State = "training"
	StateValidating  State = "validating"
	StatePromoting   State = "promoting"
	StateRollingBack State = "rolling_back"
	StateDone        State = "done"
)

// Outcome is the per-model result of a run.
type Outcome string

// Per-model outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
)

// ArtifactStatus classifies a trained artifact.
type ArtifactStatus string

// Artifact statuses.
const (
	StatusCandidate ArtifactStatus = "candidate"
	StatusValidated ArtifactStatus = "validated"
	StatusRejected  ArtifactStatus = "rejected"
)

// Artifact is the product of one training job. It is never mutated after
// validation; a retrain produces a new artifact.
type Artifact struct {
	ModelName   string             `json:"model_name"`
	Type        validate.ModelType `json:"type"`
	TrainedAt   time.Time          `json:"trained_at"`
	StoragePath string             `json:"storage_path"`
	Metrics     map[string]float64 `json:"metrics"`
	Status      ArtifactStatus     `json:"status"`
}

// ModelResult is the outcome of one model within a run.
type ModelResult struct {
	Model    string        `json:"model"`
	Outcome  Outcome       `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// Run statuses.
const (
	RunStatusHealthy        = "healthy"
	RunStatusNeedsAttention = "needs_attention"
)

// Run is one pipeline invocation. It is persisted on completion and never
// mutated afterward.
type Run struct {
	ID          string        `json:"id"`
	Mode        Mode          `json:"mode"`
	Forced      bool          `json:"forced,omitempty"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Results     []ModelResult `json:"results"`
	SuccessRate float64       `json:"success_rate"`
	TrainedCount int          `json:"trained_count"`
	RolledBack  bool          `json:"rolled_back,omitempty"`
	Status      string        `json:"status"`
}

// productionRecord is the metrics sidecar written next to each promoted
// artifact. It is what freshness checks and validation sweeps read.
type productionRecord struct {
	ModelName    string             `json:"model_name"`
	Type         validate.ModelType `json:"type"`
	TrainedAt    time.Time          `json:"trained_at"`
	ArtifactFile string             `json:"artifact_file"`
	Metrics      map[string]float64 `json:"metrics"`
}

func recordPath(productionDir, model string) string {
	return filepath.Join(productionDir, model+".metrics.json")
}

func readProductionRecord(productionDir, model string) (*productionRecord, error) {
	data, err := os.ReadFile(recordPath(productionDir, model))
	if err != nil {
		return nil, err
	}
	var rec productionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing production record for %s: %w", model, err)
	}
	return &rec, nil
}

func writeProductionRecord(productionDir string, rec *productionRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(recordPath(productionDir, rec.ModelName), data, 0o644)
}
