package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/dividash/modelops/internal/validate"
)

// Trainer produces a new artifact for one registered model. Implementations
// must honor ctx cancellation; a training run enforces a per-model timeout
// through it.
type Trainer interface {
	// Name is the model's unique name.
	Name() string

	// Type classifies the model for validation thresholds.
	Type() validate.ModelType

	// Train runs the training job and returns the resulting artifact.
	Train(ctx context.Context) (*Artifact, error)
}

// CommandTrainerConfig holds configuration for a command trainer.
type CommandTrainerConfig struct {
	// ModelName is the model's unique name (required).
	ModelName string

	// ModelType classifies the model (required).
	ModelType validate.ModelType

	// Command is the training executable (required), typically a Python
	// entry point.
	Command string

	// Args are passed to the command.
	Args []string

	// OutputDir is where the job writes its artifact and metrics file
	// (required). The trainer expects <OutputDir>/<ModelName>.metrics.json
	// after a successful run.
	OutputDir string

	// ArtifactFile is the artifact file name the job writes.
	// Default: <ModelName>.pkl
	ArtifactFile string

	// Logger for trainer operations.
	Logger zerolog.Logger
}

// CommandTrainer shells out to an external training job and reads back the
// metrics file it produces. The statistical content of the job is entirely
// opaque to this core.
type CommandTrainer struct {
	name         string
	typ          validate.ModelType
	command      string
	args         []string
	outputDir    string
	artifactFile string
	logger       zerolog.Logger
}

// NewCommandTrainer creates a trainer that runs an external command.
func NewCommandTrainer(cfg CommandTrainerConfig) *CommandTrainer {
	artifactFile := cfg.ArtifactFile
	if artifactFile == "" {
		artifactFile = cfg.ModelName + ".pkl"
	}

	return &CommandTrainer{
		name:         cfg.ModelName,
		typ:          cfg.ModelType,
		command:      cfg.Command,
		args:         cfg.Args,
		outputDir:    cfg.OutputDir,
		artifactFile: artifactFile,
		logger:       cfg.Logger,
	}
}

// Name returns the model name.
func (t *CommandTrainer) Name() string {
	return t.name
}

// Type returns the model type.
func (t *CommandTrainer) Type() validate.ModelType {
	return t.typ
}

// Train runs the training command and reads the metrics file it wrote.
func (t *CommandTrainer) Train(ctx context.Context) (*Artifact, error) {
	start := time.Now()
	t.logger.Info().Str("model", t.name).Str("command", t.command).Msg("starting training job")

	cmd := exec.CommandContext(ctx, t.command, t.args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("training job failed: %w: %s", err, truncate(output, 512))
	}

	metricsPath := filepath.Join(t.outputDir, t.name+".metrics.json")
	data, err := os.ReadFile(metricsPath)
	if err != nil {
		return nil, fmt.Errorf("reading training metrics: %w", err)
	}

	var metrics map[string]float64
	if err := json.Unmarshal(data, &metrics); err != nil {
		return nil, fmt.Errorf("parsing training metrics: %w", err)
	}

	t.logger.Info().
		Str("model", t.name).
		Dur("duration", time.Since(start)).
		Msg("training job completed")

	return &Artifact{
		ModelName:   t.name,
		Type:        t.typ,
		TrainedAt:   time.Now(),
		StoragePath: filepath.Join(t.outputDir, t.artifactFile),
		Metrics:     metrics,
		Status:      StatusCandidate,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
