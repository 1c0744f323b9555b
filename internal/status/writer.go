// Package status maintains the JSON status documents that external
// dashboards and the ops API read between runs.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/dividash/modelops/internal/pipeline"
)

const (
	runStatusFile     = "pipeline_status.json"
	currentStatusFile = "current_status.json"
)

// RunSummary is the pipeline_status.json document: a snapshot of the most
// recent run.
type RunSummary struct {
	RunID       string                 `json:"run_id"`
	Mode        pipeline.Mode          `json:"mode"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     time.Time              `json:"end_time"`
	SuccessRate float64                `json:"success_rate"`
	RolledBack  bool                   `json:"rolled_back"`
	Status      string                 `json:"status"`
	Results     []pipeline.ModelResult `json:"results"`
}

// Current is the current_status.json document: the coarse signal monitoring
// alerts on.
type Current struct {
	LastTrainingAt time.Time `json:"last_training_at"`
	ModelsTrained  int       `json:"models_trained"`
	Status         string    `json:"status"`
}

// WriterConfig holds configuration for the status writer.
type WriterConfig struct {
	// Dir is where the status documents live (required).
	Dir string

	Logger zerolog.Logger
}

// Writer persists status documents atomically. It implements
// pipeline.StatusSink.
type Writer struct {
	dir    string
	logger zerolog.Logger
}

// NewWriter creates a status writer, creating the directory if needed.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating status dir: %w", err)
	}
	return &Writer{dir: cfg.Dir, logger: cfg.Logger}, nil
}

// RecordRun writes both status documents from a completed run.
func (w *Writer) RecordRun(run *pipeline.Run) error {
	summary := RunSummary{
		RunID:       run.ID,
		Mode:        run.Mode,
		StartTime:   run.StartTime,
		EndTime:     run.EndTime,
		SuccessRate: run.SuccessRate,
		RolledBack:  run.RolledBack,
		Status:      run.Status,
		Results:     run.Results,
	}
	if err := w.writeDoc(runStatusFile, summary); err != nil {
		return err
	}

	current := Current{
		LastTrainingAt: run.EndTime,
		ModelsTrained:  run.TrainedCount,
		Status:         run.Status,
	}
	if err := w.writeDoc(currentStatusFile, current); err != nil {
		return err
	}

	w.logger.Debug().Str("run_id", run.ID).Str("dir", w.dir).Msg("status documents updated")
	return nil
}

// LastRun reads the most recently recorded run summary.
func (w *Writer) LastRun() (*RunSummary, error) {
	var summary RunSummary
	if err := w.readDoc(runStatusFile, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Read reads the current status document.
func (w *Writer) Read() (*Current, error) {
	var current Current
	if err := w.readDoc(currentStatusFile, &current); err != nil {
		return nil, err
	}
	return &current, nil
}

// writeDoc writes a document via a temp file and rename so readers never
// observe a partial write.
func (w *Writer) writeDoc(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(w.dir, name+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), filepath.Join(w.dir, name))
}

func (w *Writer) readDoc(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(w.dir, name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

// Ensure Writer implements the pipeline's sink interface.
var _ pipeline.StatusSink = (*Writer)(nil)
