// Package runstore persists completed pipeline runs.
package runstore

import (
	"context"
	"errors"

	"github.com/dividash/modelops/internal/pipeline"
)

// ErrRunNotFound is returned when a run doesn't exist.
var ErrRunNotFound = errors.New("run not found")

// ListOptions contains options for listing runs.
type ListOptions struct {
	Limit int
}

// Repository defines the interface for run history persistence.
type Repository interface {
	// Save persists a completed run.
	Save(ctx context.Context, run *pipeline.Run) error

	// Get retrieves a run by ID.
	Get(ctx context.Context, id string) (*pipeline.Run, error)

	// Latest retrieves the most recently started run.
	// Returns ErrRunNotFound if no runs have been recorded.
	Latest(ctx context.Context) (*pipeline.Run, error)

	// List retrieves runs ordered by start time, newest first.
	List(ctx context.Context, opts ListOptions) ([]*pipeline.Run, error)
}
