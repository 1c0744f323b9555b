package runstore

import (
	"context"
	"sort"
	"sync"

	"github.com/dividash/modelops/internal/pipeline"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and single-node deployments without a
// database. Production should use PostgresRepository.
type InMemoryRepository struct {
	mu   sync.RWMutex
	runs map[string]*pipeline.Run
}

// NewInMemoryRepository creates a new in-memory run repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		runs: make(map[string]*pipeline.Run),
	}
}

// Save persists a completed run.
func (r *InMemoryRepository) Save(_ context.Context, run *pipeline.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := *run
	r.runs[run.ID] = &cpy
	return nil
}

// Get retrieves a run by ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*pipeline.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}

	// Return a copy
	cpy := *run
	return &cpy, nil
}

// Latest retrieves the most recently started run.
func (r *InMemoryRepository) Latest(_ context.Context) (*pipeline.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *pipeline.Run
	for _, run := range r.runs {
		if latest == nil || run.StartTime.After(latest.StartTime) {
			latest = run
		}
	}
	if latest == nil {
		return nil, ErrRunNotFound
	}

	cpy := *latest
	return &cpy, nil
}

// List retrieves runs ordered by start time, newest first.
func (r *InMemoryRepository) List(_ context.Context, opts ListOptions) ([]*pipeline.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]*pipeline.Run, 0, len(r.runs))
	for _, run := range r.runs {
		cpy := *run
		runs = append(runs, &cpy)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartTime.After(runs[j].StartTime)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
