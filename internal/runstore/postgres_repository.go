package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dividash/modelops/internal/pipeline"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL run repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Save persists a completed run. Per-model results are stored as JSONB.
func (r *PostgresRepository) Save(ctx context.Context, run *pipeline.Run) error {
	results, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("encoding run results: %w", err)
	}

	query := `
		INSERT INTO pipeline_runs (
			id, mode, forced, start_time, end_time,
			results, success_rate, trained_count, rolled_back, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.Mode,
		run.Forced,
		run.StartTime,
		run.EndTime,
		results,
		run.SuccessRate,
		run.TrainedCount,
		run.RolledBack,
		run.Status,
	)
	return err
}

// Get retrieves a run by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*pipeline.Run, error) {
	query := `
		SELECT
			id, mode, forced, start_time, end_time,
			results, success_rate, trained_count, rolled_back, status
		FROM pipeline_runs
		WHERE id = $1
	`

	return r.scanRun(r.pool.QueryRow(ctx, query, id))
}

// Latest retrieves the most recently started run.
func (r *PostgresRepository) Latest(ctx context.Context) (*pipeline.Run, error) {
	query := `
		SELECT
			id, mode, forced, start_time, end_time,
			results, success_rate, trained_count, rolled_back, status
		FROM pipeline_runs
		ORDER BY start_time DESC
		LIMIT 1
	`

	return r.scanRun(r.pool.QueryRow(ctx, query))
}

// List retrieves runs ordered by start time, newest first.
func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) ([]*pipeline.Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			id, mode, forced, start_time, end_time,
			results, success_rate, trained_count, rolled_back, status
		FROM pipeline_runs
		ORDER BY start_time DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*pipeline.Run
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// scanRun scans a run from a query result.
func (r *PostgresRepository) scanRun(row pgx.Row) (*pipeline.Run, error) {
	var run pipeline.Run
	var results []byte

	err := row.Scan(
		&run.ID,
		&run.Mode,
		&run.Forced,
		&run.StartTime,
		&run.EndTime,
		&results,
		&run.SuccessRate,
		&run.TrainedCount,
		&run.RolledBack,
		&run.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	if len(results) > 0 {
		if err := json.Unmarshal(results, &run.Results); err != nil {
			return nil, fmt.Errorf("decoding run results: %w", err)
		}
	}

	return &run, nil
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
