package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dividash/modelops/internal/backup"
	"github.com/dividash/modelops/internal/pipeline"
	"github.com/dividash/modelops/internal/selfheal"
	"github.com/dividash/modelops/internal/validate"
)

// fakeTrainer is a scriptable training job.
type fakeTrainer struct {
	name    string
	typ     validate.ModelType
	metrics map[string]float64
	err     error
	sleep   time.Duration
	dir     string
	onTrain func()
}

func (t *fakeTrainer) Name() string             { return t.name }
func (t *fakeTrainer) Type() validate.ModelType { return t.typ }

func (t *fakeTrainer) Train(ctx context.Context) (*pipeline.Artifact, error) {
	if t.onTrain != nil {
		t.onTrain()
	}
	if t.sleep > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.sleep):
		}
	}
	if t.err != nil {
		return nil, t.err
	}

	path := filepath.Join(t.dir, t.name+".pkl")
	if err := os.WriteFile(path, []byte("weights-"+t.name), 0o644); err != nil {
		return nil, err
	}
	return &pipeline.Artifact{
		ModelName:   t.name,
		Type:        t.typ,
		TrainedAt:   time.Now(),
		StoragePath: path,
		Metrics:     t.metrics,
	}, nil
}

// restartSpy records inference restart attempts.
type restartSpy struct {
	calls atomic.Int32
}

func (s *restartSpy) Recover(_ context.Context) (bool, error) {
	s.calls.Add(1)
	return true, nil
}

// memoryRuns captures persisted runs.
type memoryRuns struct {
	mu   sync.Mutex
	runs []*pipeline.Run
}

func (m *memoryRuns) Save(_ context.Context, run *pipeline.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// noteSink captures notifications.
type noteSink struct {
	mu       sync.Mutex
	messages []string
	success  []bool
}

func (n *noteSink) Notify(_ context.Context, message string, success bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	n.success = append(n.success, success)
}

type testEnv struct {
	production string
	workdir    string
	store      *backup.Store
	manager    *selfheal.Manager
	restarts   *restartSpy
	runs       *memoryRuns
	notes      *noteSink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	production := filepath.Join(root, "production")
	require.NoError(t, os.MkdirAll(production, 0o755))

	store, err := backup.NewStore(backup.StoreConfig{
		Root:   filepath.Join(root, "backups"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	restarts := &restartSpy{}
	manager := selfheal.NewManager(selfheal.ManagerConfig{Logger: zerolog.Nop()})
	manager.Register("inference-api", restarts, selfheal.BreakerConfig{})

	return &testEnv{
		production: production,
		workdir:    filepath.Join(root, "work"),
		store:      store,
		manager:    manager,
		restarts:   restarts,
		runs:       &memoryRuns{},
		notes:      &noteSink{},
	}
}

func (e *testEnv) newPipeline(t *testing.T, trainers []pipeline.Trainer, opts ...func(*pipeline.Config)) *pipeline.Pipeline {
	t.Helper()
	require.NoError(t, os.MkdirAll(e.workdir, 0o755))

	cfg := pipeline.Config{
		Logger:        zerolog.Nop(),
		Backups:       e.store,
		Validator:     validate.NewValidator(validate.ValidatorConfig{Logger: zerolog.Nop()}),
		Manager:       e.manager,
		Runs:          e.runs,
		Notifier:      e.notes,
		Trainers:      trainers,
		ProductionDir: e.production,
		TrainTimeout:  time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return pipeline.New(cfg)
}

// promoteRecord seeds a production artifact record so freshness checks and
// validation sweeps have something to read.
func (e *testEnv) promoteRecord(t *testing.T, model string, typ validate.ModelType, trainedAt time.Time, metrics map[string]float64) {
	t.Helper()
	rec := map[string]interface{}{
		"model_name": model,
		"type":       typ,
		"trained_at": trainedAt,
		"metrics":    metrics,
	}
	writeJSON(t, filepath.Join(e.production, model+".metrics.json"), rec)
	require.NoError(t, os.WriteFile(filepath.Join(e.production, model+".pkl"), []byte("old-"+model), 0o644))
}

func regressionTrainer(env *testEnv, name string, r2 float64) *fakeTrainer {
	return &fakeTrainer{
		name:    name,
		typ:     validate.TypeRegression,
		metrics: map[string]float64{"r2": r2},
		dir:     env.workdir,
	}
}

func TestPipeline_HealthyRunPromotesAndRestarts(t *testing.T) {
	env := newTestEnv(t)

	// Seven models: five succeed, one is fresh enough to skip, one fails.
	trainers := []pipeline.Trainer{
		regressionTrainer(env, "dividend_growth", 0.84),
		regressionTrainer(env, "yield_forecast", 0.91),
		regressionTrainer(env, "payout_trend", 0.78),
		regressionTrainer(env, "price_momentum", 0.82),
		regressionTrainer(env, "income_projection", 0.88),
		regressionTrainer(env, "sector_rotation", 0.75), // will be skipped
		&fakeTrainer{name: "broken_model", typ: validate.TypeRegression, err: errors.New("feature store unreachable"), dir: env.workdir},
	}
	env.promoteRecord(t, "sector_rotation", validate.TypeRegression, time.Now().Add(-time.Hour), map[string]float64{"r2": 0.75})

	p := env.newPipeline(t, trainers)
	run, err := p.Run(context.Background(), pipeline.RunOptions{})
	require.NoError(t, err)

	assert.InDelta(t, 6.0/7.0, run.SuccessRate, 1e-9)
	assert.Equal(t, pipeline.RunStatusHealthy, run.Status)
	assert.Equal(t, 5, run.TrainedCount)
	assert.False(t, run.RolledBack)

	// At least one model actually trained, so inference restarts.
	assert.Equal(t, int32(1), env.restarts.calls.Load())

	// Promoted artifacts replaced the production copies.
	got, err := os.ReadFile(filepath.Join(env.production, "dividend_growth.pkl"))
	require.NoError(t, err)
	assert.Equal(t, "weights-dividend_growth", string(got))

	// Run record persisted.
	require.Len(t, env.runs.runs, 1)
	assert.Equal(t, run.ID, env.runs.runs[0].ID)
}

func TestPipeline_SkipOnlyRunDoesNotRestart(t *testing.T) {
	env := newTestEnv(t)

	trainers := []pipeline.Trainer{
		regressionTrainer(env, "dividend_growth", 0.84),
		regressionTrainer(env, "yield_forecast", 0.91),
	}
	env.promoteRecord(t, "dividend_growth", validate.TypeRegression, time.Now().Add(-time.Hour), map[string]float64{"r2": 0.84})
	env.promoteRecord(t, "yield_forecast", validate.TypeRegression, time.Now().Add(-2*time.Hour), map[string]float64{"r2": 0.91})

	p := env.newPipeline(t, trainers)
	run, err := p.Run(context.Background(), pipeline.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, run.SuccessRate)
	assert.Equal(t, pipeline.RunStatusHealthy, run.Status)
	assert.Equal(t, 0, run.TrainedCount)
	assert.Equal(t, int32(0), env.restarts.calls.Load())
}

func TestPipeline_ForceBypassesFreshness(t *testing.T) {
	env := newTestEnv(t)

	trainers := []pipeline.Trainer{regressionTrainer(env, "dividend_growth", 0.84)}
	env.promoteRecord(t, "dividend_growth", validate.TypeRegression, time.Now().Add(-time.Hour), map[string]float64{"r2": 0.80})

	p := env.newPipeline(t, trainers)
	run, err := p.Run(context.Background(), pipeline.RunOptions{Force: true})
	require.NoError(t, err)

	assert.Equal(t, 1, run.TrainedCount)
	assert.Equal(t, pipeline.OutcomeSuccess, run.Results[0].Outcome)
}

func TestPipeline_RejectedArtifactRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.promoteRecord(t, "dividend_growth", validate.TypeRegression, time.Now().Add(-30*24*time.Hour), map[string]float64{"r2": 0.82})

	// Metric 0.65 against the 0.70 regression threshold: rejected.
	trainers := []pipeline.Trainer{regressionTrainer(env, "dividend_growth", 0.65)}

	p := env.newPipeline(t, trainers)
	run, err := p.Run(context.Background(), pipeline.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, pipeline.OutcomeFailed, run.Results[0].Outcome)
	assert.Contains(t, run.Results[0].Reason, "below threshold")
	assert.True(t, run.RolledBack)
	assert.Equal(t, pipeline.RunStatusNeedsAttention, run.Status)

	// The entry snapshot was restored, so production still holds the old
	// artifact bytes.
	got, err := os.ReadFile(filepath.Join(env.production, "dividend_growth.pkl"))
	require.NoError(t, err)
	assert.Equal(t, "old-dividend_growth", string(got))

	// Rollback restarts inference onto the restored artifacts.
	assert.Equal(t, int32(1), env.restarts.calls.Load())
}

func TestPipeline_TimeoutMapsToTimeoutOutcome(t *testing.T) {
	env := newTestEnv(t)

	trainers := []pipeline.Trainer{
		&fakeTrainer{
			name:    "slow_model",
			typ:     validate.TypeRegression,
			metrics: map[string]float64{"r2": 0.9},
			sleep:   time.Second,
			dir:     env.workdir,
		},
	}

	p := env.newPipeline(t, trainers, func(cfg *pipeline.Config) {
		cfg.TrainTimeout = 20 * time.Millisecond
	})
	run, err := p.Run(context.Background(), pipeline.RunOptions{Force: true})
	require.NoError(t, err)

	assert.Equal(t, pipeline.OutcomeTimeout, run.Results[0].Outcome)
	assert.True(t, run.RolledBack)
}

func TestPipeline_RollbackFailureIsFatal(t *testing.T) {
	env := newTestEnv(t)
	env.promoteRecord(t, "dividend_growth", validate.TypeRegression, time.Now().Add(-30*24*time.Hour), map[string]float64{"r2": 0.82})

	// The training job destroys the backup root mid-run, so the later
	// rollback restore cannot find its snapshot.
	trainer := regressionTrainer(env, "dividend_growth", 0.10)
	trainer.onTrain = func() {
		snap := env.store.Latest()
		require.NotNil(t, snap)
		require.NoError(t, os.RemoveAll(snap.Path))
	}

	p := env.newPipeline(t, []pipeline.Trainer{trainer})
	run, err := p.Run(context.Background(), pipeline.RunOptions{})

	require.ErrorIs(t, err, pipeline.ErrRollbackFailed)
	require.NotNil(t, run)
	assert.True(t, run.RolledBack)

	// A critical notification went out.
	env.notes.mu.Lock()
	defer env.notes.mu.Unlock()
	require.NotEmpty(t, env.notes.messages)
	assert.Contains(t, env.notes.messages[len(env.notes.messages)-1], "CRITICAL")
}

func TestPipeline_IncrementalModeSelectsSubset(t *testing.T) {
	env := newTestEnv(t)

	trainers := []pipeline.Trainer{
		regressionTrainer(env, "dividend_growth", 0.84),
		regressionTrainer(env, "yield_forecast", 0.91),
	}

	p := env.newPipeline(t, trainers, func(cfg *pipeline.Config) {
		cfg.IncrementalModels = []string{"yield_forecast"}
	})
	run, err := p.Run(context.Background(), pipeline.RunOptions{Mode: pipeline.ModeIncremental, Force: true})
	require.NoError(t, err)

	require.Len(t, run.Results, 1)
	assert.Equal(t, "yield_forecast", run.Results[0].Model)
}

func TestPipeline_ValidationSweep(t *testing.T) {
	env := newTestEnv(t)
	env.promoteRecord(t, "dividend_growth", validate.TypeRegression, time.Now(), map[string]float64{"r2": 0.84})
	env.promoteRecord(t, "yield_forecast", validate.TypeRegression, time.Now(), map[string]float64{"r2": 0.50})

	trainers := []pipeline.Trainer{
		regressionTrainer(env, "dividend_growth", 0.84),
		regressionTrainer(env, "yield_forecast", 0.91),
		regressionTrainer(env, "never_promoted", 0.80),
	}

	p := env.newPipeline(t, trainers)
	run, err := p.Run(context.Background(), pipeline.RunOptions{Mode: pipeline.ModeValidate})
	require.NoError(t, err)

	outcomes := map[string]pipeline.Outcome{}
	for _, r := range run.Results {
		outcomes[r.Model] = r.Outcome
	}
	assert.Equal(t, pipeline.OutcomeSuccess, outcomes["dividend_growth"])
	assert.Equal(t, pipeline.OutcomeFailed, outcomes["yield_forecast"])
	assert.Equal(t, pipeline.OutcomeFailed, outcomes["never_promoted"])

	// A sweep never retrains, promotes, rolls back, or restarts.
	assert.False(t, run.RolledBack)
	assert.Equal(t, int32(0), env.restarts.calls.Load())
}

func TestPipeline_ConcurrentRunRejected(t *testing.T) {
	env := newTestEnv(t)

	trainers := []pipeline.Trainer{
		&fakeTrainer{
			name:    "slow_model",
			typ:     validate.TypeRegression,
			metrics: map[string]float64{"r2": 0.9},
			sleep:   200 * time.Millisecond,
			dir:     env.workdir,
		},
	}

	p := env.newPipeline(t, trainers)

	done := make(chan struct{})
	go func() {
		_, _ = p.Run(context.Background(), pipeline.RunOptions{Force: true})
		close(done)
	}()

	require.Eventually(t, func() bool {
		return p.State() == pipeline.StateTraining
	}, time.Second, 5*time.Millisecond)

	_, err := p.Run(context.Background(), pipeline.RunOptions{Force: true})
	assert.ErrorIs(t, err, pipeline.ErrRunInProgress)

	<-done
}

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
