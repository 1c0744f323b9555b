package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dividash/modelops/internal/api"
	"github.com/dividash/modelops/internal/backup"
	"github.com/dividash/modelops/internal/pipeline"
	"github.com/dividash/modelops/internal/runstore"
	"github.com/dividash/modelops/internal/selfheal"
	"github.com/dividash/modelops/internal/status"
	"github.com/dividash/modelops/internal/validate"
)

type noopStrategy struct{}

func (noopStrategy) Recover(context.Context) (bool, error) { return true, nil }

type routerFixture struct {
	handler http.Handler
	runs    runstore.Repository
}

func newTestRouter(t *testing.T) *routerFixture {
	t.Helper()
	logger := zerolog.New(io.Discard)

	manager := selfheal.NewManager(selfheal.ManagerConfig{Logger: logger})
	manager.Register("inference-api", noopStrategy{}, selfheal.BreakerConfig{})

	store, err := backup.NewStore(backup.StoreConfig{Root: t.TempDir(), Logger: logger})
	require.NoError(t, err)

	writer, err := status.NewWriter(status.WriterConfig{Dir: t.TempDir(), Logger: logger})
	require.NoError(t, err)

	runs := runstore.NewInMemoryRepository()

	pipe := pipeline.New(pipeline.Config{
		Logger:        logger,
		Backups:       store,
		Validator:     validate.NewValidator(validate.ValidatorConfig{Logger: logger}),
		Manager:       manager,
		Runs:          runs,
		Status:        writer,
		ProductionDir: t.TempDir(),
	})

	handler := api.NewRouter(api.RouterConfig{
		Version:   "test",
		BuildTime: "2026-01-01T00:00:00Z",
		Logger:    logger,
		Manager:   manager,
		Pipeline:  pipe,
		Runs:      runs,
		Status:    writer,
	})

	return &routerFixture{handler: handler, runs: runs}
}

func TestRouter_HealthCheck(t *testing.T) {
	f := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestRouter_SystemStatus(t *testing.T) {
	f := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		PipelineState string `json:"pipeline_state"`
		Services      struct {
			Services []struct {
				Name string `json:"name"`
			} `json:"services"`
		} `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "idle", body.PipelineState)
	require.Len(t, body.Services.Services, 1)
	assert.Equal(t, "inference-api", body.Services.Services[0].Name)
}

func TestRouter_TriggerRun(t *testing.T) {
	f := newTestRouter(t)

	payload := bytes.NewBufferString(`{"mode":"full","force":true}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", payload)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	// The run executes in the background and lands in the repository.
	require.Eventually(t, func() bool {
		_, err := f.runs.Latest(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRouter_TriggerRunRejectsUnknownMode(t *testing.T) {
	f := newTestRouter(t)

	payload := bytes.NewBufferString(`{"mode":"hourly"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", payload)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_GetRunNotFound(t *testing.T) {
	f := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/run-does-not-exist", http.NoBody)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_ListRuns(t *testing.T) {
	f := newTestRouter(t)

	run := &pipeline.Run{ID: "run-1", Mode: pipeline.ModeFull, StartTime: time.Now(), Status: pipeline.RunStatusHealthy}
	require.NoError(t, f.runs.Save(context.Background(), run))

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", http.NoBody)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Items []pipeline.Run `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "run-1", body.Items[0].ID)
}
