// Package handler provides HTTP handlers for the model-ops API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dividash/modelops/internal/api/response"
	"github.com/dividash/modelops/internal/pipeline"
	"github.com/dividash/modelops/internal/runstore"
	"github.com/dividash/modelops/internal/selfheal"
	"github.com/dividash/modelops/internal/status"
)

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	manager   *selfheal.Manager
	pipe      *pipeline.Pipeline
	runs      runstore.Repository
	status    *status.Writer
	logger    zerolog.Logger
}

// OpsHandlerConfig holds the dependencies for the ops endpoints.
type OpsHandlerConfig struct {
	Version   string
	BuildTime string
	Manager   *selfheal.Manager
	Pipeline  *pipeline.Pipeline
	Runs      runstore.Repository
	Status    *status.Writer
	Logger    zerolog.Logger
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		manager:   cfg.Manager,
		pipe:      cfg.Pipeline,
		runs:      cfg.Runs,
		status:    cfg.Status,
		logger:    cfg.Logger,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"time":      time.Now().UTC(),
		"version":   h.version,
		"buildTime": h.buildTime,
	})
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// systemStatus is the GET /v1/ops/status body.
type systemStatus struct {
	PipelineState pipeline.State     `json:"pipeline_state"`
	Services      selfheal.Report    `json:"services"`
	Current       *status.Current    `json:"current,omitempty"`
	LastRun       *status.RunSummary `json:"last_run,omitempty"`
}

// SystemStatus handles GET /v1/ops/status - tracked services, pipeline
// state, and the latest run summary.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	out := systemStatus{
		PipelineState: h.pipe.State(),
		Services:      h.manager.HealthReport(),
	}

	if current, err := h.status.Read(); err == nil {
		out.Current = current
	} else if !errors.Is(err, os.ErrNotExist) {
		h.logger.Warn().Err(err).Msg("failed to read current status document")
	}

	if last, err := h.status.LastRun(); err == nil {
		out.LastRun = last
	} else if !errors.Is(err, os.ErrNotExist) {
		h.logger.Warn().Err(err).Msg("failed to read last run document")
	}

	response.JSON(w, r, http.StatusOK, out)
}

// retrainRequest is the POST /v1/runs body.
type retrainRequest struct {
	Mode  pipeline.Mode `json:"mode"`
	Force bool          `json:"force"`
}

// TriggerRun handles POST /v1/runs - starts a pipeline run in the
// background and returns 202. A run already in progress yields 409.
func (h *OpsHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req retrainRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, r, "invalid request body")
			return
		}
	}

	switch req.Mode {
	case "", pipeline.ModeFull, pipeline.ModeIncremental, pipeline.ModeValidate:
	default:
		response.BadRequest(w, r, "unknown mode")
		return
	}

	if h.pipe.State() != pipeline.StateIdle && h.pipe.State() != pipeline.StateDone {
		response.Conflict(w, r, "a run is already in progress")
		return
	}

	opts := pipeline.RunOptions{Mode: req.Mode, Force: req.Force}
	go func() {
		run, err := h.pipe.Run(context.Background(), opts)
		if err != nil {
			if errors.Is(err, pipeline.ErrRunInProgress) {
				h.logger.Warn().Msg("manual run rejected, another run in progress")
				return
			}
			h.logger.Error().Err(err).Msg("manually triggered run failed")
			return
		}
		h.logger.Info().Str("run_id", run.ID).Str("status", run.Status).Msg("manually triggered run finished")
	}()

	response.Accepted(w, r, map[string]string{
		"status": "accepted",
		"mode":   string(opts.Mode),
	})
}

// ListRuns handles GET /v1/runs - run history, newest first.
func (h *OpsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.List(r.Context(), runstore.ListOptions{})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list runs")
		response.InternalError(w, r, "failed to list runs")
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]interface{}{"items": runs})
}

// GetRun handles GET /v1/runs/{runId}.
func (h *OpsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runId")

	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			response.NotFound(w, r, "run not found")
			return
		}
		h.logger.Error().Err(err).Str("run_id", id).Msg("failed to load run")
		response.InternalError(w, r, "failed to load run")
		return
	}
	response.JSON(w, r, http.StatusOK, run)
}
