package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dividash/modelops/internal/pipeline"
)

const pipelineMeterName = "github.com/dividash/modelops/internal/telemetry"

// PipelineMetrics records per-run metrics. It implements pipeline.StatusSink
// so it can be fanned out alongside the status document writer.
type PipelineMetrics struct {
	runDuration   metric.Float64Histogram
	runTotal      metric.Int64Counter
	modelsTrained metric.Int64Counter
	rollbacks     metric.Int64Counter
}

// NewPipelineMetrics creates the pipeline metric instruments.
func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter(pipelineMeterName)

	runDuration, err := meter.Float64Histogram(
		"pipeline.run.duration",
		metric.WithDescription("Duration of pipeline runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runTotal, err := meter.Int64Counter(
		"pipeline.run.total",
		metric.WithDescription("Total number of pipeline runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	modelsTrained, err := meter.Int64Counter(
		"pipeline.models.trained",
		metric.WithDescription("Number of models retrained across runs"),
		metric.WithUnit("{model}"),
	)
	if err != nil {
		return nil, err
	}

	rollbacks, err := meter.Int64Counter(
		"pipeline.rollback.total",
		metric.WithDescription("Number of runs that rolled back"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		runDuration:   runDuration,
		runTotal:      runTotal,
		modelsTrained: modelsTrained,
		rollbacks:     rollbacks,
	}, nil
}

// RecordRun records the metrics for a completed run.
func (m *PipelineMetrics) RecordRun(run *pipeline.Run) error {
	// Runs complete outside any request scope.
	ctx := context.Background()

	attrs := metric.WithAttributes(
		attribute.String("pipeline.mode", string(run.Mode)),
		attribute.String("pipeline.status", run.Status),
	)

	m.runDuration.Record(ctx, run.EndTime.Sub(run.StartTime).Seconds(), attrs)
	m.runTotal.Add(ctx, 1, attrs)
	m.modelsTrained.Add(ctx, int64(run.TrainedCount), attrs)
	if run.RolledBack {
		m.rollbacks.Add(ctx, 1, attrs)
	}
	return nil
}

// Ensure PipelineMetrics implements the pipeline's sink interface.
var _ pipeline.StatusSink = (*PipelineMetrics)(nil)
