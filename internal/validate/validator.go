// Package validate applies per-model-type performance thresholds to trained
// artifacts. It does not understand what a model predicts, only whether its
// measured performance clears the configured bar.
package validate

import (
	"fmt"

	"github.com/rs/zerolog"
)

// ModelType classifies a model for threshold lookup.
type ModelType string

// Supported model types.
const (
	TypeRegression     ModelType = "regression"
	TypeClassification ModelType = "classification"
	TypeClustering     ModelType = "clustering"
	TypeAnomaly        ModelType = "anomaly"
)

// Threshold is the acceptance rule for one model type's primary metric.
// With Max set, the value must fall within [Min, Max]; otherwise it must
// exceed Min.
type Threshold struct {
	// Metric is the name of the primary metric in the artifact's metrics map.
	Metric string

	// Min is the lower bound.
	Min float64

	// Max, when non-zero, makes the threshold a band: [Min, Max] inclusive.
	Max float64
}

// Accepts reports whether a metric value clears this threshold.
func (t Threshold) Accepts(value float64) bool {
	if t.Max > 0 {
		return value >= t.Min && value <= t.Max
	}
	return value > t.Min
}

// DefaultThresholds returns the acceptance thresholds for each model type.
// Static configuration, read-only at runtime.
func DefaultThresholds() map[ModelType]Threshold {
	return map[ModelType]Threshold{
		TypeRegression:     {Metric: "r2", Min: 0.70},
		TypeClassification: {Metric: "accuracy", Min: 0.80},
		TypeClustering:     {Metric: "silhouette", Min: 0.30},
		TypeAnomaly:        {Metric: "flagged_fraction", Min: 0.05, Max: 0.20},
	}
}

// Result is the outcome of validating one artifact.
type Result struct {
	Valid  bool    `json:"valid"`
	Reason string  `json:"reason,omitempty"`
	Metric string  `json:"metric,omitempty"`
	Value  float64 `json:"value,omitempty"`
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	// Thresholds maps model types to acceptance rules.
	// If nil, uses DefaultThresholds.
	Thresholds map[ModelType]Threshold

	// Logger for validation decisions.
	Logger zerolog.Logger
}

// Validator compares trained artifacts against per-type thresholds.
type Validator struct {
	thresholds map[ModelType]Threshold
	logger     zerolog.Logger
}

// NewValidator creates a validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	thresholds := cfg.Thresholds
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	return &Validator{
		thresholds: thresholds,
		logger:     cfg.Logger,
	}
}

// Validate checks a model's reported metrics against the threshold for its
// type. Unknown model types are rejected explicitly, never silently passed.
func (v *Validator) Validate(model string, typ ModelType, metrics map[string]float64) Result {
	threshold, ok := v.thresholds[typ]
	if !ok {
		v.logger.Warn().Str("model", model).Str("type", string(typ)).Msg("no threshold configured")
		return Result{
			Valid:  false,
			Reason: fmt.Sprintf("no threshold configured for model type %q", typ),
		}
	}

	value, ok := metrics[threshold.Metric]
	if !ok {
		return Result{
			Valid:  false,
			Reason: fmt.Sprintf("metric %q not reported", threshold.Metric),
			Metric: threshold.Metric,
		}
	}

	if !threshold.Accepts(value) {
		reason := fmt.Sprintf("%s %.4f below threshold %.2f", threshold.Metric, value, threshold.Min)
		if threshold.Max > 0 {
			reason = fmt.Sprintf("%s %.4f outside band [%.2f, %.2f]", threshold.Metric, value, threshold.Min, threshold.Max)
		}
		v.logger.Info().
			Str("model", model).
			Str("metric", threshold.Metric).
			Float64("value", value).
			Msg("artifact rejected")
		return Result{Valid: false, Reason: reason, Metric: threshold.Metric, Value: value}
	}

	v.logger.Debug().
		Str("model", model).
		Str("metric", threshold.Metric).
		Float64("value", value).
		Msg("artifact validated")
	return Result{Valid: true, Metric: threshold.Metric, Value: value}
}
