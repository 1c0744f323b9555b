// Package worker consumes Pub/Sub trigger messages and starts pipeline runs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/dividash/modelops/internal/pipeline"
)

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	pipe             *pipeline.Pipeline
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Pipeline         *pipeline.Pipeline
	Logger           zerolog.Logger
}

// RetrainMessage represents a pipeline trigger message.
type RetrainMessage struct {
	JobType string        `json:"job_type"`
	Mode    pipeline.Mode `json:"mode,omitempty"`
	Force   bool          `json:"force,omitempty"`
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Configure receive settings. Runs are long; one at a time is plenty,
	// and the lease must outlive the slowest training job.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.MaxExtension = 2 * time.Hour

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		pipe:             cfg.Pipeline,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	err := h.dispatch(ctx, msg.Data)
	switch {
	case errors.Is(err, errUnknownJob):
		// Ack unknown messages to prevent redelivery.
		logger.Warn().Err(err).Msg("dropping unknown message")
		msg.Ack()
	case errors.Is(err, pipeline.ErrRunInProgress):
		// Another run holds the lock; redeliver later.
		logger.Info().Msg("run in progress, nacking for redelivery")
		msg.Nack()
	case err != nil:
		logger.Error().Err(err).Msg("job failed")
		msg.Nack()
	default:
		logger.Info().
			Dur("duration", time.Since(startTime)).
			Msg("job completed successfully")
		msg.Ack()
	}
}

var errUnknownJob = errors.New("unknown job type")

// dispatch parses a trigger message and executes the requested run.
func (h *PubSubHandler) dispatch(ctx context.Context, data []byte) error {
	var msg RetrainMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: unparseable payload: %v", errUnknownJob, err)
	}

	var opts pipeline.RunOptions
	switch msg.JobType {
	case "pipeline_run":
		opts = pipeline.RunOptions{Mode: msg.Mode, Force: msg.Force}
	case "validation_sweep":
		opts = pipeline.RunOptions{Mode: pipeline.ModeValidate}
	default:
		return fmt.Errorf("%w: %q", errUnknownJob, msg.JobType)
	}

	run, err := h.pipe.Run(ctx, opts)
	if err != nil {
		return err
	}

	h.logger.Info().
		Str("run_id", run.ID).
		Str("status", run.Status).
		Float64("success_rate", run.SuccessRate).
		Msg("triggered run finished")
	return nil
}
