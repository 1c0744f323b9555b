// Package notify delivers best-effort run notifications to a webhook
// (Slack-compatible or any JSON endpoint).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dividash/modelops/internal/pipeline"
	"github.com/dividash/modelops/internal/resilience"
)

// WebhookConfig holds configuration for the webhook notifier.
type WebhookConfig struct {
	// URL is the webhook endpoint (required).
	URL string

	// Client is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	Client *resilience.Client

	// Timeout bounds each delivery. Default: 10 seconds
	Timeout time.Duration

	// Logger for delivery failures.
	Logger zerolog.Logger
}

// WebhookNotifier posts run notifications as JSON. Delivery is best-effort:
// failures are logged and swallowed so a flaky webhook never affects a run.
// It implements pipeline.Notifier.
type WebhookNotifier struct {
	url     string
	client  *resilience.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// payload is the webhook body.
type payload struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		cc := resilience.DefaultClientConfig("webhook-notifier")
		cc.Timeout = cfg.Timeout
		client = resilience.NewClient(cc)
	}
	return &WebhookNotifier{
		url:     cfg.URL,
		client:  client,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Notify posts a message to the webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, message string, success bool) {
	body, err := json.Marshal(payload{Message: message, Success: success})
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to encode notification")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to build notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn().Err(err).Str("url", n.url).Msg("notification delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn().Int("status", resp.StatusCode).Str("url", n.url).Msg("webhook rejected notification")
		return
	}

	n.logger.Debug().Bool("success", success).Msg("notification delivered")
}

// Ensure WebhookNotifier implements the pipeline's notifier interface.
var _ pipeline.Notifier = (*WebhookNotifier)(nil)
