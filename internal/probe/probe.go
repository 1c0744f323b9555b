// Package probe implements the health probe contract for tracked
// dependencies: a GET that must return a success status within a bounded
// timeout to count as healthy.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dividash/modelops/internal/resilience"
)

// Config holds configuration for a health probe.
type Config struct {
	// URL is the dependency's health endpoint (required).
	URL string

	// Timeout bounds the probe call. Default: 10 seconds
	Timeout time.Duration

	// Client is the HTTP client to use (optional).
	// If nil, uses a resilient client with no retries; a probe is a
	// point-in-time check, not something to paper over with backoff.
	Client *resilience.Client

	// Logger for probe operations.
	Logger zerolog.Logger
}

// HealthProbe checks a single dependency's health endpoint.
type HealthProbe struct {
	url     string
	timeout time.Duration
	client  *resilience.Client
	logger  zerolog.Logger
}

// New creates a health probe.
func New(cfg Config) *HealthProbe {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	client := cfg.Client
	if client == nil {
		clientCfg := resilience.DefaultClientConfig("health-probe")
		clientCfg.Timeout = timeout
		clientCfg.MaxRetries = 1
		client = resilience.NewClient(clientCfg)
	}

	return &HealthProbe{
		url:     cfg.URL,
		timeout: timeout,
		client:  client,
		logger:  cfg.Logger,
	}
}

// Check returns nil if the dependency responded with a success status within
// the timeout. Any non-success status, transport error, or timeout is
// unhealthy.
func (p *HealthProbe) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probing %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe %s returned status %d", p.url, resp.StatusCode)
	}

	p.logger.Debug().Str("url", p.url).Msg("health probe succeeded")
	return nil
}
