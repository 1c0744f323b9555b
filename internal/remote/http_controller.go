package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/dividash/modelops/internal/resilience"
)

// HTTPControllerConfig holds configuration for the HTTP control-plane client.
type HTTPControllerConfig struct {
	// BaseURL is the control-plane base URL (required),
	// e.g. http://ops-controller:9090
	BaseURL string

	// Token is an optional bearer token sent with every request.
	Token string

	// Client is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	Client *resilience.Client

	// Timeout bounds each control call. Default: 30 seconds
	Timeout time.Duration

	// Logger for controller operations.
	Logger zerolog.Logger
}

// HTTPController issues control actions over an HTTP control plane:
// POST {base}/v1/services/{service}/{action}.
type HTTPController struct {
	baseURL string
	token   string
	client  *resilience.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewHTTPController creates a new HTTP control-plane client.
func NewHTTPController(cfg HTTPControllerConfig) *HTTPController {
	client := cfg.Client
	if client == nil {
		client = resilience.NewClient(resilience.DefaultClientConfig("control-plane"))
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPController{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  client,
		timeout: timeout,
		logger:  cfg.Logger,
	}
}

// Execute sends a control action and decodes the control plane's result.
func (c *HTTPController) Execute(ctx context.Context, service, action string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1/services/%s/%s",
		c.baseURL, url.PathEscape(service), url.PathEscape(action))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, http.NoBody)
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("executing control action: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("control plane returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decoding control result: %w", err)
	}

	c.logger.Debug().
		Str("service", service).
		Str("action", action).
		Bool("ok", result.OK).
		Dur("duration", time.Since(start)).
		Msg("control action executed")

	return result, nil
}
