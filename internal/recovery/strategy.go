// Package recovery implements recovery strategies for tracked services.
// Every strategy follows the same three-step contract: issue a remote
// control action, wait a fixed settle time, probe the dependency's health.
package recovery

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dividash/modelops/internal/remote"
)

// Probe checks a dependency's health. Satisfied by *probe.HealthProbe.
type Probe interface {
	Check(ctx context.Context) error
}

// RestartConfig holds configuration for a restart strategy.
type RestartConfig struct {
	// Service is the control-plane name of the service to restore (required).
	Service string

	// Action is the control action to issue. Default: remote.ActionRestart.
	// Scheduled-job services use remote.ActionRestartTimer instead.
	Action string

	// Controller issues the control action (required).
	Controller remote.Controller

	// Probe checks health after the restart (required).
	Probe Probe

	// SettleTime is how long to wait after the control action before
	// probing. Default: 10 seconds
	SettleTime time.Duration

	// Logger for strategy operations.
	Logger zerolog.Logger
}

// RestartStrategy restores a service by restarting it through the remote
// control capability and verifying health afterward. Failures anywhere in
// the three steps yield false; no panic escapes to the caller.
type RestartStrategy struct {
	service    string
	action     string
	controller remote.Controller
	probe      Probe
	settle     time.Duration
	logger     zerolog.Logger
}

// NewRestartStrategy creates a restart strategy.
func NewRestartStrategy(cfg RestartConfig) *RestartStrategy {
	action := cfg.Action
	if action == "" {
		action = remote.ActionRestart
	}

	settle := cfg.SettleTime
	if settle == 0 {
		settle = 10 * time.Second
	}

	return &RestartStrategy{
		service:    cfg.Service,
		action:     action,
		controller: cfg.Controller,
		probe:      cfg.Probe,
		settle:     settle,
		logger:     cfg.Logger,
	}
}

// Recover issues the control action, waits for it to settle, and probes the
// service's health endpoint. Returns true only if all three steps succeed.
func (s *RestartStrategy) Recover(ctx context.Context) (bool, error) {
	s.logger.Info().
		Str("service", s.service).
		Str("action", s.action).
		Msg("issuing control action")

	result, err := s.controller.Execute(ctx, s.service, s.action)
	if err != nil {
		return false, err
	}
	if !result.OK {
		s.logger.Warn().
			Str("service", s.service).
			Str("stderr", result.Stderr).
			Msg("control action reported failure")
		return false, nil
	}

	// Give the service time to come back before probing.
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(s.settle):
	}

	if err := s.probe.Check(ctx); err != nil {
		return false, err
	}

	return true, nil
}
