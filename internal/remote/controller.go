// Package remote abstracts the control capability used to restart or repair
// dependent services. The transport (SSH, process manager, container
// orchestrator) is deliberately opaque to callers; this package ships an
// HTTP control-plane implementation.
package remote

import (
	"context"
)

// Result is the outcome of a remote control action.
type Result struct {
	OK     bool   `json:"ok"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
}

// Well-known control actions. Backends may support others.
const (
	ActionRestart      = "restart"
	ActionRestartTimer = "restart-timer"
)

// Controller executes a control action against a named service.
type Controller interface {
	Execute(ctx context.Context, service, action string) (Result, error)
}
