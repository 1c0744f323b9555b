package selfheal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RecoveryStrategy attempts to restore a single dependency. Implementations
// issue a remote control action, wait for it to settle, and probe the
// dependency's health. A false return (with or without an error) means the
// dependency is still unhealthy.
type RecoveryStrategy interface {
	Recover(ctx context.Context) (bool, error)
}

// ManagerConfig holds configuration for the self-healing manager.
type ManagerConfig struct {
	Logger zerolog.Logger

	// MonitorInterval is the cadence of the monitoring loop.
	// Default: 60 seconds
	MonitorInterval time.Duration

	// Cooldown is how long the monitoring loop sleeps after an unexpected
	// error in its body. Default: 60 seconds
	Cooldown time.Duration

	// RecoveryThreshold is the health score below which the monitor
	// attempts recovery. Default: 0.5
	RecoveryThreshold float64

	// HistorySize bounds the recovery event log. Default: 100
	HistorySize int

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// trackedService bundles the per-service state the manager owns.
type trackedService struct {
	name     string
	breaker  *Breaker
	score    *HealthScore
	strategy RecoveryStrategy

	// recovering serializes recovery and restart of this service between
	// the monitor loop and the training pipeline.
	recovering sync.Mutex
}

// Manager owns a circuit breaker, health score, and recovery strategy per
// tracked service. All shared state is guarded by a single mutex; recovery
// strategies run outside the lock.
type Manager struct {
	logger            zerolog.Logger
	monitorInterval   time.Duration
	cooldown          time.Duration
	recoveryThreshold float64
	now               func() time.Time

	mu       sync.RWMutex
	services map[string]*trackedService
	history  *eventLog
}

// NewManager creates a manager with no tracked services.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 60 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.RecoveryThreshold <= 0 {
		cfg.RecoveryThreshold = 0.5
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Manager{
		logger:            cfg.Logger,
		monitorInterval:   cfg.MonitorInterval,
		cooldown:          cfg.Cooldown,
		recoveryThreshold: cfg.RecoveryThreshold,
		now:               cfg.Clock,
		services:          make(map[string]*trackedService),
		history:           newEventLog(cfg.HistorySize),
	}
}

// Register adds a service to track. Services are registered once at startup
// and live for the process lifetime.
func (m *Manager) Register(name string, strategy RecoveryStrategy, breakerCfg BreakerConfig) {
	if breakerCfg.Clock == nil {
		breakerCfg.Clock = m.now
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[name] = &trackedService{
		name:     name,
		breaker:  NewBreaker(breakerCfg),
		score:    NewHealthScore(),
		strategy: strategy,
	}
}

// CheckCircuit reports whether calls to the named service may proceed.
// Unknown services are fail-open: untracked dependencies are never blocked.
func (m *Manager) CheckCircuit(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.services[name]
	if !ok {
		return true
	}
	return svc.breaker.Available()
}

// RecordSuccess reports a successful interaction with a service.
func (m *Manager) RecordSuccess(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.services[name]
	if !ok {
		return
	}
	svc.breaker.RecordSuccess()
	svc.score.RecordSuccess()
}

// RecordFailure reports a failed interaction with a service and appends a
// failure event to the history.
func (m *Manager) RecordFailure(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.services[name]
	if !ok {
		return
	}
	svc.breaker.RecordFailure()
	svc.score.RecordFailure()

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	m.history.append(Event{
		Service:   name,
		Error:     errMsg,
		Timestamp: m.now(),
		Action:    ActionFailureRecorded,
	})
}

// AttemptRecovery invokes the service's recovery strategy. On success the
// outcome is recorded as a normal success; on failure a recovery_failed
// event is appended. Panics from the strategy are caught and treated as
// failed recoveries, never propagated.
func (m *Manager) AttemptRecovery(ctx context.Context, name string) (recovered bool) {
	m.mu.RLock()
	svc, ok := m.services[name]
	m.mu.RUnlock()

	if !ok {
		m.logger.Warn().Str("service", name).Msg("recovery requested for unknown service")
		return false
	}

	if !svc.recovering.TryLock() {
		m.logger.Debug().Str("service", name).Msg("recovery already in progress, skipping")
		return false
	}
	defer svc.recovering.Unlock()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("service", name).Interface("panic", r).Msg("recovery strategy panicked")
			m.appendEvent(name, fmt.Sprintf("panic: %v", r), ActionRecoveryFailed)
			recovered = false
		}
	}()

	m.logger.Info().Str("service", name).Msg("attempting recovery")

	success, err := svc.strategy.Recover(ctx)
	if err != nil || !success {
		errMsg := "recovery returned unhealthy"
		if err != nil {
			errMsg = err.Error()
		}
		m.logger.Warn().Str("service", name).Str("error", errMsg).Msg("recovery failed")
		m.appendEvent(name, errMsg, ActionRecoveryFailed)
		return false
	}

	m.RecordSuccess(name)
	m.appendEvent(name, "", ActionRecoverySuccess)
	m.logger.Info().Str("service", name).Msg("recovery succeeded")
	return true
}

func (m *Manager) appendEvent(service, errMsg string, action Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history.append(Event{
		Service:   service,
		Error:     errMsg,
		Timestamp: m.now(),
		Action:    action,
	})
}

// ServiceHealth is a point-in-time view of one tracked service.
type ServiceHealth struct {
	Name         string  `json:"name"`
	State        string  `json:"state"`
	FailureCount int     `json:"failure_count"`
	HealthScore  float64 `json:"health_score"`
	Available    bool    `json:"available"`
}

// Report is a snapshot of all tracked services and recent recovery events.
type Report struct {
	GeneratedAt  time.Time       `json:"generated_at"`
	Services     []ServiceHealth `json:"services"`
	RecentEvents []Event         `json:"recent_events"`
}

// reportEventCount is how many recent events a health report includes.
const reportEventCount = 10

// HealthReport returns a snapshot of each service's breaker state, failure
// count, health score, and availability, plus the most recent events.
func (m *Manager) HealthReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	services := make([]ServiceHealth, 0, len(m.services))
	for _, svc := range m.services {
		services = append(services, ServiceHealth{
			Name:         svc.name,
			State:        svc.breaker.State().String(),
			FailureCount: svc.breaker.FailureCount(),
			HealthScore:  svc.score.Value(),
			Available:    svc.breaker.Available(),
		})
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })

	return Report{
		GeneratedAt:  m.now(),
		Services:     services,
		RecentEvents: m.history.recent(reportEventCount),
	}
}

// HealthScore returns the current score for a service, or 1.0 for unknown
// services (consistent with CheckCircuit's fail-open behavior).
func (m *Manager) HealthScore(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	svc, ok := m.services[name]
	if !ok {
		return 1.0
	}
	return svc.score.Value()
}

// Monitor runs the healing loop until ctx is cancelled. Every interval it
// attempts recovery for each service whose health score has dropped below
// the recovery threshold and whose circuit allows a call. An unexpected
// error in the loop body is logged and followed by a cooldown sleep; the
// loop itself never terminates on a single failure.
func (m *Manager) Monitor(ctx context.Context) {
	m.logger.Info().
		Dur("interval", m.monitorInterval).
		Float64("recovery_threshold", m.recoveryThreshold).
		Msg("starting health monitor loop")

	ticker := time.NewTicker(m.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health monitor loop stopped")
			return
		case <-ticker.C:
		}

		if err := m.healPass(ctx); err != nil {
			m.logger.Error().Err(err).Msg("health monitor pass failed, cooling down")
			select {
			case <-ctx.Done():
				m.logger.Info().Msg("health monitor loop stopped")
				return
			case <-time.After(m.cooldown):
			}
		}
	}
}

// healPass is one iteration of the monitoring loop.
func (m *Manager) healPass(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor pass panicked: %v", r)
		}
	}()

	for _, name := range m.serviceNames() {
		if m.HealthScore(name) < m.recoveryThreshold && m.CheckCircuit(name) {
			m.AttemptRecovery(ctx, name)
		}
	}
	return nil
}

func (m *Manager) serviceNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.services))
	for name := range m.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
