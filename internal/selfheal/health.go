package selfheal

// Health score adjustment deltas. The score only ever moves by these fixed
// amounts and stays clamped to [0, 1].
const (
	healthSuccessDelta = 0.1
	healthFailureDelta = 0.2
)

// HealthScore is a bounded reputation scalar for a service. It starts at 1.0,
// recovers by +0.1 on success and decays by -0.2 on failure. The Manager uses
// it as a secondary signal to trigger proactive recovery before the circuit
// opens.
type HealthScore struct {
	value float64
}

// NewHealthScore returns a score at the initial value of 1.0.
func NewHealthScore() *HealthScore {
	return &HealthScore{value: 1.0}
}

// RecordSuccess nudges the score up, capped at 1.0.
func (h *HealthScore) RecordSuccess() {
	h.value += healthSuccessDelta
	if h.value > 1.0 {
		h.value = 1.0
	}
}

// RecordFailure nudges the score down, floored at 0.0.
func (h *HealthScore) RecordFailure() {
	h.value -= healthFailureDelta
	if h.value < 0.0 {
		h.value = 0.0
	}
}

// Value returns the current score.
func (h *HealthScore) Value() float64 {
	return h.value
}
