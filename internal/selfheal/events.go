package selfheal

import (
	"time"
)

// Action identifies what a recovery event records.
type Action string

// Recovery event actions.
const (
	ActionFailureRecorded Action = "failure_recorded"
	ActionRecoverySuccess Action = "recovery_success"
	ActionRecoveryFailed  Action = "recovery_failed"
)

// Event is a single entry in the recovery audit trail. Events are never
// mutated after creation.
type Event struct {
	Service   string    `json:"service"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
}

// eventLog is a bounded FIFO of recovery events. The oldest entries are
// silently evicted once capacity is reached.
type eventLog struct {
	capacity int
	events   []Event
}

func newEventLog(capacity int) *eventLog {
	if capacity <= 0 {
		capacity = 100
	}
	return &eventLog{capacity: capacity}
}

func (l *eventLog) append(e Event) {
	l.events = append(l.events, e)
	if len(l.events) > l.capacity {
		l.events = l.events[len(l.events)-l.capacity:]
	}
}

// recent returns up to n most recent events, newest last.
func (l *eventLog) recent(n int) []Event {
	if n > len(l.events) {
		n = len(l.events)
	}
	out := make([]Event, n)
	copy(out, l.events[len(l.events)-n:])
	return out
}
