package schedule

import "time"

const (
	TaskGrantItem = "grant-item"

	StateScheduled = "SCHEDULED"
	StateFulfilled = "FULFILLED"
	StateFailed    = "FAILED"
)

// Task is a persisted deferred-fulfillment record. It is created
// inside the commit that paid the cost side and consumed exactly once
// by the dispatcher.
type Task struct {
	ID          string
	GuildID     string
	Type        string
	State       string
	ScheduledAt time.Time
	DueAt       time.Time
	Args        map[string]string
	Failure     string
}
