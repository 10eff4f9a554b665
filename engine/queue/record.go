package queue

import (
	"context"
	"sync/atomic"
	"time"
)

// Priority orders dispatch. FIFO within a tier.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// State is an operation's lifecycle position:
// pending → (expired) → running → succeeded | failed | canceled, with
// transient failures looping back through pending via backoff.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
	StateExpired   State = "expired"
)

// Operation is one queued write. Run performs the backend call; it must
// honor its context deadline and is never preempted mid-attempt.
type Operation struct {
	ID          string
	Kind        string
	Priority    Priority
	MaxAttempts int
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxWait bounds time spent waiting for dispatch; past it the op fails
	// with OperationExpired without ever starting.
	MaxWait time.Duration
	Run     func(ctx context.Context) (any, error)

	enqueuedAt time.Time
	deadline   time.Time
	startedAt  time.Time
	finishedAt time.Time
	attempts   int
	canceled   atomic.Bool

	done   chan struct{}
	result any
	err    error
}

// Cancel flags the operation. A pending op is dropped before any backend
// call; a running op completes its current attempt and has its result
// discarded.
func (o *Operation) Cancel() {
	o.canceled.Store(true)
}

// Summary is the terse view retained in the recent-history ring and
// surfaced by the queue status endpoint.
type Summary struct {
	ID         string     `json:"op_id"`
	Kind       string     `json:"kind"`
	Priority   string     `json:"priority"`
	State      State      `json:"state"`
	Attempts   int        `json:"attempts"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
}

// Status is the queue's observable state.
type Status struct {
	Depth   int       `json:"queue_depth"`
	Running *Summary  `json:"running,omitempty"`
	Recent  []Summary `json:"recent"`
}
