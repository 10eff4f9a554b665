// Package queue serializes every write against the Things backend. The
// backend is single-writer by nature: AppleScript calls are UI-coupled and
// the URL scheme steals focus, so a single dispatcher executes writes one at
// a time with priority, retry, deadline, and cancellation semantics. Reads
// never pass through here.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/segmentio/ksuid"
	"github.com/sethvargo/go-retry"

	"github.com/thingsmcp/thingsmcp/engine/core"
	"github.com/thingsmcp/thingsmcp/pkg/logger"
)

const (
	defaultMaxDepth    = 256
	defaultMaxAttempts = 3
	defaultTimeout     = 30 * time.Second
	defaultMaxWait     = 2 * time.Minute
	defaultHistorySize = 64

	backoffBase = 1 * time.Second
	backoffCap  = 10 * time.Second
	jitter      = 500 * time.Millisecond
)

type Config struct {
	MaxDepth    int
	MaxAttempts int
	Timeout     time.Duration
	MaxWait     time.Duration
	HistorySize int
}

// Queue is the single-writer operation queue.
type Queue struct {
	cfg Config

	mu      sync.Mutex
	pending [3][]*Operation // indexed by Priority, popped high to low
	byID    map[string]*Operation
	depth   int
	running *Summary
	closed  bool

	history *lru.Cache[string, Summary]
	notify  chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup
}

func New(cfg Config) (*Queue, error) {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	history, err := lru.New[string, Summary](cfg.HistorySize)
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "create queue history", err)
	}
	return &Queue{
		cfg:     cfg,
		byID:    make(map[string]*Operation),
		history: history,
		notify:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}, nil
}

// Start launches the dispatcher. It runs until ctx is canceled or Stop is
// called.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.dispatch(ctx)
}

// Stop shuts the dispatcher down after the in-flight attempt finishes.
// Pending operations fail with Canceled.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.stopped)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue stop timed out: %w", ctx.Err())
	}
}

// Enqueue accepts an operation or rejects it with QueueFull. The op id is
// assigned here when the caller did not set one.
func (q *Queue) Enqueue(op *Operation) error {
	if op.Run == nil {
		return core.NewError(core.CodeInternal, "operation has no run function")
	}
	if op.ID == "" {
		op.ID = ksuid.New().String()
	}
	if op.MaxAttempts <= 0 {
		op.MaxAttempts = q.cfg.MaxAttempts
	}
	if op.Timeout <= 0 {
		op.Timeout = q.cfg.Timeout
	}
	if op.MaxWait <= 0 {
		op.MaxWait = q.cfg.MaxWait
	}
	op.enqueuedAt = time.Now()
	op.deadline = op.enqueuedAt.Add(op.MaxWait)
	op.done = make(chan struct{})

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return core.NewError(core.CodeCanceled, "queue is shut down")
	}
	if q.depth >= q.cfg.MaxDepth {
		q.mu.Unlock()
		return core.NewError(core.CodeQueueFull,
			fmt.Sprintf("write queue is full (%d operations pending)", q.cfg.MaxDepth))
	}
	q.pending[op.Priority] = append(q.pending[op.Priority], op)
	q.byID[op.ID] = op
	q.depth++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Submit enqueues and waits. When the caller's context is canceled before
// completion the op is flagged, any in-flight backend call is left to finish
// with its result discarded, and Canceled is returned.
func (q *Queue) Submit(ctx context.Context, op *Operation) (any, error) {
	if err := q.Enqueue(op); err != nil {
		return nil, err
	}
	select {
	case <-op.done:
		return op.result, op.err
	case <-ctx.Done():
		q.Cancel(op.ID)
		return nil, core.NewError(core.CodeCanceled, "operation canceled by caller")
	}
}

// Cancel flags the operation. Returns false when the id is unknown (already
// terminal and evicted, or never enqueued).
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	op, ok := q.byID[id]
	q.mu.Unlock()
	if !ok {
		return false
	}
	op.Cancel()
	return true
}

// Depth returns the number of operations waiting or running.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// Status snapshots the queue for the status endpoint.
func (q *Queue) Status() Status {
	q.mu.Lock()
	st := Status{Depth: q.depth}
	if q.running != nil {
		cp := *q.running
		st.Running = &cp
	}
	q.mu.Unlock()

	keys := q.history.Keys() // oldest to newest
	st.Recent = make([]Summary, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if s, ok := q.history.Peek(keys[i]); ok {
			st.Recent = append(st.Recent, s)
		}
	}
	return st
}

func (q *Queue) dispatch(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			q.drain()
			return
		case <-q.stopped:
			q.drain()
			return
		case <-q.notify:
		}
		for {
			op := q.pop()
			if op == nil {
				break
			}
			q.execute(ctx, op)
		}
	}
}

// pop takes the next operation, highest priority first, FIFO within a tier.
func (q *Queue) pop() *Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	for p := PriorityHigh; p >= PriorityLow; p-- {
		if len(q.pending[p]) > 0 {
			op := q.pending[p][0]
			q.pending[p] = q.pending[p][1:]
			return op
		}
	}
	return nil
}

func (q *Queue) execute(ctx context.Context, op *Operation) {
	if op.canceled.Load() {
		q.finish(op, StateCanceled, nil, core.NewError(core.CodeCanceled, "operation canceled before dispatch"))
		return
	}
	if time.Now().After(op.deadline) {
		q.finish(op, StateExpired, nil,
			core.NewError(core.CodeOperationExpired, "operation waited past its deadline and was not attempted"))
		return
	}

	q.mu.Lock()
	op.startedAt = time.Now()
	q.running = q.summaryLocked(op, StateRunning, "")
	q.mu.Unlock()

	log := logger.FromContext(ctx).With("op_id", op.ID, "kind", op.Kind)

	backoff := retry.WithMaxRetries(uint64(op.MaxAttempts-1),
		retry.WithJitter(jitter,
			retry.WithCappedDuration(backoffCap,
				retry.NewExponential(backoffBase))))

	var result any
	err := retry.Do(ctx, backoff, func(attemptCtx context.Context) error {
		if op.canceled.Load() {
			return core.NewError(core.CodeCanceled, "operation canceled")
		}
		q.mu.Lock()
		op.attempts++
		attempt := op.attempts
		q.running = q.summaryLocked(op, StateRunning, "")
		q.mu.Unlock()

		runCtx, cancel := context.WithTimeout(attemptCtx, op.Timeout)
		defer cancel()
		r, runErr := op.Run(runCtx)
		if runErr != nil {
			if core.IsTransient(runErr) {
				log.Warn("attempt failed, will retry", "attempt", attempt, "error", runErr)
				return retry.RetryableError(runErr)
			}
			// BackendError gets a single retry before surfacing.
			if core.CodeOf(runErr) == core.CodeBackendError && attempt == 1 {
				log.Warn("backend error, retrying once", "error", runErr)
				return retry.RetryableError(runErr)
			}
			return runErr
		}
		result = r
		return nil
	})

	switch {
	case op.canceled.Load():
		// The backend call was allowed to complete; its result is discarded.
		q.finish(op, StateCanceled, nil, core.NewError(core.CodeCanceled, "operation canceled while running"))
	case err != nil:
		log.Error("operation failed", "attempts", op.attempts, "error", err)
		q.finish(op, StateFailed, nil, err)
	default:
		q.finish(op, StateSucceeded, result, nil)
	}
}

func (q *Queue) finish(op *Operation, state State, result any, err error) {
	q.mu.Lock()
	op.finishedAt = time.Now()
	op.result = result
	op.err = err
	outcome := ""
	if err != nil {
		outcome = string(core.CodeOf(err))
	}
	summary := q.summaryLocked(op, state, outcome)
	q.running = nil
	delete(q.byID, op.ID)
	q.depth--
	q.mu.Unlock()

	q.history.Add(op.ID, *summary)
	close(op.done)
}

func (q *Queue) summaryLocked(op *Operation, state State, outcome string) *Summary {
	s := &Summary{
		ID:         op.ID,
		Kind:       op.Kind,
		Priority:   op.Priority.String(),
		State:      state,
		Attempts:   op.attempts,
		EnqueuedAt: op.enqueuedAt,
		Outcome:    outcome,
	}
	if !op.startedAt.IsZero() {
		t := op.startedAt
		s.StartedAt = &t
	}
	if !op.finishedAt.IsZero() {
		t := op.finishedAt
		s.FinishedAt = &t
	}
	return s
}

// drain fails everything still pending at shutdown.
func (q *Queue) drain() {
	for {
		op := q.pop()
		if op == nil {
			return
		}
		q.finish(op, StateCanceled, nil, core.NewError(core.CodeCanceled, "queue shut down"))
	}
}
