package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/vuload/internal/performance"
	"github.com/wesleyorama2/vuload/internal/performance/metrics"
)

var (
	// ErrInvalidState is returned for operations the run's current status
	// does not allow.
	ErrInvalidState = errors.New("invalid run state")

	// ErrRunNotFound is returned for unknown run IDs.
	ErrRunNotFound = errors.New("run not found")
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Run is one execution of a LoadTestSpec. All mutation goes through
// transition, which holds the run lock.
type Run struct {
	id   string
	spec performance.LoadTestSpec
	live *metrics.Engine

	mu              sync.Mutex
	status          Status
	startedAt       time.Time
	completedAt     time.Time
	result          *metrics.Result
	err             error
	cancel          context.CancelFunc
	cancelRequested bool

	// interrupted is set when a virtual user stopped before its deadline.
	interrupted atomic.Bool

	done chan struct{}
}

// RunSnapshot is a value copy of a run's externally visible state.
type RunSnapshot struct {
	ID          string          `json:"id"`
	Name        string          `json:"name,omitempty"`
	Status      Status          `json:"status"`
	StartedAt   time.Time       `json:"startedAt,omitempty"`
	CompletedAt time.Time       `json:"completedAt,omitempty"`
	Result      *metrics.Result `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func newRun(id string, spec performance.LoadTestSpec, cancel context.CancelFunc) *Run {
	return &Run{
		id:     id,
		spec:   spec,
		live:   metrics.NewEngine(),
		status: StatusCreated,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

var allowedTransitions = map[Status][]Status{
	StatusCreated: {StatusRunning},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// transition moves the run to status. The caller must hold r.mu.
func (r *Run) transition(to Status) error {
	for _, next := range allowedTransitions[r.status] {
		if next == to {
			r.status = to
			return nil
		}
	}
	return fmt.Errorf("cannot move run %s from %s to %s: %w", r.id, r.status, to, ErrInvalidState)
}

func (r *Run) start(at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.transition(StatusRunning); err != nil {
		return err
	}
	r.startedAt = at
	return nil
}

// finish records the terminal outcome. result may carry partial metrics
// for a failed run.
func (r *Run) finish(to Status, result *metrics.Result, runErr error, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.transition(to); err != nil {
		return err
	}
	r.result = result
	r.err = runErr
	r.completedAt = at
	close(r.done)
	return nil
}

// requestCancel asks a RUNNING run to stop. Repeated requests while the run
// is still RUNNING are accepted and have no further effect.
func (r *Run) requestCancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusRunning {
		return fmt.Errorf("cannot cancel run %s in status %s: %w", r.id, r.status, ErrInvalidState)
	}
	r.cancelRequested = true
	r.cancel()
	return nil
}

func (r *Run) wasCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelRequested
}

// outcome picks the terminal status. A cancel that arrives after every
// virtual user already ran to its deadline does not make the run CANCELLED.
func (r *Run) outcome(runErr error) Status {
	switch {
	case runErr != nil:
		return StatusFailed
	case r.wasCancelled() && r.interrupted.Load():
		return StatusCancelled
	default:
		return StatusCompleted
	}
}

func (r *Run) currentStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Run) snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := RunSnapshot{
		ID:          r.id,
		Name:        r.spec.Name,
		Status:      r.status,
		StartedAt:   r.startedAt,
		CompletedAt: r.completedAt,
		Result:      r.result,
	}
	if r.err != nil {
		snap.Error = r.err.Error()
	}
	return snap
}
