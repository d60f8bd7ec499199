package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wesleyorama2/vuload/internal/performance"
	"github.com/wesleyorama2/vuload/internal/performance/metrics"
)

func newTestRun(t *testing.T) *Run {
	t.Helper()
	_, cancel := context.WithCancel(context.Background())
	r := newRun("run-1", performance.LoadTestSpec{Name: "checkout"}, cancel)
	t.Cleanup(r.live.Stop)
	return r
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := map[Status]bool{
		StatusCreated:   false,
		StatusRunning:   false,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	}
	for s, want := range tests {
		if got := s.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, got, want)
		}
	}
}

func TestRun_Transitions(t *testing.T) {
	tests := []struct {
		name string
		path []Status
		ok   bool
	}{
		{"created to running", []Status{StatusRunning}, true},
		{"running to completed", []Status{StatusRunning, StatusCompleted}, true},
		{"running to failed", []Status{StatusRunning, StatusFailed}, true},
		{"running to cancelled", []Status{StatusRunning, StatusCancelled}, true},
		{"created to completed", []Status{StatusCompleted}, false},
		{"created to cancelled", []Status{StatusCancelled}, false},
		{"running to running", []Status{StatusRunning, StatusRunning}, false},
		{"completed to cancelled", []Status{StatusRunning, StatusCompleted, StatusCancelled}, false},
		{"cancelled to running", []Status{StatusRunning, StatusCancelled, StatusRunning}, false},
		{"failed to completed", []Status{StatusRunning, StatusFailed, StatusCompleted}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRun(t)

			var err error
			r.mu.Lock()
			for _, s := range tt.path {
				if err = r.transition(s); err != nil {
					break
				}
			}
			r.mu.Unlock()

			if tt.ok && err != nil {
				t.Errorf("transition path %v: unexpected error %v", tt.path, err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidState) {
				t.Errorf("transition path %v: error = %v, want ErrInvalidState", tt.path, err)
			}
		})
	}
}

func TestRun_FinishIsFinal(t *testing.T) {
	r := newTestRun(t)
	now := time.Now()

	if err := r.start(now); err != nil {
		t.Fatalf("start() error = %v", err)
	}
	res := &metrics.Result{TotalRequests: 3, SuccessfulRequests: 3}
	if err := r.finish(StatusCompleted, res, nil, now.Add(time.Second)); err != nil {
		t.Fatalf("finish() error = %v", err)
	}

	select {
	case <-r.done:
	default:
		t.Fatal("done channel not closed after finish")
	}

	if err := r.finish(StatusFailed, nil, errors.New("late"), now); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second finish() error = %v, want ErrInvalidState", err)
	}
	if err := r.requestCancel(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("requestCancel() on completed run = %v, want ErrInvalidState", err)
	}

	snap := r.snapshot()
	if snap.Status != StatusCompleted || snap.Result != res || snap.Error != "" {
		t.Errorf("snapshot after rejected transitions = %+v", snap)
	}
	if snap.Name != "checkout" || snap.CompletedAt.Sub(snap.StartedAt) != time.Second {
		t.Errorf("snapshot fields = %+v", snap)
	}
}

func TestRun_CancelBeforeStart(t *testing.T) {
	r := newTestRun(t)
	if err := r.requestCancel(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("requestCancel() on created run = %v, want ErrInvalidState", err)
	}
	if r.wasCancelled() {
		t.Error("rejected cancel must not mark the run")
	}
}

func TestRun_Outcome(t *testing.T) {
	tests := []struct {
		name        string
		runErr      error
		cancel      bool
		interrupted bool
		want        Status
	}{
		{name: "ran to deadline", want: StatusCompleted},
		{name: "cancelled mid run", cancel: true, interrupted: true, want: StatusCancelled},
		{name: "cancel after every user finished", cancel: true, want: StatusCompleted},
		{name: "timeout cut users short", interrupted: true, want: StatusCompleted},
		{name: "error wins", runErr: errors.New("boom"), cancel: true, interrupted: true, want: StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRun(t)
			if err := r.start(time.Now()); err != nil {
				t.Fatalf("start() error = %v", err)
			}
			if tt.cancel {
				if err := r.requestCancel(); err != nil {
					t.Fatalf("requestCancel() error = %v", err)
				}
			}
			r.interrupted.Store(tt.interrupted)

			if got := r.outcome(tt.runErr); got != tt.want {
				t.Errorf("outcome() = %s, want %s", got, tt.want)
			}
		})
	}
}
