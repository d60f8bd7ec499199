// Package clock provides the cancellable delay primitive used for ramp-up
// and think-time pacing, with a real implementation and a virtual one for
// deterministic tests.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock tells time and sleeps in a way that can be interrupted.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d or until ctx is done, whichever comes first.
	// It returns ctx.Err() if the sleep was interrupted and nil otherwise.
	// A non-positive d returns immediately (still reporting a done ctx).
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the wall clock.
type Real struct{}

// New returns the wall clock.
func New() Clock {
	return Real{}
}

// Now returns time.Now().
func (Real) Now() time.Time {
	return time.Now()
}

// Sleep waits on a timer or the context.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fake is a virtual clock. Time only moves when Sleep or Advance is called:
// Sleep advances the clock by the requested duration and returns at once, so
// code that paces itself with Sleep runs through hours of virtual time
// instantly.
//
// Fake is safe for concurrent use. Concurrent sleepers each advance the
// shared time, so it is best suited to single-worker tests or tests that only
// assert on ordering and counts.
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
	naps  int
}

// NewFake returns a virtual clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep advances the virtual time by d unless ctx is already done.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	f.mu.Lock()
	f.now = f.now.Add(d)
	f.slept += d
	f.naps++
	f.mu.Unlock()
	return nil
}

// Advance moves the virtual time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Slept returns the total time spent in Sleep and the number of sleeps.
func (f *Fake) Slept() (time.Duration, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slept, f.naps
}
