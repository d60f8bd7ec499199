// Package pool provides a bounded worker pool shared by load test runs.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is the pool capacity used when none is configured.
const DefaultSize = 100

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool is closed")

// Task is a unit of work run on the pool.
type Task func(ctx context.Context)

// Pool runs at most Size tasks in parallel. Tasks submitted beyond that
// capacity queue until a slot frees up; queuing is backpressure, not an
// error.
//
// Every accepted task is invoked exactly once. If a queued task's context is
// cancelled before it obtains a slot, it is invoked immediately with that
// cancelled context and without occupying a slot, so the task can observe
// cancellation and run its own cleanup.
type Pool struct {
	size int64
	sem  *semaphore.Weighted

	queued    atomic.Int64
	active    atomic.Int64
	completed atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	Size      int   `json:"size"`
	Queued    int   `json:"queued"`
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
}

// New creates a pool that runs at most size tasks at once.
// A non-positive size uses DefaultSize.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Size returns the pool capacity.
func (p *Pool) Size() int {
	return int(p.size)
}

// Submit schedules task. It never blocks on capacity.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	p.queued.Add(1)
	p.wg.Add(1)
	go p.run(ctx, task)
	return nil
}

func (p *Pool) run(ctx context.Context, task Task) {
	defer p.wg.Done()
	defer p.completed.Add(1)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.queued.Add(-1)
		task(ctx)
		return
	}
	defer p.sem.Release(1)

	p.queued.Add(-1)
	p.active.Add(1)
	defer p.active.Add(-1)

	task(ctx)
}

// Stats returns current usage.
func (p *Pool) Stats() Stats {
	return Stats{
		Size:      int(p.size),
		Queued:    int(p.queued.Load()),
		Active:    int(p.active.Load()),
		Completed: p.completed.Load(),
	}
}

// Close stops accepting tasks and waits for accepted ones to finish or for
// ctx to be done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
