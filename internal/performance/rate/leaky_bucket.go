// Package rate caps how often targets are invoked across all virtual users
// of a run.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/vuload/internal/performance/clock"
)

// LeakyBucket releases callers at a fixed rate.
//
// Each Reserve hands out the next free slot on a schedule that advances by
// 1/rate per call. Callers that arrive when the schedule has fallen behind
// run immediately, with at most maxBurst slots released back to back.
//
// # Thread Safety
//
// LeakyBucket is safe for concurrent use. All virtual users of a run share
// one bucket, so the cap applies to the run as a whole.
type LeakyBucket struct {
	mu       sync.Mutex
	clock    clock.Clock
	interval time.Duration
	maxBurst int
	next     time.Time

	released atomic.Int64
	waited   atomic.Int64
}

// NewLeakyBucket creates a bucket releasing perSecond callers per second
// with no bursting. A non-positive rate is treated as 1/s.
func NewLeakyBucket(perSecond float64) *LeakyBucket {
	return NewLeakyBucketWithClock(perSecond, 1, clock.New())
}

// NewLeakyBucketWithClock creates a bucket paced by clk. maxBurst below 1 is
// treated as 1.
func NewLeakyBucketWithClock(perSecond float64, maxBurst int, clk clock.Clock) *LeakyBucket {
	if clk == nil {
		clk = clock.New()
	}
	if maxBurst < 1 {
		maxBurst = 1
	}
	return &LeakyBucket{
		clock:    clk,
		interval: intervalFor(perSecond),
		maxBurst: maxBurst,
		next:     clk.Now(),
	}
}

func intervalFor(perSecond float64) time.Duration {
	if perSecond <= 0 {
		perSecond = 1
	}
	return time.Duration(float64(time.Second) / perSecond)
}

// Reserve claims the next slot and returns how long the caller must wait
// before using it.
func (lb *LeakyBucket) Reserve() time.Duration {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := lb.clock.Now()

	// An idle bucket may release at most maxBurst slots immediately.
	earliest := now.Add(-time.Duration(lb.maxBurst-1) * lb.interval)
	if lb.next.Before(earliest) {
		lb.next = earliest
	}

	slot := lb.next
	lb.next = lb.next.Add(lb.interval)
	lb.released.Add(1)

	wait := slot.Sub(now)
	if wait < 0 {
		return 0
	}
	lb.waited.Add(int64(wait))
	return wait
}

// Wait blocks until the caller's slot arrives or ctx is done.
//
// A caller whose wait is interrupted still consumed its slot.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	wait := lb.Reserve()
	if wait == 0 {
		return ctx.Err()
	}
	return lb.clock.Sleep(ctx, wait)
}

// SetRate changes the release rate. The schedule restarts from now so a
// lower rate never releases a backlog.
func (lb *LeakyBucket) SetRate(perSecond float64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.interval = intervalFor(perSecond)
	lb.next = lb.clock.Now()
}

// Rate returns the release rate per second.
func (lb *LeakyBucket) Rate() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return float64(time.Second) / float64(lb.interval)
}

// Stats describes what the bucket has done so far.
type Stats struct {
	Rate      float64       `json:"rate"`
	MaxBurst  int           `json:"maxBurst"`
	Released  int64         `json:"released"`
	TotalWait time.Duration `json:"totalWait"`
}

// Stats returns the bucket's counters.
func (lb *LeakyBucket) Stats() Stats {
	return Stats{
		Rate:      lb.Rate(),
		MaxBurst:  lb.maxBurst,
		Released:  lb.released.Load(),
		TotalWait: time.Duration(lb.waited.Load()),
	}
}
