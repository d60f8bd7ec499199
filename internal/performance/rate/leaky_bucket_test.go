package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wesleyorama2/vuload/internal/performance/clock"
)

func TestNewLeakyBucket(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		expected float64
	}{
		{"positive rate", 100.0, 100.0},
		{"zero rate defaults to 1", 0.0, 1.0},
		{"negative rate defaults to 1", -10.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb := NewLeakyBucket(tt.rate)
			if lb.Rate() != tt.expected {
				t.Errorf("Rate() = %v, want %v", lb.Rate(), tt.expected)
			}
		})
	}
}

func TestLeakyBucket_Reserve_Schedule(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	lb := NewLeakyBucketWithClock(100, 1, fake)

	want := []time.Duration{0, 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	for i, w := range want {
		if got := lb.Reserve(); got != w {
			t.Errorf("Reserve() #%d = %v, want %v", i, got, w)
		}
	}

	// Once time catches up, the next slot is immediate again.
	fake.Advance(time.Second)
	if got := lb.Reserve(); got != 0 {
		t.Errorf("Reserve() after idle = %v, want 0", got)
	}
	if got := lb.Reserve(); got != 10*time.Millisecond {
		t.Errorf("Reserve() after idle slot = %v, want 10ms (no burst)", got)
	}
}

func TestLeakyBucket_Burst(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	lb := NewLeakyBucketWithClock(10, 3, fake)
	fake.Advance(time.Minute)

	for i := 0; i < 3; i++ {
		if got := lb.Reserve(); got != 0 {
			t.Errorf("burst Reserve() #%d = %v, want 0", i, got)
		}
	}
	if got := lb.Reserve(); got != 100*time.Millisecond {
		t.Errorf("Reserve() past burst = %v, want 100ms", got)
	}
}

func TestLeakyBucket_WaitVirtualTime(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	lb := NewLeakyBucketWithClock(50, 1, fake)

	for i := 0; i < 50; i++ {
		if err := lb.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}

	// 50 releases at 50/s: the last one is at 980ms.
	if got := fake.Now().Sub(time.Unix(0, 0)); got != 980*time.Millisecond {
		t.Errorf("virtual time after 50 waits = %v, want 980ms", got)
	}

	stats := lb.Stats()
	if stats.Released != 50 {
		t.Errorf("Released = %d, want 50", stats.Released)
	}
	if stats.MaxBurst != 1 {
		t.Errorf("MaxBurst = %d, want 1", stats.MaxBurst)
	}
}

func TestLeakyBucket_Wait_RespectsContext(t *testing.T) {
	lb := NewLeakyBucket(1.0)
	_ = lb.Reserve()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := lb.Wait(ctx)
	elapsed := time.Since(start)

	if err != context.DeadlineExceeded {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("Wait() took %v after cancellation, want prompt return", elapsed)
	}
}

func TestLeakyBucket_SetRate(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	lb := NewLeakyBucketWithClock(1, 1, fake)

	for i := 0; i < 5; i++ {
		lb.Reserve()
	}

	lb.SetRate(1000)
	if lb.Rate() != 1000 {
		t.Errorf("Rate() = %v, want 1000", lb.Rate())
	}
	if got := lb.Reserve(); got != 0 {
		t.Errorf("Reserve() after SetRate = %v, want 0 (backlog dropped)", got)
	}
	if got := lb.Reserve(); got != time.Millisecond {
		t.Errorf("second Reserve() after SetRate = %v, want 1ms", got)
	}
}

func TestLeakyBucket_Concurrent(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	lb := NewLeakyBucketWithClock(1000, 1, fake)

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[time.Duration]bool)

	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				w := lb.Reserve()
				mu.Lock()
				seen[w] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Virtual time never moved, so every slot is distinct.
	if len(seen) != 1000 {
		t.Errorf("distinct slots = %d, want 1000", len(seen))
	}
}
