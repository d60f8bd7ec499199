package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Phase is the stage a running load test is in.
type Phase string

const (
	// PhaseInit is the state before any virtual user has started.
	PhaseInit Phase = "init"

	// PhaseRampUp lasts until every virtual user has passed its start delay.
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady means all virtual users are issuing calls.
	PhaseSteady Phase = "steady"

	// PhaseDone means the run has stopped issuing calls.
	PhaseDone Phase = "done"
)

// LatencyPercentiles holds latency percentile values.
type LatencyPercentiles struct {
	Min time.Duration
	Max time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// TimeBucket is one interval of the live time series.
//
// Totals are cumulative since the run started; Interval fields cover only the
// time since the previous bucket.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	TotalRequests  int64 `json:"totalRequests"`
	TotalSuccesses int64 `json:"totalSuccesses"`
	TotalFailures  int64 `json:"totalFailures"`

	IntervalRequests  int64   `json:"intervalRequests"`
	IntervalRPS       float64 `json:"intervalRPS"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`

	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int   `json:"activeVUs"`
	Phase     Phase `json:"phase"`
}

// TimeBucketStore keeps the most recent buckets in a ring buffer.
//
// RecordRequest is lock-free; bucket creation and reads take the store lock.
type TimeBucketStore struct {
	mu         sync.RWMutex
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int
	lastCut    time.Time

	intervalRequests atomic.Int64
	intervalFailures atomic.Int64
}

// NewTimeBucketStore creates a store holding at most maxBuckets buckets.
// A non-positive maxBuckets keeps one hour of one-second buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}
	return &TimeBucketStore{
		buckets:    make([]*TimeBucket, maxBuckets),
		maxBuckets: maxBuckets,
		lastCut:    time.Now(),
	}
}

// RecordRequest counts one completed call toward the current interval.
func (tbs *TimeBucketStore) RecordRequest(success bool) {
	tbs.intervalRequests.Add(1)
	if !success {
		tbs.intervalFailures.Add(1)
	}
}

// CreateBucket closes the current interval at now and appends it.
func (tbs *TimeBucketStore) CreateBucket(now time.Time, totals Counts, latencies LatencyPercentiles, activeVUs int, phase Phase) *TimeBucket {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	requests := tbs.intervalRequests.Swap(0)
	failures := tbs.intervalFailures.Swap(0)

	elapsed := now.Sub(tbs.lastCut).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	bucket := &TimeBucket{
		Timestamp:        now,
		TotalRequests:    totals.Total,
		TotalSuccesses:   totals.Success,
		TotalFailures:    totals.Failed,
		IntervalRequests: requests,
		IntervalRPS:      float64(requests) / elapsed,
		LatencyP50:       latencies.P50,
		LatencyP95:       latencies.P95,
		LatencyP99:       latencies.P99,
		ActiveVUs:        activeVUs,
		Phase:            phase,
	}
	if requests > 0 {
		bucket.IntervalErrorRate = float64(failures) / float64(requests)
	}

	tbs.buckets[tbs.head] = bucket
	tbs.head = (tbs.head + 1) % tbs.maxBuckets
	if tbs.count < tbs.maxBuckets {
		tbs.count++
	}
	tbs.lastCut = now

	return bucket
}

// Buckets returns the retained buckets in chronological order.
func (tbs *TimeBucketStore) Buckets() []*TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}

	out := make([]*TimeBucket, tbs.count)
	start := 0
	if tbs.count == tbs.maxBuckets {
		start = tbs.head
	}
	for i := 0; i < tbs.count; i++ {
		out[i] = tbs.buckets[(start+i)%tbs.maxBuckets]
	}
	return out
}

// Latest returns the most recent bucket, or nil if none.
func (tbs *TimeBucketStore) Latest() *TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}
	return tbs.buckets[(tbs.head-1+tbs.maxBuckets)%tbs.maxBuckets]
}

// Count returns the number of retained buckets.
func (tbs *TimeBucketStore) Count() int {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()
	return tbs.count
}

// SteadyStateRPS averages interval throughput over steady-phase buckets.
// The second return value is the number of buckets averaged.
func (tbs *TimeBucketStore) SteadyStateRPS() (float64, int) {
	return SteadyStateRPS(tbs.Buckets())
}

// SteadyStateRPS averages IntervalRPS over the buckets in PhaseSteady.
func SteadyStateRPS(buckets []*TimeBucket) (float64, int) {
	var sum float64
	n := 0
	for _, b := range buckets {
		if b.Phase == PhaseSteady {
			sum += b.IntervalRPS
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
