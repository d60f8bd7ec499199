package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/vuload/internal/performance"
)

// Engine tracks metrics of a run while it is in progress.
//
// It is fed every execution record through Observe and answers live
// snapshots from an HDR histogram, so readers never sort the record set.
// The exact end-of-run statistics come from Aggregate, not from Engine.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters are atomic, the histogram is
// guarded by a mutex and the bucket emitter runs in its own goroutine.
type Engine struct {
	hist   *hdrhistogram.Histogram
	histMu sync.Mutex

	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64

	activeVUs atomic.Int32

	buckets *TimeBucketStore

	phase        Phase
	phaseHistory []PhaseChange
	phaseMu      sync.RWMutex

	startTime time.Time

	stopEmitter context.CancelFunc
	emitterWg   sync.WaitGroup
	stopOnce    sync.Once

	config EngineConfig
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// BucketInterval is the time-series resolution (default: 1s).
	BucketInterval time.Duration

	// MaxBuckets bounds the retained time series (default: 3600).
	MaxBuckets int

	// HistogramMax is the largest recordable latency in microseconds
	// (default: one hour).
	HistogramMax int64

	// HistogramSigFigs is the histogram precision (default: 3).
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// PhaseChange records when a phase was entered.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// Counts are cumulative call counters.
type Counts struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
}

// Snapshot is a point-in-time view of a run in progress.
type Snapshot struct {
	Counts

	Latency        LatencyStats  `json:"latency"`
	RPS            float64       `json:"rps"`
	SteadyStateRPS float64       `json:"steadyStateRps"`
	ErrorRate      float64       `json:"errorRate"`
	ActiveVUs      int           `json:"activeVUs"`
	Phase          Phase         `json:"phase"`
	Elapsed        time.Duration `json:"elapsed"`
	StartTime      time.Time     `json:"startTime"`
	Timestamp      time.Time     `json:"timestamp"`
}

// LatencyStats summarizes the latency histogram.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// NewEngine creates an Engine with the default configuration and starts its
// bucket emitter.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates an Engine and starts its bucket emitter.
// Zero fields of config take their defaults.
func NewEngineWithConfig(config EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = def.BucketInterval
	}
	if config.MaxBuckets <= 0 {
		config.MaxBuckets = def.MaxBuckets
	}
	if config.HistogramMax <= 0 {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		hist:        hdrhistogram.New(1, config.HistogramMax, config.HistogramSigFigs),
		buckets:     NewTimeBucketStore(config.MaxBuckets),
		phase:       PhaseInit,
		startTime:   time.Now(),
		stopEmitter: cancel,
		config:      config,
	}

	e.emitterWg.Add(1)
	go e.runEmitter(ctx)

	return e
}

// Observe records one execution. It satisfies performance.RecordObserver.
//
// Records without a latency count toward the totals but not the histogram.
func (e *Engine) Observe(rec performance.ExecutionRecord) {
	if rec.HasLatency {
		micros := rec.LatencyMs * 1000
		if micros < 1 {
			micros = 1
		}
		if micros > e.config.HistogramMax {
			micros = e.config.HistogramMax
		}

		e.histMu.Lock()
		_ = e.hist.RecordValue(micros)
		e.histMu.Unlock()
	}

	e.total.Add(1)
	if rec.Success {
		e.success.Add(1)
	} else {
		e.failed.Add(1)
	}

	e.buckets.RecordRequest(rec.Success)
}

// SetPhase moves the engine to phase. Setting the current phase is a no-op.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.phase == phase {
		return
	}
	e.phase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.total.Load(),
	})
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.phase
}

// PhaseHistory returns a copy of the phase transitions so far.
func (e *Engine) PhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	out := make([]PhaseChange, len(e.phaseHistory))
	copy(out, e.phaseHistory)
	return out
}

// AddActiveVUs adjusts the active virtual user count by delta and returns
// the new count.
func (e *Engine) AddActiveVUs(delta int) int {
	return int(e.activeVUs.Add(int32(delta)))
}

// ActiveVUs returns the active virtual user count.
func (e *Engine) ActiveVUs() int {
	return int(e.activeVUs.Load())
}

// Counts returns the cumulative counters.
func (e *Engine) Counts() Counts {
	return Counts{
		Total:   e.total.Load(),
		Success: e.success.Load(),
		Failed:  e.failed.Load(),
	}
}

// Percentiles returns the current latency percentiles.
func (e *Engine) Percentiles() LatencyPercentiles {
	e.histMu.Lock()
	defer e.histMu.Unlock()

	return LatencyPercentiles{
		Min: micros(e.hist.Min()),
		Max: micros(e.hist.Max()),
		P50: micros(e.hist.ValueAtQuantile(50)),
		P90: micros(e.hist.ValueAtQuantile(90)),
		P95: micros(e.hist.ValueAtQuantile(95)),
		P99: micros(e.hist.ValueAtQuantile(99)),
	}
}

// Snapshot returns a point-in-time view of the run.
func (e *Engine) Snapshot() *Snapshot {
	e.histMu.Lock()
	latency := LatencyStats{
		Min:    micros(e.hist.Min()),
		Max:    micros(e.hist.Max()),
		Mean:   micros(int64(e.hist.Mean())),
		StdDev: micros(int64(e.hist.StdDev())),
		P50:    micros(e.hist.ValueAtQuantile(50)),
		P90:    micros(e.hist.ValueAtQuantile(90)),
		P95:    micros(e.hist.ValueAtQuantile(95)),
		P99:    micros(e.hist.ValueAtQuantile(99)),
		Count:  e.hist.TotalCount(),
	}
	e.histMu.Unlock()

	now := time.Now()
	elapsed := now.Sub(e.startTime)
	counts := e.Counts()

	snap := &Snapshot{
		Counts:    counts,
		Latency:   latency,
		ActiveVUs: e.ActiveVUs(),
		Phase:     e.Phase(),
		Elapsed:   elapsed,
		StartTime: e.startTime,
		Timestamp: now,
	}

	if elapsed > 0 {
		snap.RPS = float64(counts.Total) / elapsed.Seconds()
	}
	snap.SteadyStateRPS, _ = e.buckets.SteadyStateRPS()
	if counts.Total > 0 {
		snap.ErrorRate = float64(counts.Failed) / float64(counts.Total)
	}

	return snap
}

// TimeSeries returns the retained buckets in chronological order.
func (e *Engine) TimeSeries() []*TimeBucket {
	return e.buckets.Buckets()
}

// Stop halts the emitter, enters PhaseDone and emits a final bucket.
// It is safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.stopEmitter()
		e.emitterWg.Wait()
		e.SetPhase(PhaseDone)
		e.emitBucket()
	})
}

func (e *Engine) runEmitter(ctx context.Context) {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.buckets.CreateBucket(time.Now(), e.Counts(), e.Percentiles(), e.ActiveVUs(), e.Phase())
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
