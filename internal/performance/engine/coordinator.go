// Package engine coordinates load test runs: it dispatches virtual users onto
// a shared worker pool, bounds each run's completion wait, aggregates the
// collected records and drives the run state machine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wesleyorama2/vuload/internal/performance"
	"github.com/wesleyorama2/vuload/internal/performance/clock"
	"github.com/wesleyorama2/vuload/internal/performance/metrics"
	"github.com/wesleyorama2/vuload/internal/performance/pool"
)

// DefaultGrace is added to duration plus ramp-up to bound a run's wait.
const DefaultGrace = 60 * time.Second

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("coordinator is closed")

// Options configures a Coordinator. Every field is optional.
type Options struct {
	// Pool runs virtual users. It may be shared with other coordinators.
	// A pool of pool.DefaultSize is created and owned when nil.
	Pool *pool.Pool

	// Clock paces virtual users and timestamps runs. Defaults to the wall
	// clock. The completion wait always uses a real timer.
	Clock clock.Clock

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Grace defaults to DefaultGrace.
	Grace time.Duration

	// Registerer receives the Prometheus collectors. No telemetry is
	// exported when nil.
	Registerer prometheus.Registerer
}

// Coordinator owns every run it starts.
//
// At most one run per ID is RUNNING at a time. Runs execute in background
// goroutines; callers observe them through GetStatus, Wait and Live.
type Coordinator struct {
	pool      *pool.Pool
	ownsPool  bool
	clock     clock.Clock
	logger    *zap.Logger
	grace     time.Duration
	telemetry *metrics.Telemetry

	mu     sync.Mutex
	runs   map[string]*Run
	closed bool
	wg     sync.WaitGroup
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		pool:      opts.Pool,
		clock:     opts.Clock,
		logger:    opts.Logger,
		grace:     opts.Grace,
		telemetry: metrics.NewTelemetry(opts.Registerer),
		runs:      make(map[string]*Run),
	}
	if c.pool == nil {
		c.pool = pool.New(pool.DefaultSize)
		c.ownsPool = true
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.grace <= 0 {
		c.grace = DefaultGrace
	}
	return c
}

// Start validates spec and begins executing it in the background. It
// returns the run ID, which is spec.ID or a generated UUID when that is
// empty.
//
// Start fails with ErrInvalidState if a run with the same ID is RUNNING.
// A finished run with the same ID is replaced.
func (c *Coordinator) Start(ctx context.Context, spec performance.LoadTestSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("invalid load test spec: %w", err)
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	if spec.LoadPattern == "" {
		spec.LoadPattern = performance.PatternConstant
	}

	// The run outlives the request that started it; only Cancel and Close stop it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	if existing, ok := c.runs[spec.ID]; ok && !existing.currentStatus().IsTerminal() {
		c.mu.Unlock()
		cancel()
		return "", fmt.Errorf("run %s is already %s: %w", spec.ID, existing.currentStatus(), ErrInvalidState)
	}

	run := newRun(spec.ID, spec, cancel)
	if err := run.start(c.clock.Now()); err != nil {
		c.mu.Unlock()
		cancel()
		run.live.Stop()
		return "", err
	}
	c.runs[spec.ID] = run
	c.wg.Add(1)
	c.mu.Unlock()

	c.telemetry.RunStarted()
	c.logger.Info("load test started",
		zap.String("run_id", spec.ID),
		zap.String("name", spec.Name),
		zap.Int("virtual_users", spec.VirtualUsers),
		zap.Int("duration_s", spec.DurationSeconds),
		zap.Int("ramp_up_s", spec.RampUpSeconds),
		zap.String("pattern", spec.LoadPattern.String()))

	go c.execute(runCtx, run)

	return spec.ID, nil
}

// execute runs in the background for the lifetime of run.
func (c *Coordinator) execute(ctx context.Context, run *Run) {
	defer c.wg.Done()
	defer run.cancel()

	spec := run.spec
	collector := performance.NewCollector(spec.VirtualUsers, run.live.Observe, c.telemetry.Observe)
	started := c.clock.Now()

	runErr := c.dispatchAndWait(ctx, run, collector)

	// Nothing may append while the records are aggregated.
	records := collector.Seal()
	run.live.Stop()

	wallClockMs := c.clock.Now().Sub(started).Milliseconds()
	result, aggErr := safeAggregate(records, wallClockMs)
	if runErr == nil {
		runErr = aggErr
	}
	if result != nil {
		result.Dropped = collector.Dropped()
	}

	status := run.outcome(runErr)
	switch status {
	case StatusFailed:
		if result == nil {
			result = &metrics.Result{WallClockMs: wallClockMs}
		}
		result = result.WithSummary(runErr.Error())
	case StatusCancelled:
		result = result.WithSummary(fmt.Sprintf("Run cancelled after %d requests. %s", result.TotalRequests, result.Summary))
	}

	if err := run.finish(status, result, runErr, c.clock.Now()); err != nil {
		c.logger.Error("failed to record run outcome", zap.String("run_id", run.id), zap.Error(err))
		return
	}
	c.telemetry.RunFinished(string(status))

	fields := []zap.Field{
		zap.String("run_id", run.id),
		zap.String("status", string(status)),
		zap.Int64("requests", result.TotalRequests),
		zap.Int64("wall_clock_ms", wallClockMs),
	}
	if runErr != nil {
		c.logger.Error("load test failed", append(fields, zap.Error(runErr))...)
		return
	}
	c.logger.Info("load test finished", fields...)
}

// dispatchAndWait submits one task per virtual user and waits for them,
// bounded by duration + ramp-up + grace. Exceeding the bound cancels the
// outstanding users and is not an error.
func (c *Coordinator) dispatchAndWait(ctx context.Context, run *Run, collector *performance.Collector) (err error) {
	defer func() {
		if r := recover(); r != nil {
			run.cancel()
			err = fmt.Errorf("run %s dispatch panicked: %v", run.id, r)
		}
	}()

	spec := run.spec
	live := run.live

	if spec.RampUpSeconds > 0 {
		live.SetPhase(metrics.PhaseRampUp)
	} else {
		live.SetPhase(metrics.PhaseSteady)
	}
	onActive := func(active bool) {
		if !active {
			live.AddActiveVUs(-1)
			return
		}
		if live.AddActiveVUs(1) == spec.VirtualUsers {
			live.SetPhase(metrics.PhaseSteady)
		}
	}

	delays := performance.StartDelays(spec.VirtualUsers, spec.RampUpSeconds, spec.LoadPattern)
	logger := c.logger.With(zap.String("run_id", run.id))

	var wg sync.WaitGroup
	for i, delayMs := range delays {
		vu := performance.NewVirtualUser(i+1, performance.VUConfig{
			Target:     spec.Target,
			Collector:  collector,
			StartDelay: time.Duration(delayMs) * time.Millisecond,
			Duration:   spec.Duration(),
			ThinkTime:  spec.ThinkTime(),
			Pacer:      spec.Pacer,
			Clock:      c.clock,
			Logger:     logger,
			OnActive:   onActive,
		})

		wg.Add(1)
		submitErr := c.pool.Submit(ctx, func(ctx context.Context) {
			defer wg.Done()
			if err := vu.Run(ctx); errors.Is(err, context.Canceled) {
				run.interrupted.Store(true)
			}
		})
		if submitErr != nil {
			wg.Done()
			run.cancel()
			return fmt.Errorf("dispatch virtual user %d: %w", vu.ID, submitErr)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	bound := spec.Duration() + spec.RampUp() + c.grace
	timer := time.NewTimer(bound)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		logger.Warn("run exceeded its completion bound, cancelling outstanding virtual users",
			zap.Duration("bound", bound),
			zap.Int("records", collector.Len()))
		run.cancel()
	}
	return nil
}

func safeAggregate(records []performance.ExecutionRecord, wallClockMs int64) (res *metrics.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("aggregation panicked: %v", r)
		}
	}()
	return metrics.Aggregate(records, wallClockMs), nil
}

// Cancel asks a RUNNING run to stop. Virtual users observe it at their next
// suspension point and in-flight calls complete. The run then moves to
// CANCELLED with whatever was collected.
func (c *Coordinator) Cancel(runID string) error {
	run, err := c.lookup(runID)
	if err != nil {
		return err
	}
	if err := run.requestCancel(); err != nil {
		return err
	}
	c.logger.Info("load test cancel requested", zap.String("run_id", runID))
	return nil
}

// GetStatus returns a snapshot of the run.
func (c *Coordinator) GetStatus(runID string) (RunSnapshot, error) {
	run, err := c.lookup(runID)
	if err != nil {
		return RunSnapshot{}, err
	}
	return run.snapshot(), nil
}

// Wait blocks until the run is terminal or ctx is done.
func (c *Coordinator) Wait(ctx context.Context, runID string) (RunSnapshot, error) {
	run, err := c.lookup(runID)
	if err != nil {
		return RunSnapshot{}, err
	}

	select {
	case <-run.done:
		return run.snapshot(), nil
	case <-ctx.Done():
		return run.snapshot(), ctx.Err()
	}
}

// Live returns in-flight metrics for the run. After the run ends the
// snapshot stops changing.
func (c *Coordinator) Live(runID string) (*metrics.Snapshot, error) {
	run, err := c.lookup(runID)
	if err != nil {
		return nil, err
	}
	return run.live.Snapshot(), nil
}

// TimeSeries returns the per-interval buckets recorded for the run.
func (c *Coordinator) TimeSeries(runID string) ([]*metrics.TimeBucket, error) {
	run, err := c.lookup(runID)
	if err != nil {
		return nil, err
	}
	return run.live.TimeSeries(), nil
}

// Delete forgets a finished run. Runs that have not finished are rejected
// with ErrInvalidState.
func (c *Coordinator) Delete(runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	run, ok := c.runs[runID]
	if !ok {
		return fmt.Errorf("delete %s: %w", runID, ErrRunNotFound)
	}
	if status := run.currentStatus(); !status.IsTerminal() {
		return fmt.Errorf("cannot delete run %s in status %s: %w", runID, status, ErrInvalidState)
	}
	delete(c.runs, runID)
	return nil
}

// Runs returns snapshots of every known run.
func (c *Coordinator) Runs() []RunSnapshot {
	c.mu.Lock()
	runs := make([]*Run, 0, len(c.runs))
	for _, r := range c.runs {
		runs = append(runs, r)
	}
	c.mu.Unlock()

	out := make([]RunSnapshot, len(runs))
	for i, r := range runs {
		out[i] = r.snapshot()
	}
	return out
}

// Close rejects new runs, cancels every RUNNING run and waits for them to
// finish or for ctx to be done. A pool created by New is closed as well.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	running := make([]*Run, 0)
	for _, r := range c.runs {
		if r.currentStatus() == StatusRunning {
			running = append(running, r)
		}
	}
	c.mu.Unlock()

	for _, r := range running {
		// A run may finish between the scan and the request.
		_ = r.requestCancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if c.ownsPool {
		return c.pool.Close(ctx)
	}
	return nil
}

func (c *Coordinator) lookup(runID string) (*Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	run, ok := c.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return run, nil
}
