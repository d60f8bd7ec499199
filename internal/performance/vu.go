package performance

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/vuload/internal/performance/clock"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is waiting for its start offset.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is actively running iterations.
	VUStateRunning
	// VUStateStopping indicates the VU observed cancellation and is exiting.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VUConfig contains everything a Virtual User needs for one run.
type VUConfig struct {
	// Target is invoked once per iteration.
	Target TargetExecutor

	// Collector receives every completed iteration's record.
	Collector *Collector

	// StartDelay is the ramp-up offset before the first iteration.
	StartDelay time.Duration

	// Duration is how long the VU iterates once it has started.
	Duration time.Duration

	// ThinkTime is the pause after each iteration.
	ThinkTime time.Duration

	// Pacer is waited on before every call. Optional.
	Pacer Pacer

	// Clock paces the VU. Defaults to the wall clock.
	Clock clock.Clock

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// OnActive is called with true when the VU starts iterating and with
	// false when it stops. Optional.
	OnActive func(active bool)
}

// VirtualUser simulates one independent user for the duration of a run.
//
// A VU sleeps for its start offset, then repeatedly invokes its target,
// appending each outcome to the run's collector and pausing for the think
// time between iterations. A failed iteration never stops the VU.
//
// Cancellation is cooperative: the VU checks its context before every
// invocation, while waiting on the pacer and during both sleeps. An invocation already in flight is not
// interrupted; the target receives a context that does not carry the run's
// cancellation and is bounded only by the target's own timeout.
type VirtualUser struct {
	// Unique identifier for this VU within its run
	ID int

	cfg VUConfig

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	// Completed iterations
	iteration atomic.Int64
}

// NewVirtualUser creates a Virtual User. Missing clock and logger are
// defaulted.
func NewVirtualUser(id int, cfg VUConfig) *VirtualUser {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &VirtualUser{ID: id, cfg: cfg}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of completed iterations.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Run executes the VU loop until its deadline passes or ctx is cancelled.
//
// Returns:
//   - nil if the VU ran until its deadline
//   - ctx.Err() if the VU was cancelled
//   - an error if the VU loop itself panicked
func (vu *VirtualUser) Run(ctx context.Context) (err error) {
	defer vu.state.Store(int32(VUStateStopped))
	defer func() {
		if r := recover(); r != nil {
			vu.cfg.Logger.Error("virtual user aborted",
				zap.Int("vu", vu.ID),
				zap.Int64("iterations", vu.iteration.Load()),
				zap.Any("panic", r))
			err = fmt.Errorf("VU %d aborted: %v", vu.ID, r)
		}
	}()

	clk := vu.cfg.Clock

	if err := clk.Sleep(ctx, vu.cfg.StartDelay); err != nil {
		vu.state.Store(int32(VUStateStopping))
		return err
	}

	vu.state.Store(int32(VUStateRunning))
	if vu.cfg.OnActive != nil {
		vu.cfg.OnActive(true)
		defer vu.cfg.OnActive(false)
	}

	deadline := clk.Now().Add(vu.cfg.Duration)
	callCtx := context.WithoutCancel(ctx)

	for clk.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			vu.state.Store(int32(VUStateStopping))
			return err
		}

		if vu.cfg.Pacer != nil {
			if err := vu.cfg.Pacer.Wait(ctx); err != nil {
				vu.state.Store(int32(VUStateStopping))
				return err
			}
			if !clk.Now().Before(deadline) {
				break
			}
		}

		rec := SafeExecute(callCtx, vu.cfg.Target)
		vu.cfg.Collector.Append(rec)
		vu.iteration.Add(1)

		if err := clk.Sleep(ctx, vu.cfg.ThinkTime); err != nil {
			vu.state.Store(int32(VUStateStopping))
			return err
		}
	}

	return nil
}
