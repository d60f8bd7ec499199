package performance

import (
	"context"
	"fmt"
	"time"
)

// TargetExecutor performs one unit of work and reports its outcome.
//
// Implementations must bound their own running time; the core never imposes
// a secondary timeout on a single call. ExecuteOnce should not panic, but a
// panic is recovered by SafeExecute and recorded as a failure.
type TargetExecutor interface {
	ExecuteOnce(ctx context.Context) ExecutionRecord
}

// Pacer spaces out iterations across the virtual users of a run. Wait blocks
// until the caller may start its next call and returns ctx.Err() when ctx is
// done first. *rate.LeakyBucket satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// TargetFunc adapts a plain function to TargetExecutor.
type TargetFunc func(ctx context.Context) ExecutionRecord

// ExecuteOnce calls f(ctx).
func (f TargetFunc) ExecuteOnce(ctx context.Context) ExecutionRecord {
	return f(ctx)
}

// TimedFunc adapts an error-returning operation to TargetExecutor, measuring
// its latency. A nil error is a success.
func TimedFunc(fn func(ctx context.Context) error) TargetExecutor {
	return TargetFunc(func(ctx context.Context) ExecutionRecord {
		start := time.Now()
		err := fn(ctx)
		if err != nil {
			return Failed(time.Since(start), err)
		}
		return Succeeded(time.Since(start))
	})
}

// SafeExecute invokes target, converting a panic into a failed record whose
// error describes the panic. No latency is recorded for a panicked call.
func SafeExecute(ctx context.Context, target TargetExecutor) (rec ExecutionRecord) {
	defer func() {
		if r := recover(); r != nil {
			rec = ExecutionRecord{Error: fmt.Sprintf("target panicked: %v", r)}
		}
	}()
	return target.ExecuteOnce(ctx)
}
