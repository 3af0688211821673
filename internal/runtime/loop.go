// Package runtime drives the single-threaded cooperative event loop
// described in spec.md §4.I: poll timers, poll the job queue (which
// drains resolved futures into the FIFO), run the FIFO synchronously,
// then apply the termination rule.
package runtime

import (
	"context"

	"github.com/kedojs/kedo/internal/job"
	"github.com/kedojs/kedo/internal/timer"
)

// Loop is the runtime driver tying the timer queue and job queue
// together, per spec.md §4.I.
type Loop struct {
	Timers *timer.Queue
	Jobs   *job.Queue
	// EngineCtx is passed through to every NativeJob invocation.
	EngineCtx job.Context
}

// New creates a Loop over the given timer/job queues.
func New(timers *timer.Queue, jobs *job.Queue, engineCtx job.Context) *Loop {
	return &Loop{Timers: timers, Jobs: jobs, EngineCtx: engineCtx}
}

// RunOnce performs exactly the 4-step iteration from spec.md §4.I and
// reports whether the loop has reached quiescence (both queues empty).
func (l *Loop) RunOnce() (done bool) {
	// 1. Poll timer queue; invoke fired callables (errors logged by the
	// callables themselves — timer callbacks here are terminal, matching
	// "errors logged, not fatal" since a callback panicking would be a
	// script-engine-level concern handled at the ops layer).
	fired, _ := l.Timers.Poll()
	for _, cb := range fired {
		cb()
	}

	// 2. Poll the job queue. Unlike a single-threaded future executor,
	// FutureJobs here run on their own goroutines and self-enqueue their
	// resulting NativeJob the instant they resolve (see job.Queue.Spawn),
	// so there is nothing left to pull here — this step exists for
	// parity with spec.md's poll-driven model and as the hook future
	// engine backends would use to drive an in-process future set.

	// 3. Run all FIFO jobs synchronously; jobs may enqueue more jobs.
	l.Jobs.RunJobs(l.EngineCtx)

	// 4. Termination rule.
	return l.Jobs.IsEmpty() && l.Timers.IsEmpty()
}

// Run drives RunOnce until the termination rule holds or ctx is
// cancelled. Between iterations it blocks on Jobs.Poll — woken the
// instant a FutureJob resolves — bounded by the next timer deadline, if
// any, so it never busy-polls while waiting on either queue.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if l.RunOnce() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		waitCtx := ctx
		if d, ok := l.Timers.SleepDuration(); ok {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, d)
			l.Jobs.Poll(waitCtx)
			cancel()
		} else {
			l.Jobs.Poll(waitCtx)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
