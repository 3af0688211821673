// Package job implements the single-threaded cooperative scheduler from
// spec.md §4.C: a FIFO of NativeJob closures interleaved with a set of
// FutureJobs, tracked via an explicit keep-alive ("exit-preventing")
// count.
package job

import (
	"context"
	"log"
	"sync"
)

// Context is the engine handle passed to every NativeJob. It is
// intentionally minimal here — the real engine context lives in
// internal/engine; this interface lets internal/job stay independent of
// v8go.
type Context interface{}

// NativeJob is an ownership-transferring one-shot closure that takes an
// engine context and reports success or error. Tag is optional
// diagnostic information (e.g. "fetch:resolve#17").
type NativeJob struct {
	Tag string
	Run func(ctx Context) error
}

// FutureJob is a single-poll future whose output is a NativeJob. Queue
// drives it to completion on its own goroutine (Go has no built-in
// single-poll future type; a goroutine + result channel is the idiomatic
// stand-in, mirroring the teacher's PendingFetch shape).
type FutureJob struct {
	Tag  string
	Poll func(ctx context.Context) (NativeJob, error)
}

// Queue is the job-queue state described in spec.md §3 "JobQueue state":
// a FIFO of NativeJob, an in-flight future set, an exit-preventing count,
// and a waker used to unblock a parked Poll call.
type Queue struct {
	mu          sync.Mutex
	fifo        []NativeJob
	preventExit int
	wakeCh      chan struct{}
	cancel      context.CancelFunc
	baseCtx     context.Context
	onError     func(tag string, err error)
}

// New creates an empty job queue bound to a parent context; cancelling
// the parent aborts any in-flight FutureJob goroutines.
func New(parent context.Context) *Queue {
	ctx, cancel := context.WithCancel(parent)
	return &Queue{
		wakeCh:  make(chan struct{}, 1),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Close cancels all in-flight futures spawned by this queue.
func (q *Queue) Close() { q.cancel() }

// SetErrorHandler overrides how RunJobs reports a NativeJob's error.
// Unset, it logs via the standard logger. A host embedding the queue
// inside an engine (internal/engine wires this for "engine-event-loop
// exceptions", per spec.md §7 "Propagation") can route these to its own
// uncaught-exception callback instead.
func (q *Queue) SetErrorHandler(fn func(tag string, err error)) {
	q.mu.Lock()
	q.onError = fn
	q.mu.Unlock()
}

// Enqueue appends a microtask to the FIFO (spec.md "enqueue_promise_job").
func (q *Queue) Enqueue(j NativeJob) {
	q.mu.Lock()
	q.fifo = append(q.fifo, j)
	q.mu.Unlock()
	q.wake()
}

// Spawn runs a FutureJob on its own goroutine. If exitPreventing is true
// the queue's keep-alive count is incremented until the future resolves
// — matching the spec's distinction between "spawn" (exit-preventing)
// and "spawn_non_blocking".
func (q *Queue) Spawn(f FutureJob, exitPreventing bool) {
	if exitPreventing {
		q.mu.Lock()
		q.preventExit++
		q.mu.Unlock()
	}

	go func() {
		nj, err := f.Poll(q.baseCtx)
		if exitPreventing {
			defer func() {
				q.mu.Lock()
				q.preventExit--
				q.mu.Unlock()
				q.wake()
			}()
		}
		if err != nil {
			nj = NativeJob{
				Tag: f.Tag,
				Run: func(Context) error { return err },
			}
		}
		q.Enqueue(nj)
	}()
}

func (q *Queue) wake() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}

// IsEmpty reports the invariant from spec.md §3: is_empty iff the FIFO
// is empty AND the exit-preventing count is zero.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo) == 0 && q.preventExit == 0
}

// Poll blocks until either a job is enqueued, a future resolves, or ctx
// is done — returning true if the queue is empty (Ready per spec.md
// "poll(cx)"). It does not itself run jobs; callers drain with RunJobs.
//
// It only waits when the FIFO itself is empty, not the full IsEmpty
// invariant: a FutureJob in flight with nothing runnable yet (FIFO
// empty, preventExit > 0) is exactly the case a caller needs to block
// on — it resolves by calling Enqueue, which wakes this select.
func (q *Queue) Poll(ctx context.Context) bool {
	q.mu.Lock()
	fifoEmpty := len(q.fifo) == 0
	q.mu.Unlock()
	if !fifoEmpty {
		return false
	}
	select {
	case <-q.wakeCh:
	case <-ctx.Done():
	}
	return q.IsEmpty()
}

// RunJobs synchronously drains the FIFO, invoking each job with engineCtx.
// Jobs may enqueue more jobs (e.g. promise reaction callbacks); the drain
// continues until the FIFO is empty at pop time. Errors are logged, never
// fatal, matching spec.md §4.C "Run".
func (q *Queue) RunJobs(engineCtx Context) {
	for {
		q.mu.Lock()
		if len(q.fifo) == 0 {
			q.mu.Unlock()
			return
		}
		j := q.fifo[0]
		q.fifo = q.fifo[1:]
		q.mu.Unlock()

		if err := j.Run(engineCtx); err != nil {
			q.mu.Lock()
			onError := q.onError
			q.mu.Unlock()
			if onError != nil {
				onError(j.Tag, err)
			} else {
				log.Printf("job: %s failed: %v", j.Tag, err)
			}
		}
	}
}

// PendingFutures reports the current exit-preventing count, for tests
// and diagnostics.
func (q *Queue) PendingFutures() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.preventExit
}
