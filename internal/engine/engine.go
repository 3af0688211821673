// Package engine wires the isolate/context lifecycle for the embedded V8
// engine described in spec.md §1 as an external collaborator, and hosts
// the op_* binding surface's reflection/JSON marshaling helpers (ported
// from the teacher's internal/v8engine.v8Runtime).
package engine

import (
	"context"
	"fmt"
	"log"
	goruntime "runtime"
	"sync"

	v8 "github.com/tommie/v8go"

	"github.com/kedojs/kedo/internal/job"
	kedoruntime "github.com/kedojs/kedo/internal/runtime"
	"github.com/kedojs/kedo/internal/timer"
)

// Engine owns one V8 isolate/context plus the job/timer queues that
// together form the event-loop substrate (spec.md §1).
type Engine struct {
	Iso   *v8.Isolate
	Ctx   *v8.Context
	Jobs  *job.Queue
	Timer *timer.Queue
	Loop  *kedoruntime.Loop

	// UncaughtException and UnhandledRejection are the dedicated handler
	// callbacks spec.md §7 "Propagation" requires be registered at
	// startup: the former for errors surfacing out of the job queue (a
	// NativeJob returning an error with nothing left to catch it) or a
	// top-level Eval, the latter for a Promise rejected with no handler
	// attached before the end of the current microtask turn. Both default
	// to logging and may be overridden before the loop starts running.
	UncaughtException  func(err error)
	UnhandledRejection func(reason *v8.Value)

	mu         sync.Mutex
	finalizers []func()
}

// New creates an Engine with a fresh isolate and global context.
func New() (*Engine, error) {
	iso := v8.NewIsolate()
	global := v8.NewObjectTemplate(iso)
	ctx := v8.NewContext(iso, global)

	jobs := job.New(context.Background())
	timers := timer.New()

	e := &Engine{Iso: iso, Ctx: ctx, Jobs: jobs, Timer: timers}
	e.Loop = kedoruntime.New(timers, jobs, e)

	e.UncaughtException = func(err error) { log.Printf("engine: uncaught exception: %v", err) }
	e.UnhandledRejection = func(reason *v8.Value) {
		log.Printf("engine: unhandled promise rejection: %s", reason.String())
	}
	// Route "engine-event-loop exceptions" (a NativeJob erroring with no
	// catch site, e.g. a promise reaction callback that threw) to the
	// same callback a script-visible uncaught exception would hit.
	jobs.SetErrorHandler(func(tag string, err error) {
		if tag != "" {
			err = fmt.Errorf("%s: %w", tag, err)
		}
		e.UncaughtException(err)
	})

	if err := e.setupUnhandledRejectionTracking(); err != nil {
		e.Jobs.Close()
		e.Ctx.Close()
		e.Iso.Dispose()
		return nil, err
	}

	return e, nil
}

// Dispose tears down the context and isolate, after running any
// registered finalizers (spec.md §9 "Engine private data": native
// resources attached to script objects register a finalizer so GC
// reclaims them).
func (e *Engine) Dispose() {
	e.mu.Lock()
	fins := e.finalizers
	e.finalizers = nil
	e.mu.Unlock()
	for _, fn := range fins {
		fn()
	}
	e.Jobs.Close()
	e.Ctx.Close()
	e.Iso.Dispose()
}

// RegisterFinalizer arranges for fn to run when owner is garbage
// collected or when the engine is disposed, whichever comes first —
// modeling the GC finalizer a real embedding attaches to a script-visible
// object's internal field.
func (e *Engine) RegisterFinalizer(owner any, fn func()) {
	var once sync.Once
	run := func() { once.Do(fn) }
	goruntime.SetFinalizer(owner, func(any) { run() })
	e.mu.Lock()
	e.finalizers = append(e.finalizers, run)
	e.mu.Unlock()
}

// Eval runs js and discards the result, matching the teacher's
// evalDiscard helper.
func (e *Engine) Eval(js string) error {
	_, err := e.Ctx.RunScript(js, "eval.js")
	if err != nil && e.UncaughtException != nil {
		e.UncaughtException(err)
	}
	return err
}

// ThrowTypeError throws the JS string "TypeError: " + msg from within an
// op_* callback. The thrown value is a plain string, not a TypeError
// instance, so script-side `instanceof TypeError` checks do not match it.
func (e *Engine) ThrowTypeError(msg string) *v8.Value {
	v, _ := v8.NewValue(e.Iso, fmt.Sprintf("TypeError: %s", msg))
	e.Iso.ThrowException(v)
	return nil
}
