package engine

import (
	"fmt"

	v8 "github.com/tommie/v8go"
)

// unhandledRejectionJS tracks promise rejections that reach the end of a
// microtask turn with no .then/.catch handler attached, per spec.md §7
// "Propagation". It wraps Promise.prototype.then/catch to mark a promise
// as handled the instant a rejection handler is attached, whether before
// or after it is rejected, and uses queueMicrotask to give script one
// turn to attach one before reporting through op_unhandled_rejection.
const unhandledRejectionJS = `
(function() {

const _pending = new Map();
const _handled = new WeakSet();
let _nextId = 0;

function _markHandled(p) {
	_handled.add(p);
	if (p.__krId !== undefined) {
		_pending.delete(p.__krId);
	}
}

const _origThen = Promise.prototype.then;
Promise.prototype.then = function(onFulfilled, onRejected) {
	const result = _origThen.call(this, onFulfilled, onRejected);
	if (typeof onRejected === 'function') {
		_markHandled(this);
	}
	return result;
};

const _origCatch = Promise.prototype.catch;
Promise.prototype.catch = function(onRejected) {
	const result = _origCatch.call(this, onRejected);
	if (typeof onRejected === 'function') {
		_markHandled(this);
	}
	return result;
};

globalThis.__trackRejection = function(promise, reason) {
	if (_handled.has(promise)) {
		return;
	}
	const id = ++_nextId;
	try {
		Object.defineProperty(promise, '__krId', { value: id, writable: true, configurable: true });
	} catch (e) {
		return;
	}
	_pending.set(id, true);
	queueMicrotask(function() {
		if (_pending.delete(id)) {
			op_unhandled_rejection(reason);
		}
	});
};

})();
`

// setupUnhandledRejectionTracking installs op_unhandled_rejection and
// evaluates unhandledRejectionJS, wiring __trackRejection for
// RegisterAsyncFunc's reject path to call automatically.
func (e *Engine) setupUnhandledRejectionTracking() error {
	if err := e.RegisterRaw("op_unhandled_rejection", func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		var reason *v8.Value
		if len(args) > 0 {
			reason = args[0]
		}
		if e.UnhandledRejection != nil {
			e.UnhandledRejection(reason)
		}
		return nil
	}); err != nil {
		return err
	}
	if _, err := e.Ctx.RunScript(unhandledRejectionJS, "unhandledrejection.js"); err != nil {
		return fmt.Errorf("evaluating unhandledrejection.js: %w", err)
	}
	return nil
}

// trackRejection notifies the unhandledRejectionJS polyfill that promise
// was just rejected with reason, letting it detect within one microtask
// turn whether script ever attaches a handler. Unlike a manual
// __trackRejection call from script, this is invoked automatically from
// RegisterAsyncFunc's reject closure at the moment of rejection.
func (e *Engine) trackRejection(promise, reason *v8.Value) {
	fnVal, err := e.Ctx.Global().Get("__trackRejection")
	if err != nil {
		return
	}
	fn, err := fnVal.AsFunction()
	if err != nil {
		return
	}
	_, _ = fn.Call(e.Ctx.Global(), promise, reason)
}
