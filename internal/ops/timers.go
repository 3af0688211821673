package ops

import (
	"log"
	"time"

	"github.com/kedojs/kedo/internal/timer"
	v8 "github.com/tommie/v8go"
)

// installTimers wires op_timer_add/op_timer_clear onto the engine's
// internal/timer.Queue, per spec.md §4.B and §4.J's "timer ops" note.
func (b *Bindings) installTimers() error {
	if err := b.eng.RegisterRaw("op_timer_add", b.opTimerAdd); err != nil {
		return err
	}
	return b.eng.RegisterRaw("op_timer_clear", b.opTimerClear)
}

// opTimerAdd(delayMs: number, repeat: boolean, callback: function): number
func (b *Bindings) opTimerAdd(info *v8.FunctionCallbackInfo) *v8.Value {
	args := info.Args()
	if len(args) < 3 {
		return b.eng.ThrowTypeError("op_timer_add requires (delayMs, repeat, callback)")
	}
	delayMs := args[0].Number()
	repeat := args[1].Boolean()
	cb, err := args[2].AsFunction()
	if err != nil {
		return b.eng.ThrowTypeError("op_timer_add: third argument must be a function")
	}

	kind := timer.Timeout
	if repeat {
		kind = timer.Interval
	}
	if delayMs < 0 {
		delayMs = 0
	}

	id := b.eng.Timer.Add(time.Duration(delayMs*float64(time.Millisecond)), kind, func() {
		if _, err := cb.Call(b.eng.Ctx.Global()); err != nil {
			log.Printf("ops: timer callback failed: %v", err)
		}
	})

	v, _ := v8.NewValue(b.eng.Iso, uint64(id))
	return v
}

// opTimerClear(id: number): void
func (b *Bindings) opTimerClear(info *v8.FunctionCallbackInfo) *v8.Value {
	args := info.Args()
	if len(args) < 1 {
		return b.eng.ThrowTypeError("op_timer_clear requires (id)")
	}
	b.eng.Timer.Clear(uint64(args[0].Integer()))
	return nil
}
