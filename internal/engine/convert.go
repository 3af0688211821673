package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	v8 "github.com/tommie/v8go"
)

// RegisterFunc registers a synchronous Go function as a global JS
// function via reflection, ported from the teacher's
// internal/v8engine.v8Runtime.RegisterFunc. Supported signatures:
//
//	func(args...)
//	func(args...) T
//	func(args...) (T, error)   // error is thrown via ThrowTypeError
func (e *Engine) RegisterFunc(name string, fn any) error {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("engine: RegisterFunc(%s): expected function, got %T", name, fn)
	}

	tmpl := v8.NewFunctionTemplate(e.Iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < fnType.NumIn() {
			return e.ThrowTypeError(fmt.Sprintf("%s requires at least %d argument(s), got %d", name, fnType.NumIn(), len(args)))
		}
		goArgs := make([]reflect.Value, fnType.NumIn())
		for i := 0; i < fnType.NumIn(); i++ {
			goArgs[i] = jsToGoArg(args[i], fnType.In(i))
		}
		results := fnVal.Call(goArgs)
		switch fnType.NumOut() {
		case 0:
			return nil
		case 1:
			return goToJSValue(e.Iso, results[0])
		case 2:
			if errVal := results[1]; !errVal.IsNil() {
				return e.ThrowTypeError(fmt.Sprintf("calling %s: %s", name, errVal.Interface().(error).Error()))
			}
			return goToJSValue(e.Iso, results[0])
		default:
			return nil
		}
	})
	return e.Ctx.Global().Set(name, tmpl.GetFunction(e.Ctx))
}

// RegisterAsyncFunc registers a Go function that returns a JS Promise.
// run is invoked synchronously on the engine thread to extract/validate
// arguments and kick off the async work; it must call resolve or reject
// exactly once, from the engine thread, inside the NativeJob that the
// async work enqueues (never from the worker goroutine directly) — see
// spec.md §9 "Coroutine control flow".
func (e *Engine) RegisterAsyncFunc(name string, run func(info *v8.FunctionCallbackInfo, resolve func(*v8.Value), reject func(*v8.Value))) error {
	tmpl := v8.NewFunctionTemplate(e.Iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		resolver, _ := v8.NewPromiseResolver(e.Ctx)
		promise := resolver.GetPromise().Value
		reject := func(v *v8.Value) {
			_ = resolver.Reject(v)
			e.trackRejection(promise, v)
		}
		run(info, func(v *v8.Value) { _ = resolver.Resolve(v) }, reject)
		return promise
	})
	return e.Ctx.Global().Set(name, tmpl.GetFunction(e.Ctx))
}

// RegisterRaw registers a global function backed directly by a v8go
// callback, for ops whose argument shapes (JS functions, objects) don't
// fit RegisterFunc's reflection-based scalar marshaling.
func (e *Engine) RegisterRaw(name string, handler v8.FunctionCallback) error {
	tmpl := v8.NewFunctionTemplate(e.Iso, handler)
	return e.Ctx.Global().Set(name, tmpl.GetFunction(e.Ctx))
}

// SetGlobal sets a global variable, JSON-encoding composite Go values.
func (e *Engine) SetGlobal(name string, value any) error {
	jsVal, err := goAnyToJSValue(e.Iso, e.Ctx, value)
	if err != nil {
		return fmt.Errorf("engine: converting value for %q: %w", name, err)
	}
	return e.Ctx.Global().Set(name, jsVal)
}

// ToJSValue converts an arbitrary Go value (scalar or composite) into a
// *v8.Value, JSON round-tripping composite types the same way SetGlobal
// does. Ops use this to build structured results like {value, done}.
func (e *Engine) ToJSValue(value any) (*v8.Value, error) {
	return goAnyToJSValue(e.Iso, e.Ctx, value)
}

func jsToGoArg(val *v8.Value, targetType reflect.Type) reflect.Value {
	switch targetType.Kind() {
	case reflect.String:
		return reflect.ValueOf(val.String())
	case reflect.Int:
		return reflect.ValueOf(int(val.Integer()))
	case reflect.Int64:
		return reflect.ValueOf(val.Integer())
	case reflect.Uint64:
		return reflect.ValueOf(uint64(val.Integer()))
	case reflect.Float64:
		return reflect.ValueOf(val.Number())
	case reflect.Bool:
		return reflect.ValueOf(val.Boolean())
	default:
		return reflect.Zero(targetType)
	}
}

func goToJSValue(iso *v8.Isolate, val reflect.Value) *v8.Value {
	if !val.IsValid() {
		return nil
	}
	switch val.Kind() {
	case reflect.String:
		v, _ := v8.NewValue(iso, val.String())
		return v
	case reflect.Int, reflect.Int32:
		v, _ := v8.NewValue(iso, int32(val.Int()))
		return v
	case reflect.Int64:
		v, _ := v8.NewValue(iso, uint64(val.Int()))
		return v
	case reflect.Uint64:
		v, _ := v8.NewValue(iso, val.Uint())
		return v
	case reflect.Float64, reflect.Float32:
		v, _ := v8.NewValue(iso, val.Float())
		return v
	case reflect.Bool:
		v, _ := v8.NewValue(iso, val.Bool())
		return v
	default:
		return nil
	}
}

func goAnyToJSValue(iso *v8.Isolate, ctx *v8.Context, value any) (*v8.Value, error) {
	if value == nil {
		return v8.Undefined(iso), nil
	}
	switch v := value.(type) {
	case string:
		return v8.NewValue(iso, v)
	case int:
		return v8.NewValue(iso, int32(v))
	case int32:
		return v8.NewValue(iso, v)
	case int64:
		return v8.NewValue(iso, uint64(v))
	case uint64:
		return v8.NewValue(iso, v)
	case float64:
		return v8.NewValue(iso, v)
	case bool:
		return v8.NewValue(iso, v)
	case *v8.Value:
		return v, nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshaling value: %w", err)
		}
		return ctx.RunScript(fmt.Sprintf("JSON.parse(%s)", strconv.Quote(string(data))), "set_global.js")
	}
}
