package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	v8 "github.com/tommie/v8go"

	"github.com/kedojs/kedo/internal/job"
)

func TestNewDisposeRoundTrip(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	defer e.Dispose()

	v, err := e.Ctx.RunScript("1 + 1", "t.js")
	require.NoError(t, err)
	require.Equal(t, int32(2), v.Int32())
}

func TestRegisterFuncRoundTrip(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	defer e.Dispose()

	require.NoError(t, e.RegisterFunc("double", func(n int64) int64 { return n * 2 }))

	v, err := e.Ctx.RunScript("double(21)", "t.js")
	require.NoError(t, err)
	require.EqualValues(t, 42, v.Integer())
}

func TestRegisterFuncThrowsOnError(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	defer e.Dispose()

	boom := func(s string) (string, error) {
		return "", errors.New("boom: " + s)
	}
	require.NoError(t, e.RegisterFunc("boom", boom))

	_, err = e.Ctx.RunScript(`boom("x")`, "t.js")
	require.Error(t, err)
}

// TestRegisterAsyncFuncResolvesThroughLoop drives a RegisterAsyncFunc op
// through an actual job.Queue.Spawn round trip, matching how internal/ops's
// async op_* bindings resolve a promise from inside a FutureJob's
// NativeJob rather than directly from the worker goroutine.
func TestRegisterAsyncFuncResolvesThroughLoop(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	defer e.Dispose()

	require.NoError(t, e.RegisterAsyncFunc("asyncDouble", func(info *v8.FunctionCallbackInfo, resolve func(*v8.Value), reject func(*v8.Value)) {
		n := info.Args()[0].Integer()
		e.Jobs.Spawn(job.FutureJob{
			Tag: "asyncDouble",
			Poll: func(context.Context) (job.NativeJob, error) {
				return job.NativeJob{Run: func(job.Context) error {
					v, _ := v8.NewValue(e.Iso, uint64(n*2))
					resolve(v)
					return nil
				}}, nil
			},
		}, true)
	}))

	_, err = e.Ctx.RunScript(`
		globalThis.__result = null;
		asyncDouble(10).then((v) => { globalThis.__result = v; });
	`, "t.js")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Loop.Run(ctx))

	v, err := e.Ctx.RunScript("globalThis.__result", "t.js")
	require.NoError(t, err)
	require.EqualValues(t, 20, v.Integer())
}

func TestSetGlobalCompositeValue(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	defer e.Dispose()

	require.NoError(t, e.SetGlobal("config", map[string]any{"addr": "localhost:0"}))

	v, err := e.Ctx.RunScript("config.addr", "t.js")
	require.NoError(t, err)
	require.Equal(t, "localhost:0", v.String())
}

func TestToJSValueRoundTrip(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	defer e.Dispose()

	v, err := e.ToJSValue(struct {
		Value string `json:"value"`
		Done  bool   `json:"done"`
	}{Value: "chunk", Done: false})
	require.NoError(t, err)

	require.NoError(t, e.Ctx.Global().Set("result", v))
	got, err := e.Ctx.RunScript("result.value + ':' + result.done", "t.js")
	require.NoError(t, err)
	require.Equal(t, "chunk:false", got.String())
}
