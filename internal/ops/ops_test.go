package ops

import (
	"context"
	"encoding/base64"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kedojs/kedo/internal/engine"
	"github.com/kedojs/kedo/internal/stream"
)

func newTestEngine(t *testing.T) (*engine.Engine, *Bindings) {
	t.Helper()
	e, err := engine.New()
	require.NoError(t, err)
	t.Cleanup(e.Dispose)

	b, err := Install(e)
	require.NoError(t, err)
	return e, b
}

func runLoop(t *testing.T, e *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Loop.Run(ctx))
}

func TestOpTimerAddFiresCallbackThroughLoop(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.Eval(`
		globalThis.__fired = false;
		op_timer_add(0, false, () => { globalThis.__fired = true; });
	`))
	runLoop(t, e)

	v, err := e.Ctx.RunScript("globalThis.__fired", "t.js")
	require.NoError(t, err)
	require.True(t, v.Boolean())
}

func TestOpTimerClearPreventsFire(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.Eval(`
		globalThis.__fired = false;
		const id = op_timer_add(50, false, () => { globalThis.__fired = true; });
		op_timer_clear(id);
	`))
	runLoop(t, e)

	v, err := e.Ctx.RunScript("globalThis.__fired", "t.js")
	require.NoError(t, err)
	require.False(t, v.Boolean())
}

// TestStreamLifecycle drives op_acquire_stream_reader, the sync and async
// reads, and op_wait_close_readable_stream off a channel registered
// directly via NewStreamResource (the same streams table op_internal_fetch
// looks up a stream body's id in).
func TestStreamLifecycle(t *testing.T) {
	e, b := newTestEngine(t)

	ch := stream.NewUnbounded()
	channelID := b.NewStreamResource(ch)
	require.NoError(t, ch.TryWrite([]byte("hello")))
	ch.Close()

	script := `
		const readerId = op_acquire_stream_reader(` + idLiteral(channelID) + `);
		globalThis.__sync = op_read_sync_readable_stream(readerId);
		globalThis.__readerId = readerId;
	`
	require.NoError(t, e.Eval(script))

	syncResult, err := e.Ctx.RunScript("JSON.stringify(globalThis.__sync)", "t.js")
	require.NoError(t, err)
	require.Contains(t, syncResult.String(), base64.StdEncoding.EncodeToString([]byte("hello")))

	require.NoError(t, e.Eval(`
		globalThis.__done = false;
		op_read_readable_stream(globalThis.__readerId).then((r) => { globalThis.__doneResult = r; globalThis.__done = true; });
	`))
	runLoop(t, e)

	doneFlag, err := e.Ctx.RunScript("globalThis.__done", "t.js")
	require.NoError(t, err)
	require.True(t, doneFlag.Boolean())

	doneResult, err := e.Ctx.RunScript("JSON.stringify(globalThis.__doneResult)", "t.js")
	require.NoError(t, err)
	require.Contains(t, doneResult.String(), `"done":true`)
}

func TestOpWriteSyncReadableStreamReportsCapacity(t *testing.T) {
	e, b := newTestEngine(t)

	ch := stream.NewBounded(1)
	channelID := b.NewStreamResource(ch)

	script := `
		globalThis.__first = op_write_sync_readable_stream(` + idLiteral(channelID) + `, "` + base64.StdEncoding.EncodeToString([]byte("x")) + `");
		globalThis.__second = op_write_sync_readable_stream(` + idLiteral(channelID) + `, "` + base64.StdEncoding.EncodeToString([]byte("y")) + `");
	`
	require.NoError(t, e.Eval(script))

	first, err := e.Ctx.RunScript("globalThis.__first", "t.js")
	require.NoError(t, err)
	require.True(t, first.Boolean())

	second, err := e.Ctx.RunScript("globalThis.__second", "t.js")
	require.NoError(t, err)
	require.False(t, second.Boolean())
}

func TestOpWaitCloseReadableStreamResolvesOnClose(t *testing.T) {
	e, b := newTestEngine(t)

	ch := stream.NewUnbounded()
	channelID := b.NewStreamResource(ch)

	require.NoError(t, e.Eval(`
		globalThis.__closed = false;
		op_wait_close_readable_stream(`+idLiteral(channelID)+`).then(() => { globalThis.__closed = true; });
	`))

	ch.Close()
	runLoop(t, e)

	v, err := e.Ctx.RunScript("globalThis.__closed", "t.js")
	require.NoError(t, err)
	require.True(t, v.Boolean())
}

func TestOpCloseStreamResourceRemovesEntry(t *testing.T) {
	e, b := newTestEngine(t)

	ch := stream.NewUnbounded()
	channelID := b.NewStreamResource(ch)

	require.NoError(t, e.Eval(`op_close_stream_resource(`+idLiteral(channelID)+`);`))

	_, ok := b.streams.Get(channelID)
	require.False(t, ok)
}

func idLiteral(id uint64) string {
	return strconv.FormatUint(id, 10)
}
