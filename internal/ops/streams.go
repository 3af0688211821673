package ops

import (
	"context"

	"github.com/kedojs/kedo/internal/job"
	"github.com/kedojs/kedo/internal/stream"
	v8 "github.com/tommie/v8go"
)

// readResult is the composite JS value returned by the read ops,
// mirroring a generator's {value, done} pair; value is base64-encoded
// bytes, or "" when done.
type readResult struct {
	Value string `json:"value"`
	Done  bool   `json:"done"`
}

func (b *Bindings) installStreams() error {
	if err := b.eng.RegisterRaw("op_close_stream_resource", b.opCloseStreamResource); err != nil {
		return err
	}
	if err := b.eng.RegisterRaw("op_acquire_stream_reader", b.opAcquireStreamReader); err != nil {
		return err
	}
	if err := b.eng.RegisterAsyncFunc("op_read_readable_stream", b.opReadReadableStream); err != nil {
		return err
	}
	if err := b.eng.RegisterRaw("op_read_sync_readable_stream", b.opReadSyncReadableStream); err != nil {
		return err
	}
	if err := b.eng.RegisterAsyncFunc("op_write_readable_stream", b.opWriteReadableStream); err != nil {
		return err
	}
	if err := b.eng.RegisterRaw("op_write_sync_readable_stream", b.opWriteSyncReadableStream); err != nil {
		return err
	}
	return b.eng.RegisterAsyncFunc("op_wait_close_readable_stream", b.opWaitCloseReadableStream)
}

// opCloseStreamResource(channelId: number): void
func (b *Bindings) opCloseStreamResource(info *v8.FunctionCallbackInfo) *v8.Value {
	args := info.Args()
	if len(args) < 1 {
		return b.eng.ThrowTypeError("op_close_stream_resource requires (channelId)")
	}
	id := uint64(args[0].Integer())
	if ch, ok := b.streams.Remove(id); ok {
		ch.Close()
	}
	return nil
}

// opAcquireStreamReader(channelId: number): number (readerId)
func (b *Bindings) opAcquireStreamReader(info *v8.FunctionCallbackInfo) *v8.Value {
	args := info.Args()
	if len(args) < 1 {
		return b.eng.ThrowTypeError("op_acquire_stream_reader requires (channelId)")
	}
	ch, ok := b.streams.Get(uint64(args[0].Integer()))
	if !ok {
		return b.eng.ThrowTypeError("op_acquire_stream_reader: unknown channel resource")
	}
	reader, ok := ch.AcquireReader()
	if !ok {
		return b.eng.ThrowTypeError("op_acquire_stream_reader: reader already acquired")
	}
	id := b.readers.Add(reader)
	v, _ := v8.NewValue(b.eng.Iso, uint64(id))
	return v
}

// opReadReadableStream(readerId: number): Promise<{value, done}>
func (b *Bindings) opReadReadableStream(info *v8.FunctionCallbackInfo, resolve func(*v8.Value), reject func(*v8.Value)) {
	args := info.Args()
	if len(args) < 1 {
		reject(b.errVal("op_read_readable_stream requires (readerId)"))
		return
	}
	reader, ok := b.readers.Get(uint64(args[0].Integer()))
	if !ok {
		reject(b.errVal("op_read_readable_stream: unknown reader resource"))
		return
	}

	b.eng.Jobs.Spawn(job.FutureJob{
		Tag: "op_read_readable_stream",
		Poll: func(ctx context.Context) (job.NativeJob, error) {
			chunk, more, err := reader.Next(ctx)
			return job.NativeJob{Run: func(job.Context) error {
				if err != nil {
					reject(mustErrorValue(b, err))
					return nil
				}
				result := readResult{Done: !more}
				if more {
					result.Value = b64(chunk)
				}
				v, convErr := b.eng.ToJSValue(result)
				if convErr != nil {
					reject(mustErrorValue(b, convErr))
					return nil
				}
				resolve(v)
				return nil
			}}, nil
		},
	}, true)
}

// opReadSyncReadableStream(readerId: number): {value, done, wouldBlock}
func (b *Bindings) opReadSyncReadableStream(info *v8.FunctionCallbackInfo) *v8.Value {
	args := info.Args()
	if len(args) < 1 {
		return b.eng.ThrowTypeError("op_read_sync_readable_stream requires (readerId)")
	}
	reader, ok := b.readers.Get(uint64(args[0].Integer()))
	if !ok {
		return b.eng.ThrowTypeError("op_read_sync_readable_stream: unknown reader resource")
	}

	chunk, err := reader.TryRead()
	out := struct {
		Value      string `json:"value"`
		Done       bool   `json:"done"`
		WouldBlock bool   `json:"wouldBlock"`
	}{}
	switch err {
	case nil:
		out.Value = b64(chunk)
	case stream.ErrClosed:
		out.Done = true
	case stream.ErrEmpty:
		out.WouldBlock = true
	default:
		return b.eng.ThrowTypeError(err.Error())
	}
	v, convErr := b.eng.ToJSValue(out)
	if convErr != nil {
		return b.eng.ThrowTypeError(convErr.Error())
	}
	return v
}

// opWriteReadableStream(channelId: number, base64Data: string): Promise<void>
func (b *Bindings) opWriteReadableStream(info *v8.FunctionCallbackInfo, resolve func(*v8.Value), reject func(*v8.Value)) {
	args := info.Args()
	if len(args) < 2 {
		reject(b.errVal("op_write_readable_stream requires (channelId, data)"))
		return
	}
	ch, ok := b.streams.Get(uint64(args[0].Integer()))
	if !ok {
		reject(b.errVal("op_write_readable_stream: unknown channel resource"))
		return
	}
	data := unb64(args[1].String())

	b.eng.Jobs.Spawn(job.FutureJob{
		Tag: "op_write_readable_stream",
		Poll: func(ctx context.Context) (job.NativeJob, error) {
			err := ch.Write(ctx, data)
			return job.NativeJob{Run: func(job.Context) error {
				if err != nil {
					reject(mustErrorValue(b, err))
					return nil
				}
				resolve(v8.Undefined(b.eng.Iso))
				return nil
			}}, nil
		},
	}, true)
}

// opWriteSyncReadableStream(channelId: number, base64Data: string): boolean
// (true on success, false when the channel is at capacity)
func (b *Bindings) opWriteSyncReadableStream(info *v8.FunctionCallbackInfo) *v8.Value {
	args := info.Args()
	if len(args) < 2 {
		return b.eng.ThrowTypeError("op_write_sync_readable_stream requires (channelId, data)")
	}
	ch, ok := b.streams.Get(uint64(args[0].Integer()))
	if !ok {
		return b.eng.ThrowTypeError("op_write_sync_readable_stream: unknown channel resource")
	}
	data := unb64(args[1].String())

	err := ch.TryWrite(data)
	switch err {
	case nil:
		v, _ := v8.NewValue(b.eng.Iso, true)
		return v
	case stream.ErrChannelFull:
		v, _ := v8.NewValue(b.eng.Iso, false)
		return v
	default:
		return b.eng.ThrowTypeError(err.Error())
	}
}

// opWaitCloseReadableStream(channelId: number): Promise<void>, resolving
// once the channel's Completion fires.
func (b *Bindings) opWaitCloseReadableStream(info *v8.FunctionCallbackInfo, resolve func(*v8.Value), reject func(*v8.Value)) {
	args := info.Args()
	if len(args) < 1 {
		reject(b.errVal("op_wait_close_readable_stream requires (channelId)"))
		return
	}
	ch, ok := b.streams.Get(uint64(args[0].Integer()))
	if !ok {
		reject(b.errVal("op_wait_close_readable_stream: unknown channel resource"))
		return
	}
	completion := ch.Completion()

	b.eng.Jobs.Spawn(job.FutureJob{
		Tag: "op_wait_close_readable_stream",
		Poll: func(ctx context.Context) (job.NativeJob, error) {
			var waitErr error
			select {
			case <-completion.Wait():
			case <-ctx.Done():
				waitErr = ctx.Err()
			}
			return job.NativeJob{Run: func(job.Context) error {
				if waitErr != nil {
					reject(mustErrorValue(b, waitErr))
					return nil
				}
				resolve(v8.Undefined(b.eng.Iso))
				return nil
			}}, nil
		},
	}, true)
}

// mustErrorValue renders a Go error as a JS string value for Promise
// rejection; ops never reject with native Go error objects.
func mustErrorValue(b *Bindings, err error) *v8.Value {
	v, _ := v8.NewValue(b.eng.Iso, err.Error())
	return v
}
