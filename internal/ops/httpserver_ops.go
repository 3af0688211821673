package ops

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kedojs/kedo/internal/httpclient"
	"github.com/kedojs/kedo/internal/httpserver"
	"github.com/kedojs/kedo/internal/job"
	v8 "github.com/tommie/v8go"
)

// cancelledCtx is already Done, turning EventReader.Next into a
// non-blocking poll for op_read_request_event's sync variant.
var cancelledCtx = func() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}()

func (b *Bindings) installHTTPServer() error {
	if err := b.eng.RegisterAsyncFunc("op_internal_start_server", b.opInternalStartServer); err != nil {
		return err
	}
	if err := b.eng.RegisterRaw("op_read_request_event", b.opReadRequestEvent); err != nil {
		return err
	}
	if err := b.eng.RegisterAsyncFunc("op_read_async_request_event", b.opReadAsyncRequestEvent); err != nil {
		return err
	}
	if err := b.eng.RegisterRaw("op_send_event_response", b.opSendEventResponse); err != nil {
		return err
	}
	return b.eng.RegisterAsyncFunc("op_shutdown_server", b.opShutdownServer)
}

type serverConfigPayload struct {
	// Network is "tcp" (default, when empty) or "unix" for a Unix domain
	// socket path in Addr — carried over from original_source's
	// HttpSocketAddr::UnixSocket listener variant.
	Network     string `json:"network"`
	Addr        string `json:"addr"`
	EnableHTTP1 bool   `json:"enableHttp1"`
	EnableHTTP2 bool   `json:"enableHttp2"`
	SocketTTLMs int64  `json:"socketTtlMs"`
}

type serverHandle struct {
	srv      *httpserver.Server
	shutdown httpserver.ShutdownHandle
}

// opInternalStartServer(configJSON: string): Promise<number> (serverId)
func (b *Bindings) opInternalStartServer(info *v8.FunctionCallbackInfo, resolve func(*v8.Value), reject func(*v8.Value)) {
	args := info.Args()
	if len(args) < 1 {
		reject(b.errVal("op_internal_start_server requires (configJSON)"))
		return
	}
	var cfg serverConfigPayload
	if err := json.Unmarshal([]byte(args[0].String()), &cfg); err != nil {
		reject(b.errVal("op_internal_start_server: invalid config: " + err.Error()))
		return
	}

	srv := httpserver.New(httpserver.Config{
		Network:     cfg.Network,
		Addr:        cfg.Addr,
		EnableHTTP1: cfg.EnableHTTP1,
		EnableHTTP2: cfg.EnableHTTP2,
		SocketTTL:   time.Duration(cfg.SocketTTLMs) * time.Millisecond,
	})

	b.eng.Jobs.Spawn(job.FutureJob{
		Tag: "op_internal_start_server",
		Poll: func(context.Context) (job.NativeJob, error) {
			handle, err := srv.Listen()
			return job.NativeJob{Run: func(job.Context) error {
				if err != nil {
					reject(mustErrorValue(b, err))
					return nil
				}
				// servers and serverReaders only ever grow in this single
				// lockstep Add pair, so their id sequences stay aligned and
				// a serverId indexes both.
				id := b.servers.Add(srv)
				b.serverReaders.Add(srv.Events())
				b.serverHandles()[id] = serverHandle{srv: srv, shutdown: handle}
				v, _ := v8.NewValue(b.eng.Iso, uint64(id))
				resolve(v)
				return nil
			}}, nil
		},
	}, true)
}

// serverHandles lazily initializes the shutdown-handle side table. A plain
// map suffices here (vs. a resource.Table) since ids are always sourced
// from b.servers.Add and never independently allocated.
func (b *Bindings) serverHandles() map[uint64]serverHandle {
	if b.shutdownHandles == nil {
		b.shutdownHandles = make(map[uint64]serverHandle)
	}
	return b.shutdownHandles
}

// opReadRequestEvent(serverId: number): {requestId, done, wouldBlock}
// Non-blocking: only ever returns an event already buffered.
func (b *Bindings) opReadRequestEvent(info *v8.FunctionCallbackInfo) *v8.Value {
	args := info.Args()
	if len(args) < 1 {
		return b.eng.ThrowTypeError("op_read_request_event requires (serverId)")
	}
	reader, ok := b.serverReaders.Get(uint64(args[0].Integer()))
	if !ok {
		return b.eng.ThrowTypeError("op_read_request_event: unknown server resource")
	}

	ev, more, err := reader.Next(cancelledCtx)

	out := struct {
		RequestID  uint64 `json:"requestId"`
		Done       bool   `json:"done"`
		WouldBlock bool   `json:"wouldBlock"`
	}{}
	switch {
	case err != nil && !more:
		out.WouldBlock = true
	case more:
		out.RequestID = b.registerEvent(ev)
	default:
		out.Done = true
	}
	v, convErr := b.eng.ToJSValue(out)
	if convErr != nil {
		return b.eng.ThrowTypeError(convErr.Error())
	}
	return v
}

// opReadAsyncRequestEvent(serverId: number): Promise<{requestId, done}>
func (b *Bindings) opReadAsyncRequestEvent(info *v8.FunctionCallbackInfo, resolve func(*v8.Value), reject func(*v8.Value)) {
	args := info.Args()
	if len(args) < 1 {
		reject(b.errVal("op_read_async_request_event requires (serverId)"))
		return
	}
	reader, ok := b.serverReaders.Get(uint64(args[0].Integer()))
	if !ok {
		reject(b.errVal("op_read_async_request_event: unknown server resource"))
		return
	}

	b.eng.Jobs.Spawn(job.FutureJob{
		Tag: "op_read_async_request_event",
		Poll: func(ctx context.Context) (job.NativeJob, error) {
			ev, more, err := reader.Next(ctx)
			return job.NativeJob{Run: func(job.Context) error {
				if err != nil {
					reject(mustErrorValue(b, err))
					return nil
				}
				out := struct {
					RequestID uint64 `json:"requestId"`
					Done      bool   `json:"done"`
				}{Done: !more}
				if more {
					out.RequestID = b.registerEvent(ev)
				}
				v, convErr := b.eng.ToJSValue(out)
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

// registerEvent stores ev under a fresh requestId; op_http_request_*
// getters and op_send_event_response both key off this same id.
func (b *Bindings) registerEvent(ev *httpserver.RequestEvent) uint64 {
	return b.pendingEvents.Add(ev)
}

// opSendEventResponse(requestId: number, status: number, headers: [][2]string JSON, body: bodyPayload JSON)
func (b *Bindings) opSendEventResponse(info *v8.FunctionCallbackInfo) *v8.Value {
	args := info.Args()
	if len(args) < 4 {
		return b.eng.ThrowTypeError("op_send_event_response requires (requestId, status, headersJSON, bodyJSON)")
	}
	ev, ok := b.pendingEvents.Remove(uint64(args[0].Integer()))
	if !ok {
		return b.eng.ThrowTypeError("op_send_event_response: unknown request resource")
	}
	status := int(args[1].Integer())

	var headerPairsIn [][2]string
	if err := json.Unmarshal([]byte(args[2].String()), &headerPairsIn); err != nil {
		return b.eng.ThrowTypeError("op_send_event_response: invalid headers: " + err.Error())
	}
	headers := httpclient.NewHeaders()
	for _, kv := range headerPairsIn {
		headers.Append(kv[0], kv[1])
	}

	var bp bodyPayload
	if err := json.Unmarshal([]byte(args[3].String()), &bp); err != nil {
		return b.eng.ThrowTypeError("op_send_event_response: invalid body: " + err.Error())
	}
	body := httpclient.Body{Kind: httpclient.BodyNone}
	switch bp.Kind {
	case "bytes":
		body = httpclient.Body{Kind: httpclient.BodyBytes, Bytes: unb64(bp.Bytes)}
	case "stream":
		if reader, ok := b.readers.Get(bp.StreamID); ok {
			body = httpclient.Body{Kind: httpclient.BodyStream, Reader: reader}
		}
	}

	ev.Respond(&httpserver.ServerResponse{Status: status, Headers: headers, Body: body})
	return nil
}

// opShutdownServer(serverId: number): Promise<void>
func (b *Bindings) opShutdownServer(info *v8.FunctionCallbackInfo, resolve func(*v8.Value), reject func(*v8.Value)) {
	args := info.Args()
	if len(args) < 1 {
		reject(b.errVal("op_shutdown_server requires (serverId)"))
		return
	}
	handle, ok := b.serverHandles()[uint64(args[0].Integer())]
	if !ok {
		reject(b.errVal("op_shutdown_server: unknown server resource"))
		return
	}

	b.eng.Jobs.Spawn(job.FutureJob{
		Tag: "op_shutdown_server",
		Poll: func(ctx context.Context) (job.NativeJob, error) {
			err := handle.shutdown.Shutdown(ctx)
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
