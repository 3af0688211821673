package ops

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/kedojs/kedo/internal/httpclient"
	"github.com/kedojs/kedo/internal/job"
	v8 "github.com/tommie/v8go"
)

func (b *Bindings) installHTTPClient() error {
	if err := b.eng.RegisterRaw("op_new_fetch_client", b.opNewFetchClient); err != nil {
		return err
	}
	if err := b.eng.RegisterAsyncFunc("op_internal_fetch", b.opInternalFetch); err != nil {
		return err
	}
	if err := b.eng.RegisterRaw("op_http_request_method", b.opHTTPRequestMethod); err != nil {
		return err
	}
	if err := b.eng.RegisterRaw("op_http_request_uri", b.opHTTPRequestURI); err != nil {
		return err
	}
	if err := b.eng.RegisterRaw("op_http_request_headers", b.opHTTPRequestHeaders); err != nil {
		return err
	}
	if err := b.eng.RegisterRaw("op_http_request_keep_alive", b.opHTTPRequestKeepAlive); err != nil {
		return err
	}
	if err := b.eng.RegisterRaw("op_http_request_redirect", b.opHTTPRequestRedirect); err != nil {
		return err
	}
	if err := b.eng.RegisterRaw("op_http_request_redirect_count", b.opHTTPRequestRedirectCount); err != nil {
		return err
	}
	if err := b.eng.RegisterRaw("op_http_request_body", b.opHTTPRequestBody); err != nil {
		return err
	}
	return b.eng.RegisterAsyncFunc("op_read_decoded_stream", b.opReadDecodedStream)
}

// opNewFetchClient(): number (clientId)
func (b *Bindings) opNewFetchClient(info *v8.FunctionCallbackInfo) *v8.Value {
	id := b.httpClients.Add(httpclient.NewClient())
	v, _ := v8.NewValue(b.eng.Iso, uint64(id))
	return v
}

// bodyPayload is the wire shape script uses to describe a request/
// response body across the op_* boundary.
type bodyPayload struct {
	Kind     string `json:"kind"` // "none" | "bytes" | "stream"
	Bytes    string `json:"bytes,omitempty"`
	StreamID uint64 `json:"streamId,omitempty"`
}

type fetchRequestPayload struct {
	Method        string      `json:"method"`
	URI           string      `json:"uri"`
	Headers       [][2]string `json:"headers"`
	KeepAlive     bool        `json:"keepAlive"`
	Redirect      string      `json:"redirect"` // "follow" | "error" | "manual"
	RedirectCount int         `json:"redirectCount"`
	Body          bodyPayload `json:"body"`
}

type fetchResponsePayload struct {
	URLs       []string    `json:"urls"`
	Status     int         `json:"status"`
	StatusText string      `json:"statusText"`
	Headers    [][2]string `json:"headers"`
	Aborted    bool        `json:"aborted"`
	DecoderID  uint64      `json:"decoderId"`
}

func parseRedirectPolicy(s string) httpclient.RedirectPolicy {
	switch s {
	case "error":
		return httpclient.Error
	case "manual":
		return httpclient.Manual
	default:
		return httpclient.Follow
	}
}

func (b *Bindings) buildRequest(payload fetchRequestPayload) (*httpclient.Request, error) {
	uri, err := url.Parse(payload.URI)
	if err != nil {
		return nil, err
	}
	headers := httpclient.NewHeaders()
	for _, kv := range payload.Headers {
		headers.Append(kv[0], kv[1])
	}

	body := httpclient.Body{Kind: httpclient.BodyNone}
	switch payload.Body.Kind {
	case "bytes":
		body = httpclient.Body{Kind: httpclient.BodyBytes, Bytes: unb64(payload.Body.Bytes)}
	case "stream":
		ch, ok := b.streams.Get(payload.Body.StreamID)
		if !ok {
			return nil, errUnknownStream
		}
		reader, ok := ch.AcquireReader()
		if !ok {
			return nil, errReaderTaken
		}
		body = httpclient.Body{Kind: httpclient.BodyStream, Reader: reader}
	}

	return &httpclient.Request{
		Method:        payload.Method,
		URI:           uri,
		Headers:       headers,
		KeepAlive:     payload.KeepAlive,
		Redirect:      parseRedirectPolicy(payload.Redirect),
		RedirectCount: payload.RedirectCount,
		Body:          body,
	}, nil
}

// opInternalFetch(clientId: number, requestJSON: string, abortReaderId?: number): Promise<responseJSON>
func (b *Bindings) opInternalFetch(info *v8.FunctionCallbackInfo, resolve func(*v8.Value), reject func(*v8.Value)) {
	args := info.Args()
	if len(args) < 2 {
		reject(b.errVal("op_internal_fetch requires (clientId, requestJSON)"))
		return
	}
	client, ok := b.httpClients.Get(uint64(args[0].Integer()))
	if !ok {
		reject(b.errVal("op_internal_fetch: unknown client resource"))
		return
	}

	var payload fetchRequestPayload
	if err := json.Unmarshal([]byte(args[1].String()), &payload); err != nil {
		reject(b.errVal("op_internal_fetch: invalid request payload: " + err.Error()))
		return
	}
	req, err := b.buildRequest(payload)
	if err != nil {
		reject(mustErrorValue(b, err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if len(args) > 2 && !args[2].IsUndefined() && !args[2].IsNull() {
		if reader, ok := b.readers.Get(uint64(args[2].Integer())); ok {
			go func() {
				_, _, _ = reader.Next(context.Background())
				cancel()
			}()
		}
	}

	b.eng.Jobs.Spawn(job.FutureJob{
		Tag: "op_internal_fetch",
		Poll: func(context.Context) (job.NativeJob, error) {
			resp, execErr := client.Execute(ctx, req)
			return job.NativeJob{Run: func(job.Context) error {
				cancel()
				if execErr != nil {
					if ctx.Err() != nil {
						reject(mustErrorValue(b, errFetchAborted))
						return nil
					}
					reject(mustErrorValue(b, execErr))
					return nil
				}
				decoderID := b.decoders.Add(resp.DecodedBody)
				out := fetchResponsePayload{
					URLs:       resp.URLs,
					Status:     resp.Status,
					StatusText: resp.StatusText,
					Headers:    headerPairs(resp.Headers),
					Aborted:    resp.Aborted,
					DecoderID:  decoderID,
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

func headerPairs(h *httpclient.Headers) [][2]string {
	if h == nil {
		return nil
	}
	return h.Entries()
}

// opReadDecodedStream(decoderId: number): Promise<{value, done}>
func (b *Bindings) opReadDecodedStream(info *v8.FunctionCallbackInfo, resolve func(*v8.Value), reject func(*v8.Value)) {
	args := info.Args()
	if len(args) < 1 {
		reject(b.errVal("op_read_decoded_stream requires (decoderId)"))
		return
	}
	decoder, ok := b.decoders.Get(uint64(args[0].Integer()))
	if !ok {
		reject(b.errVal("op_read_decoded_stream: unknown decoder resource"))
		return
	}

	b.eng.Jobs.Spawn(job.FutureJob{
		Tag: "op_read_decoded_stream",
		Poll: func(context.Context) (job.NativeJob, error) {
			frame, more, err := decoder.Next()
			return job.NativeJob{Run: func(job.Context) error {
				if err != nil {
					reject(mustErrorValue(b, err))
					return nil
				}
				result := readResult{Done: !more}
				if more {
					result.Value = b64(frame.Data)
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

// The op_http_request_* getters read fields off an *httpclient.Request
// resource handed out when an incoming RequestEvent is read off a
// server (see installHTTPServer's opReadRequestEvent/opReadAsyncRequestEvent).

func (b *Bindings) opHTTPRequestMethod(info *v8.FunctionCallbackInfo) *v8.Value {
	req, ok := b.requestArg(info)
	if !ok {
		return b.eng.ThrowTypeError("op_http_request_method: unknown request resource")
	}
	v, _ := v8.NewValue(b.eng.Iso, req.Method)
	return v
}

func (b *Bindings) opHTTPRequestURI(info *v8.FunctionCallbackInfo) *v8.Value {
	req, ok := b.requestArg(info)
	if !ok {
		return b.eng.ThrowTypeError("op_http_request_uri: unknown request resource")
	}
	v, _ := v8.NewValue(b.eng.Iso, req.URI.String())
	return v
}

func (b *Bindings) opHTTPRequestHeaders(info *v8.FunctionCallbackInfo) *v8.Value {
	req, ok := b.requestArg(info)
	if !ok {
		return b.eng.ThrowTypeError("op_http_request_headers: unknown request resource")
	}
	v, err := b.eng.ToJSValue(headerPairs(req.Headers))
	if err != nil {
		return b.eng.ThrowTypeError(err.Error())
	}
	return v
}

func (b *Bindings) opHTTPRequestKeepAlive(info *v8.FunctionCallbackInfo) *v8.Value {
	req, ok := b.requestArg(info)
	if !ok {
		return b.eng.ThrowTypeError("op_http_request_keep_alive: unknown request resource")
	}
	v, _ := v8.NewValue(b.eng.Iso, req.KeepAlive)
	return v
}

func (b *Bindings) opHTTPRequestRedirect(info *v8.FunctionCallbackInfo) *v8.Value {
	req, ok := b.requestArg(info)
	if !ok {
		return b.eng.ThrowTypeError("op_http_request_redirect: unknown request resource")
	}
	names := map[httpclient.RedirectPolicy]string{httpclient.Follow: "follow", httpclient.Error: "error", httpclient.Manual: "manual"}
	v, _ := v8.NewValue(b.eng.Iso, names[req.Redirect])
	return v
}

func (b *Bindings) opHTTPRequestRedirectCount(info *v8.FunctionCallbackInfo) *v8.Value {
	req, ok := b.requestArg(info)
	if !ok {
		return b.eng.ThrowTypeError("op_http_request_redirect_count: unknown request resource")
	}
	v, _ := v8.NewValue(b.eng.Iso, int32(req.RedirectCount))
	return v
}

func (b *Bindings) opHTTPRequestBody(info *v8.FunctionCallbackInfo) *v8.Value {
	req, ok := b.requestArg(info)
	if !ok {
		return b.eng.ThrowTypeError("op_http_request_body: unknown request resource")
	}
	switch req.Body.Kind {
	case httpclient.BodyBytes:
		v, err := b.eng.ToJSValue(bodyPayload{Kind: "bytes", Bytes: b64(req.Body.Bytes)})
		if err != nil {
			return b.eng.ThrowTypeError(err.Error())
		}
		return v
	case httpclient.BodyStream:
		readerID := b.readers.Add(req.Body.Reader)
		v, err := b.eng.ToJSValue(bodyPayload{Kind: "stream", StreamID: readerID})
		if err != nil {
			return b.eng.ThrowTypeError(err.Error())
		}
		return v
	default:
		v, err := b.eng.ToJSValue(bodyPayload{Kind: "none"})
		if err != nil {
			return b.eng.ThrowTypeError(err.Error())
		}
		return v
	}
}

func (b *Bindings) requestArg(info *v8.FunctionCallbackInfo) (*httpclient.Request, bool) {
	args := info.Args()
	if len(args) < 1 {
		return nil, false
	}
	ev, ok := b.pendingEvents.Get(uint64(args[0].Integer()))
	if !ok {
		return nil, false
	}
	return ev.Request, true
}
