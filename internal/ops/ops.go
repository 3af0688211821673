// Package ops implements the script-visible op_* binding surface from
// spec.md §4.J, registered on a v8go context by internal/engine. Each
// op extracts arguments, dispatches into the Go-native components
// (stream/timer/job/resource/httpclient/httpserver/codec), and — for
// async ops — enqueues a FutureJob whose resulting NativeJob resolves
// or rejects the caller's Promise.
package ops

import (
	"encoding/base64"

	"github.com/kedojs/kedo/internal/codec"
	"github.com/kedojs/kedo/internal/engine"
	"github.com/kedojs/kedo/internal/httpclient"
	"github.com/kedojs/kedo/internal/httpserver"
	"github.com/kedojs/kedo/internal/resource"
	"github.com/kedojs/kedo/internal/stream"
	v8 "github.com/tommie/v8go"
)

// Bindings holds every resource table the op_* surface dispatches
// through. One Bindings is created per Engine.
type Bindings struct {
	eng *engine.Engine

	streams  *resource.Table[*stream.Channel]
	readers  *resource.Table[*stream.Reader]
	decoders *resource.Table[*codec.Decoder]

	httpClients *resource.Table[*httpclient.Client]

	servers       *resource.Table[*httpserver.Server]
	serverReaders *resource.Table[*httpserver.EventReader]
	// pendingEvents maps a requestId (handed to script) to the RequestEvent
	// awaiting a response; op_http_request_* getters read ev.Request's
	// fields directly by the same id.
	pendingEvents *resource.Table[*httpserver.RequestEvent]
	// shutdownHandles maps a serverId to the handle Listen() returned;
	// ids always originate from servers.Add, so a plain map keyed by that
	// id is simpler than a second resource.Table.
	shutdownHandles map[uint64]serverHandle
}

// Install registers the full op_* surface on e and returns the
// Bindings instance backing it (tests use this to drive ops directly
// without parsing JS).
func Install(e *engine.Engine) (*Bindings, error) {
	b := &Bindings{
		eng:           e,
		streams:       resource.New[*stream.Channel](),
		readers:       resource.New[*stream.Reader](),
		decoders:      resource.New[*codec.Decoder](),
		httpClients:   resource.New[*httpclient.Client](),
		servers:       resource.New[*httpserver.Server](),
		serverReaders: resource.New[*httpserver.EventReader](),
		pendingEvents: resource.New[*httpserver.RequestEvent](),
	}

	if err := b.installTimers(); err != nil {
		return nil, err
	}
	if err := b.installStreams(); err != nil {
		return nil, err
	}
	if err := b.installHTTPClient(); err != nil {
		return nil, err
	}
	if err := b.installHTTPServer(); err != nil {
		return nil, err
	}
	return b, nil
}

// NewStreamResource allocates a resource id for an existing channel, so
// script can address it by channelId in the stream ops and as the
// streamId of a fetch request's stream body.
func (b *Bindings) NewStreamResource(ch *stream.Channel) uint64 {
	return b.streams.Add(ch)
}

// errVal builds a plain JS string value for use with an async op's
// reject callback. Unlike Engine.ThrowTypeError, it never raises a
// pending isolate exception — appropriate once a Promise executor is
// already in flight.
func (b *Bindings) errVal(msg string) *v8.Value {
	v, _ := v8.NewValue(b.eng.Iso, msg)
	return v
}

func b64(data []byte) string { return base64.StdEncoding.EncodeToString(data) }

func unb64(s string) []byte {
	data, _ := base64.StdEncoding.DecodeString(s)
	return data
}
