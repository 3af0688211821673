// Package httpserver implements the connection acceptor from spec.md
// §4.H: a listener producing RequestEvent values on a channel, with
// HTTP/1.1 and optional HTTP/2 support and a watch-style graceful
// shutdown.
package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kedojs/kedo/internal/httpclient"
	"golang.org/x/net/http2"
)

// Error kinds from spec.md §7.
var (
	ErrAlreadyInUse = errors.New("httpserver: address already in use")
	ErrIoError      = errors.New("httpserver: io error")
	ErrTlsError     = errors.New("httpserver: tls error")
)

// State is the server lifecycle described in spec.md §4.H.
type State int

const (
	Accepting State = iota
	Draining
	Stopped
)

// RequestEvent is a server-originated pair delivered to script via a
// channel reader, per the glossary entry "RequestEvent".
type RequestEvent struct {
	Request    *httpclient.Request
	respondCh  chan *ServerResponse
	socketTag  string
}

// Respond sends the single response for this event. Only the first call
// has effect — it is a one-shot channel.
func (e *RequestEvent) Respond(resp *ServerResponse) {
	select {
	case e.respondCh <- resp:
	default:
	}
}

// ServerResponse is what script hands back for a RequestEvent.
type ServerResponse struct {
	Status  int
	Headers *httpclient.Headers
	Body    httpclient.Body
}

// Config configures a Server, per spec.md §4.H "Construction".
type Config struct {
	// Network is the listener's address family: "tcp" (default, when
	// empty) or "unix" for a Unix domain socket path in Addr. Unix
	// listener support is carried over from original_source's
	// HttpSocketAddr::UnixSocket variant (kedo_std/http/next/http_server.rs).
	Network     string
	Addr        string
	TLSConfig   *tls.Config
	EnableHTTP1 bool
	EnableHTTP2 bool
	SocketTTL   time.Duration
}

// Server accepts connections and emits RequestEvents.
type Server struct {
	cfg      Config
	mu       sync.Mutex
	state    State
	listener net.Listener
	events   *eventQueue
	shutdown chan struct{}
	wg       sync.WaitGroup
	srv      *http.Server
}

// New creates a Server in the Accepting state's pre-listen configuration.
func New(cfg Config) *Server {
	if !cfg.EnableHTTP1 && !cfg.EnableHTTP2 {
		cfg.EnableHTTP1 = true
	}
	return &Server{
		cfg:      cfg,
		events:   newEventQueue(),
		shutdown: make(chan struct{}),
	}
}

// ShutdownHandle lets the caller trigger and await graceful shutdown.
type ShutdownHandle struct {
	srv *Server
}

// Shutdown broadcasts the shutdown signal and waits for in-flight
// connections to finish, per spec.md §4.H "Shutdown".
func (h ShutdownHandle) Shutdown(ctx context.Context) error {
	return h.srv.shutdownAndWait(ctx)
}

// Events returns the reader of RequestEvents, matching the channel
// contract in spec.md §4.A (single consuming reader, lazy sequence).
func (s *Server) Events() *EventReader {
	return &EventReader{q: s.events}
}

// State reports the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Listen binds the configured address and starts accepting connections
// in the background, per spec.md §4.H "listen() -> ShutdownHandle".
func (s *Server) Listen() (ShutdownHandle, error) {
	network := s.cfg.Network
	if network == "" {
		network = "tcp"
	}
	ln, err := net.Listen(network, s.cfg.Addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return ShutdownHandle{}, ErrAlreadyInUse
		}
		return ShutdownHandle{}, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	if s.cfg.TLSConfig != nil {
		ln = tls.NewListener(ln, s.cfg.TLSConfig)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)

	h1Server := &http.Server{Handler: mux}
	if s.cfg.SocketTTL > 0 {
		h1Server.ReadTimeout = s.cfg.SocketTTL
		h1Server.WriteTimeout = s.cfg.SocketTTL
	}
	if s.cfg.EnableHTTP2 {
		if err := http2.ConfigureServer(h1Server, &http2.Server{}); err != nil {
			return ShutdownHandle{}, fmt.Errorf("%w: %v", ErrTlsError, err)
		}
	}
	s.srv = h1Server

	s.mu.Lock()
	s.state = Accepting
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := h1Server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("httpserver: serve error: %v", err)
		}
	}()

	return ShutdownHandle{srv: s}, nil
}

// handle converts one inbound *http.Request into a RequestEvent and
// blocks until script calls Respond (or the request context ends).
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	req, err := fromHTTPRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ev := &RequestEvent{
		Request:   req,
		respondCh: make(chan *ServerResponse, 1),
		socketTag: uuid.NewString(),
	}
	s.events.Push(ev)

	select {
	case resp := <-ev.respondCh:
		writeServerResponse(w, resp)
	case <-s.shutdown:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
	case <-r.Context().Done():
		s.mu.Lock()
		draining := s.state == Draining
		s.mu.Unlock()
		if draining {
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		}
	}
}

func writeServerResponse(w http.ResponseWriter, resp *ServerResponse) {
	if resp == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	for _, kv := range resp.Headers.Entries() {
		w.Header().Add(kv[0], kv[1])
	}
	w.WriteHeader(resp.Status)
	switch resp.Body.Kind {
	case httpclient.BodyBytes:
		w.Write(resp.Body.Bytes)
	case httpclient.BodyStream:
		ctx := context.Background()
		for {
			chunk, more, err := resp.Body.Reader.Next(ctx)
			if err != nil || !more {
				return
			}
			w.Write(chunk)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

// shutdownAndWait implements the Accepting -> Draining -> Stopped
// transition.
func (s *Server) shutdownAndWait(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return nil
	}
	s.state = Draining
	s.mu.Unlock()
	close(s.shutdown)

	err := s.srv.Shutdown(ctx)
	s.wg.Wait()
	s.events.Close()

	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
	return err
}
