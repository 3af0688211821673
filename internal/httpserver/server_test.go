package httpserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/kedojs/kedo/internal/httpclient"
	"github.com/stretchr/testify/require"
)

func TestServerDeliversRequestEventAndResponds(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0"})
	handle, err := srv.Listen()
	require.NoError(t, err)
	defer handle.Shutdown(context.Background())

	addr := srv.listener.Addr().String()
	reader := srv.Events()

	go func() {
		ev, more, err := reader.Next(context.Background())
		require.NoError(t, err)
		require.True(t, more)
		require.Equal(t, "/hello", ev.Request.URI.Path)
		headers := httpclient.NewHeaders()
		headers.Set("Content-Type", "text/plain")
		ev.Respond(&ServerResponse{
			Status:  http.StatusOK,
			Headers: headers,
			Body:    httpclient.Body{Kind: httpclient.BodyBytes, Bytes: []byte("hi")},
		})
	}()

	resp, err := http.Get("http://" + addr + "/hello")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	require.Equal(t, "hi", string(data))
}

func TestShutdownFailsSubsequentRequests(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0"})
	handle, err := srv.Listen()
	require.NoError(t, err)
	addr := srv.listener.Addr().String()
	reader := srv.Events()

	go func() {
		for {
			ev, more, err := reader.Next(context.Background())
			if err != nil || !more {
				return
			}
			ev.Respond(&ServerResponse{Status: http.StatusOK, Headers: httpclient.NewHeaders()})
		}
	}()

	resp, err := http.Get("http://" + addr + "/ping")
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, handle.Shutdown(ctx))
	require.Equal(t, Stopped, srv.State())

	_, err = http.Get("http://" + addr + "/ping")
	require.Error(t, err)
}

// TestServerListensOnUnixSocket covers Config.Network = "unix", carried
// over from original_source's HttpSocketAddr::UnixSocket listener variant.
func TestServerListensOnUnixSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "kedo.sock")
	srv := New(Config{Network: "unix", Addr: sockPath})
	handle, err := srv.Listen()
	require.NoError(t, err)
	defer handle.Shutdown(context.Background())

	reader := srv.Events()
	go func() {
		ev, more, err := reader.Next(context.Background())
		require.NoError(t, err)
		require.True(t, more)
		ev.Respond(&ServerResponse{Status: http.StatusOK, Headers: httpclient.NewHeaders()})
	}()

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sockPath)
			},
		},
	}
	resp, err := client.Get("http://unix/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestShutdownUnblocksInFlightRequestImmediately(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0"})
	handle, err := srv.Listen()
	require.NoError(t, err)
	addr := srv.listener.Addr().String()
	reader := srv.Events()

	gotEvent := make(chan struct{})
	go func() {
		ev, more, err := reader.Next(context.Background())
		require.NoError(t, err)
		require.True(t, more)
		close(gotEvent)
		// Deliberately never call ev.Respond — the request must be
		// unblocked by shutdown itself, not by a response.
		_ = ev
	}()

	respCh := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Get("http://" + addr + "/stuck")
		require.NoError(t, err)
		respCh <- resp
	}()

	select {
	case <-gotEvent:
	case <-time.After(2 * time.Second):
		t.Fatal("request never reached the event reader")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, handle.Shutdown(ctx))

	select {
	case resp := <-respCh:
		defer resp.Body.Close()
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request was not unblocked by shutdown")
	}
}
