package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/kedojs/kedo/internal/stream"
	"github.com/stretchr/testify/require"
)

func newReq(t *testing.T, method, rawURL string) *Request {
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &Request{
		Method:   method,
		URI:      u,
		Headers:  NewHeaders(),
		Redirect: Follow,
	}
}

func drain(t *testing.T, r *stream.Reader) []byte {
	var out []byte
	for {
		chunk, more, err := r.Next(context.Background())
		require.NoError(t, err)
		if !more {
			break
		}
		out = append(out, chunk...)
	}
	return out
}

func TestExecuteSimpleGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := NewClient()
	resp, err := c.Execute(context.Background(), newReq(t, http.MethodGet, srv.URL))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, []string{srv.URL}, resp.URLs)
	require.Equal(t, "hello", string(drain(t, resp.Body.Reader)))
}

func Test303RedirectCoercesToGetAndDropsBody(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/done", http.StatusSeeOther)
	})
	mux.HandleFunc("/done", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		n, _ := io.Copy(io.Discard, r.Body)
		require.Zero(t, n)
		w.Write([]byte("done"))
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	req := newReq(t, http.MethodPost, srv.URL+"/start")
	bodyCh := stream.NewUnbounded()
	bw, _ := bodyCh.AcquireWriter()
	bw.TryWrite([]byte("payload"))
	bw.Close()
	br, _ := bodyCh.AcquireReader()
	req.Body = Body{Kind: BodyStream, Reader: br}

	c := NewClient()
	resp, err := c.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.URLs, 2)
	require.Equal(t, "done", string(drain(t, resp.Body.Reader)))
}

func Test302WithStreamBodyFailsToFollow(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/done", http.StatusFound)
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	req := newReq(t, http.MethodPost, srv.URL+"/start")
	bodyCh := stream.NewUnbounded()
	bw, _ := bodyCh.AcquireWriter()
	bw.TryWrite([]byte("payload"))
	bw.Close()
	br, _ := bodyCh.AcquireReader()
	req.Body = Body{Kind: BodyStream, Reader: br}

	c := NewClient()
	_, err := c.Execute(context.Background(), req)
	require.ErrorContains(t, err, "cannot be followed with stream body")
}

func TestRedirectStripsSensitiveHeadersAcrossHost(t *testing.T) {
	var secondHost string
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		require.Empty(t, r.Header.Get("Cookie"))
		w.Write([]byte("ok"))
	}))
	defer second.Close()
	secondHost = second.URL

	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, secondHost+"/", http.StatusMovedPermanently)
	}))
	defer first.Close()

	req := newReq(t, http.MethodGet, first.URL)
	req.Headers.Set("Authorization", "Bearer token")
	req.Headers.Set("Cookie", "a=b")

	c := NewClient()
	resp, err := c.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
}

func TestTooManyRedirects(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	c := NewClient()
	_, err := c.Execute(context.Background(), newReq(t, http.MethodGet, srv.URL+"/loop"))
	require.ErrorContains(t, err, "too many redirects")
}
