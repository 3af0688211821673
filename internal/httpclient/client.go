package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/kedojs/kedo/internal/codec"
	"github.com/kedojs/kedo/internal/stream"
)

// RedirectPolicy controls how the client treats 3xx responses, per
// spec.md's glossary entry "Redirect policy".
type RedirectPolicy int

const (
	Follow RedirectPolicy = iota
	Error
	Manual
)

// maxRedirects is the hard cap from spec.md §4.G.
const maxRedirects = 20

var redirectStatuses = map[int]bool{301: true, 302: true, 303: true, 307: true, 308: true}

// sensitiveHeaders are stripped when a redirect crosses host or port, per
// spec.md §4.G and invariant 4 in spec.md §8.
var sensitiveHeaders = []string{"Authorization", "Cookie", "Proxy-Authorization", "WWW-Authenticate"}

// BodyKind distinguishes the three request/response body variants from
// spec.md §3.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyBytes
	BodyStream
)

// Body is a request or response body of one of the three variants. For
// BodyStream, Reader is a live channel reader (spec.md: "decoded
// reader"); for BodyBytes, Bytes holds the fully materialized payload.
type Body struct {
	Kind   BodyKind
	Bytes  []byte
	Reader *stream.Reader
}

// Request is the spec.md §3 "HttpRequest" value.
type Request struct {
	Method        string
	URI           *url.URL
	Headers       *Headers
	KeepAlive     bool
	Redirect      RedirectPolicy
	RedirectCount int
	Body          Body
}

// Response is the spec.md §3 "HttpResponse" value.
type Response struct {
	URLs         []string
	Status       int
	StatusText   string
	Headers      *Headers
	Aborted      bool
	Body         Body
	DecodedBody  *codec.Decoder
}

// Client wraps an underlying connection pool with TLS support, per
// spec.md §4.G "Configuration".
type Client struct {
	Transport http.RoundTripper
}

// NewClient creates a client using http.DefaultTransport's shape (callers
// may override Transport for TLS/pooling configuration).
func NewClient() *Client {
	return &Client{Transport: http.DefaultTransport}
}

// Execute dispatches req, following redirects per its RedirectPolicy,
// implementing spec.md §4.G steps 1-3.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	current := req
	urls := []string{current.URI.String()}

	for {
		// Credentials embedded in the URI are extracted once per hop into
		// a Basic Authorization header; the URI used for dispatch is
		// stripped of them.
		dispatchURI := *current.URI
		if dispatchURI.User != nil {
			user := dispatchURI.User
			pass, _ := user.Password()
			current.Headers.Set("Authorization", basicAuthHeader(user.Username(), pass))
			dispatchURI.User = nil
		}

		httpReq, err := c.buildHTTPRequest(ctx, current, &dispatchURI)
		if err != nil {
			return nil, err
		}

		resp, err := c.Transport.RoundTrip(httpReq)
		if err != nil {
			return nil, fmt.Errorf("httpclient: %w", err)
		}

		if redirectStatuses[resp.StatusCode] {
			result, nextReq, nextURLs, done, err := c.handleRedirect(current, resp, urls)
			if err != nil {
				resp.Body.Close()
				return nil, err
			}
			if done {
				return result, nil
			}
			current = nextReq
			urls = nextURLs
			continue
		}

		return c.finalResponse(resp, urls)
	}
}

func basicAuthHeader(user, pass string) string {
	return "Basic " + basicAuthEncode(user, pass)
}

// handleRedirect implements spec.md §4.G step 2.
func (c *Client) handleRedirect(req *Request, resp *http.Response, urls []string) (*Response, *Request, []string, bool, error) {
	defer resp.Body.Close()

	if req.RedirectCount >= maxRedirects {
		return nil, nil, nil, false, errors.New("httpclient: too many redirects")
	}
	switch req.Redirect {
	case Error:
		return nil, nil, nil, false, errors.New("httpclient: redirect encountered but redirection not allowed")
	case Manual:
		result, err := c.finalResponse(resp, urls)
		return result, nil, nil, true, err
	}

	if req.Body.Kind == BodyStream && resp.StatusCode != 303 {
		return nil, nil, nil, false, errors.New("httpclient: redirect cannot be followed with stream body")
	}

	location := resp.Header.Get("Location")
	newURI, err := req.URI.Parse(location)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("httpclient: invalid redirect location: %w", err)
	}

	nextHeaders := req.Headers.Clone()
	if hostOrPortChanged(req.URI, newURI) {
		for _, h := range sensitiveHeaders {
			nextHeaders.Delete(h)
		}
	}

	nextMethod := req.Method
	nextBody := req.Body
	if resp.StatusCode == 303 {
		nextMethod = http.MethodGet
		nextBody = Body{Kind: BodyNone}
	}

	nextReq := &Request{
		Method:        nextMethod,
		URI:           newURI,
		Headers:       nextHeaders,
		KeepAlive:     req.KeepAlive,
		Redirect:      req.Redirect,
		RedirectCount: req.RedirectCount + 1,
		Body:          nextBody,
	}
	return nil, nextReq, append(urls, newURI.String()), false, nil
}

func hostOrPortChanged(a, b *url.URL) bool {
	return a.Hostname() != b.Hostname() || a.Port() != b.Port()
}

func (c *Client) buildHTTPRequest(ctx context.Context, req *Request, uri *url.URL) (*http.Request, error) {
	var bodyReader io.Reader
	switch req.Body.Kind {
	case BodyBytes:
		bodyReader = bytes.NewReader(req.Body.Bytes)
	case BodyStream:
		bodyReader = &streamBodyReader{ctx: ctx, r: req.Body.Reader}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, uri.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("httpclient: building request: %w", err)
	}
	for _, kv := range req.Headers.Entries() {
		httpReq.Header.Add(kv[0], kv[1])
	}
	if !req.KeepAlive {
		httpReq.Close = true
	}
	return httpReq, nil
}

func (c *Client) finalResponse(resp *http.Response, urls []string) (*Response, error) {
	headers := NewHeaders()
	for k, vs := range resp.Header {
		for _, v := range vs {
			headers.Append(k, v)
		}
	}

	bodyCh := stream.NewUnbounded()
	writer, _ := bodyCh.AcquireWriter()
	go func() {
		defer writer.Close()
		defer resp.Body.Close()
		buf := make([]byte, 32*1024)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				_ = writer.TryWrite(chunk)
			}
			if err != nil {
				return
			}
		}
	}()
	reader, _ := bodyCh.AcquireReader()

	enc := codec.DetectDecoder(resp.Header)
	decoder, err := codec.NewDecoder(context.Background(), enc, reader)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %w", err)
	}

	return &Response{
		URLs:        urls,
		Status:      resp.StatusCode,
		StatusText:  resp.Status,
		Headers:     headers,
		Aborted:     false,
		Body:        Body{Kind: BodyStream, Reader: reader},
		DecodedBody: decoder,
	}, nil
}

// streamBodyReader adapts a stream.Reader to io.Reader for outbound
// (request) bodies.
type streamBodyReader struct {
	ctx  context.Context
	r    *stream.Reader
	rest []byte
}

func (s *streamBodyReader) Read(p []byte) (int, error) {
	for len(s.rest) == 0 {
		chunk, more, err := s.r.Next(s.ctx)
		if err != nil {
			return 0, err
		}
		if !more {
			return 0, io.EOF
		}
		s.rest = chunk
	}
	n := copy(p, s.rest)
	s.rest = s.rest[n:]
	return n, nil
}
