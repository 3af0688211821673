package httpserver

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/kedojs/kedo/internal/httpclient"
	"github.com/kedojs/kedo/internal/stream"
)

// fromHTTPRequest converts an inbound *http.Request into the spec.md §3
// HttpRequest shape, bridging the body through a channel exactly as the
// client side does.
func fromHTTPRequest(r *http.Request) (*httpclient.Request, error) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	uri, err := url.Parse(scheme + "://" + r.Host + r.URL.RequestURI())
	if err != nil {
		return nil, fmt.Errorf("httpserver: parsing request uri: %w", err)
	}

	headers := httpclient.NewHeaders()
	for k, vs := range r.Header {
		for _, v := range vs {
			headers.Append(k, v)
		}
	}

	body := httpclient.Body{Kind: httpclient.BodyNone}
	if r.Body != nil && r.ContentLength != 0 {
		bodyCh := stream.NewUnbounded()
		writer, _ := bodyCh.AcquireWriter()
		go func() {
			defer writer.Close()
			buf := make([]byte, 32*1024)
			for {
				n, err := r.Body.Read(buf)
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
		body = httpclient.Body{Kind: httpclient.BodyStream, Reader: reader}
	}

	return &httpclient.Request{
		Method:    r.Method,
		URI:       uri,
		Headers:   headers,
		KeepAlive: !r.Close,
		Body:      body,
	}, nil
}
