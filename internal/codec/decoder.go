// Package codec implements the polymorphic compressed byte stream from
// spec.md §4.F: gzip/br/zstd/deflate/plain decoding and encoding, with
// auto-detection driven by HTTP headers (decode side) or weighted
// Accept-Encoding negotiation (encode side).
package codec

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/DataDog/zstd"
	"github.com/andybalholm/brotli"
	"github.com/kedojs/kedo/internal/stream"
)

// Encoding identifies one of the supported compression variants.
type Encoding string

const (
	Gzip    Encoding = "gzip"
	Brotli  Encoding = "br"
	Zstd    Encoding = "zstd"
	Deflate Encoding = "deflate"
	Plain   Encoding = ""
)

// Frame is one chunk yielded by a Decoder/Encoder's lazy sequence.
type Frame struct {
	Data []byte
}

// Decoder is a finite, non-restartable byte sequence produced by
// unwrapping a compressed stream.Reader.
type Decoder struct {
	ctx context.Context
	enc Encoding
	src io.Reader
	buf []byte
}

// DetectDecoder inspects Content-Encoding and Transfer-Encoding headers
// per spec.md §4.F "Decoder auto-detect": Content-Length: 0 forces plain;
// otherwise priority is gzip, br, zstd, deflate, else plain.
func DetectDecoder(h http.Header) Encoding {
	if h.Get("Content-Length") == "0" {
		return Plain
	}
	combined := strings.ToLower(h.Get("Content-Encoding") + " " + h.Get("Transfer-Encoding"))
	switch {
	case strings.Contains(combined, "gzip"):
		return Gzip
	case strings.Contains(combined, "br"):
		return Brotli
	case strings.Contains(combined, "zstd"):
		return Zstd
	case strings.Contains(combined, "deflate"):
		return Deflate
	default:
		return Plain
	}
}

// NewDecoder wraps r with the decompressor for enc.
func NewDecoder(ctx context.Context, enc Encoding, r *stream.Reader) (*Decoder, error) {
	cr := newChanReader(ctx, r)
	var src io.Reader
	switch enc {
	case Gzip:
		gz, err := gzip.NewReader(cr)
		if err != nil {
			return nil, fmt.Errorf("codec: gzip: %w", err)
		}
		src = gz
	case Brotli:
		src = brotli.NewReader(cr)
	case Zstd:
		src = zstd.NewReader(cr)
	case Deflate:
		src = flate.NewReader(cr)
	case Plain:
		src = cr
	default:
		return nil, fmt.Errorf("codec: unknown encoding %q", enc)
	}
	return &Decoder{ctx: ctx, enc: enc, src: src}, nil
}

// Next returns the next data frame, or (Frame{}, false, nil) at clean
// end-of-stream.
func (d *Decoder) Next() (Frame, bool, error) {
	buf := make([]byte, 32*1024)
	n, err := d.src.Read(buf)
	if n > 0 {
		return Frame{Data: buf[:n]}, true, nil
	}
	if err == io.EOF {
		return Frame{}, false, nil
	}
	if err != nil {
		return Frame{}, false, err
	}
	return Frame{}, true, nil
}

// acceptToken is one weighted token from a parsed Accept-Encoding header.
type acceptToken struct {
	name string
	q    float64
}

// ParseAcceptEncoding parses an Accept-Encoding header honoring ";q="
// weights, per spec.md §4.F "Encoder auto-detect".
func ParseAcceptEncoding(header string) []acceptToken {
	var tokens []acceptToken
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := part
		q := 1.0
		if idx := strings.Index(part, ";"); idx >= 0 {
			name = strings.TrimSpace(part[:idx])
			params := part[idx+1:]
			for _, p := range strings.Split(params, ";") {
				p = strings.TrimSpace(p)
				if v, ok := strings.CutPrefix(p, "q="); ok {
					if f, err := strconv.ParseFloat(v, 64); err == nil {
						q = f
					}
				}
			}
		}
		tokens = append(tokens, acceptToken{name: strings.ToLower(name), q: q})
	}
	sort.SliceStable(tokens, func(i, j int) bool { return tokens[i].q > tokens[j].q })
	return tokens
}

// DetectEncoder chooses the highest-q recognized token among
// {gzip, br, zstd, deflate}; "*" maps to gzip; no matches means Plain.
func DetectEncoder(acceptEncoding string) Encoding {
	recognized := map[string]Encoding{
		"gzip":    Gzip,
		"br":      Brotli,
		"zstd":    Zstd,
		"deflate": Deflate,
	}
	for _, tok := range ParseAcceptEncoding(acceptEncoding) {
		if tok.q <= 0 {
			continue
		}
		if tok.name == "*" {
			return Gzip
		}
		if enc, ok := recognized[tok.name]; ok {
			return enc
		}
	}
	return Plain
}
