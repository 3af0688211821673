package codec

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"

	"github.com/DataDog/zstd"
	"github.com/andybalholm/brotli"
	kflate "github.com/klauspost/compress/flate"
	kgzip "github.com/klauspost/compress/gzip"
)

// Encoder compresses written frames for the chosen Encoding and exposes
// the compressed bytes written so far. Unlike Decoder, an Encoder is
// driven by pushes (Write) rather than a pull sequence, since it sits on
// the response-writing side of the pipeline.
type Encoder struct {
	enc Encoding
	buf bytes.Buffer
	wc  io.WriteCloser
}

// NewEncoder creates an encoder for enc. Plain passes bytes through
// unmodified.
func NewEncoder(enc Encoding) (*Encoder, error) {
	e := &Encoder{enc: enc}
	switch enc {
	case Gzip:
		e.wc = kgzip.NewWriter(&e.buf)
	case Brotli:
		e.wc = brotli.NewWriter(&e.buf)
	case Zstd:
		e.wc = zstd.NewWriter(&e.buf)
	case Deflate:
		fw, err := kflate.NewWriter(&e.buf, flate.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("codec: deflate: %w", err)
		}
		e.wc = fw
	case Plain:
		e.wc = nopWriteCloser{&e.buf}
	default:
		return nil, fmt.Errorf("codec: unknown encoding %q", enc)
	}
	return e, nil
}

// Write compresses p into the internal buffer.
func (e *Encoder) Write(p []byte) (int, error) { return e.wc.Write(p) }

// Flush drains and returns whatever compressed bytes are ready so far.
func (e *Encoder) Flush() ([]byte, error) {
	if f, ok := e.wc.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return nil, err
		}
	}
	out := e.buf.Bytes()
	e.buf.Reset()
	return out, nil
}

// Close finalizes the compressed stream and returns any trailing bytes.
func (e *Encoder) Close() ([]byte, error) {
	if err := e.wc.Close(); err != nil {
		return nil, err
	}
	out := e.buf.Bytes()
	e.buf.Reset()
	return out, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
