package codec

import (
	"context"
	"io"

	"github.com/kedojs/kedo/internal/stream"
)

// chanReader adapts a stream.Reader (which yields discrete []byte chunks)
// into an io.Reader, as required to drive the stdlib/third-party
// decompressors that every codec variant wraps.
type chanReader struct {
	ctx  context.Context
	r    *stream.Reader
	rest []byte
}

func newChanReader(ctx context.Context, r *stream.Reader) *chanReader {
	return &chanReader{ctx: ctx, r: r}
}

func (c *chanReader) Read(p []byte) (int, error) {
	for len(c.rest) == 0 {
		chunk, more, err := c.r.Next(c.ctx)
		if err != nil {
			return 0, err
		}
		if !more {
			return 0, io.EOF
		}
		c.rest = chunk
	}
	n := copy(p, c.rest)
	c.rest = c.rest[n:]
	return n, nil
}
