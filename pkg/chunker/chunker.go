package chunker

import (
	"context"
	"io"
	"sync"

	fastcdc "github.com/jotfs/fastcdc-go"

	"github.com/sourcekit/objstore/pkg/core"
)

// Chunk is one content-defined piece of an object's byte stream. Buf is a
// pooled buffer owned by the chunker; consumers must call ReturnBuffer once
// done with it.
type Chunk struct {
	Buf []byte
	N   int
}

// Chunker splits an io.Reader into content-defined chunks. Chunks arrive
// in stream order, which is what lets a consumer feed them to a single
// digest accumulator and obtain the whole-object ID without buffering the
// full stream.
type Chunker interface {
	Split(ctx context.Context, r io.Reader) (<-chan Chunk, <-chan error)
	ReturnBuffer(buf []byte)
}

type cdcChunker struct {
	cfg  core.ChunkingConfig
	pool sync.Pool
}

// New returns a FastCDC-backed Chunker.
func New(cfg core.ChunkingConfig) Chunker {
	return &cdcChunker{
		cfg: cfg,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, cfg.Max)
			},
		},
	}
}

func (c *cdcChunker) Split(ctx context.Context, r io.Reader) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		cdc, err := fastcdc.NewChunker(r, fastcdc.Options{
			MinSize:     c.cfg.Min,
			AverageSize: c.cfg.Avg,
			MaxSize:     c.cfg.Max,
		})
		if err != nil {
			errs <- err
			return
		}

		for {
			if ctx.Err() != nil {
				errs <- ctx.Err()
				return
			}

			next, err := cdc.Next()
			if err != nil {
				if err != io.EOF {
					errs <- err
				}
				return
			}

			// cdc.Next reuses its internal buffer, so copy into a pooled one
			// before handing off.
			buf := c.pool.Get().([]byte)
			n := copy(buf, next.Data)

			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case chunks <- Chunk{Buf: buf, N: n}:
			}
		}
	}()

	return chunks, errs
}

func (c *cdcChunker) ReturnBuffer(buf []byte) {
	c.pool.Put(buf)
}
