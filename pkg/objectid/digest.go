package objectid

import (
	"crypto/sha1"
	"hash"
)

// Digester accumulates object content incrementally and finalizes to an ID.
// Content frequently arrives in discontiguous fragments (chunker output,
// assembled network buffers); the digester consumes them in order without
// materializing the concatenation. One digester serves exactly one
// computation: it is not safe for concurrent use and must not be written
// after Sum.
type Digester struct {
	h hash.Hash
}

// NewDigester returns a fresh accumulator.
func NewDigester() *Digester {
	return &Digester{h: sha1.New()}
}

// Write feeds the next fragment. It never returns an error and accepts
// empty fragments, which contribute no bytes. Implements io.Writer so the
// digester can sit behind io.Copy or io.TeeReader.
func (d *Digester) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Sum finalizes the digest. Finalizing with no bytes written yields the
// well-defined empty-input digest, not an error.
func (d *Digester) Sum() ID {
	var id ID
	d.h.Sum(id[:0])
	return id
}

// Sum computes the ID of a contiguous buffer. It is the single-fragment
// case of SumChain, so contiguous and fragmented delivery of the same
// bytes always agree.
func Sum(data []byte) ID {
	return SumChain(data)
}

// SumChain computes the ID of content delivered as an ordered sequence of
// fragments. The result depends only on the concatenated bytes, never on
// fragment boundaries.
func SumChain(fragments ...[]byte) ID {
	d := NewDigester()
	for _, f := range fragments {
		d.Write(f)
	}
	return d.Sum()
}
