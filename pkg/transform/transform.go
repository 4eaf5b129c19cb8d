package transform

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/sourcekit/objstore/pkg/core"
)

const (
	Magic   = "OSTR"
	Version = 1
)

const (
	FlagCompressed = 1 << 0
)

const (
	AlgZstd = 1
)

// Transform encodes block payloads before they enter a pack and decodes
// them on the way out. The envelope (magic, version, flags, algorithm)
// precedes the payload so sealed packs remain readable after config
// changes.
type Transform interface {
	Name() string
	Encode(plain []byte) ([]byte, error)
	Decode(stored []byte) ([]byte, error)
}

type noneTransform struct{}

// NewNone returns the pass-through transform.
func NewNone() Transform {
	return &noneTransform{}
}

func (t *noneTransform) Name() string                         { return "none" }
func (t *noneTransform) Encode(plain []byte) ([]byte, error)  { return plain, nil }
func (t *noneTransform) Decode(stored []byte) ([]byte, error) { return stored, nil }

type zstdTransform struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstd returns a zstd-compressing transform at the given level.
func NewZstd(level int) Transform {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
	if err != nil {
		panic(fmt.Sprintf("failed to create zstd writer: %v", err))
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("failed to create zstd reader: %v", err))
	}
	return &zstdTransform{encoder: enc, decoder: dec}
}

func (t *zstdTransform) Name() string { return "zstd" }

func (t *zstdTransform) Encode(plain []byte) ([]byte, error) {
	compressed := t.encoder.EncodeAll(plain, nil)

	envelope := make([]byte, 0, 7+len(compressed))
	envelope = append(envelope, Magic...)
	envelope = append(envelope, Version, FlagCompressed, AlgZstd)
	envelope = append(envelope, compressed...)

	return envelope, nil
}

func (t *zstdTransform) Decode(stored []byte) ([]byte, error) {
	if len(stored) < 7 {
		return nil, fmt.Errorf("%w: block too small for envelope", core.ErrCorrupt)
	}
	if string(stored[:4]) != Magic {
		return nil, fmt.Errorf("%w: invalid magic", core.ErrCorrupt)
	}
	if stored[4] != Version {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", core.ErrCorrupt, stored[4])
	}

	flags := stored[5]
	alg := stored[6]
	payload := stored[7:]

	if flags&FlagCompressed != 0 {
		if alg != AlgZstd {
			return nil, fmt.Errorf("%w: unsupported compression algorithm %d", core.ErrCorrupt, alg)
		}
		return t.decoder.DecodeAll(payload, nil)
	}

	return payload, nil
}
