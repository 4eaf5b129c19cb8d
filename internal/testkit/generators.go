package testkit

import (
	"math/rand"
	"time"
)

// RNG returns a deterministic random number generator. A zero seed falls
// back to the current time.
func RNG(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// RandomBytes generates length random bytes from r.
func RandomBytes(r *rand.Rand, length int) []byte {
	b := make([]byte, length)
	for i := range b {
		b[i] = byte(r.Intn(256))
	}
	return b
}

// CompressibleBytes generates length bytes of a repeating pattern with a
// sprinkle of noise, for exercising the compressing transform.
func CompressibleBytes(r *rand.Rand, length int) []byte {
	b := make([]byte, length)
	pattern := []byte("highly compressible repeating pattern ")
	for i := 0; i < length; i++ {
		b[i] = pattern[i%len(pattern)]
	}
	for i := 0; i < length/1024; i++ {
		b[r.Intn(length)] = byte(r.Intn(256))
	}
	return b
}

// MutateBytes returns a copy of base with random insertions, deletions and
// modifications, for building near-duplicate content in dedupe tests.
func MutateBytes(r *rand.Rand, base []byte, mutations int) []byte {
	out := make([]byte, len(base))
	copy(out, base)

	for i := 0; i < mutations; i++ {
		op := r.Intn(3)
		offset := r.Intn(len(out))

		switch op {
		case 0: // insert
			val := byte(r.Intn(256))
			out = append(out[:offset], append([]byte{val}, out[offset:]...)...)
		case 1: // delete
			if len(out) > 0 {
				out = append(out[:offset], out[offset+1:]...)
			}
		case 2: // modify
			if len(out) > 0 {
				out[offset] = byte(r.Intn(256))
			}
		}
	}
	return out
}
