package objectid_test

import (
	"encoding/binary"
	"testing"

	"github.com/sourcekit/objstore/internal/testkit"
	"github.com/sourcekit/objstore/pkg/objectid"
)

// Digest of the empty input under SHA-1.
const emptyHex = "da39a3ee5e6b4b0d3255bfef95601890afd80709"

func sequentialBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestSum(t *testing.T) {
	want := objectid.MustFromHex("2a9c28ef61eb536d3bbda64ad95a132554be3d6b")
	data := sequentialBytes(0x35)

	t.Run("Contiguous", func(t *testing.T) {
		if got := objectid.Sum(data); got != want {
			t.Errorf("Sum = %s, want %s", got, want)
		}
	})

	t.Run("Fragmented", func(t *testing.T) {
		// Same bytes split at arbitrary boundaries must yield the same ID.
		if got := objectid.SumChain(data[:17], data[17:38], data[38:]); got != want {
			t.Errorf("SumChain = %s, want %s", got, want)
		}
	})

	t.Run("EveryPartition", func(t *testing.T) {
		for i := 0; i <= len(data); i++ {
			if got := objectid.SumChain(data[:i], data[i:]); got != want {
				t.Fatalf("split at %d: %s, want %s", i, got, want)
			}
		}
	})
}

func TestSumChain(t *testing.T) {
	t.Run("EmptyFragments", func(t *testing.T) {
		// Chain with an empty middle fragment, mirroring a zero-length
		// buffer in an assembled I/O chain.
		head := []byte("abcdefghijklmnopqrstuvwxyz1234567890")
		tail := make([]byte, 4, 40)
		binary.BigEndian.PutUint32(tail, 0x00112233)
		tail = append(tail, "0987654321zyxwvutsrqponmlkjihgfedcba"...)

		want := objectid.MustFromHex("5d105d15efb8b07a624be530ef2b62dab3bc2f8b")
		if got := objectid.SumChain(head, nil, tail); got != want {
			t.Errorf("SumChain = %s, want %s", got, want)
		}
	})

	t.Run("NoFragments", func(t *testing.T) {
		if got := objectid.SumChain(); got != objectid.MustFromHex(emptyHex) {
			t.Errorf("SumChain() = %s, want empty-input digest", got)
		}
	})
}

func TestDigester(t *testing.T) {
	t.Run("IncrementalMatchesOneShot", func(t *testing.T) {
		r := testkit.RNG(7)
		data := testkit.RandomBytes(r, 1<<20)

		d := objectid.NewDigester()
		for off := 0; off < len(data); {
			n := 1 + r.Intn(64<<10)
			if off+n > len(data) {
				n = len(data) - off
			}
			d.Write(data[off : off+n])
			off += n
		}
		if got, want := d.Sum(), objectid.Sum(data); got != want {
			t.Errorf("incremental = %s, one-shot = %s", got, want)
		}
	})

	t.Run("EmptyInput", func(t *testing.T) {
		d := objectid.NewDigester()
		if got := d.Sum(); got != objectid.MustFromHex(emptyHex) {
			t.Errorf("empty digest = %s, want %s", got, emptyHex)
		}
	})

	t.Run("EmptyDiffersFromNonEmpty", func(t *testing.T) {
		if objectid.Sum(nil) == objectid.Sum([]byte{0}) {
			t.Error("empty and single-byte content collide")
		}
	})
}

func BenchmarkSum(b *testing.B) {
	r := testkit.RNG(42)
	data := testkit.RandomBytes(r, 1<<20)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = objectid.Sum(data)
	}
}

func BenchmarkSumChain(b *testing.B) {
	r := testkit.RNG(42)
	var frags [][]byte
	for i := 0; i < 16; i++ {
		frags = append(frags, testkit.RandomBytes(r, 64<<10))
	}
	b.SetBytes(16 * 64 << 10)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = objectid.SumChain(frags...)
	}
}
