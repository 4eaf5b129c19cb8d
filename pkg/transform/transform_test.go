package transform

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sourcekit/objstore/internal/testkit"
	"github.com/sourcekit/objstore/pkg/core"
)

func TestNone(t *testing.T) {
	tr := NewNone()

	data := []byte("untouched payload")
	enc, err := tr.Encode(data)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := tr.Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, data) {
		t.Error("none transform altered the payload")
	}
}

func TestZstd(t *testing.T) {
	tr := NewZstd(3)

	t.Run("RoundTrip", func(t *testing.T) {
		r := testkit.RNG(11)
		data := testkit.CompressibleBytes(r, 64<<10)

		enc, err := tr.Encode(data)
		if err != nil {
			t.Fatal(err)
		}
		if len(enc) >= len(data) {
			t.Errorf("compressible payload did not shrink: %d >= %d", len(enc), len(data))
		}

		dec, err := tr.Decode(enc)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(dec, data) {
			t.Error("round trip mismatch")
		}
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		enc, err := tr.Encode(nil)
		if err != nil {
			t.Fatal(err)
		}
		dec, err := tr.Decode(enc)
		if err != nil {
			t.Fatal(err)
		}
		if len(dec) != 0 {
			t.Errorf("expected empty payload, got %d bytes", len(dec))
		}
	})

	t.Run("RejectsTruncatedEnvelope", func(t *testing.T) {
		if _, err := tr.Decode([]byte{0x01, 0x02}); !errors.Is(err, core.ErrCorrupt) {
			t.Errorf("Decode = %v, want ErrCorrupt", err)
		}
	})

	t.Run("RejectsBadMagic", func(t *testing.T) {
		enc, _ := tr.Encode([]byte("payload"))
		enc[0] ^= 0xff
		if _, err := tr.Decode(enc); !errors.Is(err, core.ErrCorrupt) {
			t.Errorf("Decode = %v, want ErrCorrupt", err)
		}
	})

	t.Run("RejectsBadVersion", func(t *testing.T) {
		enc, _ := tr.Encode([]byte("payload"))
		enc[4] = 99
		if _, err := tr.Decode(enc); !errors.Is(err, core.ErrCorrupt) {
			t.Errorf("Decode = %v, want ErrCorrupt", err)
		}
	})
}
