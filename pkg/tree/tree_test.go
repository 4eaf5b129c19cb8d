package tree

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sourcekit/objstore/pkg/core"
	"github.com/sourcekit/objstore/pkg/objectid"
)

var testLimits = core.LimitsConfig{
	MaxChunksPerObject: 1000,
	MaxTreeEntries:     1000,
	MaxEntryNameLen:    255,
}

func blobManifest() *TreeV1 {
	a := objectid.Sum([]byte("chunk a"))
	b := objectid.Sum([]byte("chunk b"))
	return &TreeV1{
		Version: 1,
		Kind:    KindBlob,
		Length:  30,
		Chunks: []ChunkRef{
			{ID: a.Bytes(), Len: 10},
			{ID: b.Bytes(), Len: 20},
		},
	}
}

func dirTree() *TreeV1 {
	a := objectid.Sum([]byte("file a"))
	b := objectid.Sum([]byte("file b"))
	return &TreeV1{
		Version: 1,
		Kind:    KindTree,
		Entries: []Entry{
			{Name: "a.txt", ID: a.Bytes(), Len: 6, Kind: KindBlob},
			{Name: "b.txt", ID: b.Bytes(), Len: 6, Kind: KindBlob},
		},
	}
}

func TestCodec(t *testing.T) {
	c := NewCodec(testLimits)

	t.Run("BlobRoundTrip", func(t *testing.T) {
		m := blobManifest()
		enc, err := c.Encode(m)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		dec, err := c.Decode(enc)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if dec.Length != m.Length || len(dec.Chunks) != len(m.Chunks) {
			t.Errorf("round trip mismatch: %+v vs %+v", dec, m)
		}
	})

	t.Run("TreeRoundTrip", func(t *testing.T) {
		m := dirTree()
		enc, err := c.Encode(m)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		dec, err := c.Decode(enc)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if len(dec.Entries) != 2 || dec.Entries[0].Name != "a.txt" {
			t.Errorf("round trip mismatch: %+v", dec)
		}
	})

	t.Run("DeterministicEncoding", func(t *testing.T) {
		// Identical logical trees must produce identical bytes: the tree's
		// own content ID is derived from the encoding.
		e1, _ := c.Encode(dirTree())
		e2, _ := c.Encode(dirTree())
		if !bytes.Equal(e1, e2) {
			t.Error("canonical encoding is not deterministic")
		}
		if objectid.Sum(e1) != objectid.Sum(e2) {
			t.Error("tree IDs differ for identical trees")
		}
	})

	t.Run("RejectsLengthMismatch", func(t *testing.T) {
		m := blobManifest()
		m.Length = 31
		if _, err := c.Encode(m); !errors.Is(err, core.ErrInvalidInput) {
			t.Errorf("Encode = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("RejectsUnsortedEntries", func(t *testing.T) {
		m := dirTree()
		m.Entries[0], m.Entries[1] = m.Entries[1], m.Entries[0]
		if _, err := c.Encode(m); !errors.Is(err, core.ErrInvalidInput) {
			t.Errorf("Encode = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("RejectsMalformedEntryID", func(t *testing.T) {
		m := dirTree()
		m.Entries[0].ID = []byte{0x01, 0x02}
		if _, err := c.Encode(m); !errors.Is(err, core.ErrInvalidInput) {
			t.Errorf("Encode = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("RejectsBadVersion", func(t *testing.T) {
		m := blobManifest()
		m.Version = 2
		if _, err := c.Encode(m); !errors.Is(err, core.ErrInvalidInput) {
			t.Errorf("Encode = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("DecodeRejectsGarbage", func(t *testing.T) {
		if _, err := c.Decode([]byte{0xff, 0x00, 0x13, 0x37}); !errors.Is(err, core.ErrCorrupt) {
			t.Errorf("Decode = %v, want ErrCorrupt", err)
		}
	})
}

func TestSortIDs(t *testing.T) {
	ids := []objectid.ID{
		objectid.MustFromHex("faceb00cdeadbeefc00010ff1badb0028badf00d"),
		objectid.MustFromHex("c0ceb00cdeadbeefc00010ff1badb0028badf00d"),
		objectid.MustFromHex("0000000000000000000000000000000000000001"),
	}
	SortIDs(ids)
	for i := 1; i < len(ids); i++ {
		if objectid.Compare(ids[i-1], ids[i]) >= 0 {
			t.Fatalf("not sorted at %d", i)
		}
	}
}

func TestSortEntries(t *testing.T) {
	id := objectid.Sum([]byte("x")).Bytes()
	entries := []Entry{
		{Name: "zz", ID: id},
		{Name: "aa", ID: id},
		{Name: "mm", ID: id},
	}
	SortEntries(entries)
	if entries[0].Name != "aa" || entries[2].Name != "zz" {
		t.Errorf("unexpected order: %v", entries)
	}
}
