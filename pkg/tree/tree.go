package tree

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/sourcekit/objstore/pkg/core"
	"github.com/sourcekit/objstore/pkg/objectid"
)

// EntryKind distinguishes what a tree entry points at.
type EntryKind uint8

const (
	KindBlob EntryKind = iota
	KindTree
)

// Entry names a child object inside a tree.
type Entry struct {
	Name string    `cbor:"name"`
	ID   []byte    `cbor:"id"`
	Len  uint64    `cbor:"len"`
	Kind EntryKind `cbor:"kind"`
}

// ChunkRef references one chunk of a blob's content by ID and plaintext
// length.
type ChunkRef struct {
	ID  []byte `cbor:"id"`
	Len uint32 `cbor:"len"`
}

// TreeV1 is the on-disk manifest for a stored object. A blob manifest
// carries the chunk list that reconstructs its content; a directory tree
// carries named entries instead. Encoding is canonical CBOR so identical
// logical trees produce identical bytes and therefore identical IDs.
type TreeV1 struct {
	Version uint16     `cbor:"version"`
	Kind    EntryKind  `cbor:"kind"`
	Length  uint64     `cbor:"length"`
	Chunks  []ChunkRef `cbor:"chunks,omitempty"`
	Entries []Entry    `cbor:"entries,omitempty"`

	// Content is the whole-content ID of a blob: the digest of the
	// concatenated chunk bytes, independent of chunk boundaries.
	Content []byte `cbor:"content,omitempty"`
}

// Codec encodes, decodes and validates tree manifests.
type Codec interface {
	Encode(t *TreeV1) ([]byte, error)
	Decode(b []byte) (*TreeV1, error)
}

type codec struct {
	limits  core.LimitsConfig
	encMode cbor.EncMode
}

// NewCodec returns a Codec enforcing the given limits.
func NewCodec(limits core.LimitsConfig) Codec {
	// Canonical CBOR (Core Deterministic Encoding Requirements): the tree's
	// own ID is derived from these bytes.
	em, _ := cbor.CanonicalEncOptions().EncMode()
	return &codec{
		limits:  limits,
		encMode: em,
	}
}

func (c *codec) Encode(t *TreeV1) ([]byte, error) {
	if err := c.validate(t); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	return c.encMode.Marshal(t)
}

func (c *codec) Decode(b []byte) (*TreeV1, error) {
	var t TreeV1
	if err := cbor.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal tree: %v", core.ErrCorrupt, err)
	}
	if err := c.validate(&t); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCorrupt, err)
	}
	return &t, nil
}

func (c *codec) validate(t *TreeV1) error {
	if t.Version != 1 {
		return fmt.Errorf("unsupported tree version %d", t.Version)
	}

	switch t.Kind {
	case KindBlob:
		if len(t.Entries) > 0 {
			return fmt.Errorf("blob manifest carries directory entries")
		}
		if uint32(len(t.Chunks)) > c.limits.MaxChunksPerObject && c.limits.MaxChunksPerObject > 0 {
			return fmt.Errorf("too many chunks: %d > %d", len(t.Chunks), c.limits.MaxChunksPerObject)
		}
		var sum uint64
		for i, ch := range t.Chunks {
			if len(ch.ID) != objectid.Size {
				return fmt.Errorf("chunk %d has malformed ID (%d bytes)", i, len(ch.ID))
			}
			sum += uint64(ch.Len)
		}
		if sum != t.Length {
			return fmt.Errorf("length mismatch: manifest says %d, chunks sum to %d", t.Length, sum)
		}
		if len(t.Content) != 0 && len(t.Content) != objectid.Size {
			return fmt.Errorf("malformed content ID (%d bytes)", len(t.Content))
		}

	case KindTree:
		if len(t.Chunks) > 0 {
			return fmt.Errorf("directory tree carries chunk refs")
		}
		if len(t.Entries) > c.limits.MaxTreeEntries && c.limits.MaxTreeEntries > 0 {
			return fmt.Errorf("too many entries: %d > %d", len(t.Entries), c.limits.MaxTreeEntries)
		}
		prev := ""
		for i, e := range t.Entries {
			if e.Name == "" {
				return fmt.Errorf("entry %d has empty name", i)
			}
			if len(e.Name) > c.limits.MaxEntryNameLen && c.limits.MaxEntryNameLen > 0 {
				return fmt.Errorf("entry name too long: %d > %d", len(e.Name), c.limits.MaxEntryNameLen)
			}
			if len(e.ID) != objectid.Size {
				return fmt.Errorf("entry %q has malformed ID (%d bytes)", e.Name, len(e.ID))
			}
			if i > 0 && e.Name <= prev {
				return fmt.Errorf("entries not strictly sorted at %q", e.Name)
			}
			prev = e.Name
		}

	default:
		return fmt.Errorf("unknown tree kind %d", t.Kind)
	}

	return nil
}

// SortEntries puts entries into the canonical name order required before
// encoding.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

// SortIDs orders IDs by their byte-wise total order. Sorted store layouts
// and manifest indexes rely on this exact order.
func SortIDs(ids []objectid.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}
