package objectid

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/sourcekit/objstore/pkg/core"
)

// Size is the width of an object identifier in bytes: the output width of
// the SHA-1 digest that derives it. Changing it is a breaking format change
// for every persisted pack and catalog entry.
const Size = 20

// HexSize is the length of the canonical hex form.
const HexSize = Size * 2

// ID is a fixed-width content identifier. It is the raw 20-byte digest of
// an object's content, used as the primary key across packs, the catalog
// and tree entries. The zero value is the all-zero ID, which no content
// hashes to; it is safe to use as a map sentinel.
type ID [Size]byte

// FromHex parses the canonical 40-character hex form. Mixed-case input is
// accepted; anything that is not exactly 40 hex characters fails with
// core.ErrInvalidInput. No whitespace or "0x" prefix handling.
func FromHex(s string) (ID, error) {
	var id ID
	if len(s) != HexSize {
		return ID{}, fmt.Errorf("%w: object ID hex length %d, want %d", core.ErrInvalidInput, len(s), HexSize)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return ID{}, fmt.Errorf("%w: object ID hex: %v", core.ErrInvalidInput, err)
	}
	return id, nil
}

// FromBytes copies a raw 20-byte digest into an ID. The input slice is not
// retained; mutating it afterwards does not affect the returned ID.
func FromBytes(b []byte) (ID, error) {
	if len(b) != Size {
		return ID{}, fmt.Errorf("%w: object ID length %d, want %d", core.ErrInvalidInput, len(b), Size)
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// MustFromHex is FromHex for hard-coded IDs in tests and fixtures.
func MustFromHex(s string) ID {
	id, err := FromHex(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Bytes returns the raw digest as a slice over the ID's own array. Callers
// must treat it as read-only; copy before mutating.
func (id ID) Bytes() []byte {
	return id[:]
}

// String returns the canonical lowercase hex form.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero sentinel.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Compare orders IDs by unsigned byte-wise comparison. This is the ordering
// used by every sorted index keyed on IDs; it is part of the on-disk format.
func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}

// Less reports whether id sorts before other.
func (id ID) Less(other ID) bool {
	return Compare(id, other) < 0
}
