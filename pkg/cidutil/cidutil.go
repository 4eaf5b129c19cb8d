package cidutil

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/sourcekit/objstore/pkg/core"
	"github.com/sourcekit/objstore/pkg/objectid"
)

// Pack files are CARv2 archives whose blocks are addressed by CID. A stored
// object's CID is CIDv1 with the raw codec and a SHA-1 multihash wrapping
// exactly the object ID's 20 digest bytes, so the two forms round-trip
// without re-hashing.

// Bridge converts between object IDs and the CID form used by pack files.
type Bridge interface {
	ToCID(id objectid.ID) (core.CID, error)
	FromCID(c core.CID) (objectid.ID, error)
	Verify(id objectid.ID, plain []byte) error
}

type bridge struct{}

// NewBridge returns a Bridge implementation.
func NewBridge() Bridge {
	return &bridge{}
}

func (b *bridge) ToCID(id objectid.ID) (core.CID, error) {
	mh, err := multihash.Encode(id.Bytes(), multihash.SHA1)
	if err != nil {
		return core.CID{}, fmt.Errorf("failed to encode multihash: %w", err)
	}
	c := cid.NewCidV1(cid.Raw, mh)
	return core.CID{Bytes: c.Bytes()}, nil
}

func (b *bridge) FromCID(c core.CID) (objectid.ID, error) {
	parsed, err := cid.Cast(c.Bytes)
	if err != nil {
		return objectid.ID{}, fmt.Errorf("%w: invalid CID bytes: %v", core.ErrCorrupt, err)
	}

	dm, err := multihash.Decode(parsed.Hash())
	if err != nil {
		return objectid.ID{}, fmt.Errorf("%w: invalid multihash: %v", core.ErrCorrupt, err)
	}
	if dm.Code != multihash.SHA1 {
		return objectid.ID{}, fmt.Errorf("%w: unexpected multihash code 0x%x", core.ErrCorrupt, dm.Code)
	}

	id, err := objectid.FromBytes(dm.Digest)
	if err != nil {
		return objectid.ID{}, fmt.Errorf("%w: multihash digest width: %v", core.ErrCorrupt, err)
	}
	return id, nil
}

func (b *bridge) Verify(id objectid.ID, plain []byte) error {
	if got := objectid.Sum(plain); got != id {
		return fmt.Errorf("%w: content hashes to %s, expected %s", core.ErrCorrupt, got, id)
	}
	return nil
}
