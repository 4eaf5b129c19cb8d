package catalog

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/sourcekit/objstore/pkg/core"
	"github.com/sourcekit/objstore/pkg/objectid"
)

var (
	PrefixID2Pack = []byte("id:")
	PrefixRef     = []byte("ref:")
	PrefixRoots   = []byte("rt:")
)

// Catalog is the embedded index over pack contents: which pack holds each
// object, which object each logical key currently names, and which roots
// are pinned until a deadline. Keys under PrefixID2Pack and PrefixRoots
// embed the raw 20-byte ID, so pebble's default byte-wise key order is the
// ID order.
type Catalog interface {
	GetPackForID(ctx context.Context, id objectid.ID) (uint64, bool, error)
	PutPackForID(batch *pebble.Batch, id objectid.ID, packID uint64) error

	GetRef(ctx context.Context, key core.Key) (objectid.ID, bool, error)
	PutRef(batch *pebble.Batch, key core.Key, id objectid.ID) error

	PutRootDeadline(batch *pebble.Batch, root objectid.ID, deadline time.Time) error
	IterateRoots(ctx context.Context, fn func(root objectid.ID, deadline time.Time) error) error

	NewBatch() *pebble.Batch
	Close() error
}

type pebbleCatalog struct {
	db *pebble.DB
}

// Open opens a pebble-backed catalog in the given directory.
func Open(dir string) (Catalog, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}
	return &pebbleCatalog{db: db}, nil
}

func (c *pebbleCatalog) Close() error {
	return c.db.Close()
}

func (c *pebbleCatalog) NewBatch() *pebble.Batch {
	return c.db.NewBatch()
}

func (c *pebbleCatalog) GetPackForID(ctx context.Context, id objectid.ID) (uint64, bool, error) {
	key := append(append([]byte{}, PrefixID2Pack...), id.Bytes()...)
	val, closer, err := c.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, false, fmt.Errorf("%w: invalid pack ID length", core.ErrCorrupt)
	}
	return binary.BigEndian.Uint64(val), true, nil
}

func (c *pebbleCatalog) PutPackForID(batch *pebble.Batch, id objectid.ID, packID uint64) error {
	key := append(append([]byte{}, PrefixID2Pack...), id.Bytes()...)
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, packID)

	if batch != nil {
		return batch.Set(key, val, nil)
	}
	return c.db.Set(key, val, pebble.Sync)
}

func (c *pebbleCatalog) GetRef(ctx context.Context, key core.Key) (objectid.ID, bool, error) {
	val, closer, err := c.db.Get(encodeRefKey(key))
	if err != nil {
		if err == pebble.ErrNotFound {
			return objectid.ID{}, false, nil
		}
		return objectid.ID{}, false, err
	}
	defer closer.Close()

	id, err := objectid.FromBytes(val)
	if err != nil {
		return objectid.ID{}, false, fmt.Errorf("%w: stored ref: %v", core.ErrCorrupt, err)
	}
	return id, true, nil
}

func (c *pebbleCatalog) PutRef(batch *pebble.Batch, key core.Key, id objectid.ID) error {
	k := encodeRefKey(key)
	if batch != nil {
		return batch.Set(k, id.Bytes(), nil)
	}
	return c.db.Set(k, id.Bytes(), pebble.Sync)
}

func (c *pebbleCatalog) PutRootDeadline(batch *pebble.Batch, root objectid.ID, deadline time.Time) error {
	key := append(append([]byte{}, PrefixRoots...), root.Bytes()...)
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, uint64(deadline.Unix()))

	if batch != nil {
		return batch.Set(key, val, nil)
	}
	return c.db.Set(key, val, pebble.Sync)
}

func (c *pebbleCatalog) IterateRoots(ctx context.Context, fn func(root objectid.ID, deadline time.Time) error) error {
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: PrefixRoots,
		UpperBound: prefixUpperBound(PrefixRoots),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		root, err := objectid.FromBytes(iter.Key()[len(PrefixRoots):])
		if err != nil {
			return fmt.Errorf("%w: root key: %v", core.ErrCorrupt, err)
		}

		val := iter.Value()
		if len(val) != 8 {
			return fmt.Errorf("%w: root deadline for %s", core.ErrCorrupt, root)
		}
		deadline := time.Unix(int64(binary.BigEndian.Uint64(val)), 0)

		if err := fn(root, deadline); err != nil {
			return err
		}
	}
	return iter.Error()
}

func encodeRefKey(k core.Key) []byte {
	// ref:<namespace>\x00<name>; the NUL separator keeps namespaces from
	// colliding with name prefixes.
	out := make([]byte, 0, len(PrefixRef)+len(k.Namespace)+1+len(k.Name))
	out = append(out, PrefixRef...)
	out = append(out, k.Namespace...)
	out = append(out, 0)
	out = append(out, k.Name...)
	return out
}

func prefixUpperBound(prefix []byte) []byte {
	out := make([]byte, len(prefix))
	copy(out, prefix)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			return out
		}
	}
	return nil
}
