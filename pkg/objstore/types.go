package objstore

import (
	"context"
	"io"
	"time"

	"github.com/sourcekit/objstore/pkg/core"
	"github.com/sourcekit/objstore/pkg/objectid"
	"github.com/sourcekit/objstore/pkg/tree"
)

type Key = core.Key

// Ref is the result of storing an object. ManifestID locates the manifest
// block; for blobs, ContentID is the digest of the raw content itself, the
// identifier the source-control layer uses to address the file.
type Ref struct {
	ManifestID objectid.ID
	ContentID  objectid.ID
}

// PutMeta carries retention settings for a Put.
//
// Retention resolution order: RootDeadline if set, else now+RootTTL if set,
// else now+cfg.GC.DefaultRootTTL if positive, else no root entry.
type PutMeta struct {
	RootDeadline *time.Time
	RootTTL      *time.Duration
}

// GetInfo describes a retrieved blob.
type GetInfo struct {
	Length    uint64
	ContentID objectid.ID
}

// Stat summarizes a stored object without reading its content.
type Stat struct {
	Length     uint64
	ChunkCount uint32
	Kind       tree.EntryKind
}

// TreeEntry names a child object when storing a directory tree.
type TreeEntry struct {
	Name string
	Ref  Ref
	Len  uint64
	Kind tree.EntryKind
}

// Store is the content-addressed object store: blobs and trees keyed by
// their content-derived IDs, with logical refs resolved through the
// catalog.
type Store interface {
	PutBlob(ctx context.Context, key Key, r io.Reader, meta PutMeta) (Ref, error)
	PutTree(ctx context.Context, key Key, entries []TreeEntry, meta PutMeta) (Ref, error)
	Resolve(ctx context.Context, key Key) (objectid.ID, error)
	Get(ctx context.Context, manifestID objectid.ID) (io.ReadCloser, GetInfo, error)
	GetTree(ctx context.Context, manifestID objectid.ID) (*tree.TreeV1, error)

	Has(ctx context.Context, id objectid.ID) (bool, error)
	Stat(ctx context.Context, manifestID objectid.ID) (Stat, error)
	Close() error
}
