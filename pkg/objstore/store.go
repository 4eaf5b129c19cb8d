package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/sourcekit/objstore/pkg/catalog"
	"github.com/sourcekit/objstore/pkg/chunker"
	"github.com/sourcekit/objstore/pkg/cidutil"
	"github.com/sourcekit/objstore/pkg/core"
	"github.com/sourcekit/objstore/pkg/objectid"
	"github.com/sourcekit/objstore/pkg/pack"
	"github.com/sourcekit/objstore/pkg/transform"
	"github.com/sourcekit/objstore/pkg/tree"
)

type store struct {
	cfg Config

	chunker   chunker.Chunker
	bridge    cidutil.Bridge
	trees     tree.Codec
	packs     pack.Manager
	catalog   catalog.Catalog
	transform transform.Transform

	putMu sync.Mutex // single-writer invariant
}

// Open initializes the store under cfg.Dir.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Pack.Dir == "" {
		cfg.Pack.Dir = filepath.Join(cfg.Dir, "packs")
	}
	if cfg.Catalog.Dir == "" {
		cfg.Catalog.Dir = filepath.Join(cfg.Dir, "catalog")
	}

	cat, err := catalog.Open(cfg.Catalog.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	bridge := cidutil.NewBridge()

	pm, err := pack.NewManager(cfg.Pack, bridge)
	if err != nil {
		cat.Close()
		return nil, fmt.Errorf("failed to open pack manager: %w", err)
	}

	var tr transform.Transform
	switch cfg.Transform.Name {
	case "zstd":
		tr = transform.NewZstd(cfg.Transform.ZstdLevel)
	case "none", "":
		tr = transform.NewNone()
	default:
		cat.Close()
		pm.Close()
		return nil, fmt.Errorf("unsupported transform: %s", cfg.Transform.Name)
	}

	return &store{
		cfg:       cfg,
		chunker:   chunker.New(cfg.Chunking),
		bridge:    bridge,
		trees:     tree.NewCodec(cfg.Limits),
		packs:     pm,
		catalog:   cat,
		transform: tr,
	}, nil
}

func (s *store) Close() error {
	err1 := s.catalog.Close()
	err2 := s.packs.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *store) PutBlob(ctx context.Context, key Key, r io.Reader, meta PutMeta) (Ref, error) {
	if meta.RootDeadline != nil && meta.RootTTL != nil {
		return Ref{}, core.ErrInvalidInput
	}

	s.putMu.Lock()
	defer s.putMu.Unlock()

	chunks, errs := s.chunker.Split(ctx, r)

	// The whole-content ID is accumulated from the chunk fragments in
	// stream order; it must match the digest of the contiguous content.
	content := objectid.NewDigester()

	var chunkRefs []tree.ChunkRef
	var totalLen uint64

	batch := s.catalog.NewBatch()
	defer batch.Close()

	// Drain the chunk channel fully before reading errs: a select over
	// both would drop the final chunk when both channels close together.
	for c := range chunks {
		if ctx.Err() != nil {
			s.chunker.ReturnBuffer(c.Buf)
			return Ref{}, ctx.Err()
		}

		plain := c.Buf[:c.N]
		chunkID := objectid.Sum(plain)
		content.Write(plain)

		totalLen += uint64(c.N)
		if s.cfg.Limits.MaxObjectBytes > 0 && totalLen > s.cfg.Limits.MaxObjectBytes {
			s.chunker.ReturnBuffer(c.Buf)
			return Ref{}, fmt.Errorf("%w: object exceeds %d bytes", core.ErrTooLarge, s.cfg.Limits.MaxObjectBytes)
		}

		if err := s.storeBlock(ctx, batch, chunkID, plain); err != nil {
			s.chunker.ReturnBuffer(c.Buf)
			return Ref{}, err
		}

		chunkRefs = append(chunkRefs, tree.ChunkRef{
			ID:  chunkID.Bytes(),
			Len: uint32(c.N),
		})

		s.chunker.ReturnBuffer(c.Buf)
	}

	if err, ok := <-errs; ok && err != nil {
		return Ref{}, err
	}

	contentID := content.Sum()

	m := &tree.TreeV1{
		Version: 1,
		Kind:    tree.KindBlob,
		Length:  totalLen,
		Chunks:  chunkRefs,
		Content: contentID.Bytes(),
	}

	manifestID, err := s.putManifest(ctx, batch, key, m, meta)
	if err != nil {
		return Ref{}, err
	}

	return Ref{ManifestID: manifestID, ContentID: contentID}, nil
}

func (s *store) PutTree(ctx context.Context, key Key, entries []TreeEntry, meta PutMeta) (Ref, error) {
	if meta.RootDeadline != nil && meta.RootTTL != nil {
		return Ref{}, core.ErrInvalidInput
	}

	s.putMu.Lock()
	defer s.putMu.Unlock()

	te := make([]tree.Entry, 0, len(entries))
	for _, e := range entries {
		te = append(te, tree.Entry{
			Name: e.Name,
			ID:   e.Ref.ManifestID.Bytes(),
			Len:  e.Len,
			Kind: e.Kind,
		})
	}
	tree.SortEntries(te)

	m := &tree.TreeV1{
		Version: 1,
		Kind:    tree.KindTree,
		Entries: te,
	}

	batch := s.catalog.NewBatch()
	defer batch.Close()

	manifestID, err := s.putManifest(ctx, batch, key, m, meta)
	if err != nil {
		return Ref{}, err
	}

	// A tree has no separate content stream; its encoded bytes are its
	// content, so the two IDs coincide.
	return Ref{ManifestID: manifestID, ContentID: manifestID}, nil
}

// storeBlock writes one block to the active pack and indexes it in the
// batch, skipping blocks the catalog already knows about.
func (s *store) storeBlock(ctx context.Context, batch *pebble.Batch, id objectid.ID, plain []byte) error {
	_, exists, err := s.catalog.GetPackForID(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	stored, err := s.transform.Encode(plain)
	if err != nil {
		return err
	}

	packID, err := s.packs.PutBlock(ctx, id, stored)
	if err != nil {
		return err
	}

	return s.catalog.PutPackForID(batch, id, packID)
}

// putManifest encodes and stores a manifest, points key at it, records the
// root deadline if retention applies, and commits the batch.
func (s *store) putManifest(ctx context.Context, batch *pebble.Batch, key Key, m *tree.TreeV1, meta PutMeta) (objectid.ID, error) {
	mBytes, err := s.trees.Encode(m)
	if err != nil {
		return objectid.ID{}, err
	}

	manifestID := objectid.Sum(mBytes)

	if err := s.storeBlock(ctx, batch, manifestID, mBytes); err != nil {
		return objectid.ID{}, err
	}

	if err := s.catalog.PutRef(batch, key, manifestID); err != nil {
		return objectid.ID{}, err
	}

	deadline := s.computeDeadline(meta)
	if !deadline.IsZero() {
		if err := s.catalog.PutRootDeadline(batch, manifestID, deadline); err != nil {
			return objectid.ID{}, err
		}
	}

	if err := batch.Commit(nil); err != nil {
		return objectid.ID{}, err
	}

	_ = s.packs.SealAndRotateIfNeeded(ctx)

	return manifestID, nil
}

func (s *store) computeDeadline(meta PutMeta) time.Time {
	if meta.RootDeadline != nil {
		return *meta.RootDeadline
	}
	if meta.RootTTL != nil {
		return time.Now().Add(*meta.RootTTL)
	}
	if s.cfg.GC.DefaultRootTTL > 0 {
		return time.Now().Add(s.cfg.GC.DefaultRootTTL)
	}
	return time.Time{}
}

func (s *store) Resolve(ctx context.Context, key Key) (objectid.ID, error) {
	id, ok, err := s.catalog.GetRef(ctx, key)
	if err != nil {
		return objectid.ID{}, err
	}
	if !ok {
		return objectid.ID{}, ErrNotFound
	}
	return id, nil
}

// loadManifest fetches, decodes and verifies a manifest block.
func (s *store) loadManifest(ctx context.Context, manifestID objectid.ID) (*tree.TreeV1, error) {
	packID, ok, err := s.catalog.GetPackForID(ctx, manifestID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	stored, err := s.packs.GetBlock(ctx, packID, manifestID)
	if err != nil {
		return nil, err
	}

	mBytes, err := s.transform.Decode(stored)
	if err != nil {
		return nil, err
	}

	if err := s.bridge.Verify(manifestID, mBytes); err != nil {
		return nil, err
	}

	return s.trees.Decode(mBytes)
}

func (s *store) Get(ctx context.Context, manifestID objectid.ID) (io.ReadCloser, GetInfo, error) {
	m, err := s.loadManifest(ctx, manifestID)
	if err != nil {
		return nil, GetInfo{}, err
	}
	if m.Kind != tree.KindBlob {
		return nil, GetInfo{}, fmt.Errorf("%w: %s is not a blob", core.ErrInvalidInput, manifestID)
	}

	info := GetInfo{Length: m.Length}
	if len(m.Content) == objectid.Size {
		info.ContentID, _ = objectid.FromBytes(m.Content)
	}

	return &blobReader{ctx: ctx, s: s, chunks: m.Chunks}, info, nil
}

func (s *store) GetTree(ctx context.Context, manifestID objectid.ID) (*tree.TreeV1, error) {
	m, err := s.loadManifest(ctx, manifestID)
	if err != nil {
		return nil, err
	}
	if m.Kind != tree.KindTree {
		return nil, fmt.Errorf("%w: %s is not a tree", core.ErrInvalidInput, manifestID)
	}
	return m, nil
}

func (s *store) Has(ctx context.Context, id objectid.ID) (bool, error) {
	_, ok, err := s.catalog.GetPackForID(ctx, id)
	return ok, err
}

func (s *store) Stat(ctx context.Context, manifestID objectid.ID) (Stat, error) {
	m, err := s.loadManifest(ctx, manifestID)
	if err != nil {
		return Stat{}, err
	}
	return Stat{
		Length:     m.Length,
		ChunkCount: uint32(len(m.Chunks)),
		Kind:       m.Kind,
	}, nil
}

// getChunk fetches one chunk's plaintext and verifies it against its ID.
func (s *store) getChunk(ctx context.Context, id objectid.ID) ([]byte, error) {
	packID, ok, err := s.catalog.GetPackForID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	stored, err := s.packs.GetBlock(ctx, packID, id)
	if err != nil {
		return nil, err
	}

	plain, err := s.transform.Decode(stored)
	if err != nil {
		return nil, err
	}

	if err := s.bridge.Verify(id, plain); err != nil {
		return nil, err
	}
	return plain, nil
}

// blobReader streams a blob's content chunk by chunk.
type blobReader struct {
	ctx    context.Context
	s      *store
	chunks []tree.ChunkRef

	current  *bytes.Reader
	chunkIdx int
}

func (r *blobReader) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			if r.chunkIdx >= len(r.chunks) {
				return 0, io.EOF
			}

			ref := r.chunks[r.chunkIdx]
			id, err := objectid.FromBytes(ref.ID)
			if err != nil {
				return 0, fmt.Errorf("%w: chunk ref: %v", core.ErrCorrupt, err)
			}
			plain, err := r.s.getChunk(r.ctx, id)
			if err != nil {
				return 0, err
			}
			r.current = bytes.NewReader(plain)
		}

		n, err := r.current.Read(p)
		if err == io.EOF {
			r.current = nil
			r.chunkIdx++
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *blobReader) Close() error {
	r.current = nil
	r.chunks = nil
	return nil
}
