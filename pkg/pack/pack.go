package pack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	carv2 "github.com/ipld/go-car/v2"
	"github.com/ipld/go-car/v2/blockstore"

	"github.com/sourcekit/objstore/pkg/cidutil"
	"github.com/sourcekit/objstore/pkg/core"
	"github.com/sourcekit/objstore/pkg/objectid"
)

// Manager owns the CARv2 pack files: one active read-write pack receiving
// new blocks, and any number of sealed read-only packs. Blocks are
// addressed inside packs by the CID form of their object ID.
type Manager interface {
	PutBlock(ctx context.Context, id objectid.ID, stored []byte) (uint64, error)
	GetBlock(ctx context.Context, packID uint64, id objectid.ID) ([]byte, error)
	SealAndRotateIfNeeded(ctx context.Context) error
	CurrentPackID() uint64
	IteratePackBlocks(ctx context.Context, packID uint64, fn func(id objectid.ID) error) error

	ListSealedPacks() []uint64
	RemovePack(packID uint64) error
	SealActivePack(ctx context.Context) error

	Close() error
}

type packManager struct {
	cfg    core.PackConfig
	bridge cidutil.Bridge

	mu sync.RWMutex

	currentID uint64
	active    *blockstore.ReadWrite

	sealed map[uint64]*blockstore.ReadOnly
}

// NewManager opens the pack directory, discovers existing packs and starts
// a fresh active pack.
func NewManager(cfg core.PackConfig, bridge cidutil.Bridge) (Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("pack directory not specified")
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create pack directory: %w", err)
	}

	m := &packManager{
		cfg:    cfg,
		bridge: bridge,
		sealed: make(map[uint64]*blockstore.ReadOnly),
	}

	if err := m.discoverPacks(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *packManager) discoverPacks() error {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return err
	}

	var packIDs []uint64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "pack-") || !strings.HasSuffix(entry.Name(), ".car") {
			continue
		}

		idStr := strings.TrimPrefix(entry.Name(), "pack-")
		idStr = strings.TrimSuffix(idStr, ".car")
		id, err := strconv.ParseUint(idStr, 16, 64)
		if err != nil {
			continue
		}
		packIDs = append(packIDs, id)
	}

	sort.Slice(packIDs, func(i, j int) bool { return packIDs[i] < packIDs[j] })

	// Everything found on disk is treated as sealed; resuming a partially
	// written CARv2 is not supported.
	for _, id := range packIDs {
		bs, err := blockstore.OpenReadOnly(m.packPath(id))
		if err != nil {
			return fmt.Errorf("failed to open sealed pack %d: %w", id, err)
		}
		m.sealed[id] = bs
		m.currentID = id
	}

	m.currentID++
	return m.openActive(m.currentID)
}

func (m *packManager) openActive(id uint64) error {
	bs, err := blockstore.OpenReadWrite(m.packPath(id), []cid.Cid{})
	if err != nil {
		return fmt.Errorf("failed to create active pack %d: %w", id, err)
	}
	m.active = bs
	return nil
}

func (m *packManager) packPath(id uint64) string {
	return filepath.Join(m.cfg.Dir, fmt.Sprintf("pack-%016x.car", id))
}

func (m *packManager) CurrentPackID() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentID
}

// blockCID is the CID form the bridge assigns to an object ID, parsed for
// use with the blockstore API.
func (m *packManager) blockCID(id objectid.ID) (cid.Cid, error) {
	c, err := m.bridge.ToCID(id)
	if err != nil {
		return cid.Undef, err
	}
	return cid.Cast(c.Bytes)
}

func (m *packManager) PutBlock(ctx context.Context, id objectid.ID, stored []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bc, err := m.blockCID(id)
	if err != nil {
		return 0, err
	}

	has, err := m.active.Has(ctx, bc)
	if err != nil {
		return 0, err
	}
	if has {
		return m.currentID, nil
	}

	blk, err := blocks.NewBlockWithCid(stored, bc)
	if err != nil {
		return 0, err
	}

	if err := m.active.Put(ctx, blk); err != nil {
		return 0, err
	}

	return m.currentID, nil
}

func (m *packManager) GetBlock(ctx context.Context, packID uint64, id objectid.ID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bc, err := m.blockCID(id)
	if err != nil {
		return nil, err
	}

	var bs interface {
		Get(context.Context, cid.Cid) (blocks.Block, error)
	}

	if packID == m.currentID {
		bs = m.active
	} else {
		rbs, ok := m.sealed[packID]
		if !ok {
			return nil, fmt.Errorf("%w: pack %d not found", core.ErrNotFound, packID)
		}
		bs = rbs
	}

	blk, err := bs.Get(ctx, bc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrNotFound, err)
	}

	return blk.RawData(), nil
}

func (m *packManager) SealAndRotateIfNeeded(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fi, err := os.Stat(m.packPath(m.currentID))
	if err != nil {
		return err
	}
	if uint64(fi.Size()) < m.cfg.TargetPackBytes {
		return nil
	}

	return m.sealLocked()
}

func (m *packManager) SealActivePack(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sealLocked()
}

// sealLocked finalizes the active pack, reopens it read-only and rotates to
// a fresh active pack. Caller holds m.mu.
func (m *packManager) sealLocked() error {
	if err := m.active.Finalize(); err != nil {
		return fmt.Errorf("failed to finalize active pack: %w", err)
	}

	bs, err := blockstore.OpenReadOnly(m.packPath(m.currentID))
	if err != nil {
		return fmt.Errorf("failed to open sealed pack: %w", err)
	}
	m.sealed[m.currentID] = bs

	m.currentID++
	return m.openActive(m.currentID)
}

func (m *packManager) ListSealedPacks() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]uint64, 0, len(m.sealed))
	for id := range m.sealed {
		res = append(res, id)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// IteratePackBlocks reads the CAR blocks linearly rather than through the
// go-car index, which does not preserve the original CID codec.
func (m *packManager) IteratePackBlocks(ctx context.Context, packID uint64, fn func(id objectid.ID) error) error {
	m.mu.RLock()
	_, ok := m.sealed[packID]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: pack %d is not sealed or doesn't exist", core.ErrNotFound, packID)
	}

	f, err := os.Open(m.packPath(packID))
	if err != nil {
		return fmt.Errorf("failed to open pack %d: %w", packID, err)
	}
	defer f.Close()

	br, err := carv2.NewBlockReader(f, carv2.WithTrustedCAR(true))
	if err != nil {
		return fmt.Errorf("failed to create block reader for pack %d: %w", packID, err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		blk, err := br.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read block from pack %d: %w", packID, err)
		}

		id, err := m.bridge.FromCID(core.CID{Bytes: blk.Cid().Bytes()})
		if err != nil {
			return fmt.Errorf("pack %d: %w", packID, err)
		}
		if err := fn(id); err != nil {
			return err
		}
	}
}

func (m *packManager) RemovePack(packID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bs, ok := m.sealed[packID]
	if ok {
		delete(m.sealed, packID)
		bs.Close()
	} else if packID == m.currentID {
		return fmt.Errorf("cannot remove active pack")
	}

	return os.Remove(m.packPath(packID))
}

func (m *packManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []string
	if m.active != nil {
		// Finalize flushes the index; a second call after SealActivePack is
		// harmless here since a fresh active pack always exists.
		_ = m.active.Finalize()
	}

	for id, bs := range m.sealed {
		if err := bs.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("pack %d: %v", id, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing pack manager: %s", strings.Join(errs, "; "))
	}
	return nil
}
