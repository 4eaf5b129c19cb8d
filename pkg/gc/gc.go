package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/sourcekit/objstore/pkg/catalog"
	"github.com/sourcekit/objstore/pkg/core"
	"github.com/sourcekit/objstore/pkg/objectid"
	"github.com/sourcekit/objstore/pkg/pack"
	"github.com/sourcekit/objstore/pkg/transform"
	"github.com/sourcekit/objstore/pkg/tree"
)

// Result contains statistics from a GC run.
type Result struct {
	PacksSwept  int
	BlocksMoved int
}

// Runner sweeps packs whose blocks are no longer reachable from a live
// root and compacts packs with low utilization.
type Runner interface {
	RunOnce(ctx context.Context) (Result, error)
	Start(ctx context.Context)
	Stop()
}

type runner struct {
	cfg   core.GCConfig
	cat   catalog.Catalog
	packs pack.Manager
	trees tree.Codec
	tr    transform.Transform

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewRunner creates a GC runner over the store's components.
func NewRunner(
	cfg core.GCConfig,
	cat catalog.Catalog,
	packs pack.Manager,
	trees tree.Codec,
	tr transform.Transform,
) Runner {
	if cfg.RunEvery == 0 {
		cfg.RunEvery = 24 * time.Hour
	}
	return &runner{
		cfg:    cfg,
		cat:    cat,
		packs:  packs,
		trees:  trees,
		tr:     tr,
		stopCh: make(chan struct{}),
	}
}

func (r *runner) RunOnce(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Result

	live, err := r.mark(ctx)
	if err != nil {
		return res, fmt.Errorf("mark phase failed: %w", err)
	}

	liveByPack := make(map[uint64][]objectid.ID)
	for id := range live {
		pid, ok, err := r.cat.GetPackForID(ctx, id)
		if err != nil {
			return res, err
		}
		if ok {
			liveByPack[pid] = append(liveByPack[pid], id)
		}
	}

	var toCompact []uint64
	var toSweep []uint64

	for _, pid := range r.packs.ListSealedPacks() {
		liveCount := len(liveByPack[pid])

		totalCount := 0
		_ = r.packs.IteratePackBlocks(ctx, pid, func(objectid.ID) error {
			totalCount++
			return nil
		})

		switch {
		case totalCount == 0 || liveCount == 0:
			toSweep = append(toSweep, pid)
		case float64(liveCount)/float64(totalCount) < 0.5:
			toCompact = append(toCompact, pid)
		}
	}

	for _, pid := range toCompact {
		moved, err := r.compactPack(ctx, pid, liveByPack[pid])
		if err != nil {
			return res, fmt.Errorf("compaction failed for pack %d: %w", pid, err)
		}
		res.BlocksMoved += moved
		toSweep = append(toSweep, pid)
	}

	// Flush the destination pack so a reopen sees the moved blocks.
	if res.BlocksMoved > 0 {
		_ = r.packs.SealActivePack(ctx)
	}

	for _, pid := range toSweep {
		if err := r.packs.RemovePack(pid); err == nil {
			res.PacksSwept++
		}
	}

	return res, nil
}

// mark walks every unexpired root through its manifest graph and returns
// the set of live block IDs: manifests, their chunks, and everything
// reachable through tree entries.
func (r *runner) mark(ctx context.Context) (map[objectid.ID]struct{}, error) {
	live := make(map[objectid.ID]struct{})

	var pending []objectid.ID
	err := r.cat.IterateRoots(ctx, func(root objectid.ID, deadline time.Time) error {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil // expired
		}
		pending = append(pending, root)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for len(pending) > 0 {
		id := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		if _, seen := live[id]; seen {
			continue
		}
		live[id] = struct{}{}

		m, ok, err := r.loadManifest(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		switch m.Kind {
		case tree.KindBlob:
			for _, ch := range m.Chunks {
				cid, err := objectid.FromBytes(ch.ID)
				if err != nil {
					return nil, err
				}
				live[cid] = struct{}{}
			}
		case tree.KindTree:
			for _, e := range m.Entries {
				eid, err := objectid.FromBytes(e.ID)
				if err != nil {
					return nil, err
				}
				pending = append(pending, eid)
			}
		}
	}

	return live, nil
}

func (r *runner) loadManifest(ctx context.Context, id objectid.ID) (*tree.TreeV1, bool, error) {
	pid, ok, err := r.cat.GetPackForID(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}

	stored, err := r.packs.GetBlock(ctx, pid, id)
	if err != nil {
		return nil, false, err
	}

	mBytes, err := r.tr.Decode(stored)
	if err != nil {
		return nil, false, err
	}

	m, err := r.trees.Decode(mBytes)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (r *runner) compactPack(ctx context.Context, packID uint64, toMove []objectid.ID) (int, error) {
	var moved int
	batch := r.cat.NewBatch()
	defer batch.Close()

	for _, id := range toMove {
		stored, err := r.packs.GetBlock(ctx, packID, id)
		if err != nil {
			continue // block may live in a newer pack already
		}

		newPackID, err := r.packs.PutBlock(ctx, id, stored)
		if err != nil {
			return moved, err
		}

		if err := r.cat.PutPackForID(batch, id, newPackID); err != nil {
			return moved, err
		}
		moved++
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return moved, err
	}

	if moved > 0 {
		_ = r.packs.SealAndRotateIfNeeded(ctx)
	}

	return moved, nil
}

func (r *runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running || !r.cfg.Enabled {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(r.cfg.RunEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				_, _ = r.RunOnce(ctx)
			}
		}
	}()
}

func (r *runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.running = false
		close(r.stopCh)
	}
}
