package testkit

import (
	"context"

	"github.com/sourcekit/objstore/pkg/objectid"
	"github.com/sourcekit/objstore/pkg/pack"
)

// CountUniqueBlocks returns the number of distinct object IDs stored
// across all sealed packs.
func CountUniqueBlocks(ctx context.Context, pm pack.Manager) (int, error) {
	unique := make(map[objectid.ID]struct{})

	for _, pid := range pm.ListSealedPacks() {
		err := pm.IteratePackBlocks(ctx, pid, func(id objectid.ID) error {
			unique[id] = struct{}{}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	return len(unique), nil
}
