package assets

import (
	"context"
	"fmt"

	"github.com/appforge-labs/marketplace-engine/pkg/models"
)

// SnapshotBuilder turns a list of live asset references into a portable
// snapshot table. Every reference in the batch is passed to each handler as
// the sibling set, so same-package cross-references can be recognized and
// kept as original ids for install-time remapping.
type SnapshotBuilder struct {
	registry *Registry
}

// NewSnapshotBuilder creates a snapshot builder over the given registry.
func NewSnapshotBuilder(registry *Registry) *SnapshotBuilder {
	return &SnapshotBuilder{registry: registry}
}

// Build snapshots every referenced asset, preserving reference order within
// each asset type. Any unresolvable asset or cross-reference fails the whole
// build.
func (b *SnapshotBuilder) Build(ctx context.Context, refs []models.SourceAssetReference) (models.AssetSnapshot, error) {
	snapshot := make(models.AssetSnapshot)

	for _, ref := range refs {
		handler, err := b.registry.Get(ref.AssetType)
		if err != nil {
			return nil, err
		}

		doc, err := handler.GetSnapshot(ctx, ref.AssetID, ref.Version, refs)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot %s %s: %w", ref.AssetType, ref.AssetID, err)
		}
		snapshot[ref.AssetType] = append(snapshot[ref.AssetType], doc)
	}

	return snapshot, nil
}
