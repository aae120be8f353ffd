// Package assets defines the per-asset-type capability contract the
// marketplace engine operates through. The install engine and update
// propagator never touch a concrete asset type; they see only Handler.
// Adding a new packageable asset type means adding a Handler implementation
// and registering it, with no orchestration changes.
package assets

import (
	"context"

	"github.com/google/uuid"

	"github.com/appforge-labs/marketplace-engine/pkg/models"
)

// IDMapping maps an original (author-tenant) asset id to the tenant-local id
// created for it during one install operation. It is install-call-local and
// never persisted; its completeness before remapping is a correctness
// invariant of the install engine.
type IDMapping map[uuid.UUID]uuid.UUID

// ContainsValue reports whether id is one of the newly created ids in the
// mapping. Remap implementations use this to stay idempotent: a reference
// that already points at a mapped tenant-local id is left alone.
func (m IDMapping) ContainsValue(id uuid.UUID) bool {
	for _, v := range m {
		if v == id {
			return true
		}
	}
	return false
}

// CloneResult reports the identity translation performed by a clone.
type CloneResult struct {
	OriginalID uuid.UUID
	NewID      uuid.UUID
}

// Handler is the capability contract one asset type implements.
type Handler interface {
	// Type returns the asset type tag this handler serves.
	Type() models.AssetType

	// GetSnapshot produces a deep, author-tenant-free representation of the
	// asset at the given version. Cross-references to other assets must
	// resolve either to another entry of the same package (via siblings) or
	// to an independently published marketplace application; anything else
	// fails with apperrors.ErrNotFound.
	GetSnapshot(ctx context.Context, assetID uuid.UUID, version int, siblings []models.SourceAssetReference) (models.SnapshotDocument, error)

	// CloneFromSnapshot materializes a brand-new team-owned asset from the
	// snapshot content. Ids are always freshly generated, so naming
	// collisions cannot occur. Embedded references still carry original ids
	// until RemapDependencies runs.
	CloneFromSnapshot(ctx context.Context, doc models.SnapshotDocument, teamID, userID uuid.UUID) (CloneResult, error)

	// UpdateFromSnapshot overwrites the content of an already-installed
	// asset with the snapshot content, preserving existingAssetID. Used only
	// during upgrade, never during first install.
	UpdateFromSnapshot(ctx context.Context, doc models.SnapshotDocument, teamID, userID, existingAssetID uuid.UUID) (uuid.UUID, error)

	// RemapDependencies rewrites any embedded original-id reference in the
	// given asset with its mapped tenant-local id. Must be idempotent for a
	// fixed mapping. An embedded reference that is neither a mapping key nor
	// an already-mapped value fails with apperrors.ErrIntegrity.
	RemapDependencies(ctx context.Context, newAssetID uuid.UUID, mapping IDMapping) error

	// GetByID returns the live asset, or apperrors.ErrNotFound. Used for
	// existence checks during installation repair.
	GetByID(ctx context.Context, assetID uuid.UUID) (any, error)
}

// PublishedLookup resolves whether a live asset is the source of an already
// published marketplace application. Handlers use it to rewrite
// cross-package references at snapshot time.
type PublishedLookup interface {
	FindAppBySourceAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (uuid.UUID, error)
}
