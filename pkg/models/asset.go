package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// AssetType tags the kind of packageable asset a snapshot document holds.
// Concrete behavior per type lives behind the assets.Handler contract.
type AssetType string

const (
	AssetTypeWorkflow            AssetType = "workflow"
	AssetTypeWorkflowAssociation AssetType = "workflow-association"
)

// SnapshotDocument is a portable, tenant-agnostic serialization of one
// asset. OriginalID is the id the asset had in the author tenant; Content is
// the handler-specific payload. Snapshot documents are immutable once stored
// on a version.
type SnapshotDocument struct {
	OriginalID uuid.UUID       `json:"original_id"`
	Content    json.RawMessage `json:"content"`
}

// AssetSnapshot maps asset type to the ordered snapshot documents packaged
// for that type. List order is significant: installed asset ids are aligned
// positionally with it.
type AssetSnapshot map[AssetType][]SnapshotDocument

// SourceAssetReference points back at the live asset a snapshot was taken
// from, with the explicit version that was packaged.
type SourceAssetReference struct {
	AssetType AssetType `json:"asset_type"`
	AssetID   uuid.UUID `json:"asset_id"`
	Version   int       `json:"version"`
}

// InstalledAssetIDs maps asset type to the ordered tenant-local ids created
// for that type, positionally aligned with the version's AssetSnapshot lists.
type InstalledAssetIDs map[AssetType][]uuid.UUID
