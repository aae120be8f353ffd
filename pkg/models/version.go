package models

import (
	"time"

	"github.com/google/uuid"
)

// VersionStatus marks whether a version is the installable one for its app.
type VersionStatus string

const (
	VersionStatusActive     VersionStatus = "ACTIVE"
	VersionStatusDeprecated VersionStatus = "DEPRECATED"
)

// AppVersion is one immutable point-in-time package of an Application.
// AssetSnapshot is captured at submission and never mutated afterwards; a
// resubmission creates a new version and deprecates the prior one.
type AppVersion struct {
	ID                    uuid.UUID              `json:"id"`
	AppID                 uuid.UUID              `json:"app_id"`
	Version               string                 `json:"version"`
	ReleaseNotes          string                 `json:"release_notes,omitempty"`
	AssetSnapshot         AssetSnapshot          `json:"asset_snapshot"`
	SourceAssetReferences []SourceAssetReference `json:"source_asset_references"`
	Status                VersionStatus          `json:"status"`
	CreatedAt             time.Time              `json:"created_at"`
}
