package models

import (
	"time"

	"github.com/google/uuid"
)

// Installation records that a team has materialized one app version as its
// own tenant-local copy. InstalledAssetIDs[type][i] is a live, team-owned
// asset cloned from the version's AssetSnapshot[type][i]. Upgrades mutate the
// row in place: same id, same asset ids, new version pointer.
type Installation struct {
	ID                uuid.UUID         `json:"id"`
	TeamID            uuid.UUID         `json:"team_id"`
	UserID            uuid.UUID         `json:"user_id"`
	AppID             uuid.UUID         `json:"app_id"`
	AppVersionID      uuid.UUID         `json:"app_version_id"`
	InstalledAssetIDs InstalledAssetIDs `json:"installed_asset_ids"`
	UpdateAvailable   bool              `json:"update_available"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}
