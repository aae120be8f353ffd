package models

import (
	"time"

	"github.com/google/uuid"
)

// AppStatus is the review lifecycle state of an Application.
type AppStatus string

const (
	AppStatusPendingApproval AppStatus = "PENDING_APPROVAL"
	AppStatusApproved        AppStatus = "APPROVED"
	AppStatusRejected        AppStatus = "REJECTED"
	AppStatusArchived        AppStatus = "ARCHIVED"
)

// Application is an author-owned, installable package identity.
// At most one non-archived Application exists per (author team, name).
// Applications are never physically deleted, only archived.
type Application struct {
	ID             uuid.UUID   `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	IconURL        string      `json:"icon_url,omitempty"`
	AssetType      AssetType   `json:"asset_type"`
	Categories     []string    `json:"categories,omitempty"`
	Status         AppStatus   `json:"status"`
	IsPreset       bool        `json:"is_preset"`
	AuthorTeamID   uuid.UUID   `json:"author_team_id"`
	TotalInstalls  int64       `json:"total_installs"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`

	// Versions is populated by detail queries only.
	Versions []*AppVersion `json:"versions,omitempty"`
}

// CanTransitionTo reports whether the review state machine permits moving
// from the current status to target. ARCHIVED is terminal.
func (a *Application) CanTransitionTo(target AppStatus) bool {
	switch a.Status {
	case AppStatusPendingApproval:
		return target == AppStatusApproved || target == AppStatusRejected
	case AppStatusApproved, AppStatusRejected:
		return target == AppStatusArchived || target == AppStatusPendingApproval
	case AppStatusArchived:
		return false
	}
	return false
}
