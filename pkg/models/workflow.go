package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskTypeSubWorkflow marks a task that invokes another workflow.
const TaskTypeSubWorkflow = "SUB_WORKFLOW"

// WorkflowTask is one step of a workflow definition. SubWorkflowID is set
// only for SUB_WORKFLOW tasks; MarketplaceAppID replaces it when the
// referenced workflow is published independently rather than packaged
// alongside.
type WorkflowTask struct {
	Name             string         `json:"name"`
	Type             string         `json:"type"`
	SubWorkflowID    *uuid.UUID     `json:"sub_workflow_id,omitempty"`
	MarketplaceAppID *uuid.UUID     `json:"marketplace_app_id,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`
}

// Workflow is a team-owned workflow definition, the primary packageable
// asset. Its lifecycle is owned by the workflow domain; the marketplace only
// holds references to it.
type Workflow struct {
	ID            uuid.UUID      `json:"id"`
	TeamID        uuid.UUID      `json:"team_id"`
	CreatorUserID uuid.UUID      `json:"creator_user_id"`
	DisplayName   string         `json:"display_name"`
	Description   string         `json:"description,omitempty"`
	IconURL       string         `json:"icon_url,omitempty"`
	Version       int            `json:"version"`
	Tasks         []WorkflowTask `json:"tasks"`
	ForkFromID    *uuid.UUID     `json:"fork_from_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// WorkflowAssociation links an origin workflow to a target workflow (for
// example "run target after origin"). Both endpoints are team-local ids.
type WorkflowAssociation struct {
	ID               uuid.UUID `json:"id"`
	TeamID           uuid.UUID `json:"team_id"`
	CreatorUserID    uuid.UUID `json:"creator_user_id"`
	DisplayName      string    `json:"display_name"`
	OriginWorkflowID uuid.UUID `json:"origin_workflow_id"`
	TargetWorkflowID uuid.UUID `json:"target_workflow_id"`
	Enabled          bool      `json:"enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
