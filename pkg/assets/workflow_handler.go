package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/appforge-labs/marketplace-engine/pkg/apperrors"
	"github.com/appforge-labs/marketplace-engine/pkg/models"
)

// WorkflowStore is the slice of the workflow domain the handler needs.
type WorkflowStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	GetByIDVersion(ctx context.Context, id uuid.UUID, version int) (*models.Workflow, error)
	Create(ctx context.Context, wf *models.Workflow) error
	Update(ctx context.Context, wf *models.Workflow) error
}

// WorkflowSnapshotContent is the portable payload of one workflow snapshot.
// Team and creator identity are deliberately absent.
type WorkflowSnapshotContent struct {
	DisplayName string                `json:"display_name"`
	Description string                `json:"description,omitempty"`
	IconURL     string                `json:"icon_url,omitempty"`
	Version     int                   `json:"version"`
	Tasks       []models.WorkflowTask `json:"tasks"`
}

// WorkflowHandler implements the capability contract for workflow assets.
type WorkflowHandler struct {
	store     WorkflowStore
	published PublishedLookup
	logger    *zap.Logger
}

// NewWorkflowHandler creates the workflow asset handler.
func NewWorkflowHandler(store WorkflowStore, published PublishedLookup, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{store: store, published: published, logger: logger}
}

// Type returns the asset type tag this handler serves.
func (h *WorkflowHandler) Type() models.AssetType {
	return models.AssetTypeWorkflow
}

// GetSnapshot captures the workflow at the given version. Sub-workflow
// references are kept as original ids when the sub-workflow is packaged in
// the same batch; references to independently published workflows are
// rewritten to the owning marketplace application id; anything else is
// unresolvable and fails.
func (h *WorkflowHandler) GetSnapshot(ctx context.Context, assetID uuid.UUID, version int, siblings []models.SourceAssetReference) (models.SnapshotDocument, error) {
	wf, err := h.store.GetByIDVersion(ctx, assetID, version)
	if err != nil {
		return models.SnapshotDocument{}, err
	}

	siblingIDs := make(map[uuid.UUID]bool, len(siblings))
	for _, ref := range siblings {
		if ref.AssetType == models.AssetTypeWorkflow {
			siblingIDs[ref.AssetID] = true
		}
	}

	tasks := make([]models.WorkflowTask, len(wf.Tasks))
	copy(tasks, wf.Tasks)
	for i := range tasks {
		if tasks[i].Type != models.TaskTypeSubWorkflow || tasks[i].SubWorkflowID == nil {
			continue
		}
		subID := *tasks[i].SubWorkflowID
		if siblingIDs[subID] {
			continue // resolved at install time through the id mapping
		}

		appID, err := h.published.FindAppBySourceAsset(ctx, subID, models.AssetTypeWorkflow)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return models.SnapshotDocument{}, fmt.Errorf(
					"%w: workflow %s references sub-workflow %s which is neither packaged nor published",
					apperrors.ErrNotFound, assetID, subID)
			}
			return models.SnapshotDocument{}, err
		}
		tasks[i].MarketplaceAppID = &appID
		tasks[i].SubWorkflowID = nil
	}

	content, err := json.Marshal(WorkflowSnapshotContent{
		DisplayName: wf.DisplayName,
		Description: wf.Description,
		IconURL:     wf.IconURL,
		Version:     wf.Version,
		Tasks:       tasks,
	})
	if err != nil {
		return models.SnapshotDocument{}, fmt.Errorf("failed to marshal workflow snapshot: %w", err)
	}

	return models.SnapshotDocument{OriginalID: wf.ID, Content: content}, nil
}

// CloneFromSnapshot creates a brand-new team-owned workflow from the
// snapshot content. The id is freshly generated; embedded sub-workflow
// references still carry original ids until RemapDependencies runs.
func (h *WorkflowHandler) CloneFromSnapshot(ctx context.Context, doc models.SnapshotDocument, teamID, userID uuid.UUID) (CloneResult, error) {
	var content WorkflowSnapshotContent
	if err := json.Unmarshal(doc.Content, &content); err != nil {
		return CloneResult{}, fmt.Errorf("%w: malformed workflow snapshot: %v", apperrors.ErrIntegrity, err)
	}

	wf := &models.Workflow{
		ID:            uuid.New(),
		TeamID:        teamID,
		CreatorUserID: userID,
		DisplayName:   content.DisplayName,
		Description:   content.Description,
		IconURL:       content.IconURL,
		Version:       1,
		Tasks:         content.Tasks,
	}
	if err := h.store.Create(ctx, wf); err != nil {
		return CloneResult{}, fmt.Errorf("failed to clone workflow %s: %w", doc.OriginalID, err)
	}

	return CloneResult{OriginalID: doc.OriginalID, NewID: wf.ID}, nil
}

// UpdateFromSnapshot overwrites the content of an installed workflow with a
// newer snapshot, keeping existingAssetID and bumping the local version.
func (h *WorkflowHandler) UpdateFromSnapshot(ctx context.Context, doc models.SnapshotDocument, teamID, userID, existingAssetID uuid.UUID) (uuid.UUID, error) {
	var content WorkflowSnapshotContent
	if err := json.Unmarshal(doc.Content, &content); err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed workflow snapshot: %v", apperrors.ErrIntegrity, err)
	}

	wf, err := h.store.GetByID(ctx, existingAssetID)
	if err != nil {
		return uuid.Nil, err
	}

	wf.DisplayName = content.DisplayName
	wf.Description = content.Description
	wf.IconURL = content.IconURL
	wf.Tasks = content.Tasks
	wf.Version++
	if err := h.store.Update(ctx, wf); err != nil {
		return uuid.Nil, fmt.Errorf("failed to update workflow %s: %w", existingAssetID, err)
	}

	return doc.OriginalID, nil
}

// RemapDependencies rewrites sub-workflow references through the mapping.
// References already pointing at mapped tenant-local ids are left alone, so
// a second invocation with the same mapping is a no-op.
func (h *WorkflowHandler) RemapDependencies(ctx context.Context, newAssetID uuid.UUID, mapping IDMapping) error {
	wf, err := h.store.GetByID(ctx, newAssetID)
	if err != nil {
		return err
	}

	changed := false
	for i := range wf.Tasks {
		task := &wf.Tasks[i]
		if task.Type != models.TaskTypeSubWorkflow || task.SubWorkflowID == nil {
			continue
		}
		subID := *task.SubWorkflowID
		if mapped, ok := mapping[subID]; ok {
			task.SubWorkflowID = &mapped
			changed = true
			continue
		}
		if mapping.ContainsValue(subID) {
			continue // already remapped
		}
		return fmt.Errorf("%w: workflow %s references unmapped id %s", apperrors.ErrIntegrity, newAssetID, subID)
	}

	if !changed {
		return nil
	}
	return h.store.Update(ctx, wf)
}

// GetByID returns the live workflow for existence checks.
func (h *WorkflowHandler) GetByID(ctx context.Context, assetID uuid.UUID) (any, error) {
	return h.store.GetByID(ctx, assetID)
}

var _ Handler = (*WorkflowHandler)(nil)
