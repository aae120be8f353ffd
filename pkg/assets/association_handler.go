package assets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/appforge-labs/marketplace-engine/pkg/apperrors"
	"github.com/appforge-labs/marketplace-engine/pkg/models"
)

// AssociationStore is the slice of the association domain the handler needs.
type AssociationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.WorkflowAssociation, error)
	Create(ctx context.Context, assoc *models.WorkflowAssociation) error
	Update(ctx context.Context, assoc *models.WorkflowAssociation) error
}

// AssociationSnapshotContent is the portable payload of one association
// snapshot. Both endpoints stay as original workflow ids and are rewritten
// at install time.
type AssociationSnapshotContent struct {
	DisplayName      string    `json:"display_name"`
	OriginWorkflowID uuid.UUID `json:"origin_workflow_id"`
	TargetWorkflowID uuid.UUID `json:"target_workflow_id"`
	Enabled          bool      `json:"enabled"`
}

// AssociationHandler implements the capability contract for
// workflow-association assets. Associations are pure edges: both endpoints
// must be workflows packaged in the same batch.
type AssociationHandler struct {
	store  AssociationStore
	logger *zap.Logger
}

// NewAssociationHandler creates the workflow-association asset handler.
func NewAssociationHandler(store AssociationStore, logger *zap.Logger) *AssociationHandler {
	return &AssociationHandler{store: store, logger: logger}
}

// Type returns the asset type tag this handler serves.
func (h *AssociationHandler) Type() models.AssetType {
	return models.AssetTypeWorkflowAssociation
}

// GetSnapshot captures the association. Both endpoint workflows must be part
// of the same package batch; an association pointing outside the batch is
// unresolvable.
func (h *AssociationHandler) GetSnapshot(ctx context.Context, assetID uuid.UUID, version int, siblings []models.SourceAssetReference) (models.SnapshotDocument, error) {
	assoc, err := h.store.GetByID(ctx, assetID)
	if err != nil {
		return models.SnapshotDocument{}, err
	}

	siblingIDs := make(map[uuid.UUID]bool, len(siblings))
	for _, ref := range siblings {
		if ref.AssetType == models.AssetTypeWorkflow {
			siblingIDs[ref.AssetID] = true
		}
	}
	for _, endpoint := range []uuid.UUID{assoc.OriginWorkflowID, assoc.TargetWorkflowID} {
		if !siblingIDs[endpoint] {
			return models.SnapshotDocument{}, fmt.Errorf(
				"%w: association %s references workflow %s which is not packaged alongside it",
				apperrors.ErrNotFound, assetID, endpoint)
		}
	}

	content, err := json.Marshal(AssociationSnapshotContent{
		DisplayName:      assoc.DisplayName,
		OriginWorkflowID: assoc.OriginWorkflowID,
		TargetWorkflowID: assoc.TargetWorkflowID,
		Enabled:          assoc.Enabled,
	})
	if err != nil {
		return models.SnapshotDocument{}, fmt.Errorf("failed to marshal association snapshot: %w", err)
	}

	return models.SnapshotDocument{OriginalID: assoc.ID, Content: content}, nil
}

// CloneFromSnapshot creates a new team-owned association still pointing at
// original workflow ids; RemapDependencies rewrites the endpoints.
func (h *AssociationHandler) CloneFromSnapshot(ctx context.Context, doc models.SnapshotDocument, teamID, userID uuid.UUID) (CloneResult, error) {
	var content AssociationSnapshotContent
	if err := json.Unmarshal(doc.Content, &content); err != nil {
		return CloneResult{}, fmt.Errorf("%w: malformed association snapshot: %v", apperrors.ErrIntegrity, err)
	}

	assoc := &models.WorkflowAssociation{
		ID:               uuid.New(),
		TeamID:           teamID,
		CreatorUserID:    userID,
		DisplayName:      content.DisplayName,
		OriginWorkflowID: content.OriginWorkflowID,
		TargetWorkflowID: content.TargetWorkflowID,
		Enabled:          content.Enabled,
	}
	if err := h.store.Create(ctx, assoc); err != nil {
		return CloneResult{}, fmt.Errorf("failed to clone association %s: %w", doc.OriginalID, err)
	}

	return CloneResult{OriginalID: doc.OriginalID, NewID: assoc.ID}, nil
}

// UpdateFromSnapshot overwrites an installed association's content. Endpoint
// ids are deliberately not touched here: upgrades never change the set of
// tenant-local asset identities, and the existing endpoints already point at
// the team's own workflows.
func (h *AssociationHandler) UpdateFromSnapshot(ctx context.Context, doc models.SnapshotDocument, teamID, userID, existingAssetID uuid.UUID) (uuid.UUID, error) {
	var content AssociationSnapshotContent
	if err := json.Unmarshal(doc.Content, &content); err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed association snapshot: %v", apperrors.ErrIntegrity, err)
	}

	assoc, err := h.store.GetByID(ctx, existingAssetID)
	if err != nil {
		return uuid.Nil, err
	}

	assoc.DisplayName = content.DisplayName
	assoc.Enabled = content.Enabled
	if err := h.store.Update(ctx, assoc); err != nil {
		return uuid.Nil, fmt.Errorf("failed to update association %s: %w", existingAssetID, err)
	}

	return doc.OriginalID, nil
}

// RemapDependencies rewrites both endpoint workflow ids through the mapping.
func (h *AssociationHandler) RemapDependencies(ctx context.Context, newAssetID uuid.UUID, mapping IDMapping) error {
	assoc, err := h.store.GetByID(ctx, newAssetID)
	if err != nil {
		return err
	}

	changed := false
	for _, endpoint := range []*uuid.UUID{&assoc.OriginWorkflowID, &assoc.TargetWorkflowID} {
		if mapped, ok := mapping[*endpoint]; ok {
			*endpoint = mapped
			changed = true
			continue
		}
		if mapping.ContainsValue(*endpoint) {
			continue // already remapped
		}
		return fmt.Errorf("%w: association %s references unmapped id %s", apperrors.ErrIntegrity, newAssetID, *endpoint)
	}

	if !changed {
		return nil
	}
	return h.store.Update(ctx, assoc)
}

// GetByID returns the live association for existence checks.
func (h *AssociationHandler) GetByID(ctx context.Context, assetID uuid.UUID) (any, error) {
	return h.store.GetByID(ctx, assetID)
}

var _ Handler = (*AssociationHandler)(nil)
