package assets

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/appforge-labs/marketplace-engine/pkg/apperrors"
	"github.com/appforge-labs/marketplace-engine/pkg/models"
)

func TestSnapshotBuilder_GroupsByTypePreservingOrder(t *testing.T) {
	workflows := newMemWorkflowStore()
	associations := newMemAssociationStore()
	registry := NewRegistry(
		NewWorkflowHandler(workflows, &memPublishedLookup{}, zap.NewNop()),
		NewAssociationHandler(associations, zap.NewNop()),
	)
	builder := NewSnapshotBuilder(registry)

	wf1, wf2 := uuid.New(), uuid.New()
	require.NoError(t, workflows.Create(context.Background(), &models.Workflow{ID: wf1, Version: 1}))
	require.NoError(t, workflows.Create(context.Background(), &models.Workflow{ID: wf2, Version: 1}))
	assocID := seedAssociation(t, associations, wf1, wf2)

	snapshot, err := builder.Build(context.Background(), []models.SourceAssetReference{
		{AssetType: models.AssetTypeWorkflow, AssetID: wf1, Version: 1},
		{AssetType: models.AssetTypeWorkflowAssociation, AssetID: assocID, Version: 1},
		{AssetType: models.AssetTypeWorkflow, AssetID: wf2, Version: 1},
	})
	require.NoError(t, err)

	require.Len(t, snapshot[models.AssetTypeWorkflow], 2)
	assert.Equal(t, wf1, snapshot[models.AssetTypeWorkflow][0].OriginalID)
	assert.Equal(t, wf2, snapshot[models.AssetTypeWorkflow][1].OriginalID)
	require.Len(t, snapshot[models.AssetTypeWorkflowAssociation], 1)
	assert.Equal(t, assocID, snapshot[models.AssetTypeWorkflowAssociation][0].OriginalID)
}

func TestSnapshotBuilder_UnknownTypeFails(t *testing.T) {
	builder := NewSnapshotBuilder(NewRegistry())

	_, err := builder.Build(context.Background(), []models.SourceAssetReference{
		{AssetType: "design-board", AssetID: uuid.New(), Version: 1},
	})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedAssetType)
}

func TestSnapshotBuilder_AnyFailureAbortsBuild(t *testing.T) {
	workflows := newMemWorkflowStore()
	registry := NewRegistry(NewWorkflowHandler(workflows, &memPublishedLookup{}, zap.NewNop()))
	builder := NewSnapshotBuilder(registry)

	existing := uuid.New()
	require.NoError(t, workflows.Create(context.Background(), &models.Workflow{ID: existing, Version: 1}))

	_, err := builder.Build(context.Background(), []models.SourceAssetReference{
		{AssetType: models.AssetTypeWorkflow, AssetID: existing, Version: 1},
		{AssetType: models.AssetTypeWorkflow, AssetID: uuid.New(), Version: 1},
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
