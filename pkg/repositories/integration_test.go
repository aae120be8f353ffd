//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge-labs/marketplace-engine/pkg/apperrors"
	"github.com/appforge-labs/marketplace-engine/pkg/models"
	"github.com/appforge-labs/marketplace-engine/pkg/testhelpers"
)

func seedApp(t *testing.T, apps ApplicationRepository, status models.AppStatus) *models.Application {
	t.Helper()
	app := &models.Application{
		ID:           uuid.New(),
		Name:         "app-" + uuid.NewString()[:8],
		AssetType:    models.AssetTypeWorkflow,
		Categories:   []string{"assistants"},
		Status:       status,
		AuthorTeamID: uuid.New(),
	}
	require.NoError(t, apps.Create(context.Background(), app))
	return app
}

func seedVersion(t *testing.T, versions VersionRepository, appID uuid.UUID) *models.AppVersion {
	t.Helper()
	version := &models.AppVersion{
		ID:      uuid.New(),
		AppID:   appID,
		Version: "1.0.0",
		Status:  models.VersionStatusActive,
		AssetSnapshot: models.AssetSnapshot{
			models.AssetTypeWorkflow: {
				{OriginalID: uuid.New(), Content: []byte(`{"display_name":"wf"}`)},
			},
		},
		SourceAssetReferences: []models.SourceAssetReference{
			{AssetType: models.AssetTypeWorkflow, AssetID: uuid.New(), Version: 1},
		},
	}
	require.NoError(t, versions.Create(context.Background(), version))
	return version
}

func TestApplicationRepository_RoundTrip(t *testing.T) {
	db := testhelpers.GetTestDB(t).DB
	apps := NewApplicationRepository(db)
	ctx := context.Background()

	app := seedApp(t, apps, models.AppStatusPendingApproval)

	got, err := apps.GetByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, app.Name, got.Name)
	assert.Equal(t, []string{"assistants"}, got.Categories)

	got, err = apps.GetActiveByAuthorAndName(ctx, app.AuthorTeamID, app.Name)
	require.NoError(t, err)
	assert.Equal(t, app.ID, got.ID)

	_, err = apps.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, apps.UpdateStatus(ctx, app.ID, models.AppStatusApproved))
	require.NoError(t, apps.IncrementInstalls(ctx, app.ID))
	require.NoError(t, apps.IncrementInstalls(ctx, app.ID))

	got, err = apps.GetByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AppStatusApproved, got.Status)
	assert.Equal(t, int64(2), got.TotalInstalls)
}

func TestApplicationRepository_ArchivedFreesName(t *testing.T) {
	db := testhelpers.GetTestDB(t).DB
	apps := NewApplicationRepository(db)
	ctx := context.Background()

	app := seedApp(t, apps, models.AppStatusApproved)
	require.NoError(t, apps.UpdateStatus(ctx, app.ID, models.AppStatusArchived))

	// The partial unique index only guards live applications.
	successor := &models.Application{
		ID:           uuid.New(),
		Name:         app.Name,
		AssetType:    models.AssetTypeWorkflow,
		Status:       models.AppStatusPendingApproval,
		AuthorTeamID: app.AuthorTeamID,
	}
	require.NoError(t, apps.Create(ctx, successor))

	got, err := apps.GetActiveByAuthorAndName(ctx, app.AuthorTeamID, app.Name)
	require.NoError(t, err)
	assert.Equal(t, successor.ID, got.ID)
}

func TestVersionRepository_LatestAndDeprecation(t *testing.T) {
	db := testhelpers.GetTestDB(t).DB
	apps := NewApplicationRepository(db)
	versions := NewVersionRepository(db)
	ctx := context.Background()

	app := seedApp(t, apps, models.AppStatusApproved)
	v1 := seedVersion(t, versions, app.ID)
	time.Sleep(5 * time.Millisecond) // distinct created_at
	v2 := seedVersion(t, versions, app.ID)

	latest, err := versions.GetLatestByApp(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, latest.ID)

	require.NoError(t, versions.DeprecateOthers(ctx, app.ID, v2.ID))
	old, err := versions.GetByID(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusDeprecated, old.Status)
	kept, err := versions.GetByID(ctx, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusActive, kept.Status)
}

func TestVersionRepository_SourceAssetLookup(t *testing.T) {
	db := testhelpers.GetTestDB(t).DB
	apps := NewApplicationRepository(db)
	versions := NewVersionRepository(db)
	ctx := context.Background()

	app := seedApp(t, apps, models.AppStatusApproved)
	version := seedVersion(t, versions, app.ID)
	sourceRef := version.SourceAssetReferences[0]

	foundApp, err := versions.FindAppBySourceAsset(ctx, sourceRef.AssetID, sourceRef.AssetType)
	require.NoError(t, err)
	assert.Equal(t, app.ID, foundApp)

	found, err := versions.GetBySourceAsset(ctx, sourceRef.AssetID, sourceRef.AssetType)
	require.NoError(t, err)
	assert.Equal(t, version.ID, found.ID)

	_, err = versions.FindAppBySourceAsset(ctx, uuid.New(), models.AssetTypeWorkflow)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestInstallationRepository_RoundTrip(t *testing.T) {
	db := testhelpers.GetTestDB(t).DB
	apps := NewApplicationRepository(db)
	versions := NewVersionRepository(db)
	installs := NewInstallationRepository(db)
	ctx := context.Background()

	app := seedApp(t, apps, models.AppStatusApproved)
	v1 := seedVersion(t, versions, app.ID)
	v2 := seedVersion(t, versions, app.ID)

	installedWf := uuid.New()
	inst := &models.Installation{
		ID:           uuid.New(),
		TeamID:       uuid.New(),
		UserID:       uuid.New(),
		AppID:        app.ID,
		AppVersionID: v1.ID,
		InstalledAssetIDs: models.InstalledAssetIDs{
			models.AssetTypeWorkflow: {installedWf},
		},
	}
	require.NoError(t, installs.Create(ctx, inst))

	got, err := installs.GetByTeamAndApp(ctx, inst.TeamID, app.ID)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, got.ID)

	byAsset, err := installs.FindByInstalledAsset(ctx, installedWf, models.AssetTypeWorkflow)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, byAsset.ID)

	flagged, err := installs.FlagUpdateAvailable(ctx, app.ID, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), flagged)

	flagged, err = installs.FlagUpdateAvailable(ctx, app.ID, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), flagged, "flagging is idempotent")

	require.NoError(t, installs.SetVersionPointer(ctx, inst.ID, v2.ID))
	got, err = installs.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, got.AppVersionID)
	assert.False(t, got.UpdateAvailable)
	assert.Equal(t, inst.InstalledAssetIDs, got.InstalledAssetIDs,
		"pointer moves must not touch asset ids")

	require.NoError(t, installs.Delete(ctx, inst.ID))
	_, err = installs.GetByID(ctx, inst.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db := testhelpers.GetTestDB(t).DB
	apps := NewApplicationRepository(db)
	ctx := context.Background()

	appID := uuid.New()
	err := db.WithTx(ctx, func(txCtx context.Context) error {
		if err := apps.Create(txCtx, &models.Application{
			ID:           appID,
			Name:         "rollback-" + uuid.NewString()[:8],
			AssetType:    models.AssetTypeWorkflow,
			Status:       models.AppStatusPendingApproval,
			AuthorTeamID: uuid.New(),
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = apps.GetByID(ctx, appID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound,
		"failed transaction must leave no trace")
}

func TestWorkflowRepository_ForkStamp(t *testing.T) {
	db := testhelpers.GetTestDB(t).DB
	workflows := NewWorkflowRepository(db)
	ctx := context.Background()

	wf := &models.Workflow{
		ID:            uuid.New(),
		TeamID:        uuid.New(),
		CreatorUserID: uuid.New(),
		DisplayName:   "orchestrator",
		Version:       1,
		Tasks:         []models.WorkflowTask{{Name: "step", Type: "HTTP"}},
	}
	require.NoError(t, workflows.Create(ctx, wf))

	versionID := uuid.New()
	require.NoError(t, workflows.SetForkFrom(ctx, wf.ID, versionID))

	got, err := workflows.GetByID(ctx, wf.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ForkFromID)
	assert.Equal(t, versionID, *got.ForkFromID)
}
