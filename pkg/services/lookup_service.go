package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/appforge-labs/marketplace-engine/pkg/models"
	"github.com/appforge-labs/marketplace-engine/pkg/repositories"
)

// LookupService answers reverse questions other modules ask about
// marketplace-managed assets: which installation owns a tenant-local asset,
// and which published version a live asset was packaged under. Permission
// checks on forked workflows resolve through these.
type LookupService interface {
	// GetInstallationByAssetID returns the installation holding the given
	// tenant-local asset id, or apperrors.ErrNotFound.
	GetInstallationByAssetID(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (*models.Installation, error)

	// GetVersionBySourceAsset returns the newest version that packaged the
	// given live asset, or apperrors.ErrNotFound.
	GetVersionBySourceAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (*models.AppVersion, error)

	// GetVersionByID returns the version, or apperrors.ErrNotFound.
	GetVersionByID(ctx context.Context, versionID uuid.UUID) (*models.AppVersion, error)

	// ListInstallations returns the team's installations, oldest first.
	ListInstallations(ctx context.Context, teamID uuid.UUID) ([]*models.Installation, error)
}

type lookupService struct {
	versions repositories.VersionRepository
	installs repositories.InstallationRepository
}

// NewLookupService creates a new lookup service.
func NewLookupService(
	versions repositories.VersionRepository,
	installs repositories.InstallationRepository,
) LookupService {
	return &lookupService{versions: versions, installs: installs}
}

func (s *lookupService) GetInstallationByAssetID(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (*models.Installation, error) {
	return s.installs.FindByInstalledAsset(ctx, assetID, assetType)
}

func (s *lookupService) GetVersionBySourceAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (*models.AppVersion, error) {
	return s.versions.GetBySourceAsset(ctx, assetID, assetType)
}

func (s *lookupService) GetVersionByID(ctx context.Context, versionID uuid.UUID) (*models.AppVersion, error) {
	return s.versions.GetByID(ctx, versionID)
}

func (s *lookupService) ListInstallations(ctx context.Context, teamID uuid.UUID) ([]*models.Installation, error) {
	return s.installs.ListByTeam(ctx, teamID)
}

var _ LookupService = (*lookupService)(nil)
