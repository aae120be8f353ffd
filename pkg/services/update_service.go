package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/appforge-labs/marketplace-engine/pkg/assets"
	"github.com/appforge-labs/marketplace-engine/pkg/database"
	"github.com/appforge-labs/marketplace-engine/pkg/events"
	"github.com/appforge-labs/marketplace-engine/pkg/models"
	"github.com/appforge-labs/marketplace-engine/pkg/repositories"
)

// UpdateService propagates newly approved versions to existing installations:
// flagging them as stale, and on demand re-applying the newer snapshot onto
// the same tenant-local asset identities.
type UpdateService interface {
	// FlagOutdated marks every installation of the application not already on
	// newVersionID. Idempotent; returns the number newly flagged.
	FlagOutdated(ctx context.Context, appID, newVersionID uuid.UUID) (int64, error)

	// HandleVersionApproved is the bus consumer for version approvals.
	HandleVersionApproved(ctx context.Context, payload any) error

	// Upgrade re-applies the application's latest snapshot onto the
	// installation's existing asset ids. Identity is preserved: the set of
	// installed asset ids never changes. Per-asset failures and per-type
	// shape mismatches are logged and skipped; the version pointer moves and
	// the stale flag clears only if the pointer update itself succeeds.
	Upgrade(ctx context.Context, installationID uuid.UUID) (*models.Installation, error)

	// UpgradeAll upgrades every installation of the application sequentially,
	// collecting per-installation failures.
	UpgradeAll(ctx context.Context, appID uuid.UUID) ([]*models.Installation, []FailedInstallation, error)
}

type updateService struct {
	versions repositories.VersionRepository
	installs repositories.InstallationRepository
	registry *assets.Registry
	tx       database.TxRunner
	logger   *zap.Logger
}

// NewUpdateService creates a new update service.
func NewUpdateService(
	versions repositories.VersionRepository,
	installs repositories.InstallationRepository,
	registry *assets.Registry,
	tx database.TxRunner,
	logger *zap.Logger,
) UpdateService {
	return &updateService{
		versions: versions,
		installs: installs,
		registry: registry,
		tx:       tx,
		logger:   logger,
	}
}

func (s *updateService) FlagOutdated(ctx context.Context, appID, newVersionID uuid.UUID) (int64, error) {
	flagged, err := s.installs.FlagUpdateAvailable(ctx, appID, newVersionID)
	if err != nil {
		return 0, err
	}
	if flagged > 0 {
		s.logger.Info("Installations flagged for update",
			zap.String("app_id", appID.String()),
			zap.String("new_version_id", newVersionID.String()),
			zap.Int64("flagged", flagged))
	}
	return flagged, nil
}

func (s *updateService) HandleVersionApproved(ctx context.Context, payload any) error {
	approved, ok := payload.(events.VersionApproved)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", payload)
	}
	_, err := s.FlagOutdated(ctx, approved.AppID, approved.NewVersionID)
	return err
}

func (s *updateService) Upgrade(ctx context.Context, installationID uuid.UUID) (*models.Installation, error) {
	inst, err := s.installs.GetByID(ctx, installationID)
	if err != nil {
		return nil, err
	}

	latest, err := s.versions.GetLatestByApp(ctx, inst.AppID)
	if err != nil {
		return nil, err
	}
	if latest.ID == inst.AppVersionID && !inst.UpdateAvailable {
		return inst, nil
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.applySnapshot(ctx, inst, latest.AssetSnapshot); err != nil {
			return err
		}
		return s.installs.SetVersionPointer(ctx, inst.ID, latest.ID)
	})
	if err != nil {
		return nil, err
	}

	inst.AppVersionID = latest.ID
	inst.UpdateAvailable = false

	s.logger.Info("Installation upgraded",
		zap.String("installation_id", inst.ID.String()),
		zap.String("app_id", inst.AppID.String()),
		zap.String("version_id", latest.ID.String()))
	return inst, nil
}

// applySnapshot overwrites installed asset content with the new snapshot,
// positionally aligned, then remaps embedded references back onto the
// tenant-local ids. Best-effort within each type: a shape mismatch skips the
// type, a failing asset skips that asset.
func (s *updateService) applySnapshot(ctx context.Context, inst *models.Installation, snapshot models.AssetSnapshot) error {
	// The snapshot keys its content by original author-side ids; the
	// installation holds the positionally aligned tenant-local ids. Their
	// pairing is the remap table for this upgrade.
	mapping := make(assets.IDMapping)
	aligned := make(map[models.AssetType]bool, len(snapshot))
	for assetType, docs := range snapshot {
		existing := inst.InstalledAssetIDs[assetType]
		if len(existing) != len(docs) {
			s.logger.Warn("Snapshot shape mismatch, skipping asset type",
				zap.String("installation_id", inst.ID.String()),
				zap.String("asset_type", string(assetType)),
				zap.Int("snapshot_count", len(docs)),
				zap.Int("installed_count", len(existing)))
			continue
		}
		aligned[assetType] = true
		for i, doc := range docs {
			mapping[doc.OriginalID] = existing[i]
		}
	}

	for _, assetType := range snapshotOrder(s.registry, snapshot) {
		if !aligned[assetType] {
			continue
		}
		handler, err := s.registry.Get(assetType)
		if err != nil {
			return err
		}
		existing := inst.InstalledAssetIDs[assetType]
		for i, doc := range snapshot[assetType] {
			if _, err := handler.UpdateFromSnapshot(ctx, doc, inst.TeamID, inst.UserID, existing[i]); err != nil {
				s.logger.Error("Asset update failed, skipping",
					zap.String("installation_id", inst.ID.String()),
					zap.String("asset_type", string(assetType)),
					zap.String("asset_id", existing[i].String()),
					zap.Error(err))
				continue
			}
			if err := handler.RemapDependencies(ctx, existing[i], mapping); err != nil {
				s.logger.Error("Asset remap failed after update",
					zap.String("installation_id", inst.ID.String()),
					zap.String("asset_type", string(assetType)),
					zap.String("asset_id", existing[i].String()),
					zap.Error(err))
			}
		}
	}
	return nil
}

func (s *updateService) UpgradeAll(ctx context.Context, appID uuid.UUID) ([]*models.Installation, []FailedInstallation, error) {
	installations, err := s.installs.ListByApp(ctx, appID)
	if err != nil {
		return nil, nil, err
	}

	var upgraded []*models.Installation
	var failed []FailedInstallation
	for _, inst := range installations {
		result, err := s.Upgrade(ctx, inst.ID)
		if err != nil {
			s.logger.Error("Installation upgrade failed",
				zap.String("installation_id", inst.ID.String()),
				zap.String("team_id", inst.TeamID.String()),
				zap.Error(err))
			failed = append(failed, FailedInstallation{
				TeamID:         inst.TeamID,
				InstallationID: inst.ID,
				Reason:         err.Error(),
			})
			continue
		}
		upgraded = append(upgraded, result)
	}
	return upgraded, failed, nil
}

var _ UpdateService = (*updateService)(nil)
