package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/appforge-labs/marketplace-engine/pkg/apperrors"
	"github.com/appforge-labs/marketplace-engine/pkg/assets"
	"github.com/appforge-labs/marketplace-engine/pkg/database"
	"github.com/appforge-labs/marketplace-engine/pkg/events"
	"github.com/appforge-labs/marketplace-engine/pkg/models"
	"github.com/appforge-labs/marketplace-engine/pkg/repositories"
)

// FailedInstallation records one tenant's failure during a batch install or
// upgrade. Batches never abort on a single tenant.
type FailedInstallation struct {
	TeamID         uuid.UUID `json:"team_id"`
	InstallationID uuid.UUID `json:"installation_id,omitempty"`
	Reason         string    `json:"reason"`
}

// Upgrader is the slice of the update propagator the install engine needs
// for the idempotent repair path: a healthy existing installation is upgraded
// rather than re-cloned.
type Upgrader interface {
	Upgrade(ctx context.Context, installationID uuid.UUID) (*models.Installation, error)
}

// InstallService materializes approved application versions into tenant data
// spaces via the two-phase clone-then-remap algorithm.
type InstallService interface {
	// Install clones the version's snapshot into the team's space, remaps
	// cross-references, records the installation, and bumps the install
	// counter, all in one transaction. A reference that cannot be remapped
	// rolls the whole install back with apperrors.ErrIntegrity.
	Install(ctx context.Context, versionID, teamID, userID uuid.UUID) (*models.Installation, error)

	// EnsureInstalled is the idempotent repair path: a missing installation is
	// freshly installed at the latest version, a corrupt one (recorded asset
	// vanished) is deleted and reinstalled, a healthy one is upgraded in
	// place. Repeated calls never duplicate tenant assets.
	EnsureInstalled(ctx context.Context, appID, teamID, userID uuid.UUID) (*models.Installation, error)

	// InstallPresetApps ensures every preset application is installed for the
	// team, ordered by asset-type preference then name. Per-app failures are
	// collected, not fatal.
	InstallPresetApps(ctx context.Context, teamID, userID uuid.UUID) ([]*models.Installation, []FailedInstallation)

	// InstallToAllTeams ensures the version's application is installed for
	// every team in the directory, one transaction per team. Per-team
	// failures are collected, not fatal.
	InstallToAllTeams(ctx context.Context, versionID, userID uuid.UUID) ([]*models.Installation, []FailedInstallation, error)
}

type installService struct {
	apps     repositories.ApplicationRepository
	versions repositories.VersionRepository
	installs repositories.InstallationRepository
	teams    repositories.TeamRepository
	registry *assets.Registry
	upgrader Upgrader
	tx       database.TxRunner
	bus      *events.Bus
	logger   *zap.Logger
}

// NewInstallService creates a new install service.
func NewInstallService(
	apps repositories.ApplicationRepository,
	versions repositories.VersionRepository,
	installs repositories.InstallationRepository,
	teams repositories.TeamRepository,
	registry *assets.Registry,
	upgrader Upgrader,
	tx database.TxRunner,
	bus *events.Bus,
	logger *zap.Logger,
) InstallService {
	return &installService{
		apps:     apps,
		versions: versions,
		installs: installs,
		teams:    teams,
		registry: registry,
		upgrader: upgrader,
		tx:       tx,
		bus:      bus,
		logger:   logger,
	}
}

func (s *installService) Install(ctx context.Context, versionID, teamID, userID uuid.UUID) (*models.Installation, error) {
	version, err := s.versions.GetByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.Status != models.VersionStatusActive {
		return nil, fmt.Errorf("%w: version %s is %s", apperrors.ErrValidation, versionID, version.Status)
	}
	if len(version.AssetSnapshot) == 0 {
		return nil, fmt.Errorf("%w: version %s has an empty snapshot", apperrors.ErrValidation, versionID)
	}

	app, err := s.apps.GetByID(ctx, version.AppID)
	if err != nil {
		return nil, err
	}
	if app.Status != models.AppStatusApproved {
		return nil, fmt.Errorf("%w: application %s is not approved", apperrors.ErrValidation, app.ID)
	}

	inst := &models.Installation{
		ID:           uuid.New(),
		TeamID:       teamID,
		UserID:       userID,
		AppID:        app.ID,
		AppVersionID: versionID,
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		installedIDs, mapping, err := s.cloneSnapshot(ctx, version.AssetSnapshot, teamID, userID)
		if err != nil {
			return err
		}
		if err := s.remapClones(ctx, installedIDs, mapping); err != nil {
			return err
		}

		inst.InstalledAssetIDs = installedIDs
		if err := s.installs.Create(ctx, inst); err != nil {
			return err
		}
		return s.apps.IncrementInstalls(ctx, app.ID)
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(events.TopicAppInstalled, events.AppInstalled{InstallationID: inst.ID, TeamID: teamID})

	s.logger.Info("Application installed",
		zap.String("installation_id", inst.ID.String()),
		zap.String("app_id", app.ID.String()),
		zap.String("version_id", versionID.String()),
		zap.String("team_id", teamID.String()))
	return inst, nil
}

// cloneSnapshot is phase one: materialize every snapshot document as a fresh
// team-owned asset, in topological type order, building the id mapping and
// the positionally aligned installed-id table.
func (s *installService) cloneSnapshot(ctx context.Context, snapshot models.AssetSnapshot, teamID, userID uuid.UUID) (models.InstalledAssetIDs, assets.IDMapping, error) {
	installedIDs := make(models.InstalledAssetIDs, len(snapshot))
	mapping := make(assets.IDMapping)

	for _, assetType := range snapshotOrder(s.registry, snapshot) {
		handler, err := s.registry.Get(assetType)
		if err != nil {
			return nil, nil, err
		}
		for _, doc := range snapshot[assetType] {
			result, err := handler.CloneFromSnapshot(ctx, doc, teamID, userID)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to clone %s %s: %w", assetType, doc.OriginalID, err)
			}
			mapping[result.OriginalID] = result.NewID
			installedIDs[assetType] = append(installedIDs[assetType], result.NewID)
		}
	}
	return installedIDs, mapping, nil
}

// remapClones is phase two: a separate pass once the mapping is complete, so
// an asset cloned early can reference an asset cloned late.
func (s *installService) remapClones(ctx context.Context, installedIDs models.InstalledAssetIDs, mapping assets.IDMapping) error {
	for _, assetType := range snapshotOrder(s.registry, installedIDs) {
		handler, err := s.registry.Get(assetType)
		if err != nil {
			return err
		}
		for _, newID := range installedIDs[assetType] {
			if err := handler.RemapDependencies(ctx, newID, mapping); err != nil {
				return fmt.Errorf("failed to remap %s %s: %w", assetType, newID, err)
			}
		}
	}
	return nil
}

// snapshotOrder returns the types present in the table, in registry install
// order, with unknown types appended so the registry lookup can reject them
// explicitly.
func snapshotOrder[V any](registry *assets.Registry, table map[models.AssetType]V) []models.AssetType {
	present := make(map[models.AssetType]bool, len(table))
	for t := range table {
		present[t] = true
	}

	var ordered []models.AssetType
	for _, t := range registry.InstallOrder() {
		if present[t] {
			ordered = append(ordered, t)
			delete(present, t)
		}
	}
	var unknown []models.AssetType
	for t := range present {
		unknown = append(unknown, t)
	}
	sort.Slice(unknown, func(i, j int) bool { return unknown[i] < unknown[j] })
	return append(ordered, unknown...)
}

func (s *installService) EnsureInstalled(ctx context.Context, appID, teamID, userID uuid.UUID) (*models.Installation, error) {
	existing, err := s.installs.GetByTeamAndApp(ctx, teamID, appID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return s.installLatest(ctx, appID, teamID, userID)
	}

	healthy, err := s.installationHealthy(ctx, existing)
	if err != nil {
		return nil, err
	}
	if !healthy {
		s.logger.Warn("Installation corrupt, reinstalling",
			zap.String("installation_id", existing.ID.String()),
			zap.String("team_id", teamID.String()))
		if err := s.installs.Delete(ctx, existing.ID); err != nil {
			return nil, err
		}
		return s.installLatest(ctx, appID, teamID, userID)
	}

	return s.upgrader.Upgrade(ctx, existing.ID)
}

func (s *installService) installLatest(ctx context.Context, appID, teamID, userID uuid.UUID) (*models.Installation, error) {
	latest, err := s.versions.GetLatestByApp(ctx, appID)
	if err != nil {
		return nil, err
	}
	return s.Install(ctx, latest.ID, teamID, userID)
}

// installationHealthy reports whether every recorded tenant-local asset id
// still resolves. A vanished asset marks the whole installation corrupt.
func (s *installService) installationHealthy(ctx context.Context, inst *models.Installation) (bool, error) {
	for assetType, ids := range inst.InstalledAssetIDs {
		handler, err := s.registry.Get(assetType)
		if err != nil {
			return false, err
		}
		for _, id := range ids {
			if _, err := handler.GetByID(ctx, id); err != nil {
				if errors.Is(err, apperrors.ErrNotFound) {
					return false, nil
				}
				return false, err
			}
		}
	}
	return true, nil
}

func (s *installService) InstallPresetApps(ctx context.Context, teamID, userID uuid.UUID) ([]*models.Installation, []FailedInstallation) {
	presets, err := s.apps.ListPresets(ctx)
	if err != nil {
		return nil, []FailedInstallation{{TeamID: teamID, Reason: err.Error()}}
	}
	s.sortByTypePreference(presets)

	var installed []*models.Installation
	var failed []FailedInstallation
	for _, app := range presets {
		inst, err := s.EnsureInstalled(ctx, app.ID, teamID, userID)
		if err != nil {
			s.logger.Error("Preset install failed",
				zap.String("app_id", app.ID.String()),
				zap.String("team_id", teamID.String()),
				zap.Error(err))
			failed = append(failed, FailedInstallation{TeamID: teamID, Reason: err.Error()})
			continue
		}
		installed = append(installed, inst)
	}
	return installed, failed
}

// sortByTypePreference orders preset apps so leaf asset types roll out before
// composites, ties broken by name for determinism.
func (s *installService) sortByTypePreference(apps []*models.Application) {
	order := s.registry.InstallOrder()
	rank := func(t models.AssetType) int {
		for i, o := range order {
			if o == t {
				return i
			}
		}
		return len(order)
	}
	sort.SliceStable(apps, func(i, j int) bool {
		ri, rj := rank(apps[i].AssetType), rank(apps[j].AssetType)
		if ri != rj {
			return ri < rj
		}
		return apps[i].Name < apps[j].Name
	})
}

func (s *installService) InstallToAllTeams(ctx context.Context, versionID, userID uuid.UUID) ([]*models.Installation, []FailedInstallation, error) {
	version, err := s.versions.GetByID(ctx, versionID)
	if err != nil {
		return nil, nil, err
	}
	teams, err := s.teams.List(ctx)
	if err != nil {
		return nil, nil, err
	}

	// One transaction per team; a failing tenant never blocks the rest.
	var installed []*models.Installation
	var failed []FailedInstallation
	for _, team := range teams {
		inst, err := s.EnsureInstalled(ctx, version.AppID, team.ID, userID)
		if err != nil {
			s.logger.Error("Tenant install failed",
				zap.String("team_id", team.ID.String()),
				zap.String("version_id", versionID.String()),
				zap.Error(err))
			failed = append(failed, FailedInstallation{TeamID: team.ID, Reason: err.Error()})
			continue
		}
		installed = append(installed, inst)
	}
	return installed, failed, nil
}

var _ InstallService = (*installService)(nil)
