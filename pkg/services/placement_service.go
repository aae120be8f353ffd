package services

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/appforge-labs/marketplace-engine/pkg/models"
	"github.com/appforge-labs/marketplace-engine/pkg/repositories"
)

// PresetPlacement is one surfaced entry point of a preset installation: the
// first installed workflow of the app. Upgrades keep that id stable, so
// placement records referencing it stay valid across versions.
type PresetPlacement struct {
	AppID          uuid.UUID `json:"app_id"`
	AppName        string    `json:"app_name"`
	InstallationID uuid.UUID `json:"installation_id"`
	WorkflowID     uuid.UUID `json:"workflow_id"`
}

// PlacementService decides display ordering of preset installations. It is a
// read-only consumer of installed asset ids.
type PlacementService interface {
	// ListPresetPlacements returns the team's preset entry points in a
	// deterministic order: app name, then installation age.
	ListPresetPlacements(ctx context.Context, teamID uuid.UUID) ([]PresetPlacement, error)
}

type placementService struct {
	apps     repositories.ApplicationRepository
	installs repositories.InstallationRepository
	logger   *zap.Logger
}

// NewPlacementService creates a new placement service.
func NewPlacementService(
	apps repositories.ApplicationRepository,
	installs repositories.InstallationRepository,
	logger *zap.Logger,
) PlacementService {
	return &placementService{apps: apps, installs: installs, logger: logger}
}

func (s *placementService) ListPresetPlacements(ctx context.Context, teamID uuid.UUID) ([]PresetPlacement, error) {
	presets, err := s.apps.ListPresets(ctx)
	if err != nil {
		return nil, err
	}
	presetByID := make(map[uuid.UUID]*models.Application, len(presets))
	for _, app := range presets {
		presetByID[app.ID] = app
	}

	installations, err := s.installs.ListByTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	var placements []PresetPlacement
	for _, inst := range installations {
		app, ok := presetByID[inst.AppID]
		if !ok {
			continue
		}
		workflows := inst.InstalledAssetIDs[models.AssetTypeWorkflow]
		if len(workflows) == 0 {
			s.logger.Warn("Preset installation has no workflow to place",
				zap.String("installation_id", inst.ID.String()),
				zap.String("app_id", inst.AppID.String()))
			continue
		}
		placements = append(placements, PresetPlacement{
			AppID:          app.ID,
			AppName:        app.Name,
			InstallationID: inst.ID,
			WorkflowID:     workflows[0],
		})
	}

	sort.SliceStable(placements, func(i, j int) bool {
		return placements[i].AppName < placements[j].AppName
	})
	return placements, nil
}

var _ PlacementService = (*placementService)(nil)
