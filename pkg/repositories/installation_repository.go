package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/appforge-labs/marketplace-engine/pkg/apperrors"
	"github.com/appforge-labs/marketplace-engine/pkg/database"
	"github.com/appforge-labs/marketplace-engine/pkg/models"
)

// InstallationRepository defines data access for installations.
type InstallationRepository interface {
	// Create persists a new installation.
	Create(ctx context.Context, inst *models.Installation) error

	// GetByID returns the installation or apperrors.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Installation, error)

	// GetByTeamAndApp returns the team's installation of the app, or
	// apperrors.ErrNotFound.
	GetByTeamAndApp(ctx context.Context, teamID, appID uuid.UUID) (*models.Installation, error)

	// ListByTeam returns all of the team's installations, oldest first.
	ListByTeam(ctx context.Context, teamID uuid.UUID) ([]*models.Installation, error)

	// ListByApp returns every installation of the app across all teams.
	ListByApp(ctx context.Context, appID uuid.UUID) ([]*models.Installation, error)

	// FindByInstalledAsset returns the installation owning the given
	// tenant-local asset id, or apperrors.ErrNotFound.
	FindByInstalledAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (*models.Installation, error)

	// FlagUpdateAvailable marks every installation of the app that is not on
	// newVersionID and not already flagged. Returns the number flagged;
	// idempotent.
	FlagUpdateAvailable(ctx context.Context, appID, newVersionID uuid.UUID) (int64, error)

	// SetVersionPointer moves the installation to the given version and
	// clears the update flag. Asset ids are never touched.
	SetVersionPointer(ctx context.Context, id, versionID uuid.UUID) error

	// Delete removes a corrupt installation so repair can re-install.
	Delete(ctx context.Context, id uuid.UUID) error
}

type installationRepository struct {
	db *database.DB
}

// NewInstallationRepository creates a new installation repository.
func NewInstallationRepository(db *database.DB) InstallationRepository {
	return &installationRepository{db: db}
}

const installationColumns = `id, team_id, user_id, app_id, app_version_id, installed_asset_ids, is_update_available, created_at, updated_at`

func (r *installationRepository) Create(ctx context.Context, inst *models.Installation) error {
	assetIDsJSON, err := json.Marshal(inst.InstalledAssetIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal installed asset ids: %w", err)
	}

	query := `
		INSERT INTO installed_apps (` + installationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`

	_, err = r.db.QuerierFrom(ctx).Exec(ctx, query,
		inst.ID,
		inst.TeamID,
		inst.UserID,
		inst.AppID,
		inst.AppVersionID,
		assetIDsJSON,
		inst.UpdateAvailable,
	)
	if err != nil {
		return fmt.Errorf("failed to create installation: %w", err)
	}
	return nil
}

func (r *installationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Installation, error) {
	query := `SELECT ` + installationColumns + ` FROM installed_apps WHERE id = $1`

	inst, err := scanInstallation(r.db.QuerierFrom(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: installation %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get installation: %w", err)
	}
	return inst, nil
}

func (r *installationRepository) GetByTeamAndApp(ctx context.Context, teamID, appID uuid.UUID) (*models.Installation, error) {
	query := `
		SELECT ` + installationColumns + `
		FROM installed_apps
		WHERE team_id = $1 AND app_id = $2
		ORDER BY created_at DESC
		LIMIT 1`

	inst, err := scanInstallation(r.db.QuerierFrom(ctx).QueryRow(ctx, query, teamID, appID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no installation of app %s for team %s", apperrors.ErrNotFound, appID, teamID)
		}
		return nil, fmt.Errorf("failed to get installation: %w", err)
	}
	return inst, nil
}

func (r *installationRepository) ListByTeam(ctx context.Context, teamID uuid.UUID) ([]*models.Installation, error) {
	query := `
		SELECT ` + installationColumns + `
		FROM installed_apps
		WHERE team_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.QuerierFrom(ctx).Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list installations: %w", err)
	}
	defer rows.Close()

	return collectInstallations(rows)
}

func (r *installationRepository) ListByApp(ctx context.Context, appID uuid.UUID) ([]*models.Installation, error) {
	query := `
		SELECT ` + installationColumns + `
		FROM installed_apps
		WHERE app_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.QuerierFrom(ctx).Query(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to list app installations: %w", err)
	}
	defer rows.Close()

	return collectInstallations(rows)
}

func (r *installationRepository) FindByInstalledAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (*models.Installation, error) {
	// installed_asset_ids->type is a jsonb array of id strings; ? tests
	// membership.
	query := `
		SELECT ` + installationColumns + `
		FROM installed_apps
		WHERE installed_asset_ids->$2 ? $1
		ORDER BY created_at DESC
		LIMIT 1`

	inst, err := scanInstallation(r.db.QuerierFrom(ctx).QueryRow(ctx, query, assetID.String(), string(assetType)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no installation owns %s %s", apperrors.ErrNotFound, assetType, assetID)
		}
		return nil, fmt.Errorf("failed to find installation by asset: %w", err)
	}
	return inst, nil
}

func (r *installationRepository) FlagUpdateAvailable(ctx context.Context, appID, newVersionID uuid.UUID) (int64, error) {
	query := `
		UPDATE installed_apps
		SET is_update_available = TRUE, updated_at = now()
		WHERE app_id = $1 AND app_version_id <> $2 AND is_update_available = FALSE`

	tag, err := r.db.QuerierFrom(ctx).Exec(ctx, query, appID, newVersionID)
	if err != nil {
		return 0, fmt.Errorf("failed to flag installations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *installationRepository) SetVersionPointer(ctx context.Context, id, versionID uuid.UUID) error {
	query := `
		UPDATE installed_apps
		SET app_version_id = $2, is_update_available = FALSE, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.QuerierFrom(ctx).Exec(ctx, query, id, versionID)
	if err != nil {
		return fmt.Errorf("failed to move installation version pointer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: installation %s", apperrors.ErrNotFound, id)
	}
	return nil
}

func (r *installationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.QuerierFrom(ctx).Exec(ctx, `DELETE FROM installed_apps WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete installation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: installation %s", apperrors.ErrNotFound, id)
	}
	return nil
}

func scanInstallation(row pgx.Row) (*models.Installation, error) {
	var inst models.Installation
	var assetIDsJSON []byte

	err := row.Scan(
		&inst.ID,
		&inst.TeamID,
		&inst.UserID,
		&inst.AppID,
		&inst.AppVersionID,
		&assetIDsJSON,
		&inst.UpdateAvailable,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(assetIDsJSON, &inst.InstalledAssetIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal installed asset ids: %w", err)
	}
	return &inst, nil
}

func collectInstallations(rows pgx.Rows) ([]*models.Installation, error) {
	var installations []*models.Installation
	for rows.Next() {
		inst, err := scanInstallation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installation: %w", err)
		}
		installations = append(installations, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating installations: %w", err)
	}
	return installations, nil
}

var _ InstallationRepository = (*installationRepository)(nil)
