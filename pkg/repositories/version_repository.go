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

// VersionRepository defines data access for app versions. Version rows are
// immutable after creation except for the ACTIVE/DEPRECATED status flip.
type VersionRepository interface {
	// Create persists a new version.
	Create(ctx context.Context, version *models.AppVersion) error

	// GetByID returns the version or apperrors.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*models.AppVersion, error)

	// GetLatestByApp returns the app's newest version. "Latest" is greatest
	// created_at, tie-broken by id, so concurrent approvals resolve
	// deterministically.
	GetLatestByApp(ctx context.Context, appID uuid.UUID) (*models.AppVersion, error)

	// ListByApp returns all versions of the app, newest first.
	ListByApp(ctx context.Context, appID uuid.UUID) ([]*models.AppVersion, error)

	// DeprecateOthers marks every version of the app except keepID as
	// DEPRECATED.
	DeprecateOthers(ctx context.Context, appID, keepID uuid.UUID) error

	// FindAppBySourceAsset returns the id of the approved application whose
	// newest version packaged the given live asset, or apperrors.ErrNotFound.
	FindAppBySourceAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (uuid.UUID, error)

	// GetBySourceAsset returns the newest version that packaged the given
	// live asset, or apperrors.ErrNotFound.
	GetBySourceAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (*models.AppVersion, error)
}

type versionRepository struct {
	db *database.DB
}

// NewVersionRepository creates a new version repository.
func NewVersionRepository(db *database.DB) VersionRepository {
	return &versionRepository{db: db}
}

const versionColumns = `id, app_id, version, release_notes, asset_snapshot, source_asset_references, status, created_at`

func (r *versionRepository) Create(ctx context.Context, version *models.AppVersion) error {
	snapshotJSON, err := json.Marshal(version.AssetSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal asset snapshot: %w", err)
	}
	refsJSON, err := json.Marshal(version.SourceAssetReferences)
	if err != nil {
		return fmt.Errorf("failed to marshal source asset references: %w", err)
	}

	query := `
		INSERT INTO marketplace_app_versions (` + versionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`

	_, err = r.db.QuerierFrom(ctx).Exec(ctx, query,
		version.ID,
		version.AppID,
		version.Version,
		version.ReleaseNotes,
		snapshotJSON,
		refsJSON,
		version.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create version: %w", err)
	}
	return nil
}

func (r *versionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AppVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM marketplace_app_versions WHERE id = $1`

	version, err := scanVersion(r.db.QuerierFrom(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: version %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return version, nil
}

func (r *versionRepository) GetLatestByApp(ctx context.Context, appID uuid.UUID) (*models.AppVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM marketplace_app_versions
		WHERE app_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	version, err := scanVersion(r.db.QuerierFrom(ctx).QueryRow(ctx, query, appID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no versions for application %s", apperrors.ErrNotFound, appID)
		}
		return nil, fmt.Errorf("failed to get latest version: %w", err)
	}
	return version, nil
}

func (r *versionRepository) ListByApp(ctx context.Context, appID uuid.UUID) ([]*models.AppVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM marketplace_app_versions
		WHERE app_id = $1
		ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QuerierFrom(ctx).Query(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.AppVersion
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}
	return versions, nil
}

func (r *versionRepository) DeprecateOthers(ctx context.Context, appID, keepID uuid.UUID) error {
	query := `
		UPDATE marketplace_app_versions
		SET status = $3
		WHERE app_id = $1 AND id <> $2 AND status <> $3`

	if _, err := r.db.QuerierFrom(ctx).Exec(ctx, query, appID, keepID, models.VersionStatusDeprecated); err != nil {
		return fmt.Errorf("failed to deprecate versions: %w", err)
	}
	return nil
}

func (r *versionRepository) FindAppBySourceAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (uuid.UUID, error) {
	query := `
		SELECT v.app_id
		FROM marketplace_app_versions v
		JOIN marketplace_apps a ON a.id = v.app_id
		WHERE a.status = $3
		  AND EXISTS (
			SELECT 1
			FROM jsonb_array_elements(v.source_asset_references) AS elem
			WHERE elem->>'asset_id' = $1 AND elem->>'asset_type' = $2
		  )
		ORDER BY v.created_at DESC, v.id DESC
		LIMIT 1`

	var appID uuid.UUID
	err := r.db.QuerierFrom(ctx).QueryRow(ctx, query, assetID.String(), string(assetType), models.AppStatusApproved).Scan(&appID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("%w: no published app packages %s %s", apperrors.ErrNotFound, assetType, assetID)
		}
		return uuid.Nil, fmt.Errorf("failed to find app by source asset: %w", err)
	}
	return appID, nil
}

func (r *versionRepository) GetBySourceAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (*models.AppVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM marketplace_app_versions
		WHERE EXISTS (
			SELECT 1
			FROM jsonb_array_elements(source_asset_references) AS elem
			WHERE elem->>'asset_id' = $1 AND elem->>'asset_type' = $2
		)
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	version, err := scanVersion(r.db.QuerierFrom(ctx).QueryRow(ctx, query, assetID.String(), string(assetType)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no version packages %s %s", apperrors.ErrNotFound, assetType, assetID)
		}
		return nil, fmt.Errorf("failed to get version by source asset: %w", err)
	}
	return version, nil
}

func scanVersion(row pgx.Row) (*models.AppVersion, error) {
	var version models.AppVersion
	var snapshotJSON, refsJSON []byte

	err := row.Scan(
		&version.ID,
		&version.AppID,
		&version.Version,
		&version.ReleaseNotes,
		&snapshotJSON,
		&refsJSON,
		&version.Status,
		&version.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(snapshotJSON, &version.AssetSnapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset snapshot: %w", err)
	}
	if refsJSON != nil {
		if err := json.Unmarshal(refsJSON, &version.SourceAssetReferences); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source asset references: %w", err)
		}
	}
	return &version, nil
}

var _ VersionRepository = (*versionRepository)(nil)
