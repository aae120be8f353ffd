package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/appforge-labs/marketplace-engine/pkg/apperrors"
	"github.com/appforge-labs/marketplace-engine/pkg/database"
	"github.com/appforge-labs/marketplace-engine/pkg/models"
)

// ApplicationRepository defines data access for marketplace applications.
type ApplicationRepository interface {
	// Create persists a new application.
	Create(ctx context.Context, app *models.Application) error

	// GetByID returns the application or apperrors.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error)

	// GetActiveByAuthorAndName returns the non-archived application with the
	// given author and name, or apperrors.ErrNotFound.
	GetActiveByAuthorAndName(ctx context.Context, authorTeamID uuid.UUID, name string) (*models.Application, error)

	// UpdateStatus sets the review status.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.AppStatus) error

	// UpdateMetadata overwrites the editable submission metadata.
	UpdateMetadata(ctx context.Context, app *models.Application) error

	// SetPreset flips the preset flag.
	SetPreset(ctx context.Context, id uuid.UUID, isPreset bool) error

	// IncrementInstalls atomically bumps the install counter.
	IncrementInstalls(ctx context.Context, id uuid.UUID) error

	// ListByStatus returns a page of applications in the given status,
	// newest first, with the total count.
	ListByStatus(ctx context.Context, status models.AppStatus, limit, offset int) ([]*models.Application, int64, error)

	// ListByAuthor returns a page of the author team's applications in any
	// status, newest first, with the total count.
	ListByAuthor(ctx context.Context, authorTeamID uuid.UUID, limit, offset int) ([]*models.Application, int64, error)

	// ListPresets returns all approved preset applications.
	ListPresets(ctx context.Context) ([]*models.Application, error)

	// ListCategories returns the distinct categories across approved apps.
	ListCategories(ctx context.Context) ([]string, error)
}

type applicationRepository struct {
	db *database.DB
}

// NewApplicationRepository creates a new application repository.
func NewApplicationRepository(db *database.DB) ApplicationRepository {
	return &applicationRepository{db: db}
}

const appColumns = `id, name, description, icon_url, asset_type, categories, status, is_preset, author_team_id, total_installs, created_at, updated_at`

func (r *applicationRepository) Create(ctx context.Context, app *models.Application) error {
	query := `
		INSERT INTO marketplace_apps (` + appColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())`

	_, err := r.db.QuerierFrom(ctx).Exec(ctx, query,
		app.ID,
		app.Name,
		app.Description,
		app.IconURL,
		app.AssetType,
		app.Categories,
		app.Status,
		app.IsPreset,
		app.AuthorTeamID,
		app.TotalInstalls,
	)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

func (r *applicationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	query := `SELECT ` + appColumns + ` FROM marketplace_apps WHERE id = $1`

	app, err := scanApplication(r.db.QuerierFrom(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: application %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return app, nil
}

func (r *applicationRepository) GetActiveByAuthorAndName(ctx context.Context, authorTeamID uuid.UUID, name string) (*models.Application, error) {
	query := `
		SELECT ` + appColumns + `
		FROM marketplace_apps
		WHERE author_team_id = $1 AND name = $2 AND status <> $3`

	app, err := scanApplication(r.db.QuerierFrom(ctx).QueryRow(ctx, query, authorTeamID, name, models.AppStatusArchived))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: application %q for team %s", apperrors.ErrNotFound, name, authorTeamID)
		}
		return nil, fmt.Errorf("failed to get application by name: %w", err)
	}
	return app, nil
}

func (r *applicationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.AppStatus) error {
	query := `UPDATE marketplace_apps SET status = $2, updated_at = now() WHERE id = $1`

	tag, err := r.db.QuerierFrom(ctx).Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update application status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: application %s", apperrors.ErrNotFound, id)
	}
	return nil
}

func (r *applicationRepository) UpdateMetadata(ctx context.Context, app *models.Application) error {
	query := `
		UPDATE marketplace_apps
		SET name = $2, description = $3, icon_url = $4, categories = $5, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.QuerierFrom(ctx).Exec(ctx, query,
		app.ID,
		app.Name,
		app.Description,
		app.IconURL,
		app.Categories,
	)
	if err != nil {
		return fmt.Errorf("failed to update application metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: application %s", apperrors.ErrNotFound, app.ID)
	}
	return nil
}

func (r *applicationRepository) SetPreset(ctx context.Context, id uuid.UUID, isPreset bool) error {
	query := `UPDATE marketplace_apps SET is_preset = $2, updated_at = now() WHERE id = $1`

	tag, err := r.db.QuerierFrom(ctx).Exec(ctx, query, id, isPreset)
	if err != nil {
		return fmt.Errorf("failed to set preset flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: application %s", apperrors.ErrNotFound, id)
	}
	return nil
}

// IncrementInstalls uses a relative update rather than read-modify-write so
// concurrent installs of the same app never lose counts.
func (r *applicationRepository) IncrementInstalls(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE marketplace_apps SET total_installs = total_installs + 1, updated_at = now() WHERE id = $1`

	tag, err := r.db.QuerierFrom(ctx).Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment installs: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: application %s", apperrors.ErrNotFound, id)
	}
	return nil
}

func (r *applicationRepository) ListByStatus(ctx context.Context, status models.AppStatus, limit, offset int) ([]*models.Application, int64, error) {
	q := r.db.QuerierFrom(ctx)

	var total int64
	if err := q.QueryRow(ctx, `SELECT count(*) FROM marketplace_apps WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count applications: %w", err)
	}

	query := `
		SELECT ` + appColumns + `
		FROM marketplace_apps
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := q.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	apps, err := collectApplications(rows)
	if err != nil {
		return nil, 0, err
	}
	return apps, total, nil
}

func (r *applicationRepository) ListByAuthor(ctx context.Context, authorTeamID uuid.UUID, limit, offset int) ([]*models.Application, int64, error) {
	q := r.db.QuerierFrom(ctx)

	var total int64
	if err := q.QueryRow(ctx, `SELECT count(*) FROM marketplace_apps WHERE author_team_id = $1`, authorTeamID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count author applications: %w", err)
	}

	query := `
		SELECT ` + appColumns + `
		FROM marketplace_apps
		WHERE author_team_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := q.Query(ctx, query, authorTeamID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list author applications: %w", err)
	}
	defer rows.Close()

	apps, err := collectApplications(rows)
	if err != nil {
		return nil, 0, err
	}
	return apps, total, nil
}

func (r *applicationRepository) ListPresets(ctx context.Context) ([]*models.Application, error) {
	query := `
		SELECT ` + appColumns + `
		FROM marketplace_apps
		WHERE is_preset = TRUE AND status = $1
		ORDER BY name ASC`

	rows, err := r.db.QuerierFrom(ctx).Query(ctx, query, models.AppStatusApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to list preset applications: %w", err)
	}
	defer rows.Close()

	return collectApplications(rows)
}

func (r *applicationRepository) ListCategories(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT unnest(categories)
		FROM marketplace_apps
		WHERE status = $1
		ORDER BY 1`

	rows, err := r.db.QuerierFrom(ctx).Query(ctx, query, models.AppStatusApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return categories, nil
}

func scanApplication(row pgx.Row) (*models.Application, error) {
	var app models.Application
	err := row.Scan(
		&app.ID,
		&app.Name,
		&app.Description,
		&app.IconURL,
		&app.AssetType,
		&app.Categories,
		&app.Status,
		&app.IsPreset,
		&app.AuthorTeamID,
		&app.TotalInstalls,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func collectApplications(rows pgx.Rows) ([]*models.Application, error) {
	var apps []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating applications: %w", err)
	}
	return apps, nil
}

var _ ApplicationRepository = (*applicationRepository)(nil)
