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

// TeamRepository reads the tenant directory. The marketplace only ever
// enumerates install targets; team lifecycle is owned elsewhere.
type TeamRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Team, error)
	List(ctx context.Context) ([]*models.Team, error)
}

type teamRepository struct {
	db *database.DB
}

// NewTeamRepository creates a new team repository.
func NewTeamRepository(db *database.DB) TeamRepository {
	return &teamRepository{db: db}
}

func (r *teamRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	query := `SELECT id, name, created_at FROM teams WHERE id = $1`

	var team models.Team
	err := r.db.QuerierFrom(ctx).QueryRow(ctx, query, id).Scan(&team.ID, &team.Name, &team.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: team %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return &team, nil
}

func (r *teamRepository) List(ctx context.Context) ([]*models.Team, error) {
	rows, err := r.db.QuerierFrom(ctx).Query(ctx, `SELECT id, name, created_at FROM teams ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []*models.Team
	for rows.Next() {
		var team models.Team
		if err := rows.Scan(&team.ID, &team.Name, &team.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, &team)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating teams: %w", err)
	}
	return teams, nil
}

var _ TeamRepository = (*teamRepository)(nil)
