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

// AssociationRepository defines data access for workflow associations. It
// satisfies assets.AssociationStore.
type AssociationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.WorkflowAssociation, error)
	Create(ctx context.Context, assoc *models.WorkflowAssociation) error
	Update(ctx context.Context, assoc *models.WorkflowAssociation) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type associationRepository struct {
	db *database.DB
}

// NewAssociationRepository creates a new association repository.
func NewAssociationRepository(db *database.DB) AssociationRepository {
	return &associationRepository{db: db}
}

const associationColumns = `id, team_id, creator_user_id, display_name, origin_workflow_id, target_workflow_id, enabled, created_at, updated_at`

func (r *associationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.WorkflowAssociation, error) {
	query := `SELECT ` + associationColumns + ` FROM workflow_associations WHERE id = $1`

	var assoc models.WorkflowAssociation
	err := r.db.QuerierFrom(ctx).QueryRow(ctx, query, id).Scan(
		&assoc.ID,
		&assoc.TeamID,
		&assoc.CreatorUserID,
		&assoc.DisplayName,
		&assoc.OriginWorkflowID,
		&assoc.TargetWorkflowID,
		&assoc.Enabled,
		&assoc.CreatedAt,
		&assoc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: association %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get association: %w", err)
	}
	return &assoc, nil
}

func (r *associationRepository) Create(ctx context.Context, assoc *models.WorkflowAssociation) error {
	query := `
		INSERT INTO workflow_associations (` + associationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`

	_, err := r.db.QuerierFrom(ctx).Exec(ctx, query,
		assoc.ID,
		assoc.TeamID,
		assoc.CreatorUserID,
		assoc.DisplayName,
		assoc.OriginWorkflowID,
		assoc.TargetWorkflowID,
		assoc.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to create association: %w", err)
	}
	return nil
}

func (r *associationRepository) Update(ctx context.Context, assoc *models.WorkflowAssociation) error {
	query := `
		UPDATE workflow_associations
		SET display_name = $2, origin_workflow_id = $3, target_workflow_id = $4, enabled = $5, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.QuerierFrom(ctx).Exec(ctx, query,
		assoc.ID,
		assoc.DisplayName,
		assoc.OriginWorkflowID,
		assoc.TargetWorkflowID,
		assoc.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to update association: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: association %s", apperrors.ErrNotFound, assoc.ID)
	}
	return nil
}

func (r *associationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.QuerierFrom(ctx).Exec(ctx, `DELETE FROM workflow_associations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete association: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: association %s", apperrors.ErrNotFound, id)
	}
	return nil
}

var _ AssociationRepository = (*associationRepository)(nil)
