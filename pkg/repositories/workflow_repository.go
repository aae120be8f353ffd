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

// WorkflowRepository defines data access for team-owned workflows. It
// satisfies assets.WorkflowStore; the extra methods serve submission-time
// fork stamping.
type WorkflowRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	GetByIDVersion(ctx context.Context, id uuid.UUID, version int) (*models.Workflow, error)
	Create(ctx context.Context, wf *models.Workflow) error
	Update(ctx context.Context, wf *models.Workflow) error

	// SetForkFrom stamps the marketplace version a packaged workflow was
	// submitted under, enabling reverse permission lookups.
	SetForkFrom(ctx context.Context, id uuid.UUID, forkFromID uuid.UUID) error

	// Delete removes a workflow. Used by tests and administrative repair.
	Delete(ctx context.Context, id uuid.UUID) error
}

type workflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *database.DB) WorkflowRepository {
	return &workflowRepository{db: db}
}

const workflowColumns = `id, team_id, creator_user_id, display_name, description, icon_url, version, tasks, fork_from_id, created_at, updated_at`

func (r *workflowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`

	wf, err := scanWorkflow(r.db.QuerierFrom(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: workflow %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

func (r *workflowRepository) GetByIDVersion(ctx context.Context, id uuid.UUID, version int) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1 AND version = $2`

	wf, err := scanWorkflow(r.db.QuerierFrom(ctx).QueryRow(ctx, query, id, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: workflow %s version %d", apperrors.ErrNotFound, id, version)
		}
		return nil, fmt.Errorf("failed to get workflow version: %w", err)
	}
	return wf, nil
}

func (r *workflowRepository) Create(ctx context.Context, wf *models.Workflow) error {
	tasksJSON, err := json.Marshal(wf.Tasks)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow tasks: %w", err)
	}

	query := `
		INSERT INTO workflows (` + workflowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())`

	_, err = r.db.QuerierFrom(ctx).Exec(ctx, query,
		wf.ID,
		wf.TeamID,
		wf.CreatorUserID,
		wf.DisplayName,
		wf.Description,
		wf.IconURL,
		wf.Version,
		tasksJSON,
		wf.ForkFromID,
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

func (r *workflowRepository) Update(ctx context.Context, wf *models.Workflow) error {
	tasksJSON, err := json.Marshal(wf.Tasks)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow tasks: %w", err)
	}

	query := `
		UPDATE workflows
		SET display_name = $2, description = $3, icon_url = $4, version = $5, tasks = $6, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.QuerierFrom(ctx).Exec(ctx, query,
		wf.ID,
		wf.DisplayName,
		wf.Description,
		wf.IconURL,
		wf.Version,
		tasksJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: workflow %s", apperrors.ErrNotFound, wf.ID)
	}
	return nil
}

func (r *workflowRepository) SetForkFrom(ctx context.Context, id uuid.UUID, forkFromID uuid.UUID) error {
	query := `UPDATE workflows SET fork_from_id = $2, updated_at = now() WHERE id = $1`

	tag, err := r.db.QuerierFrom(ctx).Exec(ctx, query, id, forkFromID)
	if err != nil {
		return fmt.Errorf("failed to set workflow fork source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: workflow %s", apperrors.ErrNotFound, id)
	}
	return nil
}

func (r *workflowRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.QuerierFrom(ctx).Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: workflow %s", apperrors.ErrNotFound, id)
	}
	return nil
}

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var wf models.Workflow
	var tasksJSON []byte

	err := row.Scan(
		&wf.ID,
		&wf.TeamID,
		&wf.CreatorUserID,
		&wf.DisplayName,
		&wf.Description,
		&wf.IconURL,
		&wf.Version,
		&tasksJSON,
		&wf.ForkFromID,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(tasksJSON, &wf.Tasks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow tasks: %w", err)
	}
	return &wf, nil
}

var _ WorkflowRepository = (*workflowRepository)(nil)
