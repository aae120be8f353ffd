package assets

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/appforge-labs/marketplace-engine/pkg/apperrors"
	"github.com/appforge-labs/marketplace-engine/pkg/models"
)

type memWorkflowStore struct {
	workflows map[uuid.UUID]*models.Workflow
	updateErr error
}

func newMemWorkflowStore() *memWorkflowStore {
	return &memWorkflowStore{workflows: make(map[uuid.UUID]*models.Workflow)}
}

func (s *memWorkflowStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s", apperrors.ErrNotFound, id)
	}
	cp := *wf
	cp.Tasks = append([]models.WorkflowTask(nil), wf.Tasks...)
	return &cp, nil
}

func (s *memWorkflowStore) GetByIDVersion(ctx context.Context, id uuid.UUID, version int) (*models.Workflow, error) {
	wf, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.Version != version {
		return nil, fmt.Errorf("%w: workflow %s version %d", apperrors.ErrNotFound, id, version)
	}
	return wf, nil
}

func (s *memWorkflowStore) Create(ctx context.Context, wf *models.Workflow) error {
	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *memWorkflowStore) Update(ctx context.Context, wf *models.Workflow) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

type memAssociationStore struct {
	associations map[uuid.UUID]*models.WorkflowAssociation
}

func newMemAssociationStore() *memAssociationStore {
	return &memAssociationStore{associations: make(map[uuid.UUID]*models.WorkflowAssociation)}
}

func (s *memAssociationStore) GetByID(ctx context.Context, id uuid.UUID) (*models.WorkflowAssociation, error) {
	assoc, ok := s.associations[id]
	if !ok {
		return nil, fmt.Errorf("%w: association %s", apperrors.ErrNotFound, id)
	}
	cp := *assoc
	return &cp, nil
}

func (s *memAssociationStore) Create(ctx context.Context, assoc *models.WorkflowAssociation) error {
	cp := *assoc
	s.associations[assoc.ID] = &cp
	return nil
}

func (s *memAssociationStore) Update(ctx context.Context, assoc *models.WorkflowAssociation) error {
	cp := *assoc
	s.associations[assoc.ID] = &cp
	return nil
}

// memPublishedLookup answers FindAppBySourceAsset from a fixed table.
type memPublishedLookup struct {
	apps map[uuid.UUID]uuid.UUID
}

func (l *memPublishedLookup) FindAppBySourceAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (uuid.UUID, error) {
	if appID, ok := l.apps[assetID]; ok {
		return appID, nil
	}
	return uuid.Nil, fmt.Errorf("%w: no published app for asset %s", apperrors.ErrNotFound, assetID)
}
