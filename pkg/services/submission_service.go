package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/appforge-labs/marketplace-engine/pkg/apperrors"
	"github.com/appforge-labs/marketplace-engine/pkg/assets"
	"github.com/appforge-labs/marketplace-engine/pkg/database"
	"github.com/appforge-labs/marketplace-engine/pkg/events"
	"github.com/appforge-labs/marketplace-engine/pkg/models"
	"github.com/appforge-labs/marketplace-engine/pkg/repositories"
)

// SubmitRequest carries everything an author provides when packaging an
// application for review.
type SubmitRequest struct {
	Name         string
	Description  string
	IconURL      string
	AssetType    models.AssetType
	Categories   []string
	Version      string
	ReleaseNotes string
	AssetRefs    []models.SourceAssetReference
}

// SubmissionMetadata is the subset of application fields an admin may edit
// while a submission is still pending review.
type SubmissionMetadata struct {
	Name        string
	Description string
	IconURL     string
	Categories  []string
}

// SubmissionService owns the application lifecycle from submission through
// review, plus the read surface over published applications.
type SubmissionService interface {
	// Submit packages a new application for review. Fails with
	// apperrors.ErrValidation if the author already has a live submission or
	// published app under the same name.
	Submit(ctx context.Context, authorTeamID, userID uuid.UUID, req SubmitRequest) (*models.Application, error)

	// Resubmit re-packages a REJECTED application under the same name and
	// returns it to PENDING_APPROVAL. The package name cannot change
	// mid-review.
	Resubmit(ctx context.Context, appID, authorTeamID, userID uuid.UUID, req SubmitRequest) (*models.Application, error)

	// Approve publishes a pending application. A non-nil isPreset also flips
	// the preset flag. Emits the version-approved event after commit.
	Approve(ctx context.Context, appID uuid.UUID, isPreset *bool) (*models.Application, error)

	// Reject declines a pending application.
	Reject(ctx context.Context, appID uuid.UUID) (*models.Application, error)

	// Archive retires an application. Only the author team may archive, and
	// only from APPROVED or REJECTED.
	Archive(ctx context.Context, appID, actorTeamID uuid.UUID) (*models.Application, error)

	// UpdateSubmission edits the metadata of a still-pending submission.
	UpdateSubmission(ctx context.Context, appID uuid.UUID, meta SubmissionMetadata) (*models.Application, error)

	// ListSubmissions returns pending applications for the review queue.
	ListSubmissions(ctx context.Context, limit, offset int) ([]*models.Application, int64, error)

	// ListDeveloperSubmissions returns the author team's applications in any
	// status.
	ListDeveloperSubmissions(ctx context.Context, authorTeamID uuid.UUID, limit, offset int) ([]*models.Application, int64, error)

	// ListApprovedApps returns the public browse listing.
	ListApprovedApps(ctx context.Context, limit, offset int) ([]*models.Application, int64, error)

	// GetAppDetails returns one application with its version history attached.
	GetAppDetails(ctx context.Context, appID uuid.UUID) (*models.Application, error)

	// ListCategories returns the distinct categories across approved apps.
	ListCategories(ctx context.Context) ([]string, error)

	// SetPreset flips the preset flag on an approved application.
	SetPreset(ctx context.Context, appID uuid.UUID, isPreset bool) (*models.Application, error)
}

type submissionService struct {
	apps      repositories.ApplicationRepository
	versions  repositories.VersionRepository
	workflows repositories.WorkflowRepository
	builder   *assets.SnapshotBuilder
	tx        database.TxRunner
	bus       *events.Bus
	logger    *zap.Logger
}

// NewSubmissionService creates a new submission service.
func NewSubmissionService(
	apps repositories.ApplicationRepository,
	versions repositories.VersionRepository,
	workflows repositories.WorkflowRepository,
	builder *assets.SnapshotBuilder,
	tx database.TxRunner,
	bus *events.Bus,
	logger *zap.Logger,
) SubmissionService {
	return &submissionService{
		apps:      apps,
		versions:  versions,
		workflows: workflows,
		builder:   builder,
		tx:        tx,
		bus:       bus,
		logger:    logger,
	}
}

func (s *submissionService) Submit(ctx context.Context, authorTeamID, userID uuid.UUID, req SubmitRequest) (*models.Application, error) {
	if err := validateSubmitRequest(req); err != nil {
		return nil, err
	}

	// A live submission or published app under the same name blocks a fresh
	// submit; resubmission of a rejected app goes through Resubmit.
	existing, err := s.apps.GetActiveByAuthorAndName(ctx, authorTeamID, req.Name)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: application %q already exists for this team", apperrors.ErrValidation, req.Name)
	}

	app := &models.Application{
		ID:           uuid.New(),
		Name:         req.Name,
		Description:  req.Description,
		IconURL:      req.IconURL,
		AssetType:    req.AssetType,
		Categories:   req.Categories,
		Status:       models.AppStatusPendingApproval,
		AuthorTeamID: authorTeamID,
	}

	var versionID uuid.UUID
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.apps.Create(ctx, app); err != nil {
			return err
		}
		versionID, err = s.createVersion(ctx, app.ID, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(events.TopicAppSubmitted, events.AppSubmitted{AppID: app.ID, VersionID: versionID})

	s.logger.Info("Application submitted",
		zap.String("app_id", app.ID.String()),
		zap.String("name", app.Name),
		zap.String("author_team_id", authorTeamID.String()))
	return app, nil
}

func (s *submissionService) Resubmit(ctx context.Context, appID, authorTeamID, userID uuid.UUID, req SubmitRequest) (*models.Application, error) {
	if err := validateSubmitRequest(req); err != nil {
		return nil, err
	}

	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.AuthorTeamID != authorTeamID {
		return nil, fmt.Errorf("%w: application %s belongs to another team", apperrors.ErrUnauthorized, appID)
	}
	if app.Status != models.AppStatusRejected {
		return nil, fmt.Errorf("%w: cannot resubmit application in status %s", apperrors.ErrInvalidState, app.Status)
	}
	// Package identity is fixed once submitted.
	if req.Name != app.Name {
		return nil, fmt.Errorf("%w: resubmission name %q does not match %q", apperrors.ErrValidation, req.Name, app.Name)
	}

	var versionID uuid.UUID
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		app.Description = req.Description
		app.IconURL = req.IconURL
		app.Categories = req.Categories
		if err := s.apps.UpdateMetadata(ctx, app); err != nil {
			return err
		}
		if err := s.apps.UpdateStatus(ctx, appID, models.AppStatusPendingApproval); err != nil {
			return err
		}
		versionID, err = s.createVersion(ctx, appID, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	app.Status = models.AppStatusPendingApproval
	s.bus.Publish(events.TopicAppSubmitted, events.AppSubmitted{AppID: appID, VersionID: versionID})

	s.logger.Info("Application resubmitted",
		zap.String("app_id", appID.String()),
		zap.String("version_id", versionID.String()))
	return app, nil
}

// createVersion snapshots the referenced assets, records the new ACTIVE
// version, supersedes prior versions, and stamps packaged workflows with the
// version they were submitted under. Must run inside the caller's
// transaction.
func (s *submissionService) createVersion(ctx context.Context, appID uuid.UUID, req SubmitRequest) (uuid.UUID, error) {
	snapshot, err := s.builder.Build(ctx, req.AssetRefs)
	if err != nil {
		return uuid.Nil, err
	}

	version := &models.AppVersion{
		ID:                    uuid.New(),
		AppID:                 appID,
		Version:               req.Version,
		ReleaseNotes:          req.ReleaseNotes,
		AssetSnapshot:         snapshot,
		SourceAssetReferences: req.AssetRefs,
		Status:                models.VersionStatusActive,
	}
	if err := s.versions.Create(ctx, version); err != nil {
		return uuid.Nil, err
	}
	if err := s.versions.DeprecateOthers(ctx, appID, version.ID); err != nil {
		return uuid.Nil, err
	}

	for _, ref := range req.AssetRefs {
		if ref.AssetType != models.AssetTypeWorkflow {
			continue
		}
		if err := s.workflows.SetForkFrom(ctx, ref.AssetID, version.ID); err != nil {
			return uuid.Nil, fmt.Errorf("failed to stamp workflow %s: %w", ref.AssetID, err)
		}
	}

	return version.ID, nil
}

func (s *submissionService) Approve(ctx context.Context, appID uuid.UUID, isPreset *bool) (*models.Application, error) {
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if !app.CanTransitionTo(models.AppStatusApproved) {
		return nil, fmt.Errorf("%w: cannot approve application in status %s", apperrors.ErrInvalidState, app.Status)
	}

	latest, err := s.versions.GetLatestByApp(ctx, appID)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.apps.UpdateStatus(ctx, appID, models.AppStatusApproved); err != nil {
			return err
		}
		if isPreset != nil {
			if err := s.apps.SetPreset(ctx, appID, *isPreset); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	app.Status = models.AppStatusApproved
	if isPreset != nil {
		app.IsPreset = *isPreset
	}

	// The sole trigger for update propagation. Emitted only after commit so
	// the flagging consumer never observes an unapproved version.
	s.bus.Publish(events.TopicVersionApproved, events.VersionApproved{AppID: appID, NewVersionID: latest.ID})

	s.logger.Info("Application approved",
		zap.String("app_id", appID.String()),
		zap.String("version_id", latest.ID.String()))
	return app, nil
}

func (s *submissionService) Reject(ctx context.Context, appID uuid.UUID) (*models.Application, error) {
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if !app.CanTransitionTo(models.AppStatusRejected) {
		return nil, fmt.Errorf("%w: cannot reject application in status %s", apperrors.ErrInvalidState, app.Status)
	}

	if err := s.apps.UpdateStatus(ctx, appID, models.AppStatusRejected); err != nil {
		return nil, err
	}
	app.Status = models.AppStatusRejected

	s.logger.Info("Application rejected", zap.String("app_id", appID.String()))
	return app, nil
}

func (s *submissionService) Archive(ctx context.Context, appID, actorTeamID uuid.UUID) (*models.Application, error) {
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.AuthorTeamID != actorTeamID {
		return nil, fmt.Errorf("%w: application %s belongs to another team", apperrors.ErrUnauthorized, appID)
	}
	if !app.CanTransitionTo(models.AppStatusArchived) {
		return nil, fmt.Errorf("%w: cannot archive application in status %s", apperrors.ErrInvalidState, app.Status)
	}

	if err := s.apps.UpdateStatus(ctx, appID, models.AppStatusArchived); err != nil {
		return nil, err
	}
	app.Status = models.AppStatusArchived

	s.logger.Info("Application archived", zap.String("app_id", appID.String()))
	return app, nil
}

func (s *submissionService) UpdateSubmission(ctx context.Context, appID uuid.UUID, meta SubmissionMetadata) (*models.Application, error) {
	if meta.Name == "" {
		return nil, fmt.Errorf("%w: application name is required", apperrors.ErrValidation)
	}

	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.Status != models.AppStatusPendingApproval {
		return nil, fmt.Errorf("%w: cannot edit application in status %s", apperrors.ErrInvalidState, app.Status)
	}

	app.Name = meta.Name
	app.Description = meta.Description
	app.IconURL = meta.IconURL
	app.Categories = meta.Categories
	if err := s.apps.UpdateMetadata(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

func (s *submissionService) ListSubmissions(ctx context.Context, limit, offset int) ([]*models.Application, int64, error) {
	return s.apps.ListByStatus(ctx, models.AppStatusPendingApproval, limit, offset)
}

func (s *submissionService) ListDeveloperSubmissions(ctx context.Context, authorTeamID uuid.UUID, limit, offset int) ([]*models.Application, int64, error) {
	return s.apps.ListByAuthor(ctx, authorTeamID, limit, offset)
}

func (s *submissionService) ListApprovedApps(ctx context.Context, limit, offset int) ([]*models.Application, int64, error) {
	return s.apps.ListByStatus(ctx, models.AppStatusApproved, limit, offset)
}

func (s *submissionService) GetAppDetails(ctx context.Context, appID uuid.UUID) (*models.Application, error) {
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	versions, err := s.versions.ListByApp(ctx, appID)
	if err != nil {
		return nil, err
	}
	app.Versions = versions
	return app, nil
}

func (s *submissionService) ListCategories(ctx context.Context) ([]string, error) {
	return s.apps.ListCategories(ctx)
}

func (s *submissionService) SetPreset(ctx context.Context, appID uuid.UUID, isPreset bool) (*models.Application, error) {
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.Status != models.AppStatusApproved {
		return nil, fmt.Errorf("%w: only approved applications can be presets, status is %s", apperrors.ErrInvalidState, app.Status)
	}

	if err := s.apps.SetPreset(ctx, appID, isPreset); err != nil {
		return nil, err
	}
	app.IsPreset = isPreset
	return app, nil
}

func validateSubmitRequest(req SubmitRequest) error {
	if req.Name == "" {
		return fmt.Errorf("%w: application name is required", apperrors.ErrValidation)
	}
	if req.Version == "" {
		return fmt.Errorf("%w: version label is required", apperrors.ErrValidation)
	}
	if len(req.AssetRefs) == 0 {
		return fmt.Errorf("%w: at least one asset reference is required", apperrors.ErrValidation)
	}
	return nil
}

var _ SubmissionService = (*submissionService)(nil)
