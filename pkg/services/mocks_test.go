package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/appforge-labs/marketplace-engine/pkg/apperrors"
	"github.com/appforge-labs/marketplace-engine/pkg/assets"
	"github.com/appforge-labs/marketplace-engine/pkg/models"
)

// immediateTxRunner runs the transaction body directly. Repository mocks are
// in-memory, so there is nothing to commit or roll back; transactional
// atomicity itself is covered by the integration tests.
type immediateTxRunner struct{}

func (immediateTxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Mock application repository.
type mockAppRepo struct {
	mu   sync.Mutex
	apps map[uuid.UUID]*models.Application

	createErr    error
	statusErr    error
	incrementErr error
}

func newMockAppRepo() *mockAppRepo {
	return &mockAppRepo{apps: make(map[uuid.UUID]*models.Application)}
}

func (m *mockAppRepo) Create(ctx context.Context, app *models.Application) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *app
	m.apps[app.ID] = &copied
	return nil
}

func (m *mockAppRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, fmt.Errorf("%w: application %s", apperrors.ErrNotFound, id)
	}
	copied := *app
	return &copied, nil
}

func (m *mockAppRepo) GetActiveByAuthorAndName(ctx context.Context, authorTeamID uuid.UUID, name string) (*models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, app := range m.apps {
		if app.AuthorTeamID == authorTeamID && app.Name == name && app.Status != models.AppStatusArchived {
			copied := *app
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: application %q", apperrors.ErrNotFound, name)
}

func (m *mockAppRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.AppStatus) error {
	if m.statusErr != nil {
		return m.statusErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return fmt.Errorf("%w: application %s", apperrors.ErrNotFound, id)
	}
	app.Status = status
	return nil
}

func (m *mockAppRepo) UpdateMetadata(ctx context.Context, app *models.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.apps[app.ID]
	if !ok {
		return fmt.Errorf("%w: application %s", apperrors.ErrNotFound, app.ID)
	}
	stored.Name = app.Name
	stored.Description = app.Description
	stored.IconURL = app.IconURL
	stored.Categories = app.Categories
	return nil
}

func (m *mockAppRepo) SetPreset(ctx context.Context, id uuid.UUID, isPreset bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return fmt.Errorf("%w: application %s", apperrors.ErrNotFound, id)
	}
	app.IsPreset = isPreset
	return nil
}

func (m *mockAppRepo) IncrementInstalls(ctx context.Context, id uuid.UUID) error {
	if m.incrementErr != nil {
		return m.incrementErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return fmt.Errorf("%w: application %s", apperrors.ErrNotFound, id)
	}
	app.TotalInstalls++
	return nil
}

func (m *mockAppRepo) ListByStatus(ctx context.Context, status models.AppStatus, limit, offset int) ([]*models.Application, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*models.Application
	for _, app := range m.apps {
		if app.Status == status {
			copied := *app
			matched = append(matched, &copied)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return page(matched, limit, offset), int64(len(matched)), nil
}

func (m *mockAppRepo) ListByAuthor(ctx context.Context, authorTeamID uuid.UUID, limit, offset int) ([]*models.Application, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*models.Application
	for _, app := range m.apps {
		if app.AuthorTeamID == authorTeamID {
			copied := *app
			matched = append(matched, &copied)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return page(matched, limit, offset), int64(len(matched)), nil
}

func (m *mockAppRepo) ListPresets(ctx context.Context) ([]*models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*models.Application
	for _, app := range m.apps {
		if app.IsPreset && app.Status == models.AppStatusApproved {
			copied := *app
			matched = append(matched, &copied)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return matched, nil
}

func (m *mockAppRepo) ListCategories(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for _, app := range m.apps {
		if app.Status != models.AppStatusApproved {
			continue
		}
		for _, c := range app.Categories {
			seen[c] = true
		}
	}
	var categories []string
	for c := range seen {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	return categories, nil
}

func page(apps []*models.Application, limit, offset int) []*models.Application {
	if offset >= len(apps) {
		return nil
	}
	end := offset + limit
	if end > len(apps) {
		end = len(apps)
	}
	return apps[offset:end]
}

// Mock version repository. Versions are kept in insertion order; the latest
// version of an app is the most recently created.
type mockVersionRepo struct {
	mu       sync.Mutex
	versions []*models.AppVersion

	createErr error
}

func newMockVersionRepo() *mockVersionRepo {
	return &mockVersionRepo{}
}

func (m *mockVersionRepo) Create(ctx context.Context, version *models.AppVersion) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *version
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	m.versions = append(m.versions, &copied)
	return nil
}

func (m *mockVersionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AppVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.ID == id {
			copied := *v
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: version %s", apperrors.ErrNotFound, id)
}

func (m *mockVersionRepo) GetLatestByApp(ctx context.Context, appID uuid.UUID) (*models.AppVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.versions) - 1; i >= 0; i-- {
		if m.versions[i].AppID == appID {
			copied := *m.versions[i]
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: no versions for application %s", apperrors.ErrNotFound, appID)
}

func (m *mockVersionRepo) ListByApp(ctx context.Context, appID uuid.UUID) ([]*models.AppVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*models.AppVersion
	for i := len(m.versions) - 1; i >= 0; i-- {
		if m.versions[i].AppID == appID {
			copied := *m.versions[i]
			matched = append(matched, &copied)
		}
	}
	return matched, nil
}

func (m *mockVersionRepo) DeprecateOthers(ctx context.Context, appID, keepID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.AppID == appID && v.ID != keepID {
			v.Status = models.VersionStatusDeprecated
		}
	}
	return nil
}

func (m *mockVersionRepo) FindAppBySourceAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.versions) - 1; i >= 0; i-- {
		for _, ref := range m.versions[i].SourceAssetReferences {
			if ref.AssetID == assetID && ref.AssetType == assetType {
				return m.versions[i].AppID, nil
			}
		}
	}
	return uuid.Nil, fmt.Errorf("%w: no app packages %s", apperrors.ErrNotFound, assetID)
}

func (m *mockVersionRepo) GetBySourceAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (*models.AppVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.versions) - 1; i >= 0; i-- {
		for _, ref := range m.versions[i].SourceAssetReferences {
			if ref.AssetID == assetID && ref.AssetType == assetType {
				copied := *m.versions[i]
				return &copied, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no version packages %s", apperrors.ErrNotFound, assetID)
}

// Mock installation repository.
type mockInstallRepo struct {
	mu       sync.Mutex
	installs map[uuid.UUID]*models.Installation

	createErr  error
	pointerErr error
}

func newMockInstallRepo() *mockInstallRepo {
	return &mockInstallRepo{installs: make(map[uuid.UUID]*models.Installation)}
}

func (m *mockInstallRepo) Create(ctx context.Context, inst *models.Installation) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *inst
	m.installs[inst.ID] = &copied
	return nil
}

func (m *mockInstallRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.installs[id]
	if !ok {
		return nil, fmt.Errorf("%w: installation %s", apperrors.ErrNotFound, id)
	}
	copied := *inst
	return &copied, nil
}

func (m *mockInstallRepo) GetByTeamAndApp(ctx context.Context, teamID, appID uuid.UUID) (*models.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.installs {
		if inst.TeamID == teamID && inst.AppID == appID {
			copied := *inst
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: no installation", apperrors.ErrNotFound)
}

func (m *mockInstallRepo) ListByTeam(ctx context.Context, teamID uuid.UUID) ([]*models.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*models.Installation
	for _, inst := range m.installs {
		if inst.TeamID == teamID {
			copied := *inst
			matched = append(matched, &copied)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	return matched, nil
}

func (m *mockInstallRepo) ListByApp(ctx context.Context, appID uuid.UUID) ([]*models.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*models.Installation
	for _, inst := range m.installs {
		if inst.AppID == appID {
			copied := *inst
			matched = append(matched, &copied)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	return matched, nil
}

func (m *mockInstallRepo) FindByInstalledAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (*models.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.installs {
		for _, id := range inst.InstalledAssetIDs[assetType] {
			if id == assetID {
				copied := *inst
				return &copied, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no installation owns %s", apperrors.ErrNotFound, assetID)
}

func (m *mockInstallRepo) FlagUpdateAvailable(ctx context.Context, appID, newVersionID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var flagged int64
	for _, inst := range m.installs {
		if inst.AppID == appID && inst.AppVersionID != newVersionID && !inst.UpdateAvailable {
			inst.UpdateAvailable = true
			flagged++
		}
	}
	return flagged, nil
}

func (m *mockInstallRepo) SetVersionPointer(ctx context.Context, id, versionID uuid.UUID) error {
	if m.pointerErr != nil {
		return m.pointerErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.installs[id]
	if !ok {
		return fmt.Errorf("%w: installation %s", apperrors.ErrNotFound, id)
	}
	inst.AppVersionID = versionID
	inst.UpdateAvailable = false
	return nil
}

func (m *mockInstallRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.installs[id]; !ok {
		return fmt.Errorf("%w: installation %s", apperrors.ErrNotFound, id)
	}
	delete(m.installs, id)
	return nil
}

// Mock workflow repository. Submission tests only exercise fork stamping.
type mockWorkflowRepo struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]*models.Workflow
	forkFrom  map[uuid.UUID]uuid.UUID

	forkErr error
}

func newMockWorkflowRepo() *mockWorkflowRepo {
	return &mockWorkflowRepo{
		workflows: make(map[uuid.UUID]*models.Workflow),
		forkFrom:  make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *mockWorkflowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s", apperrors.ErrNotFound, id)
	}
	copied := *wf
	return &copied, nil
}

func (m *mockWorkflowRepo) GetByIDVersion(ctx context.Context, id uuid.UUID, version int) (*models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok || wf.Version != version {
		return nil, fmt.Errorf("%w: workflow %s version %d", apperrors.ErrNotFound, id, version)
	}
	copied := *wf
	return &copied, nil
}

func (m *mockWorkflowRepo) Create(ctx context.Context, wf *models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *wf
	m.workflows[wf.ID] = &copied
	return nil
}

func (m *mockWorkflowRepo) Update(ctx context.Context, wf *models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[wf.ID]; !ok {
		return fmt.Errorf("%w: workflow %s", apperrors.ErrNotFound, wf.ID)
	}
	copied := *wf
	m.workflows[wf.ID] = &copied
	return nil
}

func (m *mockWorkflowRepo) SetForkFrom(ctx context.Context, id uuid.UUID, forkFromID uuid.UUID) error {
	if m.forkErr != nil {
		return m.forkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[id]; !ok {
		return fmt.Errorf("%w: workflow %s", apperrors.ErrNotFound, id)
	}
	m.forkFrom[id] = forkFromID
	return nil
}

func (m *mockWorkflowRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[id]; !ok {
		return fmt.Errorf("%w: workflow %s", apperrors.ErrNotFound, id)
	}
	delete(m.workflows, id)
	return nil
}

// Mock team repository.
type mockTeamRepo struct {
	teams []*models.Team
}

func (m *mockTeamRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	for _, t := range m.teams {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: team %s", apperrors.ErrNotFound, id)
}

func (m *mockTeamRepo) List(ctx context.Context) ([]*models.Team, error) {
	return m.teams, nil
}

// Mock asset handler backed by an in-memory asset set. Snapshot content is
// opaque to the services under test, so assets are tracked by id only.
type mockAssetHandler struct {
	mu  sync.Mutex
	typ models.AssetType

	// live asset ids, including clones created through this handler
	existing map[uuid.UUID]bool
	// new id -> mapping used, recorded per RemapDependencies call
	remapped map[uuid.UUID]assets.IDMapping
	// existing ids overwritten by UpdateFromSnapshot, in call order
	updated []uuid.UUID

	cloneErr  error
	remapErr  error
	updateErr error
}

func newMockAssetHandler(typ models.AssetType) *mockAssetHandler {
	return &mockAssetHandler{
		typ:      typ,
		existing: make(map[uuid.UUID]bool),
		remapped: make(map[uuid.UUID]assets.IDMapping),
	}
}

func (m *mockAssetHandler) Type() models.AssetType { return m.typ }

func (m *mockAssetHandler) GetSnapshot(ctx context.Context, assetID uuid.UUID, version int, siblings []models.SourceAssetReference) (models.SnapshotDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.existing[assetID] {
		return models.SnapshotDocument{}, fmt.Errorf("%w: %s %s", apperrors.ErrNotFound, m.typ, assetID)
	}
	return models.SnapshotDocument{OriginalID: assetID, Content: []byte(`{}`)}, nil
}

func (m *mockAssetHandler) CloneFromSnapshot(ctx context.Context, doc models.SnapshotDocument, teamID, userID uuid.UUID) (assets.CloneResult, error) {
	if m.cloneErr != nil {
		return assets.CloneResult{}, m.cloneErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	newID := uuid.New()
	m.existing[newID] = true
	return assets.CloneResult{OriginalID: doc.OriginalID, NewID: newID}, nil
}

func (m *mockAssetHandler) UpdateFromSnapshot(ctx context.Context, doc models.SnapshotDocument, teamID, userID, existingAssetID uuid.UUID) (uuid.UUID, error) {
	if m.updateErr != nil {
		return uuid.Nil, m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.existing[existingAssetID] {
		return uuid.Nil, fmt.Errorf("%w: %s %s", apperrors.ErrNotFound, m.typ, existingAssetID)
	}
	m.updated = append(m.updated, existingAssetID)
	return doc.OriginalID, nil
}

func (m *mockAssetHandler) RemapDependencies(ctx context.Context, newAssetID uuid.UUID, mapping assets.IDMapping) error {
	if m.remapErr != nil {
		return m.remapErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remapped[newAssetID] = mapping
	return nil
}

func (m *mockAssetHandler) GetByID(ctx context.Context, assetID uuid.UUID) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.existing[assetID] {
		return nil, fmt.Errorf("%w: %s %s", apperrors.ErrNotFound, m.typ, assetID)
	}
	return assetID, nil
}

func (m *mockAssetHandler) addExisting(ids ...uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.existing[id] = true
	}
}

func (m *mockAssetHandler) removeExisting(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.existing, id)
}
