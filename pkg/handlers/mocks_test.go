package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/appforge-labs/marketplace-engine/pkg/auth"
	"github.com/appforge-labs/marketplace-engine/pkg/config"
	"github.com/appforge-labs/marketplace-engine/pkg/models"
	"github.com/appforge-labs/marketplace-engine/pkg/services"
)

// stubAuthService hands back fixed claims without touching the token, so
// handler tests can exercise routing and identity extraction directly.
type stubAuthService struct {
	claims *auth.Claims
}

func (s *stubAuthService) ValidateRequest(r *http.Request) (*auth.Claims, error) {
	if s.claims == nil {
		return nil, auth.ErrMissingAuthorization
	}
	return s.claims, nil
}

func (s *stubAuthService) RequireTeamID(claims *auth.Claims) error {
	if claims.TeamID == "" {
		return auth.ErrMissingTeamID
	}
	return nil
}

func (s *stubAuthService) RequireAdmin(claims *auth.Claims) error {
	if !claims.IsAdmin {
		return auth.ErrNotAdmin
	}
	return nil
}

func testClaims(teamID, userID uuid.UUID, admin bool) *auth.Claims {
	return &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String()},
		TeamID:           teamID.String(),
		IsAdmin:          admin,
	}
}

func testMiddleware(claims *auth.Claims) *auth.Middleware {
	return auth.NewMiddleware(&stubAuthService{claims: claims}, zap.NewNop())
}

func testMarketplaceCfg() *config.MarketplaceConfig {
	return &config.MarketplaceConfig{DefaultPageSize: 10, MaxPageSize: 100}
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer test-token")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) ApiResponse {
	t.Helper()
	var envelope ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

// stubSubmissionService returns canned values and records the arguments of
// the last call.
type stubSubmissionService struct {
	app        *models.Application
	apps       []*models.Application
	total      int64
	categories []string
	err        error

	lastTeamID uuid.UUID
	lastUserID uuid.UUID
	lastAppID  uuid.UUID
	lastReq    services.SubmitRequest
	lastMeta   services.SubmissionMetadata
	lastPreset *bool
	lastLimit  int
	lastOffset int
}

func (s *stubSubmissionService) Submit(ctx context.Context, authorTeamID, userID uuid.UUID, req services.SubmitRequest) (*models.Application, error) {
	s.lastTeamID, s.lastUserID, s.lastReq = authorTeamID, userID, req
	return s.app, s.err
}

func (s *stubSubmissionService) Resubmit(ctx context.Context, appID, authorTeamID, userID uuid.UUID, req services.SubmitRequest) (*models.Application, error) {
	s.lastAppID, s.lastTeamID, s.lastUserID, s.lastReq = appID, authorTeamID, userID, req
	return s.app, s.err
}

func (s *stubSubmissionService) Approve(ctx context.Context, appID uuid.UUID, isPreset *bool) (*models.Application, error) {
	s.lastAppID, s.lastPreset = appID, isPreset
	return s.app, s.err
}

func (s *stubSubmissionService) Reject(ctx context.Context, appID uuid.UUID) (*models.Application, error) {
	s.lastAppID = appID
	return s.app, s.err
}

func (s *stubSubmissionService) Archive(ctx context.Context, appID, actorTeamID uuid.UUID) (*models.Application, error) {
	s.lastAppID, s.lastTeamID = appID, actorTeamID
	return s.app, s.err
}

func (s *stubSubmissionService) UpdateSubmission(ctx context.Context, appID uuid.UUID, meta services.SubmissionMetadata) (*models.Application, error) {
	s.lastAppID, s.lastMeta = appID, meta
	return s.app, s.err
}

func (s *stubSubmissionService) ListSubmissions(ctx context.Context, limit, offset int) ([]*models.Application, int64, error) {
	s.lastLimit, s.lastOffset = limit, offset
	return s.apps, s.total, s.err
}

func (s *stubSubmissionService) ListDeveloperSubmissions(ctx context.Context, authorTeamID uuid.UUID, limit, offset int) ([]*models.Application, int64, error) {
	s.lastTeamID, s.lastLimit, s.lastOffset = authorTeamID, limit, offset
	return s.apps, s.total, s.err
}

func (s *stubSubmissionService) ListApprovedApps(ctx context.Context, limit, offset int) ([]*models.Application, int64, error) {
	s.lastLimit, s.lastOffset = limit, offset
	return s.apps, s.total, s.err
}

func (s *stubSubmissionService) GetAppDetails(ctx context.Context, appID uuid.UUID) (*models.Application, error) {
	s.lastAppID = appID
	return s.app, s.err
}

func (s *stubSubmissionService) ListCategories(ctx context.Context) ([]string, error) {
	return s.categories, s.err
}

func (s *stubSubmissionService) SetPreset(ctx context.Context, appID uuid.UUID, isPreset bool) (*models.Application, error) {
	s.lastAppID = appID
	return s.app, s.err
}

var _ services.SubmissionService = (*stubSubmissionService)(nil)

type stubInstallService struct {
	inst      *models.Installation
	installed []*models.Installation
	failed    []services.FailedInstallation
	err       error

	lastVersionID uuid.UUID
	lastTeamID    uuid.UUID
	lastUserID    uuid.UUID
}

func (s *stubInstallService) Install(ctx context.Context, versionID, teamID, userID uuid.UUID) (*models.Installation, error) {
	s.lastVersionID, s.lastTeamID, s.lastUserID = versionID, teamID, userID
	return s.inst, s.err
}

func (s *stubInstallService) EnsureInstalled(ctx context.Context, appID, teamID, userID uuid.UUID) (*models.Installation, error) {
	s.lastTeamID, s.lastUserID = teamID, userID
	return s.inst, s.err
}

func (s *stubInstallService) InstallPresetApps(ctx context.Context, teamID, userID uuid.UUID) ([]*models.Installation, []services.FailedInstallation) {
	s.lastTeamID, s.lastUserID = teamID, userID
	return s.installed, s.failed
}

func (s *stubInstallService) InstallToAllTeams(ctx context.Context, versionID, userID uuid.UUID) ([]*models.Installation, []services.FailedInstallation, error) {
	s.lastVersionID, s.lastUserID = versionID, userID
	return s.installed, s.failed, s.err
}

var _ services.InstallService = (*stubInstallService)(nil)

type stubUpdateService struct {
	inst     *models.Installation
	upgraded []*models.Installation
	failed   []services.FailedInstallation
	flagged  int64
	err      error

	lastInstallationID uuid.UUID
	lastAppID          uuid.UUID
}

func (s *stubUpdateService) FlagOutdated(ctx context.Context, appID, newVersionID uuid.UUID) (int64, error) {
	s.lastAppID = appID
	return s.flagged, s.err
}

func (s *stubUpdateService) HandleVersionApproved(ctx context.Context, payload any) error {
	return s.err
}

func (s *stubUpdateService) Upgrade(ctx context.Context, installationID uuid.UUID) (*models.Installation, error) {
	s.lastInstallationID = installationID
	return s.inst, s.err
}

func (s *stubUpdateService) UpgradeAll(ctx context.Context, appID uuid.UUID) ([]*models.Installation, []services.FailedInstallation, error) {
	s.lastAppID = appID
	return s.upgraded, s.failed, s.err
}

var _ services.UpdateService = (*stubUpdateService)(nil)

type stubLookupService struct {
	inst          *models.Installation
	version       *models.AppVersion
	installations []*models.Installation
	err           error
}

func (s *stubLookupService) GetInstallationByAssetID(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (*models.Installation, error) {
	return s.inst, s.err
}

func (s *stubLookupService) GetVersionBySourceAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (*models.AppVersion, error) {
	return s.version, s.err
}

func (s *stubLookupService) GetVersionByID(ctx context.Context, versionID uuid.UUID) (*models.AppVersion, error) {
	return s.version, s.err
}

func (s *stubLookupService) ListInstallations(ctx context.Context, teamID uuid.UUID) ([]*models.Installation, error) {
	return s.installations, s.err
}

var _ services.LookupService = (*stubLookupService)(nil)

type stubPlacementService struct {
	placements []services.PresetPlacement
	err        error
}

func (s *stubPlacementService) ListPresetPlacements(ctx context.Context, teamID uuid.UUID) ([]services.PresetPlacement, error) {
	return s.placements, s.err
}

var _ services.PlacementService = (*stubPlacementService)(nil)
