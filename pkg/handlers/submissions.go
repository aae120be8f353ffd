package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/appforge-labs/marketplace-engine/pkg/auth"
	"github.com/appforge-labs/marketplace-engine/pkg/config"
	"github.com/appforge-labs/marketplace-engine/pkg/models"
	"github.com/appforge-labs/marketplace-engine/pkg/services"
)

// SubmissionHandler handles submission and review HTTP requests.
type SubmissionHandler struct {
	submissions services.SubmissionService
	cfg         *config.MarketplaceConfig
	logger      *zap.Logger
}

// NewSubmissionHandler creates a new submission handler.
func NewSubmissionHandler(submissions services.SubmissionService, cfg *config.MarketplaceConfig, logger *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		submissions: submissions,
		cfg:         cfg,
		logger:      logger,
	}
}

// RegisterRoutes registers the submission handler's routes on the given mux.
func (h *SubmissionHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /marketplace/submissions", authMiddleware.RequireAuth(h.Submit))
	mux.HandleFunc("PUT /marketplace/submissions/{appId}/resubmit", authMiddleware.RequireAuth(h.Resubmit))
	mux.HandleFunc("PUT /marketplace/submissions/{appId}/archive", authMiddleware.RequireAuth(h.Archive))
	mux.HandleFunc("GET /marketplace/submissions/my-submissions", authMiddleware.RequireAuth(h.ListMine))

	mux.HandleFunc("GET /marketplace/admin/submissions", authMiddleware.RequireAdmin(h.ListPending))
	mux.HandleFunc("PUT /marketplace/admin/submissions/{appId}", authMiddleware.RequireAdmin(h.UpdateMetadata))
	mux.HandleFunc("PUT /marketplace/admin/submissions/{appId}/approve", authMiddleware.RequireAdmin(h.Approve))
	mux.HandleFunc("PUT /marketplace/admin/submissions/{appId}/reject", authMiddleware.RequireAdmin(h.Reject))
	mux.HandleFunc("PUT /marketplace/admin/submissions/{appId}/preset", authMiddleware.RequireAdmin(h.SetPreset))
}

// SubmitRequest is the request body for submissions and resubmissions.
type SubmitRequest struct {
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	IconURL      string             `json:"iconUrl"`
	AssetType    models.AssetType   `json:"assetType"`
	Categories   []string           `json:"categories"`
	Version      string             `json:"version"`
	ReleaseNotes string             `json:"releaseNotes"`
	Assets       []SubmitAssetEntry `json:"assets"`
}

// SubmitAssetEntry names one live asset, at an explicit version, to package.
type SubmitAssetEntry struct {
	AssetType models.AssetType `json:"assetType"`
	AssetID   string           `json:"assetId"`
	Version   int              `json:"version"`
}

func (r SubmitRequest) toService() (services.SubmitRequest, error) {
	refs := make([]models.SourceAssetReference, 0, len(r.Assets))
	for _, entry := range r.Assets {
		id, err := uuid.Parse(entry.AssetID)
		if err != nil {
			return services.SubmitRequest{}, err
		}
		refs = append(refs, models.SourceAssetReference{
			AssetType: entry.AssetType,
			AssetID:   id,
			Version:   entry.Version,
		})
	}
	return services.SubmitRequest{
		Name:         r.Name,
		Description:  r.Description,
		IconURL:      r.IconURL,
		AssetType:    r.AssetType,
		Categories:   r.Categories,
		Version:      r.Version,
		ReleaseNotes: r.ReleaseNotes,
		AssetRefs:    refs,
	}, nil
}

// Submit handles POST /marketplace/submissions
func (h *SubmissionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	teamID, userID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid_request", "Invalid request body")
		return
	}
	svcReq, err := req.toService()
	if err != nil {
		h.badRequest(w, "invalid_asset_id", "Invalid asset ID format")
		return
	}

	app, err := h.submissions.Submit(r.Context(), teamID, userID, svcReq)
	if err != nil {
		h.logger.Error("Failed to submit application",
			zap.String("team_id", teamID.String()),
			zap.String("name", req.Name),
			zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}

	h.writeApp(w, http.StatusCreated, app)
}

// Resubmit handles PUT /marketplace/submissions/{appId}/resubmit
func (h *SubmissionHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	teamID, userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	appID, ok := ParseAppID(w, r, h.logger)
	if !ok {
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid_request", "Invalid request body")
		return
	}
	svcReq, err := req.toService()
	if err != nil {
		h.badRequest(w, "invalid_asset_id", "Invalid asset ID format")
		return
	}

	app, err := h.submissions.Resubmit(r.Context(), appID, teamID, userID, svcReq)
	if err != nil {
		h.logger.Error("Failed to resubmit application",
			zap.String("app_id", appID.String()),
			zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}

	h.writeApp(w, http.StatusOK, app)
}

// Archive handles PUT /marketplace/submissions/{appId}/archive
func (h *SubmissionHandler) Archive(w http.ResponseWriter, r *http.Request) {
	teamID, _, ok := h.identity(w, r)
	if !ok {
		return
	}
	appID, ok := ParseAppID(w, r, h.logger)
	if !ok {
		return
	}

	app, err := h.submissions.Archive(r.Context(), appID, teamID)
	if err != nil {
		h.logger.Error("Failed to archive application",
			zap.String("app_id", appID.String()),
			zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}

	h.writeApp(w, http.StatusOK, app)
}

// ListMine handles GET /marketplace/submissions/my-submissions
func (h *SubmissionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	teamID, _, ok := h.identity(w, r)
	if !ok {
		return
	}
	limit, offset := ParsePagination(r, h.cfg)

	apps, total, err := h.submissions.ListDeveloperSubmissions(r.Context(), teamID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list developer submissions",
			zap.String("team_id", teamID.String()),
			zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}

	h.writePage(w, apps, total, limit, offset)
}

// ListPending handles GET /marketplace/admin/submissions
func (h *SubmissionHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParsePagination(r, h.cfg)

	apps, total, err := h.submissions.ListSubmissions(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list pending submissions", zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}

	h.writePage(w, apps, total, limit, offset)
}

// UpdateMetadataRequest is the request body for pre-approval metadata edits.
type UpdateMetadataRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	IconURL     string   `json:"iconUrl"`
	Categories  []string `json:"categories"`
}

// UpdateMetadata handles PUT /marketplace/admin/submissions/{appId}
func (h *SubmissionHandler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	appID, ok := ParseAppID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid_request", "Invalid request body")
		return
	}

	app, err := h.submissions.UpdateSubmission(r.Context(), appID, services.SubmissionMetadata{
		Name:        req.Name,
		Description: req.Description,
		IconURL:     req.IconURL,
		Categories:  req.Categories,
	})
	if err != nil {
		h.logger.Error("Failed to update submission metadata",
			zap.String("app_id", appID.String()),
			zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}

	h.writeApp(w, http.StatusOK, app)
}

// ApproveRequest is the request body for approvals.
type ApproveRequest struct {
	IsPreset *bool `json:"isPreset,omitempty"`
}

// Approve handles PUT /marketplace/admin/submissions/{appId}/approve
func (h *SubmissionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	appID, ok := ParseAppID(w, r, h.logger)
	if !ok {
		return
	}

	var req ApproveRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.badRequest(w, "invalid_request", "Invalid request body")
			return
		}
	}

	app, err := h.submissions.Approve(r.Context(), appID, req.IsPreset)
	if err != nil {
		h.logger.Error("Failed to approve application",
			zap.String("app_id", appID.String()),
			zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}

	h.writeApp(w, http.StatusOK, app)
}

// Reject handles PUT /marketplace/admin/submissions/{appId}/reject
func (h *SubmissionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	appID, ok := ParseAppID(w, r, h.logger)
	if !ok {
		return
	}

	app, err := h.submissions.Reject(r.Context(), appID)
	if err != nil {
		h.logger.Error("Failed to reject application",
			zap.String("app_id", appID.String()),
			zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}

	h.writeApp(w, http.StatusOK, app)
}

// SetPresetRequest is the request body for preset flag changes.
type SetPresetRequest struct {
	IsPreset bool `json:"isPreset"`
}

// SetPreset handles PUT /marketplace/admin/submissions/{appId}/preset
func (h *SubmissionHandler) SetPreset(w http.ResponseWriter, r *http.Request) {
	appID, ok := ParseAppID(w, r, h.logger)
	if !ok {
		return
	}

	var req SetPresetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid_request", "Invalid request body")
		return
	}

	app, err := h.submissions.SetPreset(r.Context(), appID, req.IsPreset)
	if err != nil {
		h.logger.Error("Failed to set preset flag",
			zap.String("app_id", appID.String()),
			zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}

	h.writeApp(w, http.StatusOK, app)
}

func (h *SubmissionHandler) identity(w http.ResponseWriter, r *http.Request) (teamID, userID uuid.UUID, ok bool) {
	tid, uid, err := auth.ExtractIdentity(r.Context())
	if err != nil {
		h.logger.Warn("Failed to extract identity", zap.Error(err))
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Invalid identity claims"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, uuid.Nil, false
	}
	return tid, uid, true
}

func (h *SubmissionHandler) writeApp(w http.ResponseWriter, status int, app *models.Application) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: app}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *SubmissionHandler) writePage(w http.ResponseWriter, items any, total int64, limit, offset int) {
	page := PagedData{Items: items, Total: total, Limit: limit, Offset: offset}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: page}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *SubmissionHandler) badRequest(w http.ResponseWriter, code, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
