package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/appforge-labs/marketplace-engine/pkg/auth"
	"github.com/appforge-labs/marketplace-engine/pkg/models"
	"github.com/appforge-labs/marketplace-engine/pkg/services"
)

// LookupHandler exposes the reverse lookups other modules use for permission
// checks on marketplace-managed assets: which installation owns a
// tenant-local asset id, and which published version a live asset was
// packaged under.
type LookupHandler struct {
	lookup services.LookupService
	logger *zap.Logger
}

// NewLookupHandler creates a new lookup handler.
func NewLookupHandler(lookup services.LookupService, logger *zap.Logger) *LookupHandler {
	return &LookupHandler{lookup: lookup, logger: logger}
}

// RegisterRoutes registers the lookup handler's routes on the given mux.
func (h *LookupHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /marketplace/lookup/installation", authMiddleware.RequireAuth(h.InstallationByAsset))
	mux.HandleFunc("GET /marketplace/lookup/version", authMiddleware.RequireAuth(h.VersionBySourceAsset))
	mux.HandleFunc("GET /marketplace/lookup/versions/{versionId}", authMiddleware.RequireAuth(h.VersionByID))
}

// InstallationByAsset handles GET /marketplace/lookup/installation?assetId=&assetType=
func (h *LookupHandler) InstallationByAsset(w http.ResponseWriter, r *http.Request) {
	assetID, assetType, ok := h.assetQuery(w, r)
	if !ok {
		return
	}

	installation, err := h.lookup.GetInstallationByAssetID(r.Context(), assetID, assetType)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}
	h.write(w, installation)
}

// VersionBySourceAsset handles GET /marketplace/lookup/version?assetId=&assetType=
func (h *LookupHandler) VersionBySourceAsset(w http.ResponseWriter, r *http.Request) {
	assetID, assetType, ok := h.assetQuery(w, r)
	if !ok {
		return
	}

	version, err := h.lookup.GetVersionBySourceAsset(r.Context(), assetID, assetType)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}
	h.write(w, version)
}

// VersionByID handles GET /marketplace/lookup/versions/{versionId}
func (h *LookupHandler) VersionByID(w http.ResponseWriter, r *http.Request) {
	versionID, ok := ParseVersionID(w, r, h.logger)
	if !ok {
		return
	}

	version, err := h.lookup.GetVersionByID(r.Context(), versionID)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}
	h.write(w, version)
}

func (h *LookupHandler) assetQuery(w http.ResponseWriter, r *http.Request) (uuid.UUID, models.AssetType, bool) {
	assetID, err := uuid.Parse(r.URL.Query().Get("assetId"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_asset_id", "Invalid or missing assetId"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, "", false
	}

	assetType := models.AssetType(r.URL.Query().Get("assetType"))
	if assetType == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_asset_type", "assetType is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, "", false
	}
	return assetID, assetType, true
}

func (h *LookupHandler) write(w http.ResponseWriter, data any) {
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
