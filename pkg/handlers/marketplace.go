package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/appforge-labs/marketplace-engine/pkg/auth"
	"github.com/appforge-labs/marketplace-engine/pkg/config"
	"github.com/appforge-labs/marketplace-engine/pkg/models"
	"github.com/appforge-labs/marketplace-engine/pkg/services"
)

// MarketplaceHandler handles the consumer side of the marketplace: browsing
// published applications, installing, upgrading, and the admin batch
// operations.
type MarketplaceHandler struct {
	submissions services.SubmissionService
	installs    services.InstallService
	updates     services.UpdateService
	lookup      services.LookupService
	placements  services.PlacementService
	cfg         *config.MarketplaceConfig
	logger      *zap.Logger
}

// NewMarketplaceHandler creates a new marketplace handler.
func NewMarketplaceHandler(
	submissions services.SubmissionService,
	installs services.InstallService,
	updates services.UpdateService,
	lookup services.LookupService,
	placements services.PlacementService,
	cfg *config.MarketplaceConfig,
	logger *zap.Logger,
) *MarketplaceHandler {
	return &MarketplaceHandler{
		submissions: submissions,
		installs:    installs,
		updates:     updates,
		lookup:      lookup,
		placements:  placements,
		cfg:         cfg,
		logger:      logger,
	}
}

// RegisterRoutes registers the marketplace handler's routes on the given mux.
func (h *MarketplaceHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /marketplace/apps", authMiddleware.RequireAuth(h.Browse))
	mux.HandleFunc("GET /marketplace/apps/categories", authMiddleware.RequireAuth(h.Categories))
	mux.HandleFunc("GET /marketplace/apps/installed", authMiddleware.RequireAuth(h.ListInstalled))
	mux.HandleFunc("GET /marketplace/apps/placements", authMiddleware.RequireAuth(h.Placements))
	mux.HandleFunc("GET /marketplace/apps/{appId}", authMiddleware.RequireAuth(h.Detail))
	mux.HandleFunc("POST /marketplace/apps/install/{versionId}", authMiddleware.RequireAuth(h.Install))
	mux.HandleFunc("POST /marketplace/apps/presets/install", authMiddleware.RequireAuth(h.InstallPresets))
	mux.HandleFunc("POST /marketplace/apps/installations/{installationId}/upgrade", authMiddleware.RequireAuth(h.Upgrade))

	mux.HandleFunc("POST /marketplace/admin/apps/{versionId}/install-all", authMiddleware.RequireAdmin(h.InstallAll))
	mux.HandleFunc("POST /marketplace/admin/apps/{appId}/upgrade-all", authMiddleware.RequireAdmin(h.UpgradeAll))
}

// Browse handles GET /marketplace/apps
func (h *MarketplaceHandler) Browse(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParsePagination(r, h.cfg)

	apps, total, err := h.submissions.ListApprovedApps(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list approved apps", zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}

	page := PagedData{Items: apps, Total: total, Limit: limit, Offset: offset}
	h.write(w, http.StatusOK, page)
}

// Categories handles GET /marketplace/apps/categories
func (h *MarketplaceHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.submissions.ListCategories(r.Context())
	if err != nil {
		h.logger.Error("Failed to list categories", zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}
	if categories == nil {
		categories = []string{}
	}
	h.write(w, http.StatusOK, map[string]any{"categories": categories})
}

// ListInstalled handles GET /marketplace/apps/installed
func (h *MarketplaceHandler) ListInstalled(w http.ResponseWriter, r *http.Request) {
	teamID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	installations, err := h.lookup.ListInstallations(r.Context(), teamID)
	if err != nil {
		h.logger.Error("Failed to list installations",
			zap.String("team_id", teamID.String()),
			zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}
	h.write(w, http.StatusOK, map[string]any{"installations": installations})
}

// Placements handles GET /marketplace/apps/placements
func (h *MarketplaceHandler) Placements(w http.ResponseWriter, r *http.Request) {
	teamID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	placements, err := h.placements.ListPresetPlacements(r.Context(), teamID)
	if err != nil {
		h.logger.Error("Failed to list preset placements",
			zap.String("team_id", teamID.String()),
			zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}
	h.write(w, http.StatusOK, map[string]any{"placements": placements})
}

// Detail handles GET /marketplace/apps/{appId}
func (h *MarketplaceHandler) Detail(w http.ResponseWriter, r *http.Request) {
	appID, ok := ParseAppID(w, r, h.logger)
	if !ok {
		return
	}

	app, err := h.submissions.GetAppDetails(r.Context(), appID)
	if err != nil {
		h.logger.Error("Failed to get app details",
			zap.String("app_id", appID.String()),
			zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}
	h.write(w, http.StatusOK, app)
}

// Install handles POST /marketplace/apps/install/{versionId}
func (h *MarketplaceHandler) Install(w http.ResponseWriter, r *http.Request) {
	teamID, userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	versionID, ok := ParseVersionID(w, r, h.logger)
	if !ok {
		return
	}

	installation, err := h.installs.Install(r.Context(), versionID, teamID, userID)
	if err != nil {
		h.logger.Error("Failed to install version",
			zap.String("version_id", versionID.String()),
			zap.String("team_id", teamID.String()),
			zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}
	h.write(w, http.StatusCreated, installation)
}

// InstallPresets handles POST /marketplace/apps/presets/install
func (h *MarketplaceHandler) InstallPresets(w http.ResponseWriter, r *http.Request) {
	teamID, userID, ok := h.identity(w, r)
	if !ok {
		return
	}

	installed, failed := h.installs.InstallPresetApps(r.Context(), teamID, userID)
	h.write(w, http.StatusOK, map[string]any{
		"installed":           installed,
		"failedInstallations": failed,
	})
}

// Upgrade handles POST /marketplace/apps/installations/{installationId}/upgrade
func (h *MarketplaceHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	teamID, _, ok := h.identity(w, r)
	if !ok {
		return
	}
	installationID, ok := ParseInstallationID(w, r, h.logger)
	if !ok {
		return
	}

	// The installation must belong to the caller's team.
	existing, err := h.lookup.ListInstallations(r.Context(), teamID)
	if err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}
	if !ownsInstallation(existing, installationID) {
		if err := ErrorResponse(w, http.StatusForbidden, "forbidden", "Installation belongs to another team"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	installation, err := h.updates.Upgrade(r.Context(), installationID)
	if err != nil {
		h.logger.Error("Failed to upgrade installation",
			zap.String("installation_id", installationID.String()),
			zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}
	h.write(w, http.StatusOK, installation)
}

// InstallAll handles POST /marketplace/admin/apps/{versionId}/install-all
func (h *MarketplaceHandler) InstallAll(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	versionID, ok := ParseVersionID(w, r, h.logger)
	if !ok {
		return
	}

	installed, failed, err := h.installs.InstallToAllTeams(r.Context(), versionID, userID)
	if err != nil {
		h.logger.Error("Failed to install to all teams",
			zap.String("version_id", versionID.String()),
			zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}
	h.write(w, http.StatusOK, map[string]any{
		"installed":           installed,
		"failedInstallations": failed,
	})
}

// UpgradeAll handles POST /marketplace/admin/apps/{appId}/upgrade-all
func (h *MarketplaceHandler) UpgradeAll(w http.ResponseWriter, r *http.Request) {
	appID, ok := ParseAppID(w, r, h.logger)
	if !ok {
		return
	}

	upgraded, failed, err := h.updates.UpgradeAll(r.Context(), appID)
	if err != nil {
		h.logger.Error("Failed to upgrade all installations",
			zap.String("app_id", appID.String()),
			zap.Error(err))
		HandleServiceError(w, h.logger, err)
		return
	}
	h.write(w, http.StatusOK, map[string]any{
		"upgraded":       upgraded,
		"failedUpgrades": failed,
	})
}

func (h *MarketplaceHandler) identity(w http.ResponseWriter, r *http.Request) (teamID, userID uuid.UUID, ok bool) {
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

func (h *MarketplaceHandler) write(w http.ResponseWriter, status int, data any) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func ownsInstallation(installations []*models.Installation, id uuid.UUID) bool {
	for _, inst := range installations {
		if inst.ID == id {
			return true
		}
	}
	return false
}
