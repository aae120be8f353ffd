package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/appforge-labs/marketplace-engine/pkg/apperrors"
)

// ApiResponse is the JSON envelope every endpoint returns.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// PagedData wraps a listing with its pagination window.
type PagedData struct {
	Items  any   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(ApiResponse{
		Success: false,
		Error:   errorCode,
		Message: message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// HandleServiceError maps a service error onto the HTTP taxonomy and writes
// the response. Integrity violations deliberately surface as 500s: they mean
// a handler implementation bug, not bad user input.
func HandleServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var statusCode int
	var errorCode string
	message := err.Error()

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		statusCode, errorCode = http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrValidation):
		statusCode, errorCode = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, apperrors.ErrUnsupportedAssetType):
		statusCode, errorCode = http.StatusBadRequest, "unsupported_asset_type"
	case errors.Is(err, apperrors.ErrInvalidState):
		statusCode, errorCode = http.StatusConflict, "invalid_state"
	case errors.Is(err, apperrors.ErrUnauthorized):
		statusCode, errorCode = http.StatusForbidden, "forbidden"
	default:
		statusCode, errorCode = http.StatusInternalServerError, "internal_error"
		message = "Internal server error"
	}

	if err := ErrorResponse(w, statusCode, errorCode, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
