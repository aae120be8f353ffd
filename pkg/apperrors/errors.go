package apperrors

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidState         = errors.New("invalid state transition")
	ErrValidation           = errors.New("validation failed")
	ErrIntegrity            = errors.New("integrity violation")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrUnsupportedAssetType = errors.New("unsupported asset type")
)
