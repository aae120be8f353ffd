package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
	ErrMissingTeamID        = errors.New("missing team ID in token")
	ErrNotAdmin             = errors.New("admin privileges required")
)

// AuthService validates incoming requests. The abstraction keeps HTTP
// handling separate from token validation logic.
type AuthService interface {
	// ValidateRequest extracts and validates the Bearer JWT from the request.
	ValidateRequest(r *http.Request) (*Claims, error)

	// RequireTeamID validates that the claims carry a team ID.
	RequireTeamID(claims *Claims) error

	// RequireAdmin validates that the claims carry the admin flag.
	RequireAdmin(claims *Claims) error
}

type authService struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthService creates a new AuthService with the given token validator.
func NewAuthService(validator TokenValidator, logger *zap.Logger) AuthService {
	return &authService{
		validator: validator,
		logger:    logger,
	}
}

// ValidateRequest extracts and validates the Bearer JWT from the request.
func (s *authService) ValidateRequest(r *http.Request) (*Claims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		s.logger.Debug("No JWT found in request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		return nil, ErrMissingAuthorization
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		s.logger.Debug("Invalid Authorization header format",
			zap.String("path", r.URL.Path))
		return nil, ErrInvalidAuthFormat
	}

	claims, err := s.validator.ValidateToken(parts[1])
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path))
		return nil, err
	}

	return claims, nil
}

// RequireTeamID validates that the claims carry a team ID.
func (s *authService) RequireTeamID(claims *Claims) error {
	if claims.TeamID == "" {
		return ErrMissingTeamID
	}
	return nil
}

// RequireAdmin validates that the claims carry the admin flag.
func (s *authService) RequireAdmin(claims *Claims) error {
	if !claims.IsAdmin {
		return ErrNotAdmin
	}
	return nil
}
