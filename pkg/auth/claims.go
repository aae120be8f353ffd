// Package auth provides JWT-based authentication for the marketplace engine.
// Tokens are validated against the configured JWKS endpoints.
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
)

// Claims represents the JWT claims this service understands. RegisteredClaims
// carries the standard fields (sub, iss, exp); the custom claims identify the
// caller's team and marketplace privileges.
type Claims struct {
	jwt.RegisteredClaims
	TeamID  string `json:"tid,omitempty"`   // Team UUID the caller belongs to
	Email   string `json:"email,omitempty"` // User email address
	IsAdmin bool   `json:"madm,omitempty"`  // Marketplace review/admin privileges
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// ExtractIdentity extracts team ID and user ID from JWT claims in context.
// Returns an error if not authenticated or claims are malformed.
func ExtractIdentity(ctx context.Context) (teamID, userID uuid.UUID, err error) {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("authentication required: no claims in context")
	}

	if claims.TeamID == "" {
		return uuid.Nil, uuid.Nil, fmt.Errorf("missing team ID in JWT claims")
	}
	teamID, err = uuid.Parse(claims.TeamID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid team ID format: %w", err)
	}

	if claims.Subject == "" {
		return uuid.Nil, uuid.Nil, fmt.Errorf("missing user ID in JWT claims")
	}
	userID, err = uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid user ID format: %w", err)
	}

	return teamID, userID, nil
}
