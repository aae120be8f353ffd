package testhelpers

import (
	"encoding/base64"
	"fmt"
)

// GenerateTestJWT creates an unsigned token (alg: none) for use when
// signature verification is disabled. The claims carry the caller's user id
// (sub) and team id (tid); admin grants the marketplace review privileges.
func GenerateTestJWT(userID, teamID string, admin bool) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	payload := fmt.Sprintf(`{"sub":"%s"`, userID)
	if teamID != "" {
		payload += fmt.Sprintf(`,"tid":"%s"`, teamID)
	}
	if admin {
		payload += `,"madm":true`
	}
	payload += "}"

	encodedPayload := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return fmt.Sprintf("%s.%s.", header, encodedPayload)
}

// GenerateTestJWTWithBearer returns the token with the "Bearer " prefix for
// the Authorization header.
func GenerateTestJWTWithBearer(userID, teamID string, admin bool) string {
	return "Bearer " + GenerateTestJWT(userID, teamID, admin)
}
