package models

import (
	"time"

	"github.com/google/uuid"
)

// Team is one tenant in the directory. The marketplace uses it only to
// enumerate install targets for preset rollout.
type Team struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
