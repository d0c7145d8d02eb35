package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered account. Usernames are the identity the
// realtime layer routes by; the UUID only matters to the REST surface.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	LastSeenAt   time.Time `json:"last_seen_at,omitempty"`
}
