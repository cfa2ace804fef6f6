package auth

import (
	"time"

	"github.com/google/uuid"

	"clinicflow/clinic"
)

// TokenRequest names the staff member a token is minted for.
type TokenRequest struct {
	ActorID uuid.UUID
	Role    clinic.Role
	// TTL overrides the service default when positive.
	TTL time.Duration
}

// IssuedToken is a signed token and the instant it stops being accepted.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}
