package domain

import (
	"time"

	"github.com/google/uuid"
)

type Organization struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	CollectionID string    `json:"collection_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type AdminCredential struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// AdminIdentity is the result of a successful credential check. It carries
// everything the token issuer embeds in a session token.
type AdminIdentity struct {
	AdminID          uuid.UUID `json:"admin_id"`
	Email            string    `json:"email"`
	OrganizationID   uuid.UUID `json:"organization_id"`
	OrganizationName string    `json:"organization_name"`
}
