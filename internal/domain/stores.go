package domain

import (
	"context"

	"github.com/google/uuid"
)

// MetadataRegistry is the relational system of record for organizations and
// their admin credentials. All mutations are atomic with respect to
// concurrent readers: no reader ever observes a half-written
// organization/credential pair.
type MetadataRegistry interface {
	// CreateOrganizationWithAdmin inserts the organization and its first
	// admin credential as one atomic unit. Returns store.ErrDuplicateName or
	// store.ErrDuplicateEmail on unique-constraint violations.
	CreateOrganizationWithAdmin(ctx context.Context, name, collectionID, email, passwordHash string) (*Organization, error)

	// GetByName returns store.ErrNotFound if no organization has this name.
	GetByName(ctx context.Context, name string) (*Organization, error)

	// EmailExists reports whether any admin credential uses this email.
	EmailExists(ctx context.Context, email string) (bool, error)

	// Rename updates the name and collection identifier together. Returns
	// store.ErrNotFound or store.ErrDuplicateName.
	Rename(ctx context.Context, name, newName, newCollectionID string) (*Organization, error)

	// UpdatePrimaryAdmin updates the first-created admin credential of the
	// organization. Empty email or passwordHash leaves that field unchanged.
	// Returns store.ErrNotFound if the organization has no admin.
	UpdatePrimaryAdmin(ctx context.Context, orgID uuid.UUID, email, passwordHash string) error

	// Delete removes the organization and cascades credential removal.
	// Returns store.ErrNotFound if absent.
	Delete(ctx context.Context, name string) error

	// VerifyCredential checks a password against the stored hash. Unknown
	// email and wrong password both return store.ErrInvalidCredentials, at
	// comparable cost, so callers cannot enumerate accounts.
	VerifyCredential(ctx context.Context, email, password string) (*AdminIdentity, error)
}

// TenantCollectionStore owns one isolated document collection per tenant,
// addressed by DeriveCollectionID. Rename and Delete are atomic at the
// namespace level; nothing spans both stores atomically.
type TenantCollectionStore interface {
	// Create derives the collection id from name, creates the namespace and
	// seeds the marker document. Returns store.ErrAlreadyExists if the id is
	// taken.
	Create(ctx context.Context, name string) (string, error)

	// Rename moves all documents to the collection derived from newName.
	// Returns store.ErrNotFound if the old collection is absent,
	// store.ErrAlreadyExists if the new id is taken.
	Rename(ctx context.Context, oldName, newName string) (string, error)

	// Delete drops the collection if present. Reports whether anything was
	// deleted; an absent collection is not an error.
	Delete(ctx context.Context, name string) (bool, error)

	Exists(ctx context.Context, name string) (bool, error)
}
