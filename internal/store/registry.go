package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/orgforge/orgforge/internal/domain"
)

// Registry is the PostgreSQL implementation of domain.MetadataRegistry.
type Registry struct {
	db *pgxpool.Pool
}

func NewRegistry(db *pgxpool.Pool) *Registry {
	return &Registry{db: db}
}

// dummyHash is a valid bcrypt hash compared against when an email is unknown,
// so that failed logins cost the same whether or not the account exists.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func (r *Registry) CreateOrganizationWithAdmin(ctx context.Context, name, collectionID, email, passwordHash string) (*domain.Organization, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	org := &domain.Organization{Name: name, CollectionID: collectionID}
	err = tx.QueryRow(ctx,
		`INSERT INTO organizations (name, collection_id) VALUES ($1, $2)
		 RETURNING id, created_at, updated_at`,
		name, collectionID,
	).Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, mapUniqueViolation(err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO admin_users (organization_id, email, password_hash) VALUES ($1, $2, $3)`,
		org.ID, email, passwordHash,
	)
	if err != nil {
		return nil, mapUniqueViolation(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return org, nil
}

func (r *Registry) GetByName(ctx context.Context, name string) (*domain.Organization, error) {
	org := &domain.Organization{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, collection_id, created_at, updated_at
		 FROM organizations WHERE name = $1`,
		name,
	).Scan(&org.ID, &org.Name, &org.CollectionID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return org, nil
}

func (r *Registry) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM admin_users WHERE email = $1)`,
		email,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *Registry) Rename(ctx context.Context, name, newName, newCollectionID string) (*domain.Organization, error) {
	org := &domain.Organization{Name: newName, CollectionID: newCollectionID}
	err := r.db.QueryRow(ctx,
		`UPDATE organizations
		 SET name = $2, collection_id = $3, updated_at = now()
		 WHERE name = $1
		 RETURNING id, created_at, updated_at`,
		name, newName, newCollectionID,
	).Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, mapUniqueViolation(err)
	}
	return org, nil
}

// UpdatePrimaryAdmin mutates the first-created admin credential. When an
// organization has accumulated multiple admins, the oldest one is the
// authoritative target for credential updates.
func (r *Registry) UpdatePrimaryAdmin(ctx context.Context, orgID uuid.UUID, email, passwordHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE admin_users
		 SET email = COALESCE(NULLIF($2, ''), email),
		     password_hash = COALESCE(NULLIF($3, ''), password_hash)
		 WHERE id = (
		     SELECT id FROM admin_users
		     WHERE organization_id = $1
		     ORDER BY created_at, id
		     LIMIT 1
		 )`,
		orgID, email, passwordHash,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Registry) Delete(ctx context.Context, name string) error {
	// admin_users rows go with the organization via ON DELETE CASCADE.
	tag, err := r.db.Exec(ctx, `DELETE FROM organizations WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Registry) VerifyCredential(ctx context.Context, email, password string) (*domain.AdminIdentity, error) {
	var (
		id   domain.AdminIdentity
		hash string
	)
	err := r.db.QueryRow(ctx,
		`SELECT a.id, a.email, a.password_hash, o.id, o.name
		 FROM admin_users a
		 JOIN organizations o ON o.id = a.organization_id
		 WHERE a.email = $1`,
		email,
	).Scan(&id.AdminID, &id.Email, &hash, &id.OrganizationID, &id.OrganizationName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Burn a comparison anyway so this path costs the same as a
			// wrong password.
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &id, nil
}

// mapUniqueViolation translates postgres unique-constraint violations into
// the store's typed conflicts, keyed by constraint name.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "admin_users_email_key":
			return ErrDuplicateEmail
		default:
			// organizations_name_key or organizations_collection_id_key;
			// both mean the tenant identity is taken.
			return ErrDuplicateName
		}
	}
	return err
}
