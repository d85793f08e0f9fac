package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/orgforge/orgforge/internal/domain"
	"github.com/orgforge/orgforge/internal/store"
)

var (
	ErrOrgNotFound = errors.New("organization not found")
	ErrNameTaken   = errors.New("organization name already taken")
	ErrEmailTaken  = errors.New("admin email already taken")
	// ErrInconsistentState means a saga step failed and its compensation
	// failed too. The registry and the collection store now disagree and an
	// operator has to reconcile them; retrying blind is not safe.
	ErrInconsistentState = errors.New("stores left inconsistent, operator intervention required")
)

// ProvisionerService coordinates the metadata registry and the tenant
// collection store. Neither store can be enrolled in the other's
// transaction, so every mutation runs as a short saga: collection first and
// registry second on create, the reverse on delete, with a single
// best-effort compensation when the second step fails.
type ProvisionerService struct {
	registry    domain.MetadataRegistry
	collections domain.TenantCollectionStore
	logger      *zap.Logger
}

func NewProvisionerService(registry domain.MetadataRegistry, collections domain.TenantCollectionStore, logger *zap.Logger) *ProvisionerService {
	return &ProvisionerService{registry: registry, collections: collections, logger: logger}
}

// Create provisions a new organization: backing collection first, then the
// registry row plus first admin credential in one registry transaction. If
// the registry insert fails the collection is deleted again so a failed
// create leaves no trace in either store.
//
// The collection-before-registry order means the registry never references a
// collection that does not exist. The inverse window (a collection with no
// registry row) only opens if compensation fails, and such an orphan is
// invisible to readers.
func (s *ProvisionerService) Create(ctx context.Context, name, email, password string) (*domain.Organization, error) {
	// Pre-checks give callers a fast typed conflict. They are advisory: the
	// registry's unique constraints in the insert below are the authority.
	if _, err := s.registry.GetByName(ctx, name); err == nil {
		return nil, ErrNameTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if taken, err := s.registry.EmailExists(ctx, email); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrEmailTaken
	}

	collID, err := s.collections.Create(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrNameTaken
		}
		return nil, err
	}

	hash, err := hashPassword(password)
	if err != nil {
		s.compensateCreate(name, collID)
		return nil, err
	}

	org, err := s.registry.CreateOrganizationWithAdmin(ctx, name, collID, email, hash)
	if err != nil {
		s.compensateCreate(name, collID)
		switch {
		case errors.Is(err, store.ErrDuplicateName):
			return nil, ErrNameTaken
		case errors.Is(err, store.ErrDuplicateEmail):
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	s.logger.Info("organization provisioned",
		zap.String("name", name),
		zap.String("collection_id", collID),
	)
	return org, nil
}

// compensateCreate removes the collection created before a failed registry
// insert. It runs on a fresh context so a canceled request still gets its
// cleanup attempt, and its own failure never masks the original error.
func (s *ProvisionerService) compensateCreate(name, collID string) {
	deleted, err := s.collections.Delete(context.Background(), name)
	if err != nil {
		s.logger.Error("create compensation failed, collection orphaned",
			zap.String("name", name),
			zap.String("collection_id", collID),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("create compensated, collection removed",
		zap.String("collection_id", collID),
		zap.Bool("deleted", deleted),
	)
}

// Get returns the organization registered under name.
func (s *ProvisionerService) Get(ctx context.Context, name string) (*domain.Organization, error) {
	org, err := s.registry.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrgNotFound
		}
		return nil, err
	}
	return org, nil
}

// Rename changes the organization's name and collection identifier together,
// and optionally updates the primary admin's email/password. The identity
// rename and the credential update commit independently: a failed credential
// update does not roll back a completed rename.
func (s *ProvisionerService) Rename(ctx context.Context, name, newName, email, password string) (*domain.Organization, error) {
	org, err := s.registry.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrgNotFound
		}
		return nil, err
	}

	if newName != "" && newName != name {
		org, err = s.renameIdentity(ctx, name, newName)
		if err != nil {
			return nil, err
		}
	}

	if email != "" || password != "" {
		var hash string
		if password != "" {
			if hash, err = hashPassword(password); err != nil {
				return nil, err
			}
		}
		if err := s.registry.UpdatePrimaryAdmin(ctx, org.ID, email, hash); err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				return nil, fmt.Errorf("organization %q has no admin credential: %w", org.Name, err)
			case errors.Is(err, store.ErrDuplicateEmail):
				return nil, ErrEmailTaken
			}
			return nil, err
		}
	}

	return org, nil
}

// renameIdentity is the rename saga proper: collection rename first, registry
// commit second. A failed registry commit is compensated by renaming the
// collection back; if that also fails the stores disagree and the error is
// ErrInconsistentState.
func (s *ProvisionerService) renameIdentity(ctx context.Context, name, newName string) (*domain.Organization, error) {
	if _, err := s.registry.GetByName(ctx, newName); err == nil {
		return nil, ErrNameTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	newCollID, err := s.collections.Rename(ctx, name, newName)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			return nil, ErrNameTaken
		case errors.Is(err, store.ErrNotFound):
			// Registry row exists but its collection is gone; nothing was
			// mutated here, surface it for operator attention.
			return nil, fmt.Errorf("backing collection for %q missing: %w", name, err)
		}
		return nil, err
	}

	org, err := s.registry.Rename(ctx, name, newName, newCollID)
	if err != nil {
		if _, backErr := s.collections.Rename(context.Background(), newName, name); backErr != nil {
			s.logger.Error("rename compensation failed, stores inconsistent",
				zap.String("name", name),
				zap.String("new_name", newName),
				zap.NamedError("registry_error", err),
				zap.NamedError("compensation_error", backErr),
			)
			return nil, fmt.Errorf("%w: registry rename failed (%v), collection rename-back failed (%v)",
				ErrInconsistentState, err, backErr)
		}
		s.logger.Warn("rename compensated, collection restored",
			zap.String("name", name),
			zap.Error(err),
		)
		if errors.Is(err, store.ErrDuplicateName) {
			return nil, ErrNameTaken
		}
		return nil, err
	}

	s.logger.Info("organization renamed",
		zap.String("name", name),
		zap.String("new_name", newName),
		zap.String("collection_id", newCollID),
	)
	return org, nil
}

// Delete removes the backing collection first, then the registry record.
// A crash between the two steps leaves a registry row with no collection,
// which reads surface predictably; the inverse orphan (a live collection
// nobody owns) would linger undetected and collide with a future tenant
// reusing the name.
func (s *ProvisionerService) Delete(ctx context.Context, name string) error {
	if _, err := s.registry.GetByName(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrOrgNotFound
		}
		return err
	}

	deleted, err := s.collections.Delete(ctx, name)
	if err != nil {
		return err
	}
	if !deleted {
		s.logger.Warn("collection already absent during delete",
			zap.String("name", name),
		)
	}

	if err := s.registry.Delete(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrOrgNotFound
		}
		// The collection is gone but the registry row survived. Reads now
		// fail predictably until the delete is retried.
		s.logger.Error("registry delete failed after collection drop",
			zap.String("name", name),
			zap.Error(err),
		)
		return err
	}

	s.logger.Info("organization deleted", zap.String("name", name))
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
