package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orgforge/orgforge/internal/domain"
	"github.com/orgforge/orgforge/internal/store"
)

// mockRegistry implements domain.MetadataRegistry in memory. Fault injection
// flags simulate registry failures at specific saga steps.
type mockRegistry struct {
	orgs   map[string]*domain.Organization // by name
	emails map[string]uuid.UUID            // email -> org id

	createErr error // forced failure of CreateOrganizationWithAdmin
	renameErr error // forced failure of Rename
	deleteErr error // forced failure of Delete
	updateErr error // forced failure of UpdatePrimaryAdmin
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		orgs:   make(map[string]*domain.Organization),
		emails: make(map[string]uuid.UUID),
	}
}

func (m *mockRegistry) CreateOrganizationWithAdmin(ctx context.Context, name, collectionID, email, passwordHash string) (*domain.Organization, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	if _, ok := m.orgs[name]; ok {
		return nil, store.ErrDuplicateName
	}
	if _, ok := m.emails[email]; ok {
		return nil, store.ErrDuplicateEmail
	}
	org := &domain.Organization{ID: uuid.New(), Name: name, CollectionID: collectionID}
	m.orgs[name] = org
	m.emails[email] = org.ID
	return org, nil
}

func (m *mockRegistry) GetByName(ctx context.Context, name string) (*domain.Organization, error) {
	org, ok := m.orgs[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return org, nil
}

func (m *mockRegistry) EmailExists(ctx context.Context, email string) (bool, error) {
	_, ok := m.emails[email]
	return ok, nil
}

func (m *mockRegistry) Rename(ctx context.Context, name, newName, newCollectionID string) (*domain.Organization, error) {
	if m.renameErr != nil {
		return nil, m.renameErr
	}
	org, ok := m.orgs[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, taken := m.orgs[newName]; taken {
		return nil, store.ErrDuplicateName
	}
	delete(m.orgs, name)
	org.Name = newName
	org.CollectionID = newCollectionID
	m.orgs[newName] = org
	return org, nil
}

func (m *mockRegistry) UpdatePrimaryAdmin(ctx context.Context, orgID uuid.UUID, email, passwordHash string) error {
	return m.updateErr
}

func (m *mockRegistry) Delete(ctx context.Context, name string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.orgs[name]; !ok {
		return store.ErrNotFound
	}
	delete(m.orgs, name)
	return nil
}

func (m *mockRegistry) VerifyCredential(ctx context.Context, email, password string) (*domain.AdminIdentity, error) {
	return nil, store.ErrInvalidCredentials
}

// mockCollections implements domain.TenantCollectionStore in memory, tracking
// document counts per collection so tests can assert the marker survives.
type mockCollections struct {
	docs map[string]int // collection id -> document count

	createErr error
	renameErr error
	deleteErr error
}

func newMockCollections() *mockCollections {
	return &mockCollections{docs: make(map[string]int)}
}

func (m *mockCollections) Create(ctx context.Context, name string) (string, error) {
	if m.createErr != nil {
		return "", m.createErr
	}
	id := domain.DeriveCollectionID(name)
	if _, ok := m.docs[id]; ok {
		return "", store.ErrAlreadyExists
	}
	m.docs[id] = 1 // marker document
	return id, nil
}

func (m *mockCollections) Rename(ctx context.Context, oldName, newName string) (string, error) {
	if m.renameErr != nil {
		return "", m.renameErr
	}
	oldID := domain.DeriveCollectionID(oldName)
	newID := domain.DeriveCollectionID(newName)
	count, ok := m.docs[oldID]
	if !ok {
		return "", store.ErrNotFound
	}
	if _, taken := m.docs[newID]; taken {
		return "", store.ErrAlreadyExists
	}
	delete(m.docs, oldID)
	m.docs[newID] = count
	return newID, nil
}

func (m *mockCollections) Delete(ctx context.Context, name string) (bool, error) {
	if m.deleteErr != nil {
		return false, m.deleteErr
	}
	id := domain.DeriveCollectionID(name)
	if _, ok := m.docs[id]; !ok {
		return false, nil
	}
	delete(m.docs, id)
	return true, nil
}

func (m *mockCollections) Exists(ctx context.Context, name string) (bool, error) {
	_, ok := m.docs[domain.DeriveCollectionID(name)]
	return ok, nil
}

func newProvisioner(reg *mockRegistry, coll *mockCollections) *ProvisionerService {
	return NewProvisionerService(reg, coll, zap.NewNop())
}

func TestProvisioner_Create(t *testing.T) {
	reg := newMockRegistry()
	coll := newMockCollections()
	s := newProvisioner(reg, coll)
	ctx := context.Background()

	org, err := s.Create(ctx, "Acme", "a@acme.io", "secret1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if org.CollectionID != "org_acme" {
		t.Fatalf("expected collection id org_acme, got %s", org.CollectionID)
	}
	if exists, _ := coll.Exists(ctx, "Acme"); !exists {
		t.Fatal("expected backing collection to exist")
	}
	if coll.docs["org_acme"] != 1 {
		t.Fatalf("expected exactly one marker document, got %d", coll.docs["org_acme"])
	}
}

func TestProvisioner_CreateDuplicateName(t *testing.T) {
	reg := newMockRegistry()
	coll := newMockCollections()
	s := newProvisioner(reg, coll)
	ctx := context.Background()

	if _, err := s.Create(ctx, "Acme", "a@acme.io", "secret1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	_, err := s.Create(ctx, "Acme", "b@x.io", "secret2")
	if !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
	// The first tenant's collection is untouched, still exactly one marker.
	if coll.docs["org_acme"] != 1 {
		t.Fatalf("expected one marker document, got %d", coll.docs["org_acme"])
	}
}

func TestProvisioner_CreateDuplicateEmail(t *testing.T) {
	reg := newMockRegistry()
	coll := newMockCollections()
	s := newProvisioner(reg, coll)
	ctx := context.Background()

	if _, err := s.Create(ctx, "Acme", "a@acme.io", "secret1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	_, err := s.Create(ctx, "Globex", "a@acme.io", "secret2")
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if exists, _ := coll.Exists(ctx, "Globex"); exists {
		t.Fatal("expected no collection for the failed create")
	}
}

// The email pre-check can pass and the registry insert still hit the unique
// constraint (a concurrent create won the race). The created collection must
// be compensated away and the caller must see the duplicate-email conflict.
func TestProvisioner_CreateCompensatesOnRegistryConflict(t *testing.T) {
	reg := newMockRegistry()
	reg.createErr = store.ErrDuplicateEmail
	coll := newMockCollections()
	s := newProvisioner(reg, coll)
	ctx := context.Background()

	_, err := s.Create(ctx, "Acme", "a@acme.io", "secret1")
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if exists, _ := coll.Exists(ctx, "Acme"); exists {
		t.Fatal("expected compensation to remove the collection")
	}
	if _, err := reg.GetByName(ctx, "Acme"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("expected no registry record after failed create")
	}
}

// A transient registry fault surfaces as-is; compensation runs but its
// outcome never replaces the original error.
func TestProvisioner_CreateSurfacesOriginalRegistryError(t *testing.T) {
	faultErr := errors.New("registry down")

	reg := newMockRegistry()
	reg.createErr = faultErr
	coll := newMockCollections()
	coll.deleteErr = errors.New("collection store down too")
	s := newProvisioner(reg, coll)

	_, err := s.Create(context.Background(), "Acme", "a@acme.io", "secret1")
	if !errors.Is(err, faultErr) {
		t.Fatalf("expected original registry error, got %v", err)
	}
}

func TestProvisioner_CreateCollectionConflict(t *testing.T) {
	reg := newMockRegistry()
	coll := newMockCollections()
	coll.docs["org_acme"] = 1 // orphan from elsewhere
	s := newProvisioner(reg, coll)

	_, err := s.Create(context.Background(), "Acme", "a@acme.io", "secret1")
	if !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
	if len(reg.orgs) != 0 {
		t.Fatal("expected no registry mutation after collection conflict")
	}
}

func TestProvisioner_Get(t *testing.T) {
	reg := newMockRegistry()
	coll := newMockCollections()
	s := newProvisioner(reg, coll)
	ctx := context.Background()

	if _, err := s.Get(ctx, "Acme"); !errors.Is(err, ErrOrgNotFound) {
		t.Fatalf("expected ErrOrgNotFound, got %v", err)
	}

	_, _ = s.Create(ctx, "Acme", "a@acme.io", "secret1")
	org, err := s.Get(ctx, "Acme")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if org.Name != "Acme" {
		t.Fatalf("expected name Acme, got %s", org.Name)
	}
}

func TestProvisioner_Rename(t *testing.T) {
	reg := newMockRegistry()
	coll := newMockCollections()
	s := newProvisioner(reg, coll)
	ctx := context.Background()

	_, _ = s.Create(ctx, "Acme", "a@acme.io", "secret1")

	org, err := s.Rename(ctx, "Acme", "Acme Corp", "", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if org.CollectionID != "org_acme_corp" {
		t.Fatalf("expected collection id org_acme_corp, got %s", org.CollectionID)
	}

	if _, err := s.Get(ctx, "Acme"); !errors.Is(err, ErrOrgNotFound) {
		t.Fatalf("expected old name to be gone, got %v", err)
	}
	if _, err := s.Get(ctx, "Acme Corp"); err != nil {
		t.Fatalf("expected new name to resolve, got %v", err)
	}
	if exists, _ := coll.Exists(ctx, "Acme Corp"); !exists {
		t.Fatal("expected renamed collection to exist")
	}
	if exists, _ := coll.Exists(ctx, "Acme"); exists {
		t.Fatal("expected old collection to be gone")
	}
}

func TestProvisioner_RenameNotFound(t *testing.T) {
	s := newProvisioner(newMockRegistry(), newMockCollections())

	_, err := s.Rename(context.Background(), "Ghost", "Phantom", "", "")
	if !errors.Is(err, ErrOrgNotFound) {
		t.Fatalf("expected ErrOrgNotFound, got %v", err)
	}
}

func TestProvisioner_RenameNameCollision(t *testing.T) {
	reg := newMockRegistry()
	coll := newMockCollections()
	s := newProvisioner(reg, coll)
	ctx := context.Background()

	_, _ = s.Create(ctx, "Acme", "a@acme.io", "secret1")
	_, _ = s.Create(ctx, "Globex", "g@globex.io", "secret2")

	_, err := s.Rename(ctx, "Acme", "Globex", "", "")
	if !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
	// Nothing moved: both tenants still resolve under their own names.
	if _, err := s.Get(ctx, "Acme"); err != nil {
		t.Fatalf("expected Acme untouched, got %v", err)
	}
	if exists, _ := coll.Exists(ctx, "Acme"); !exists {
		t.Fatal("expected Acme collection untouched")
	}
}

// Registry commit fails after the collection moved: the collection is renamed
// back, so the old identity pair stays intact and exactly one name resolves.
func TestProvisioner_RenameCompensatesRegistryFailure(t *testing.T) {
	faultErr := errors.New("registry down")

	reg := newMockRegistry()
	coll := newMockCollections()
	s := newProvisioner(reg, coll)
	ctx := context.Background()

	_, _ = s.Create(ctx, "Acme", "a@acme.io", "secret1")
	reg.renameErr = faultErr

	_, err := s.Rename(ctx, "Acme", "Acme Corp", "", "")
	if !errors.Is(err, faultErr) {
		t.Fatalf("expected original registry error, got %v", err)
	}
	if errors.Is(err, ErrInconsistentState) {
		t.Fatal("compensation succeeded, error must not be ErrInconsistentState")
	}

	if _, err := s.Get(ctx, "Acme"); err != nil {
		t.Fatalf("expected old name to still resolve, got %v", err)
	}
	if exists, _ := coll.Exists(ctx, "Acme"); !exists {
		t.Fatal("expected collection restored under the old id")
	}
	if exists, _ := coll.Exists(ctx, "Acme Corp"); exists {
		t.Fatal("expected no collection under the new id")
	}
}

// Registry commit fails and the rename-back fails too: the one failure mode
// without a safe rollback. Must surface as ErrInconsistentState.
func TestProvisioner_RenameInconsistentState(t *testing.T) {
	reg := newMockRegistry()
	coll := newMockCollections()
	s := newProvisioner(reg, coll)
	ctx := context.Background()

	_, _ = s.Create(ctx, "Acme", "a@acme.io", "secret1")
	reg.renameErr = errors.New("registry down")

	// Let the forward collection rename succeed, then fail the compensating
	// rename-back.
	firstDone := false
	wrapped := &renameFaultCollections{inner: coll, failOn: func() bool {
		if !firstDone {
			firstDone = true
			return false
		}
		return true
	}}
	s = NewProvisionerService(reg, wrapped, zap.NewNop())

	_, err := s.Rename(ctx, "Acme", "Acme Corp", "", "")
	if !errors.Is(err, ErrInconsistentState) {
		t.Fatalf("expected ErrInconsistentState, got %v", err)
	}
}

// renameFaultCollections delegates to an inner store but can fail Rename on
// selected calls.
type renameFaultCollections struct {
	inner  *mockCollections
	failOn func() bool
}

func (f *renameFaultCollections) Create(ctx context.Context, name string) (string, error) {
	return f.inner.Create(ctx, name)
}

func (f *renameFaultCollections) Rename(ctx context.Context, oldName, newName string) (string, error) {
	if f.failOn() {
		return "", errors.New("collection store down")
	}
	return f.inner.Rename(ctx, oldName, newName)
}

func (f *renameFaultCollections) Delete(ctx context.Context, name string) (bool, error) {
	return f.inner.Delete(ctx, name)
}

func (f *renameFaultCollections) Exists(ctx context.Context, name string) (bool, error) {
	return f.inner.Exists(ctx, name)
}

// A failed credential update does not roll back a completed rename.
func TestProvisioner_RenameCredentialUpdateIndependent(t *testing.T) {
	reg := newMockRegistry()
	coll := newMockCollections()
	s := newProvisioner(reg, coll)
	ctx := context.Background()

	_, _ = s.Create(ctx, "Acme", "a@acme.io", "secret1")
	reg.updateErr = errors.New("admin update failed")

	_, err := s.Rename(ctx, "Acme", "Acme Corp", "new@acme.io", "")
	if err == nil {
		t.Fatal("expected credential update error")
	}
	if _, err := s.Get(ctx, "Acme Corp"); err != nil {
		t.Fatalf("expected rename to have committed, got %v", err)
	}
}

func TestProvisioner_RenameCredentialsOnly(t *testing.T) {
	reg := newMockRegistry()
	coll := newMockCollections()
	s := newProvisioner(reg, coll)
	ctx := context.Background()

	_, _ = s.Create(ctx, "Acme", "a@acme.io", "secret1")

	org, err := s.Rename(ctx, "Acme", "", "new@acme.io", "newsecret")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if org.Name != "Acme" || org.CollectionID != "org_acme" {
		t.Fatalf("expected identity unchanged, got %s/%s", org.Name, org.CollectionID)
	}
}

func TestProvisioner_Delete(t *testing.T) {
	reg := newMockRegistry()
	coll := newMockCollections()
	s := newProvisioner(reg, coll)
	ctx := context.Background()

	_, _ = s.Create(ctx, "Acme", "a@acme.io", "secret1")

	if err := s.Delete(ctx, "Acme"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := s.Get(ctx, "Acme"); !errors.Is(err, ErrOrgNotFound) {
		t.Fatalf("expected ErrOrgNotFound after delete, got %v", err)
	}
	if exists, _ := coll.Exists(ctx, "Acme"); exists {
		t.Fatal("expected collection to be gone")
	}

	if err := s.Delete(ctx, "Acme"); !errors.Is(err, ErrOrgNotFound) {
		t.Fatalf("expected ErrOrgNotFound on second delete, got %v", err)
	}
}

// A registry row whose collection is already gone still deletes cleanly: the
// collection-store delete is idempotent and reports false instead of failing.
func TestProvisioner_DeleteAbsentCollection(t *testing.T) {
	reg := newMockRegistry()
	coll := newMockCollections()
	s := newProvisioner(reg, coll)
	ctx := context.Background()

	_, _ = s.Create(ctx, "Acme", "a@acme.io", "secret1")
	delete(coll.docs, "org_acme") // simulate a crash after a prior partial delete

	if err := s.Delete(ctx, "Acme"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := s.Get(ctx, "Acme"); !errors.Is(err, ErrOrgNotFound) {
		t.Fatal("expected registry record to be gone")
	}
}

func TestMockCollections_DeleteIdempotent(t *testing.T) {
	coll := newMockCollections()
	deleted, err := coll.Delete(context.Background(), "Nope")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if deleted {
		t.Fatal("expected false for an absent collection")
	}
}
