package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/orgforge/orgforge/internal/domain"
)

// CollectionStore is the MongoDB implementation of
// domain.TenantCollectionStore. Each tenant owns one collection in a shared
// database, addressed by domain.DeriveCollectionID.
type CollectionStore struct {
	db *mongo.Database
}

func NewCollectionStore(db *mongo.Database) *CollectionStore {
	return &CollectionStore{db: db}
}

func (s *CollectionStore) Create(ctx context.Context, name string) (string, error) {
	collID := domain.DeriveCollectionID(name)

	exists, err := s.collectionExists(ctx, collID)
	if err != nil {
		return "", err
	}
	if exists {
		return "", ErrAlreadyExists
	}

	if err := s.db.CreateCollection(ctx, collID); err != nil {
		return "", fmt.Errorf("create collection %s: %w", collID, err)
	}

	// Marker document for operators probing liveness/ownership; application
	// logic never reads it.
	_, err = s.db.Collection(collID).InsertOne(ctx, bson.M{
		"initialized":       true,
		"organization_name": name,
	})
	if err != nil {
		return "", fmt.Errorf("seed collection %s: %w", collID, err)
	}
	return collID, nil
}

func (s *CollectionStore) Rename(ctx context.Context, oldName, newName string) (string, error) {
	oldID := domain.DeriveCollectionID(oldName)
	newID := domain.DeriveCollectionID(newName)

	exists, err := s.collectionExists(ctx, oldID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", ErrNotFound
	}
	exists, err = s.collectionExists(ctx, newID)
	if err != nil {
		return "", err
	}
	if exists {
		return "", ErrAlreadyExists
	}

	// renameCollection is atomic at the namespace level: documents move as
	// one unit or not at all. It must run against the admin database.
	err = s.db.Client().Database("admin").RunCommand(ctx, bson.D{
		{Key: "renameCollection", Value: s.db.Name() + "." + oldID},
		{Key: "to", Value: s.db.Name() + "." + newID},
	}).Err()
	if err != nil {
		return "", fmt.Errorf("rename collection %s -> %s: %w", oldID, newID, err)
	}
	return newID, nil
}

func (s *CollectionStore) Delete(ctx context.Context, name string) (bool, error) {
	collID := domain.DeriveCollectionID(name)

	exists, err := s.collectionExists(ctx, collID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	if err := s.db.Collection(collID).Drop(ctx); err != nil {
		return false, fmt.Errorf("drop collection %s: %w", collID, err)
	}
	return true, nil
}

func (s *CollectionStore) Exists(ctx context.Context, name string) (bool, error) {
	return s.collectionExists(ctx, domain.DeriveCollectionID(name))
}

func (s *CollectionStore) collectionExists(ctx context.Context, collID string) (bool, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.M{"name": collID})
	if err != nil {
		return false, fmt.Errorf("list collections: %w", err)
	}
	return len(names) > 0, nil
}
