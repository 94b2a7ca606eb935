package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// carts untouched for this long are removed by the TTL index
const snapshotRetention = 90 * 24 * time.Hour

type snapshotDocument struct {
	UserID    string    `bson:"user_id"`
	Snapshot  []byte    `bson:"snapshot"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// SnapshotRepository stores each user's cart as one opaque document.
type SnapshotRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewSnapshotRepository(db *mongo.Database) *SnapshotRepository {
	return &SnapshotRepository{
		collection: db.Collection("carts"),
		now:        time.Now,
	}
}

func (r *SnapshotRepository) Load(ctx context.Context, userID string) ([]byte, error) {
	var doc snapshotDocument

	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return doc.Snapshot, nil
}

func (r *SnapshotRepository) Save(ctx context.Context, userID string, snapshot []byte) error {
	update := bson.M{"$set": snapshotDocument{
		UserID:    userID,
		Snapshot:  snapshot,
		UpdatedAt: r.now(),
	}}
	opts := options.Update().SetUpsert(true)

	if _, err := r.collection.UpdateOne(ctx, bson.M{"user_id": userID}, update, opts); err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) Delete(ctx context.Context, userID string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if result.DeletedCount == 0 {
		return domain.ErrSnapshotNotFound
	}
	return nil
}

func (r *SnapshotRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(snapshotRetention.Seconds())),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
