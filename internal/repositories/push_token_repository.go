package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/anonto42/nano-midea/notifications/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PushTokenRepository defines the interface for device push token storage
type PushTokenRepository interface {
	RegisterToken(ctx context.Context, userID uint, token string) error
	RemoveToken(ctx context.Context, userID uint, token string) error
	RemoveTokens(ctx context.Context, userID uint, tokens []string) (int64, error)
	GetTokensByUserID(ctx context.Context, userID uint) ([]string, error)
}

// MongoPushTokenRepository implements PushTokenRepository for MongoDB
type MongoPushTokenRepository struct {
	collection *mongo.Collection
}

// NewMongoPushTokenRepository creates a new MongoPushTokenRepository
func NewMongoPushTokenRepository(db *mongo.Database) *MongoPushTokenRepository {
	return &MongoPushTokenRepository{collection: db.Collection("push_tokens")}
}

// EnsureIndexes creates the unique (user_id, token) index that backs idempotent registration.
func (r *MongoPushTokenRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "token", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("user_token_unique"),
	})
	if err != nil {
		return fmt.Errorf("create push token index: %w", err)
	}
	return nil
}

// RegisterToken stores the (user, token) pair. Registering an existing pair is a no-op.
func (r *MongoPushTokenRepository) RegisterToken(ctx context.Context, userID uint, token string) error {
	filter := bson.M{"user_id": userID, "token": token}
	update := bson.M{"$setOnInsert": bson.M{
		"user_id":    userID,
		"token":      token,
		"created_at": time.Now().UTC(),
	}}
	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// concurrent upsert of the same pair
		return nil
	}
	return err
}

// RemoveToken deletes the (user, token) pair if present.
func (r *MongoPushTokenRepository) RemoveToken(ctx context.Context, userID uint, token string) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"user_id": userID, "token": token})
	return err
}

// RemoveTokens deletes several of a user's tokens at once.
func (r *MongoPushTokenRepository) RemoveTokens(ctx context.Context, userID uint, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	res, err := r.collection.DeleteMany(ctx, bson.M{"user_id": userID, "token": bson.M{"$in": tokens}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// GetTokensByUserID lists every token registered for a user, oldest first.
func (r *MongoPushTokenRepository) GetTokensByUserID(ctx context.Context, userID uint) ([]string, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []models.PushToken
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	tokens := make([]string, 0, len(docs))
	for _, d := range docs {
		tokens = append(tokens, d.Token)
	}
	return tokens, nil
}
