package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/himawari-dev/line-token-auth/domain"
)

// tokenMutationRetries bounds the optimistic-concurrency retry loop in
// MutateDeviceTokens.
const tokenMutationRetries = 3

// UserRepository implements domain.UserRepository on MongoDB.
type UserRepository struct {
	users *mongo.Collection
}

// NewUserRepository creates a UserRepository and ensures its indexes.
func NewUserRepository(ctx context.Context, db *mongo.Database) (*UserRepository, error) {
	repo := &UserRepository{
		users: db.Collection(UsersCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		// Index creation fails when a compatible index already exists; the
		// repository is still usable.
		log.Warn().Err(err).Msg("Failed to create user indexes")
	}
	return repo, nil
}

func (r *UserRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			// One account per external subject per provider.
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "external_uid", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := r.users.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes for users collection: %w", err)
	}
	return nil
}

// CreateUser inserts a new user record.
func (r *UserRepository) CreateUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = bson.NewObjectID().Hex()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.Tokens == nil {
		user.Tokens = map[string]domain.DeviceToken{}
	}

	if _, err := r.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateIdentity
		}
		log.Error().Err(err).Str("uid", user.ExternalUID).Msg("Error creating user in MongoDB")
		return err
	}
	return nil
}

// GetUserByID retrieves a user by primary id.
func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		log.Error().Err(err).Str("id", id).Msg("Error getting user by ID from MongoDB")
		return nil, err
	}
	return &user, nil
}

// GetUserByExternalUID retrieves a user by provider subject identifier.
func (r *UserRepository) GetUserByExternalUID(ctx context.Context, provider domain.Provider, externalUID string) (*domain.User, error) {
	var user domain.User
	err := r.users.FindOne(ctx, bson.M{"provider": provider, "external_uid": externalUID}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		log.Error().Err(err).Str("uid", externalUID).Msg("Error getting user by external uid from MongoDB")
		return nil, err
	}
	return &user, nil
}

// UpdateProfile overwrites the display attributes with verified values.
func (r *UserRepository) UpdateProfile(ctx context.Context, userID, displayName, avatarURL string) error {
	update := bson.M{"$set": bson.M{
		"display_name": displayName,
		"avatar_url":   avatarURL,
		"updated_at":   time.Now().UTC(),
	}}
	result, err := r.users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error updating user profile in MongoDB")
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// MutateDeviceTokens applies mutate to the token set under an optimistic
// compare-and-swap on token_version. A lost race reloads the record and
// retries; persistent conflicts surface as domain.ErrTokenConflict.
func (r *UserRepository) MutateDeviceTokens(ctx context.Context, userID string, mutate func(tokens map[string]domain.DeviceToken) error) (*domain.User, error) {
	for attempt := 0; attempt < tokenMutationRetries; attempt++ {
		user, err := r.GetUserByID(ctx, userID)
		if err != nil {
			return nil, err
		}

		tokens := make(map[string]domain.DeviceToken, len(user.Tokens)+1)
		for k, v := range user.Tokens {
			tokens[k] = v
		}
		if err := mutate(tokens); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		filter := bson.M{"_id": userID, "token_version": user.TokenVersion}
		update := bson.M{
			"$set": bson.M{"tokens": tokens, "updated_at": now},
			"$inc": bson.M{"token_version": 1},
		}
		result, err := r.users.UpdateOne(ctx, filter, update)
		if err != nil {
			log.Error().Err(err).Str("userID", userID).Msg("Error updating token set in MongoDB")
			return nil, err
		}
		if result.MatchedCount == 1 {
			user.Tokens = tokens
			user.TokenVersion++
			user.UpdatedAt = now
			return user, nil
		}

		log.Debug().Str("userID", userID).Int("attempt", attempt+1).Msg("Token set CAS lost, retrying")
	}
	return nil, domain.ErrTokenConflict
}

// DeleteUser removes a user record.
func (r *UserRepository) DeleteUser(ctx context.Context, id string) error {
	result, err := r.users.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Error deleting user from MongoDB")
		return err
	}
	if result.DeletedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

var _ domain.UserRepository = (*UserRepository)(nil)
