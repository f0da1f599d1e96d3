package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/topology"

	"github.com/sandeepkv93/bmc-account-service/internal/domain"
)

const (
	mongoStoreName         = "mongo"
	DefaultUsersCollection = "users"
)

type MongoAccountRepository struct {
	coll *mongo.Collection
}

func NewMongoAccountRepository(db *mongo.Database, collection string) *MongoAccountRepository {
	if collection == "" {
		collection = DefaultUsersCollection
	}
	return &MongoAccountRepository{coll: db.Collection(collection)}
}

// EnsureIndexes creates the unique email/username indexes and the status index. Safe to call repeatedly.
func (r *MongoAccountRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_email")},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_username")},
		{Keys: bson.D{{Key: "status", Value: 1}}, Options: options.Index().SetName("idx_status")},
	})
	if err != nil {
		return translateMongoError(err)
	}
	return nil
}

func (r *MongoAccountRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, "exists_by_username", bson.D{{Key: "username", Value: username}})
}

func (r *MongoAccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, "exists_by_email", bson.D{{Key: "email", Value: email}})
}

func (r *MongoAccountRepository) exists(ctx context.Context, op string, filter bson.D) (bool, error) {
	n, err := r.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	err = translateMongoError(err)
	recordOperation(ctx, mongoStoreName, op, err)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *MongoAccountRepository) FindActiveByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return r.findActive(ctx, "find_active_by_username", "username", username)
}

func (r *MongoAccountRepository) FindActiveByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.findActive(ctx, "find_active_by_email", "email", email)
}

func (r *MongoAccountRepository) findActive(ctx context.Context, op, field, value string) (*domain.Account, error) {
	var acc domain.Account
	err := r.coll.FindOne(ctx, activeFilter(field, value)).Decode(&acc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		recordOperation(ctx, mongoStoreName, op, nil)
		return nil, nil
	}
	err = translateMongoError(err)
	recordOperation(ctx, mongoStoreName, op, err)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *MongoAccountRepository) Insert(ctx context.Context, account *domain.Account) error {
	_, err := r.coll.InsertOne(ctx, account)
	err = translateMongoError(err)
	recordOperation(ctx, mongoStoreName, "insert", err)
	return err
}

func (r *MongoAccountRepository) UpdateProfileFields(ctx context.Context, email string, update domain.ProfileUpdate) error {
	err := r.updateActive(ctx, email, bson.M{
		"full_name":       update.FullName,
		"username":        update.Username,
		"profession_type": update.ProfessionType,
		"about_me":        update.AboutMe,
		"support_type":    update.SupportType,
		"online_presence": update.OnlinePresence,
		"avatar":          update.Avatar,
	})
	recordOperation(ctx, mongoStoreName, "update_profile", err)
	return err
}

func (r *MongoAccountRepository) UpdateWallets(ctx context.Context, email string, wallets domain.Wallets) error {
	err := r.updateActive(ctx, email, bson.M{"wallet": wallets})
	recordOperation(ctx, mongoStoreName, "update_wallets", err)
	return err
}

func (r *MongoAccountRepository) UpdateAvatar(ctx context.Context, email, avatar string) error {
	err := r.updateActive(ctx, email, bson.M{"avatar": avatar})
	recordOperation(ctx, mongoStoreName, "update_avatar", err)
	return err
}

func (r *MongoAccountRepository) updateActive(ctx context.Context, email string, set bson.M) error {
	res, err := r.coll.UpdateOne(ctx, activeFilter("email", email), bson.M{"$set": set})
	if err != nil {
		return translateMongoError(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func activeFilter(field, value string) bson.D {
	return bson.D{
		{Key: field, Value: value},
		{Key: "status", Value: string(domain.AccountStatusActive)},
	}
}

// translateMongoError maps duplicate-key writes to ErrConflict and connectivity failures
// (network errors, timeouts, server selection) to ErrStoreUnavailable. Anything else is
// returned wrapped so callers can still inspect the driver error.
func translateMongoError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	var selectErr topology.ServerSelectionError
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.As(err, &selectErr) || errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return fmt.Errorf("mongo account store: %w", err)
}
