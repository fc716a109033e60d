package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

type TokenRepository struct {
	col     *mongo.Collection
	timeout time.Duration
}

var _ ports.TokenRepository = (*TokenRepository)(nil)

type tokenDoc struct {
	ID         string              `bson:"_id"`
	UserID     string              `bson:"user_id"`
	TokenHash  string              `bson:"token_hash"`
	Purpose    domain.TokenPurpose `bson:"purpose"`
	ExpiresAt  time.Time           `bson:"expires_at"`
	ConsumedAt *time.Time          `bson:"consumed_at"`
	CreatedAt  time.Time           `bson:"created_at"`
}

func (d tokenDoc) toDomain() *domain.OneTimeToken {
	return &domain.OneTimeToken{
		ID:         d.ID,
		UserID:     d.UserID,
		TokenHash:  d.TokenHash,
		Purpose:    d.Purpose,
		ExpiresAt:  d.ExpiresAt.UTC(),
		ConsumedAt: utcPtr(d.ConsumedAt),
		CreatedAt:  d.CreatedAt.UTC(),
	}
}

func (r *TokenRepository) Replace(ctx context.Context, tok *domain.OneTimeToken) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	stale := bson.M{"user_id": tok.UserID, "purpose": tok.Purpose, "consumed_at": nil}
	if _, err := r.col.DeleteMany(ctx, stale); err != nil {
		return fmt.Errorf("drop previous %s tokens: %w", tok.Purpose, err)
	}

	doc := tokenDoc{
		ID:        tok.ID,
		UserID:    tok.UserID,
		TokenHash: tok.TokenHash,
		Purpose:   tok.Purpose,
		ExpiresAt: tok.ExpiresAt,
		CreatedAt: tok.CreatedAt,
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert %s token: %w", tok.Purpose, err)
	}
	return nil
}

// Consume marks the token used with one FindOneAndUpdate, so concurrent
// consumers of the same token see exactly one success.
func (r *TokenRepository) Consume(ctx context.Context, hash string, purpose domain.TokenPurpose, at time.Time) (*domain.OneTimeToken, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	filter := bson.M{
		"token_hash":  hash,
		"purpose":     purpose,
		"consumed_at": nil,
		"expires_at":  bson.M{"$gt": at},
	}
	update := bson.M{"$set": bson.M{"consumed_at": at}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc tokenDoc
	if err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("consume token: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *TokenRepository) FindByHash(ctx context.Context, hash string, purpose domain.TokenPurpose) (*domain.OneTimeToken, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var doc tokenDoc
	if err := r.col.FindOne(ctx, bson.M{"token_hash": hash, "purpose": purpose}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find token: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.col.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return res.DeletedCount, nil
}
