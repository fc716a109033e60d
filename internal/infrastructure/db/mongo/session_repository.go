package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

type SessionRepository struct {
	col     *mongo.Collection
	timeout time.Duration
}

var _ ports.SessionRepository = (*SessionRepository)(nil)

type sessionDoc struct {
	ID           string     `bson:"_id"`
	UserID       string     `bson:"user_id"`
	FamilyID     string     `bson:"family_id"`
	Counter      int64      `bson:"counter"`
	IssuedAt     time.Time  `bson:"issued_at"`
	ExpiresAt    time.Time  `bson:"expires_at"`
	Revoked      bool       `bson:"revoked"`
	RevokedAt    *time.Time `bson:"revoked_at,omitempty"`
	RevokeReason string     `bson:"revoke_reason,omitempty"`
	IP           string     `bson:"ip,omitempty"`
	UserAgent    string     `bson:"user_agent,omitempty"`
	UpdatedAt    time.Time  `bson:"updated_at"`
}

func (d sessionDoc) toDomain() *domain.Session {
	return &domain.Session{
		ID:           d.ID,
		UserID:       d.UserID,
		FamilyID:     d.FamilyID,
		Counter:      d.Counter,
		IssuedAt:     d.IssuedAt.UTC(),
		ExpiresAt:    d.ExpiresAt.UTC(),
		Revoked:      d.Revoked,
		RevokedAt:    utcPtr(d.RevokedAt),
		RevokeReason: d.RevokeReason,
		IP:           d.IP,
		UserAgent:    d.UserAgent,
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	doc := sessionDoc{
		ID:        s.ID,
		UserID:    s.UserID,
		FamilyID:  s.FamilyID,
		Counter:   s.Counter,
		IssuedAt:  s.IssuedAt,
		ExpiresAt: s.ExpiresAt,
		IP:        s.IP,
		UserAgent: s.UserAgent,
		UpdatedAt: s.UpdatedAt,
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var doc sessionDoc
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return doc.toDomain(), nil
}

// UpdateIfCounter is a single conditional update, so two rotations of the
// same refresh token cannot both match.
func (r *SessionRepository) UpdateIfCounter(ctx context.Context, id string, expected, next int64, at time.Time) (bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	filter := bson.M{"_id": id, "revoked": false, "counter": expected}
	update := bson.M{"$set": bson.M{"counter": next, "updated_at": at}}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("advance session counter: %w", err)
	}
	return res.MatchedCount == 1, nil
}

func revokeUpdate(reason string, at time.Time) bson.M {
	return bson.M{"$set": bson.M{
		"revoked":       true,
		"revoked_at":    at,
		"revoke_reason": reason,
		"updated_at":    at,
	}}
}

func (r *SessionRepository) Revoke(ctx context.Context, id, reason string, at time.Time) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id, "revoked": false}, revokeUpdate(reason, at))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	// Already revoked keeps its first reason; only a missing session is an error.
	n, err := r.col.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.col.UpdateMany(ctx, bson.M{"user_id": userID, "revoked": false}, revokeUpdate(reason, at))
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	return res.ModifiedCount, nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.col.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.DeletedCount, nil
}
