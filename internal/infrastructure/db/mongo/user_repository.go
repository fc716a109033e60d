package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

type UserRepository struct {
	col     *mongo.Collection
	timeout time.Duration
}

var _ ports.UserRepository = (*UserRepository)(nil)

type userDoc struct {
	ID               string     `bson:"_id"`
	Email            string     `bson:"email"`
	PasswordHash     string     `bson:"password_hash"`
	Name             string     `bson:"name"`
	EmailVerified    bool       `bson:"email_verified"`
	Active           bool       `bson:"active"`
	Role             string     `bson:"role"`
	TwoFactorEnabled bool       `bson:"two_factor_enabled"`
	DeletedAt        *time.Time `bson:"deleted_at,omitempty"`
	LastLoginAt      *time.Time `bson:"last_login_at,omitempty"`
	CreatedAt        time.Time  `bson:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at"`
}

func toUserDoc(u *domain.User) userDoc {
	return userDoc{
		ID:               u.ID,
		Email:            u.Email,
		PasswordHash:     u.PasswordHash,
		Name:             u.Name,
		EmailVerified:    u.EmailVerified,
		Active:           u.Active,
		Role:             u.Role,
		TwoFactorEnabled: u.TwoFactorEnabled,
		DeletedAt:        u.DeletedAt,
		LastLoginAt:      u.LastLoginAt,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

func (d userDoc) toDomain() *domain.User {
	return &domain.User{
		ID:               d.ID,
		Email:            d.Email,
		PasswordHash:     d.PasswordHash,
		Name:             d.Name,
		EmailVerified:    d.EmailVerified,
		Active:           d.Active,
		Role:             d.Role,
		TwoFactorEnabled: d.TwoFactorEnabled,
		DeletedAt:        utcPtr(d.DeletedAt),
		LastLoginAt:      utcPtr(d.LastLoginAt),
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	doc := toUserDoc(user)
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var doc userDoc
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *UserRepository) set(ctx context.Context, id string, fields bson.M) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	return r.set(ctx, id, bson.M{"email_verified": true, "updated_at": at})
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id, name string, twoFactorEnabled bool, at time.Time) error {
	return r.set(ctx, id, bson.M{"name": name, "two_factor_enabled": twoFactorEnabled, "updated_at": at})
}

func (r *UserRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.set(ctx, id, bson.M{"last_login_at": at})
}

func (r *UserRepository) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	return r.set(ctx, id, bson.M{"active": active, "updated_at": at})
}

func (r *UserRepository) SetRole(ctx context.Context, id, role string, at time.Time) error {
	return r.set(ctx, id, bson.M{"role": role, "updated_at": at})
}

func (r *UserRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return r.set(ctx, id, bson.M{"deleted_at": at, "active": false, "updated_at": at})
}

func (r *UserRepository) setPasswordHash(ctx context.Context, id, hash string, at time.Time) error {
	return r.set(ctx, id, bson.M{"password_hash": hash, "updated_at": at})
}

func (r *UserRepository) List(ctx context.Context, f ports.ListUsersFilter) ([]*domain.User, int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	filter := listFilter(f)
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((f.Page - 1) * f.Limit)).
		SetLimit(int64(f.Limit))
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer cur.Close(ctx)

	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode users: %w", err)
	}
	out := make([]*domain.User, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, total, nil
}

func listFilter(f ports.ListUsersFilter) bson.M {
	filter := bson.M{"deleted_at": nil}
	if f.Search != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
		filter["$or"] = bson.A{bson.M{"email": pattern}, bson.M{"name": pattern}}
	}
	if f.Role != "" {
		filter["role"] = f.Role
	}
	if f.Active != nil {
		filter["active"] = *f.Active
	}
	if f.EmailVerified != nil {
		filter["email_verified"] = *f.EmailVerified
	}
	return filter
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
