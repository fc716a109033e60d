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

type RoleRepository struct {
	col     *mongo.Collection
	timeout time.Duration
}

var _ ports.RoleRepository = (*RoleRepository)(nil)

type roleDoc struct {
	ID          string   `bson:"_id"`
	Name        string   `bson:"name"`
	Description string   `bson:"description,omitempty"`
	Permissions []string `bson:"permissions"`
	System      bool     `bson:"system"`
}

func (d roleDoc) toDomain() *domain.Role {
	return &domain.Role{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Permissions: d.Permissions,
		System:      d.System,
	}
}

func (r *RoleRepository) FindByName(ctx context.Context, name string) (*domain.Role, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var doc roleDoc
	if err := r.col.FindOne(ctx, bson.M{"name": name}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find role: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *RoleRepository) List(ctx context.Context) ([]*domain.Role, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	cur, err := r.col.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer cur.Close(ctx)

	var docs []roleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	out := make([]*domain.Role, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

// Upsert inserts the role or replaces its description and permissions,
// keeping the existing id.
func (r *RoleRepository) Upsert(ctx context.Context, role *domain.Role) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	id := role.ID
	if id == "" {
		id = uuid.NewString()
	}
	perms := role.Permissions
	if perms == nil {
		perms = []string{}
	}
	update := bson.M{
		"$set": bson.M{
			"description": role.Description,
			"permissions": perms,
			"system":      role.System,
		},
		"$setOnInsert": bson.M{"_id": id},
	}
	if _, err := r.col.UpdateOne(ctx, bson.M{"name": role.Name}, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("upsert role %q: %w", role.Name, err)
	}
	return nil
}
