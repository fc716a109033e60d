package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

// AuditRepository stores the security audit trail in the audit_events
// collection. Documents are never updated.
type AuditRepository struct {
	col     *mongo.Collection
	timeout time.Duration
}

var _ ports.AuditRepository = (*AuditRepository)(nil)

type auditDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Action    string    `bson:"action"`
	IP        string    `bson:"ip,omitempty"`
	UserAgent string    `bson:"user_agent,omitempty"`
	Detail    string    `bson:"detail,omitempty"`
	At        time.Time `bson:"at"`
}

func (r *AuditRepository) Insert(ctx context.Context, event *domain.AuditEvent) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	doc := auditDoc{
		ID:        id,
		UserID:    event.UserID,
		Action:    string(event.Action),
		IP:        event.IP,
		UserAgent: event.UserAgent,
		Detail:    event.Detail,
		At:        event.At.UTC(),
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *AuditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditEvent, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := r.col.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer cur.Close(ctx)

	var docs []auditDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode audit events: %w", err)
	}
	out := make([]*domain.AuditEvent, 0, len(docs))
	for _, d := range docs {
		out = append(out, &domain.AuditEvent{
			ID:        d.ID,
			UserID:    d.UserID,
			Action:    domain.AuditAction(d.Action),
			IP:        d.IP,
			UserAgent: d.UserAgent,
			Detail:    d.Detail,
			At:        d.At.UTC(),
		})
	}
	return out, nil
}
