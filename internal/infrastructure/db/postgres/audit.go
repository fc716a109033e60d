package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

// AuditRepository appends to audit_events. Rows are kept after the user is
// deleted, so there is no foreign key to users.
type AuditRepository struct {
	db      *sql.DB
	timeout time.Duration
}

var _ ports.AuditRepository = (*AuditRepository)(nil)

func (r *AuditRepository) Insert(ctx context.Context, event *domain.AuditEvent) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, user_id, action, ip, user_agent, detail, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, event.UserID, string(event.Action), event.IP, event.UserAgent, event.Detail, event.At.UTC())
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *AuditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditEvent, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, action, ip, user_agent, detail, at
		 FROM audit_events WHERE user_id = $1
		 ORDER BY at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	out := []*domain.AuditEvent{}
	for rows.Next() {
		var (
			e      domain.AuditEvent
			action string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &action, &e.IP, &e.UserAgent, &e.Detail, &e.At); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = domain.AuditAction(action)
		e.At = e.At.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}
