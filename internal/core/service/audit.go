package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// AuditTrail appends security events for an account. A failed write is
// logged and never fails the operation that produced the event.
type AuditTrail struct {
	repo ports.AuditRepository
	now  Clock
	log  zerolog.Logger
}

func NewAuditTrail(repo ports.AuditRepository, now Clock, log zerolog.Logger) *AuditTrail {
	if now == nil {
		now = SystemClock
	}
	return &AuditTrail{repo: repo, now: now, log: log}
}

// Record appends one event. meta and detail may be empty.
func (a *AuditTrail) Record(ctx context.Context, userID string, action domain.AuditAction, meta domain.DeviceMeta, detail string) {
	if a == nil || a.repo == nil || userID == "" {
		return
	}
	event := &domain.AuditEvent{
		UserID:    userID,
		Action:    action,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Detail:    detail,
		At:        a.now(),
	}
	if err := a.repo.Insert(ctx, event); err != nil {
		a.log.Warn().Err(err).Str("user_id", userID).Str("action", string(action)).Msg("failed to insert audit event")
	}
}

// List returns the newest events of a user. limit is clamped to
// [1, maxAuditLimit] and defaults to defaultAuditLimit.
func (a *AuditTrail) List(ctx context.Context, userID string, limit int) ([]*domain.AuditEvent, error) {
	if limit < 1 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	events, err := a.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}
