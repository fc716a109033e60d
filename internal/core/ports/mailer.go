package ports

import (
	"context"

	"github.com/devlink/identity/internal/core/domain"
)

// Mailer delivers account notifications. Implementations may deliver
// asynchronously; a returned error means the message was not accepted.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, user *domain.PublicUser, rawToken string) error
	SendPasswordResetEmail(ctx context.Context, user *domain.PublicUser, rawToken string) error
}
