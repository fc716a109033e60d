package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 72 // bcrypt input limit, in bytes
	maxNameLen     = 100

	oneTimeTokenBytes = 32
	defaultResetTTL   = time.Hour
)

var errInvalidOneTimeToken = domain.TokenError("invalid or expired token")

// PasswordHasher hashes passwords with bcrypt at a fixed cost.
type PasswordHasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewPasswordHasher returns a hasher using cost, clamped to bcrypt's bounds.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &PasswordHasher{cost: cost}
}

func (h *PasswordHasher) HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword compares in constant time.
func (h *PasswordHasher) VerifyPassword(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// BurnCompare performs a comparison against a throwaway hash so that a
// lookup miss costs the same as a password mismatch.
func (h *PasswordHasher) BurnCompare(plaintext string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte(uuid.NewString()), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
}

// ValidatePassword enforces the password policy.
func ValidatePassword(p string) error {
	n := utf8.RuneCountInString(p)
	if n < minPasswordLen {
		return domain.ValidationError(fmt.Sprintf("password must be at least %d characters long", minPasswordLen))
	}
	if len(p) > maxPasswordLen {
		return domain.ValidationError(fmt.Sprintf("password must not exceed %d bytes", maxPasswordLen))
	}

	var upper, lower, digit, symbol bool
	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return domain.ValidationError("password must contain at least one uppercase letter, one lowercase letter, one number and one special character")
	}
	return nil
}

// HashToken returns the hex SHA-256 of a raw one-time token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func newRawToken() (string, error) {
	b := make([]byte, oneTimeTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CredentialConfig tunes the credential workflows.
type CredentialConfig struct {
	DefaultRole string
	VerifyTTL   time.Duration
	ResetTTL    time.Duration
}

// CredentialService handles registration, email verification and password
// recovery.
type CredentialService struct {
	store    ports.Store
	hasher   *PasswordHasher
	mailer   ports.Mailer
	validate *validator.Validate
	cfg      CredentialConfig
	now      Clock
	audit    *AuditTrail
	log      zerolog.Logger
}

func NewCredentialService(
	store ports.Store,
	hasher *PasswordHasher,
	mailer ports.Mailer,
	cfg CredentialConfig,
	now Clock,
	log zerolog.Logger,
) *CredentialService {
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = domain.RoleUser
	}
	if cfg.VerifyTTL <= 0 {
		cfg.VerifyTTL = 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = defaultResetTTL
	}
	if now == nil {
		now = SystemClock
	}
	return &CredentialService{
		store:    store,
		hasher:   hasher,
		mailer:   mailer,
		validate: validator.New(),
		cfg:      cfg,
		now:      now,
		audit:    NewAuditTrail(store.Audit(), now, log),
		log:      log,
	}
}

// Signup registers an unverified account and mails a verification link.
func (s *CredentialService) Signup(ctx context.Context, in ports.SignupInput) (*domain.PublicUser, error) {
	email := domain.NormalizeEmail(in.Email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, domain.ValidationError("email must be a valid email address")
	}
	if n := utf8.RuneCountInString(in.Name); n == 0 || n > maxNameLen {
		return nil, domain.ValidationError(fmt.Sprintf("name must be between 1 and %d characters", maxNameLen))
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	if _, err := s.store.Users().FindByEmail(ctx, email); err == nil {
		return nil, domain.ConflictError("user with this email already exists")
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("signup: %w", err)
	}

	hash, err := s.hasher.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user, err := s.store.Users().Create(ctx, &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Name:         in.Name,
		Active:       true,
		Role:         s.cfg.DefaultRole,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.ConflictError("user with this email already exists")
		}
		return nil, fmt.Errorf("signup: %w", err)
	}

	if err := s.issueVerification(ctx, user); err != nil {
		return nil, fmt.Errorf("signup: %w", err)
	}

	s.log.Info().Str("user_id", user.ID).Msg("user registered")
	return user.Public(), nil
}

// VerifyEmail consumes a verification token and marks the email verified.
func (s *CredentialService) VerifyEmail(ctx context.Context, rawToken string) (*domain.PublicUser, error) {
	tok, err := s.consume(ctx, rawToken, domain.PurposeEmailVerify)
	if err != nil {
		return nil, err
	}

	if err := s.store.Users().MarkEmailVerified(ctx, tok.UserID, s.now()); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errInvalidOneTimeToken.WithReason("user_missing")
		}
		return nil, fmt.Errorf("verify email: %w", err)
	}

	user, err := s.store.Users().FindByID(ctx, tok.UserID)
	if err != nil {
		return nil, fmt.Errorf("verify email: %w", err)
	}

	s.log.Info().Str("user_id", user.ID).Msg("email verified")
	return user.Public(), nil
}

// ResendVerification mails a fresh verification link. Unknown and already
// verified addresses succeed silently.
func (s *CredentialService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.store.Users().FindByEmail(ctx, domain.NormalizeEmail(email))
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resend verification: %w", err)
	}
	if user.EmailVerified || !user.CanAuthenticate() {
		return nil
	}
	if err := s.issueVerification(ctx, user); err != nil {
		return fmt.Errorf("resend verification: %w", err)
	}
	return nil
}

// ForgotPassword mails a reset link. Unknown, inactive and deleted accounts
// succeed silently so the response does not reveal account existence.
func (s *CredentialService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.store.Users().FindByEmail(ctx, domain.NormalizeEmail(email))
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("forgot password: %w", err)
	}
	if !user.CanAuthenticate() {
		return nil
	}

	raw, err := s.replaceToken(ctx, user.ID, domain.PurposePasswordReset, s.cfg.ResetTTL)
	if err != nil {
		return fmt.Errorf("forgot password: %w", err)
	}
	if err := s.mailer.SendPasswordResetEmail(ctx, user.Public(), raw); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("password reset email not queued")
	}
	return nil
}

// ResetPassword consumes a reset token, replaces the password and revokes
// every session of the user.
func (s *CredentialService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	tok, err := s.consume(ctx, rawToken, domain.PurposePasswordReset)
	if err != nil {
		return err
	}

	user, err := s.store.Users().FindByID(ctx, tok.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return errInvalidOneTimeToken.WithReason("user_missing")
	}
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	if !user.CanAuthenticate() {
		return errInvalidOneTimeToken.WithReason("user_disabled")
	}

	if err := s.replacePassword(ctx, user.ID, newPassword, domain.RevokePasswordReset); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	s.audit.Record(ctx, user.ID, domain.AuditPasswordReset, domain.DeviceMeta{}, "")
	s.log.Info().Str("user_id", user.ID).Msg("password reset, all sessions revoked")
	return nil
}

// ChangePassword replaces the password of an authenticated user after
// checking the current one, and revokes every session.
func (s *CredentialService) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.store.Users().FindByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NotFoundError("user not found")
	}
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	if !user.CanAuthenticate() {
		return domain.AuthError("account is disabled")
	}
	if !s.hasher.VerifyPassword(current, user.PasswordHash) {
		return domain.AuthError("current password is incorrect")
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	if current == next {
		return domain.ValidationError("new password must differ from the current password")
	}

	if err := s.replacePassword(ctx, user.ID, next, domain.RevokePasswordChange); err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	s.audit.Record(ctx, user.ID, domain.AuditPasswordChanged, domain.DeviceMeta{}, "")
	s.log.Info().Str("user_id", user.ID).Msg("password changed, all sessions revoked")
	return nil
}

func (s *CredentialService) replacePassword(ctx context.Context, userID, plaintext, reason string) error {
	hash, err := s.hasher.HashPassword(plaintext)
	if err != nil {
		return err
	}
	return s.store.ReplacePassword(ctx, userID, hash, reason, s.now())
}

func (s *CredentialService) issueVerification(ctx context.Context, user *domain.User) error {
	raw, err := s.replaceToken(ctx, user.ID, domain.PurposeEmailVerify, s.cfg.VerifyTTL)
	if err != nil {
		return err
	}
	if err := s.mailer.SendVerificationEmail(ctx, user.Public(), raw); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("verification email not queued")
	}
	return nil
}

func (s *CredentialService) replaceToken(ctx context.Context, userID string, purpose domain.TokenPurpose, ttl time.Duration) (string, error) {
	raw, err := newRawToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	err = s.store.Tokens().Replace(ctx, &domain.OneTimeToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: HashToken(raw),
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("store %s token: %w", purpose, err)
	}
	return raw, nil
}

// consume atomically marks a one-time token used. Every rejection returns
// the same error to the caller; the reason is only logged.
func (s *CredentialService) consume(ctx context.Context, raw string, purpose domain.TokenPurpose) (*domain.OneTimeToken, error) {
	if raw == "" {
		return nil, errInvalidOneTimeToken.WithReason("empty")
	}

	hash := HashToken(raw)
	now := s.now()
	tok, err := s.store.Tokens().Consume(ctx, hash, purpose, now)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("consume %s token: %w", purpose, err)
	}

	reason := "not_found"
	if existing, findErr := s.store.Tokens().FindByHash(ctx, hash, purpose); findErr == nil {
		switch {
		case existing.ConsumedAt != nil:
			reason = "consumed"
		case !now.Before(existing.ExpiresAt):
			reason = "expired"
		}
	}
	s.log.Info().Str("purpose", string(purpose)).Str("reason", reason).Msg("one-time token rejected")
	return nil, errInvalidOneTimeToken.WithReason(reason)
}
