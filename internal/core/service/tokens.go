package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultIssuer     = "devlink-identity"
)

// tokenClaims is the JWT payload shared by access and refresh tokens.
// Refresh tokens leave Role empty.
type tokenClaims struct {
	Role      string           `json:"role,omitempty"`
	SessionID string           `json:"sid"`
	Counter   int64            `json:"ctr"`
	Type      domain.TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// TokenConfig tunes token lifetimes.
type TokenConfig struct {
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenService mints and validates access and refresh tokens and owns the
// refresh rotation protocol.
type TokenService struct {
	sessions ports.SessionRepository
	users    ports.UserRepository
	keys     *Keyring
	parser   *jwt.Parser
	cfg      TokenConfig
	now      Clock
	metrics  Metrics
	audit    *AuditTrail
	log      zerolog.Logger
}

func NewTokenService(store ports.Store, keys *Keyring, cfg TokenConfig, now Clock, metrics Metrics, log zerolog.Logger) *TokenService {
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if now == nil {
		now = SystemClock
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &TokenService{
		sessions: store.Sessions(),
		users:    store.Users(),
		keys:     keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(func() time.Time { return now() }),
		),
		cfg:     cfg,
		now:     now,
		metrics: metrics,
		audit:   NewAuditTrail(store.Audit(), now, log),
		log:     log,
	}
}

// IssueTokenPair opens a new session for user and returns tokens bound to
// its initial counter.
func (s *TokenService) IssueTokenPair(ctx context.Context, user *domain.User, meta domain.DeviceMeta) (*domain.TokenPair, error) {
	now := s.now()
	sess := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		FamilyID:  uuid.NewString(),
		Counter:   0,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		UpdatedAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.mint(user, sess, 0, now)
}

// VerifyAccessToken checks signature, issuer, expiry and type. It never
// reads storage, so an access token of a revoked session keeps working
// until it expires. AccessTTL bounds that window.
func (s *TokenService) VerifyAccessToken(raw string) (*domain.Claims, error) {
	return s.parse(raw, domain.TokenTypeAccess)
}

// RotateRefreshToken exchanges a refresh token for a new pair. A token whose
// counter is behind the session's is a replay: the session is revoked and
// ErrTokenReuse is returned.
func (s *TokenService) RotateRefreshToken(ctx context.Context, raw string) (*domain.TokenPair, error) {
	claims, err := s.parse(raw, domain.TokenTypeRefresh)
	if err != nil {
		s.metrics.RefreshAttempt("invalid_token")
		return nil, err
	}

	sess, err := s.sessions.FindByID(ctx, claims.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		s.metrics.RefreshAttempt("unknown_session")
		return nil, domain.AuthError("invalid refresh token").WithReason("session_missing")
	}
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if sess.UserID != claims.UserID {
		s.metrics.RefreshAttempt("invalid_token")
		return nil, domain.AuthError("invalid refresh token").WithReason("subject_mismatch")
	}

	now := s.now()
	if state := sess.State(now); state != domain.SessionActive {
		s.metrics.RefreshAttempt(string(state))
		return nil, domain.AuthError("session is no longer valid").WithReason(string(state))
	}

	if claims.Counter != sess.Counter {
		return nil, s.reuseDetected(ctx, sess, claims.Counter, now)
	}

	user, err := s.users.FindByID(ctx, sess.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if user == nil || !user.CanAuthenticate() {
		if revErr := s.sessions.Revoke(ctx, sess.ID, domain.RevokeDeactivated, now); revErr != nil {
			s.log.Warn().Err(revErr).Str("session_id", sess.ID).Msg("failed to revoke session of disabled user")
		}
		s.metrics.RefreshAttempt("account_disabled")
		return nil, domain.AuthError("account is disabled")
	}

	next := sess.Counter + 1
	ok, err := s.sessions.UpdateIfCounter(ctx, sess.ID, sess.Counter, next, now)
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !ok {
		// Another rotation of the same token won the conditional update.
		return nil, s.reuseDetected(ctx, sess, claims.Counter, now)
	}

	pair, err := s.mint(user, sess, next, now)
	if err != nil {
		return nil, err
	}
	s.metrics.RefreshAttempt("success")
	return pair, nil
}

func (s *TokenService) reuseDetected(ctx context.Context, sess *domain.Session, presented int64, now time.Time) error {
	if err := s.sessions.Revoke(ctx, sess.ID, domain.RevokeReuseDetected, now); err != nil {
		return fmt.Errorf("revoke session after reuse: %w", err)
	}

	s.log.Warn().
		Str("event", domain.RevokeReuseDetected).
		Str("user_id", sess.UserID).
		Str("session_id", sess.ID).
		Str("family_id", sess.FamilyID).
		Int64("presented_counter", presented).
		Int64("stored_counter", sess.Counter).
		Str("ip", sess.IP).
		Msg("refresh token reuse detected, session revoked")

	s.metrics.ReuseDetected()
	s.metrics.RefreshAttempt("reuse_detected")
	s.metrics.SessionsRevoked(domain.RevokeReuseDetected, 1)
	s.audit.Record(ctx, sess.UserID, domain.AuditReuseDetected,
		domain.DeviceMeta{IP: sess.IP, UserAgent: sess.UserAgent},
		fmt.Sprintf("session %s presented counter %d, stored %d", sess.ID, presented, sess.Counter))
	return domain.ReuseDetectedError()
}

// RevokeSession revokes one session. Unknown sessions are treated as
// already revoked.
func (s *TokenService) RevokeSession(ctx context.Context, sessionID, reason string) error {
	err := s.sessions.Revoke(ctx, sessionID, reason, s.now())
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.metrics.SessionsRevoked(reason, 1)
	return nil
}

// RevokeAllSessions revokes every live session of a user.
func (s *TokenService) RevokeAllSessions(ctx context.Context, userID, reason string) (int64, error) {
	n, err := s.sessions.RevokeAllForUser(ctx, userID, reason, s.now())
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	s.metrics.SessionsRevoked(reason, n)
	return n, nil
}

func (s *TokenService) mint(user *domain.User, sess *domain.Session, counter int64, now time.Time) (*domain.TokenPair, error) {
	accessExp := now.Add(s.cfg.AccessTTL)
	if accessExp.After(sess.ExpiresAt) {
		accessExp = sess.ExpiresAt
	}

	access, err := s.keys.sign(s.claims(user.ID, user.Role, sess.ID, counter, domain.TokenTypeAccess, now, accessExp))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.keys.sign(s.claims(user.ID, "", sess.ID, counter, domain.TokenTypeRefresh, now, sess.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp.Truncate(time.Second),
		RefreshExpiresAt: sess.ExpiresAt.Truncate(time.Second),
	}, nil
}

func (s *TokenService) claims(userID, role, sessionID string, counter int64, typ domain.TokenType, iat, exp time.Time) tokenClaims {
	return tokenClaims{
		Role:      role,
		SessionID: sessionID,
		Counter:   counter,
		Type:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
}

func (s *TokenService) parse(raw string, want domain.TokenType) (*domain.Claims, error) {
	var c tokenClaims
	tok, err := s.parser.ParseWithClaims(raw, &c, s.keys.keyFunc)
	if err != nil || !tok.Valid {
		reason := "invalid"
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			reason = "expired"
		case errors.Is(err, errUnknownKey):
			reason = "unknown_key"
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			reason = "bad_signature"
		}
		return nil, domain.AuthError("invalid or expired token").WithReason(reason)
	}
	if c.Type != want {
		return nil, domain.AuthError("invalid or expired token").WithReason("wrong_type")
	}
	if c.Subject == "" || c.SessionID == "" {
		return nil, domain.AuthError("invalid or expired token").WithReason("malformed")
	}

	kid, _ := tok.Header["kid"].(string)
	out := &domain.Claims{
		UserID:    c.Subject,
		Role:      c.Role,
		SessionID: c.SessionID,
		Counter:   c.Counter,
		Type:      c.Type,
		KeyID:     kid,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}
