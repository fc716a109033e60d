package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

const (
	tracerName = "github.com/devlink/identity/internal/core/service"

	defaultPageLimit = 10
	maxPageLimit     = 100
)

var errInvalidCredentials = domain.AuthError("invalid credentials")

// Config groups the tunables of the authentication gateway.
type Config struct {
	BcryptCost  int
	Token       TokenConfig
	Credentials CredentialConfig
}

// Deps groups the collaborators of the authentication gateway. Cache,
// Metrics, Tracer and Clock are optional.
type Deps struct {
	Store   ports.Store
	Keys    *Keyring
	Mailer  ports.Mailer
	Cache   ports.PermissionCache
	Metrics Metrics
	Tracer  trace.Tracer
	Clock   Clock
	Log     zerolog.Logger
}

// AuthService is the authentication gateway. It composes the credential,
// token and RBAC services behind one entry point per use case.
type AuthService struct {
	store   ports.Store
	hasher  *PasswordHasher
	creds   *CredentialService
	tokens  *TokenService
	rbac    *RBACService
	tracer  trace.Tracer
	metrics Metrics
	audit   *AuditTrail
	now     Clock
	log     zerolog.Logger
}

var _ ports.AuthService = (*AuthService)(nil)

func NewAuthService(cfg Config, deps Deps) *AuthService {
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}

	hasher := NewPasswordHasher(cfg.BcryptCost)
	return &AuthService{
		store:   deps.Store,
		hasher:  hasher,
		creds:   NewCredentialService(deps.Store, hasher, deps.Mailer, cfg.Credentials, deps.Clock, deps.Log),
		tokens:  NewTokenService(deps.Store, deps.Keys, cfg.Token, deps.Clock, deps.Metrics, deps.Log),
		rbac:    NewRBACService(deps.Store.Roles(), deps.Cache, deps.Log),
		tracer:  deps.Tracer,
		metrics: deps.Metrics,
		audit:   NewAuditTrail(deps.Store.Audit(), deps.Clock, deps.Log),
		now:     deps.Clock,
		log:     deps.Log,
	}
}

// Tokens exposes the token service for background jobs and tooling.
func (s *AuthService) Tokens() *TokenService { return s.tokens }

// Hasher exposes the password hasher used for new accounts.
func (s *AuthService) Hasher() *PasswordHasher { return s.hasher }

func (s *AuthService) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "auth."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ── Credentials ──────────────────────────────────────────────────────────────

func (s *AuthService) Signup(ctx context.Context, in ports.SignupInput) (_ *domain.PublicUser, err error) {
	ctx, span := s.start(ctx, "Signup")
	defer func() { endSpan(span, err) }()

	return s.creds.Signup(ctx, in)
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string) (_ *domain.PublicUser, err error) {
	ctx, span := s.start(ctx, "VerifyEmail")
	defer func() { endSpan(span, err) }()

	return s.creds.VerifyEmail(ctx, token)
}

func (s *AuthService) ResendVerification(ctx context.Context, email string) (err error) {
	ctx, span := s.start(ctx, "ResendVerification")
	defer func() { endSpan(span, err) }()

	return s.creds.ResendVerification(ctx, email)
}

func (s *AuthService) ForgotPassword(ctx context.Context, email string) (err error) {
	ctx, span := s.start(ctx, "ForgotPassword")
	defer func() { endSpan(span, err) }()

	return s.creds.ForgotPassword(ctx, email)
}

func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, span := s.start(ctx, "ResetPassword")
	defer func() { endSpan(span, err) }()

	return s.creds.ResetPassword(ctx, token, newPassword)
}

func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (err error) {
	ctx, span := s.start(ctx, "ChangePassword", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	return s.creds.ChangePassword(ctx, userID, currentPassword, newPassword)
}

// ── Sessions ─────────────────────────────────────────────────────────────────

// Login checks credentials and opens a session. Unknown email, wrong
// password and disabled accounts all fail with the same error.
func (s *AuthService) Login(ctx context.Context, email, password string, meta domain.DeviceMeta) (_ *ports.LoginResult, err error) {
	ctx, span := s.start(ctx, "Login")
	defer func() { endSpan(span, err) }()

	user, err := s.store.Users().FindByEmail(ctx, domain.NormalizeEmail(email))
	if errors.Is(err, domain.ErrNotFound) {
		s.hasher.BurnCompare(password)
		s.metrics.LoginAttempt("invalid_credentials")
		return nil, errInvalidCredentials.WithReason("unknown_email")
	}
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	if !s.hasher.VerifyPassword(password, user.PasswordHash) {
		s.metrics.LoginAttempt("invalid_credentials")
		s.audit.Record(ctx, user.ID, domain.AuditLoginFailed, meta, "bad_password")
		return nil, errInvalidCredentials.WithReason("bad_password")
	}
	if !user.CanAuthenticate() {
		s.metrics.LoginAttempt("invalid_credentials")
		s.audit.Record(ctx, user.ID, domain.AuditLoginFailed, meta, "account_disabled")
		return nil, errInvalidCredentials.WithReason("account_disabled")
	}
	if !user.EmailVerified {
		s.metrics.LoginAttempt("email_not_verified")
		return nil, domain.AuthError("email not verified")
	}

	pair, err := s.tokens.IssueTokenPair(ctx, user, meta)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	now := s.now()
	if err := s.store.Users().TouchLastLogin(ctx, user.ID, now); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record last login")
	} else {
		user.LastLoginAt = &now
	}

	s.metrics.LoginAttempt("success")
	s.audit.Record(ctx, user.ID, domain.AuditLogin, meta, "")
	s.log.Info().Str("user_id", user.ID).Str("ip", meta.IP).Msg("user logged in")
	return &ports.LoginResult{Tokens: pair, User: user.Public()}, nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (_ *domain.TokenPair, err error) {
	ctx, span := s.start(ctx, "Refresh")
	defer func() { endSpan(span, err) }()

	return s.tokens.RotateRefreshToken(ctx, refreshToken)
}

// Logout revokes the session the access token belongs to. Other access
// tokens of that session stay valid until they expire.
func (s *AuthService) Logout(ctx context.Context, accessToken string) (err error) {
	ctx, span := s.start(ctx, "Logout")
	defer func() { endSpan(span, err) }()

	claims, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return err
	}
	if err := s.tokens.RevokeSession(ctx, claims.SessionID, domain.RevokeLogout); err != nil {
		return err
	}
	s.log.Info().Str("user_id", claims.UserID).Str("session_id", claims.SessionID).Msg("user logged out")
	return nil
}

func (s *AuthService) LogoutAll(ctx context.Context, userID string) (err error) {
	ctx, span := s.start(ctx, "LogoutAll", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	n, err := s.tokens.RevokeAllSessions(ctx, userID, domain.RevokeLogoutAll)
	if err != nil {
		return err
	}
	s.audit.Record(ctx, userID, domain.AuditLogoutAll, domain.DeviceMeta{}, fmt.Sprintf("%d sessions revoked", n))
	s.log.Info().Str("user_id", userID).Int64("sessions", n).Msg("user logged out everywhere")
	return nil
}

// ── Profile and administration ───────────────────────────────────────────────

func (s *AuthService) loadUser(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.store.Users().FindByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && user.Deleted()) {
		return nil, domain.NotFoundError("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *AuthService) GetProfile(ctx context.Context, userID string) (_ *domain.PublicUser, err error) {
	ctx, span := s.start(ctx, "GetProfile", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Public(), nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID string, in ports.ProfileUpdate) (_ *domain.PublicUser, err error) {
	ctx, span := s.start(ctx, "UpdateProfile", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, domain.ForbiddenError("account is deactivated")
	}

	name := user.Name
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
		if n := utf8.RuneCountInString(name); n == 0 || n > maxNameLen {
			return nil, domain.ValidationError(fmt.Sprintf("name must be between 1 and %d characters", maxNameLen))
		}
	}
	twoFactor := user.TwoFactorEnabled
	if in.TwoFactorEnabled != nil {
		twoFactor = *in.TwoFactorEnabled
	}

	if err := s.store.Users().UpdateProfile(ctx, user.ID, name, twoFactor, s.now()); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return s.GetProfile(ctx, user.ID)
}

// DeleteAccount soft-deletes the user and revokes every session.
func (s *AuthService) DeleteAccount(ctx context.Context, userID string) (err error) {
	ctx, span := s.start(ctx, "DeleteAccount", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := s.tokens.RevokeAllSessions(ctx, user.ID, domain.RevokeDeleted); err != nil {
		return err
	}
	if err := s.store.Users().SoftDelete(ctx, user.ID, s.now()); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	s.audit.Record(ctx, user.ID, domain.AuditAccountDeleted, domain.DeviceMeta{}, "")
	s.log.Info().Str("user_id", user.ID).Msg("account deleted")
	return nil
}

func (s *AuthService) GetUser(ctx context.Context, id string) (*domain.PublicUser, error) {
	return s.GetProfile(ctx, id)
}

func (s *AuthService) ListUsers(ctx context.Context, filter ports.ListUsersFilter) (_ *ports.UserPage, err error) {
	ctx, span := s.start(ctx, "ListUsers")
	defer func() { endSpan(span, err) }()

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultPageLimit
	}
	if filter.Limit > maxPageLimit {
		filter.Limit = maxPageLimit
	}
	filter.Search = strings.TrimSpace(filter.Search)

	users, total, err := s.store.Users().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	page := &ports.UserPage{
		Users: make([]*domain.PublicUser, 0, len(users)),
		Total: total,
		Page:  filter.Page,
		Limit: filter.Limit,
	}
	for _, u := range users {
		page.Users = append(page.Users, u.Public())
	}
	return page, nil
}

// SetUserActive activates or deactivates an account. Deactivation revokes
// every session.
func (s *AuthService) SetUserActive(ctx context.Context, id string, active bool) (_ *domain.PublicUser, err error) {
	ctx, span := s.start(ctx, "SetUserActive", attribute.String("user.id", id), attribute.Bool("active", active))
	defer func() { endSpan(span, err) }()

	user, err := s.loadUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if !active {
		if _, err := s.tokens.RevokeAllSessions(ctx, user.ID, domain.RevokeDeactivated); err != nil {
			return nil, err
		}
	}
	if err := s.store.Users().SetActive(ctx, user.ID, active, s.now()); err != nil {
		return nil, fmt.Errorf("set active: %w", err)
	}

	action := domain.AuditDeactivated
	if active {
		action = domain.AuditActivated
	}
	s.audit.Record(ctx, user.ID, action, domain.DeviceMeta{}, "")
	s.log.Info().Str("user_id", user.ID).Bool("active", active).Msg("account status changed")
	return s.GetProfile(ctx, user.ID)
}

// AssignRole moves a user to an existing role. The new role applies to
// access tokens minted from the next refresh on.
func (s *AuthService) AssignRole(ctx context.Context, id, role string) (_ *domain.PublicUser, err error) {
	ctx, span := s.start(ctx, "AssignRole", attribute.String("user.id", id), attribute.String("role", role))
	defer func() { endSpan(span, err) }()

	if _, err := s.store.Roles().FindByName(ctx, role); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ValidationError(fmt.Sprintf("role %q does not exist", role))
		}
		return nil, fmt.Errorf("assign role: %w", err)
	}

	user, err := s.loadUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.Users().SetRole(ctx, user.ID, role, s.now()); err != nil {
		return nil, fmt.Errorf("assign role: %w", err)
	}

	s.audit.Record(ctx, user.ID, domain.AuditRoleAssigned, domain.DeviceMeta{}, fmt.Sprintf("%s -> %s", user.Role, role))
	s.log.Info().Str("user_id", user.ID).Str("role", role).Msg("role assigned")
	return s.GetProfile(ctx, user.ID)
}

// AuditLog returns the newest security events of a user.
func (s *AuthService) AuditLog(ctx context.Context, userID string, limit int) (_ []*domain.AuditEvent, err error) {
	ctx, span := s.start(ctx, "AuditLog", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.audit.List(ctx, user.ID, limit)
}

// ── Request authorization ────────────────────────────────────────────────────

// Authenticate validates an access token without touching storage.
func (s *AuthService) Authenticate(_ context.Context, accessToken string) (*domain.Claims, error) {
	return s.tokens.VerifyAccessToken(accessToken)
}

// Authorize authenticates the token, loads the user and checks permission.
func (s *AuthService) Authorize(ctx context.Context, accessToken, permission string) (_ *domain.Principal, err error) {
	ctx, span := s.start(ctx, "Authorize", attribute.String("permission", permission))
	defer func() { endSpan(span, err) }()

	claims, user, err := s.principal(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if err := s.rbac.Authorize(ctx, user, permission); err != nil {
		return nil, err
	}
	return &domain.Principal{Claims: claims, User: user.Public()}, nil
}

// AuthorizeRoles authenticates the token and requires one of roles.
func (s *AuthService) AuthorizeRoles(ctx context.Context, accessToken string, roles ...string) (_ *domain.Principal, err error) {
	ctx, span := s.start(ctx, "AuthorizeRoles", attribute.StringSlice("roles", roles))
	defer func() { endSpan(span, err) }()

	claims, user, err := s.principal(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if err := s.rbac.AuthorizeAny(ctx, user, roles...); err != nil {
		return nil, err
	}
	return &domain.Principal{Claims: claims, User: user.Public()}, nil
}

func (s *AuthService) principal(ctx context.Context, accessToken string) (*domain.Claims, *domain.User, error) {
	claims, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.store.Users().FindByID(ctx, claims.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return claims, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load principal: %w", err)
	}
	return claims, user, nil
}
