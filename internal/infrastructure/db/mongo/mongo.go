package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/devlink/identity/internal/core/ports"
)

const defaultTimeout = 10 * time.Second

const (
	collectionUsers    = "users"
	collectionRoles    = "roles"
	collectionSessions = "sessions"
	collectionTokens   = "one_time_tokens"
	collectionAudit    = "audit_events"
)

// Config captures the minimal settings required to establish a MongoDB connection.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Connect establishes a MongoDB client, verifies connectivity with a ping, and
// returns both the client and the selected database. A default timeout is
// applied when none is provided.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Database, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(cfg.Database)
	return client, db, nil
}

// Store implements ports.Store on top of one MongoDB database.
type Store struct {
	db       *mongo.Database
	timeout  time.Duration
	users    *UserRepository
	roles    *RoleRepository
	sessions *SessionRepository
	tokens   *TokenRepository
	audit    *AuditRepository
}

var _ ports.Store = (*Store)(nil)

// NewStore wires the repositories. Every call runs under timeout.
func NewStore(db *mongo.Database, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{
		db:       db,
		timeout:  timeout,
		users:    &UserRepository{col: db.Collection(collectionUsers), timeout: timeout},
		roles:    &RoleRepository{col: db.Collection(collectionRoles), timeout: timeout},
		sessions: &SessionRepository{col: db.Collection(collectionSessions), timeout: timeout},
		tokens:   &TokenRepository{col: db.Collection(collectionTokens), timeout: timeout},
		audit:    &AuditRepository{col: db.Collection(collectionAudit), timeout: timeout},
	}
}

func (s *Store) Users() ports.UserRepository       { return s.users }
func (s *Store) Roles() ports.RoleRepository       { return s.roles }
func (s *Store) Sessions() ports.SessionRepository { return s.sessions }
func (s *Store) Tokens() ports.TokenRepository     { return s.tokens }
func (s *Store) Audit() ports.AuditRepository      { return s.audit }

// ReplacePassword revokes every session before writing the new hash, so a
// failure in between only logs the user out.
func (s *Store) ReplacePassword(ctx context.Context, userID, hash, reason string, at time.Time) error {
	if _, err := s.sessions.RevokeAllForUser(ctx, userID, reason, at); err != nil {
		return err
	}
	return s.users.setPasswordHash(ctx, userID, hash, at)
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.Client().Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

// EnsureIndexes creates the unique and lookup indexes of every collection.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	unique := options.Index().SetUnique(true)
	plan := map[*mongo.Collection][]mongo.IndexModel{
		s.users.col: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		s.roles.col: {
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: unique},
		},
		s.sessions.col: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "revoked", Value: 1}}},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
		s.tokens.col: {
			{Keys: bson.D{{Key: "token_hash", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "purpose", Value: 1}}},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
		s.audit.col: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "at", Value: -1}}},
		},
	}
	for col, indexes := range plan {
		if _, err := col.Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("create indexes on %s: %w", col.Name(), err)
		}
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
