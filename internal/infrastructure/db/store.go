// Package db opens the configured storage backend.
package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/devlink/identity/internal/core/ports"
	"github.com/devlink/identity/internal/infrastructure/config"
	"github.com/devlink/identity/internal/infrastructure/db/memory"
	"github.com/devlink/identity/internal/infrastructure/db/mongo"
	"github.com/devlink/identity/internal/infrastructure/db/postgres"
)

// Open connects to the backend named by cfg.Driver and prepares its schema:
// indexes on MongoDB, migrations on PostgreSQL.
func Open(ctx context.Context, cfg config.StoreConfig, log zerolog.Logger) (ports.Store, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		client, db, err := mongo.Connect(ctx, mongo.Config{URI: cfg.MongoURI, Database: cfg.MongoDB, Timeout: cfg.Timeout})
		if err != nil {
			return nil, err
		}
		store := mongo.NewStore(db, cfg.Timeout)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		log.Info().Str("database", cfg.MongoDB).Msg("mongo store ready")
		return store, nil

	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.PostgresDSN, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		if err := postgres.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info().Msg("postgres store ready")
		return postgres.NewStore(db, cfg.Timeout), nil

	case config.DriverMemory:
		log.Warn().Msg("using the in-memory store; data is lost on restart")
		return memory.NewStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
