// Package store opens the attendance backend selected by configuration.
package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/store/memory"
	"qrattend/internal/store/mongostore"
	"qrattend/internal/store/postgres"
)

// Backend names accepted in STORE_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

// Open connects to the configured backend and prepares its schema or indexes.
func Open(ctx context.Context, cfg config.App) (attendance.Store, error) {
	switch cfg.StoreBackend {
	case BackendPostgres:
		db, err := NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st := postgres.New(db)
		if err := st.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info().Str("backend", BackendPostgres).Msg("store ready")
		return st, nil
	case BackendMongo:
		client, err := NewMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		st, err := mongostore.New(ctx, client, cfg.MongoDatabase)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		log.Info().Str("backend", BackendMongo).Str("database", cfg.MongoDatabase).Msg("store ready")
		return st, nil
	case BackendMemory:
		if cfg.Production() {
			return nil, fmt.Errorf("store backend %q is not allowed in production", BackendMemory)
		}
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
