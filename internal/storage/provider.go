package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lockd/internal/config"
	"lockd/internal/lock"
)

type Provider interface {
	Close() error
	GetSchemaVersion(ctx context.Context) (int, error)

	// Application data snapshot and per-key secrets. A change commits
	// in one transaction; data may be nil for a secrets-only change.
	LoadApplicationData(ctx context.Context) (*lock.ApplicationData, error)
	LoadSecrets(ctx context.Context) (map[uuid.UUID]lock.Secret, error)
	SaveChange(ctx context.Context, data *lock.ApplicationData, setSecrets map[uuid.UUID]lock.Secret, deleteSecrets []uuid.UUID) error

	// Replay nonce methods
	InsertNonce(ctx context.Context, key string, evictAt time.Time) (bool, error)
	EvictNonces(ctx context.Context, now time.Time) error
}

func NewProvider(config *config.Storage) Provider {
	switch {
	case config.SQLite != nil:
		provider := NewSQLiteProvider(config)
		if err := provider.runMigrations("sqlite3"); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			return nil
		}
		return provider

	default:
		slog.Error("Unsupported storage configuration", "config", config)
	}

	return nil
}
