package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"lockd/internal/config"
	"lockd/internal/lock"
)

// ErrNoApplicationData is returned when the database holds no snapshot
// yet, i.e. on first start before setup.
var ErrNoApplicationData = errors.New("no application data in storage")

type SQLProvider struct {
	db *sqlx.DB

	config *config.Storage

	logger *slog.Logger
}

func NewSQLProvider(config *config.Storage, driverName string, dataSource string) (provider *SQLProvider) {
	db, err := sqlx.Open(driverName, dataSource)
	if err != nil {
		return nil
	}

	logger := slog.With("component", "storage")

	return &SQLProvider{
		db:     db,
		config: config,
		logger: logger,
	}
}

func (p *SQLProvider) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// LoadApplicationData reassembles the persisted snapshot from the
// relational tables. Returns ErrNoApplicationData when the database is
// empty.
func (p *SQLProvider) LoadApplicationData(ctx context.Context) (*lock.ApplicationData, error) {
	var row appDataRow
	if err := p.db.GetContext(ctx, &row, `SELECT id, created, updated FROM app_data LIMIT 1`); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoApplicationData
		}
		return nil, fmt.Errorf("failed to load application data: %w", err)
	}

	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt application data identifier: %w", err)
	}

	data := &lock.ApplicationData{
		Identifier: id,
		Created:    row.Created.UTC(),
		Updated:    row.Updated.UTC(),
	}

	var lockRows []lockRow
	if err := p.db.SelectContext(ctx, &lockRows, `SELECT id, name, key FROM locks`); err != nil {
		return nil, fmt.Errorf("failed to load locks: %w", err)
	}
	for _, r := range lockRows {
		lockID, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("corrupt lock identifier: %w", err)
		}
		keyID, err := uuid.Parse(r.Key)
		if err != nil {
			return nil, fmt.Errorf("corrupt lock key identifier: %w", err)
		}
		data.Locks = append(data.Locks, lock.LockRecord{Identifier: lockID, Name: r.Name, Key: keyID})
	}

	var keyRows []keyRow
	if err := p.db.SelectContext(ctx, &keyRows, `SELECT id, name, created, permission FROM keys`); err != nil {
		return nil, fmt.Errorf("failed to load keys: %w", err)
	}
	for _, r := range keyRows {
		keyID, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("corrupt key identifier: %w", err)
		}
		var perm lock.Permission
		if err := json.Unmarshal([]byte(r.Permission), &perm); err != nil {
			return nil, fmt.Errorf("corrupt permission for key %s: %w", r.ID, err)
		}
		data.Keys = append(data.Keys, lock.Key{
			Identifier: keyID,
			Name:       r.Name,
			Created:    r.Created.UTC(),
			Permission: perm,
		})
	}

	var pendingRows []pendingKeyRow
	if err := p.db.SelectContext(ctx, &pendingRows, `SELECT id, name, created, expiration, permission FROM pending_keys`); err != nil {
		return nil, fmt.Errorf("failed to load pending keys: %w", err)
	}
	for _, r := range pendingRows {
		keyID, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("corrupt pending key identifier: %w", err)
		}
		var perm lock.Permission
		if err := json.Unmarshal([]byte(r.Permission), &perm); err != nil {
			return nil, fmt.Errorf("corrupt permission for pending key %s: %w", r.ID, err)
		}
		data.PendingKeys = append(data.PendingKeys, lock.NewKey{
			Identifier: keyID,
			Name:       r.Name,
			Permission: perm,
			Created:    r.Created.UTC(),
			Expiration: r.Expiration.UTC(),
		})
	}

	var eventRows []eventRow
	if err := p.db.SelectContext(ctx, &eventRows, `SELECT id, date, type, key, new_key FROM events ORDER BY date`); err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	for _, r := range eventRows {
		eventID, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("corrupt event identifier: %w", err)
		}
		keyID, err := uuid.Parse(r.Key)
		if err != nil {
			return nil, fmt.Errorf("corrupt event key identifier: %w", err)
		}
		event := lock.Event{
			Identifier: eventID,
			Date:       r.Date.UTC(),
			Type:       lock.EventType(r.Type),
			Key:        keyID,
		}
		if r.NewKey != nil {
			newKey, err := uuid.Parse(*r.NewKey)
			if err != nil {
				return nil, fmt.Errorf("corrupt event new key identifier: %w", err)
			}
			event.NewKey = &newKey
		}
		data.Events = append(data.Events, event)
	}

	return data, nil
}

// SaveChange commits one store change in a single transaction: the
// snapshot rewrite, the secret upserts and the secret deletes either
// all land or all roll back. data is nil for a secrets-only change.
func (p *SQLProvider) SaveChange(ctx context.Context, data *lock.ApplicationData, setSecrets map[uuid.UUID]lock.Secret, deleteSecrets []uuid.UUID) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if data != nil {
		if err := saveApplicationData(ctx, tx, *data); err != nil {
			return err
		}
	}
	for id, secret := range setSecrets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO secrets (id, secret) VALUES (?, ?)
			 ON CONFLICT (id) DO UPDATE SET secret = excluded.secret`,
			id.String(), []byte(secret),
		); err != nil {
			return fmt.Errorf("failed to save secret for %s: %w", id, err)
		}
	}
	for _, id := range deleteSecrets {
		if _, err := tx.ExecContext(ctx, `DELETE FROM secrets WHERE id = ?`, id.String()); err != nil {
			return fmt.Errorf("failed to delete secret for %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// saveApplicationData rewrites the snapshot tables inside tx. Events
// are append-only and inserted with OR IGNORE so that replayed saves
// after a merge do not duplicate history.
func saveApplicationData(ctx context.Context, tx *sqlx.Tx, data lock.ApplicationData) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM app_data`); err != nil {
		return fmt.Errorf("failed to clear application data: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO app_data (id, created, updated) VALUES (?, ?, ?)`,
		data.Identifier.String(), data.Created.UTC(), data.Updated.UTC(),
	); err != nil {
		return fmt.Errorf("failed to save application data: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM locks`); err != nil {
		return fmt.Errorf("failed to clear locks: %w", err)
	}
	for _, l := range data.Locks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO locks (id, name, key) VALUES (?, ?, ?)`,
			l.Identifier.String(), l.Name, l.Key.String(),
		); err != nil {
			return fmt.Errorf("failed to save lock %s: %w", l.Identifier, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM keys`); err != nil {
		return fmt.Errorf("failed to clear keys: %w", err)
	}
	for _, k := range data.Keys {
		perm, err := json.Marshal(k.Permission)
		if err != nil {
			return fmt.Errorf("failed to encode permission for key %s: %w", k.Identifier, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO keys (id, name, created, permission) VALUES (?, ?, ?, ?)`,
			k.Identifier.String(), k.Name, k.Created.UTC(), string(perm),
		); err != nil {
			return fmt.Errorf("failed to save key %s: %w", k.Identifier, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_keys`); err != nil {
		return fmt.Errorf("failed to clear pending keys: %w", err)
	}
	for _, k := range data.PendingKeys {
		perm, err := json.Marshal(k.Permission)
		if err != nil {
			return fmt.Errorf("failed to encode permission for pending key %s: %w", k.Identifier, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pending_keys (id, name, created, expiration, permission) VALUES (?, ?, ?, ?, ?)`,
			k.Identifier.String(), k.Name, k.Created.UTC(), k.Expiration.UTC(), string(perm),
		); err != nil {
			return fmt.Errorf("failed to save pending key %s: %w", k.Identifier, err)
		}
	}

	for _, e := range data.Events {
		var newKey *string
		if e.NewKey != nil {
			s := e.NewKey.String()
			newKey = &s
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO events (id, date, type, key, new_key) VALUES (?, ?, ?, ?, ?)`,
			e.Identifier.String(), e.Date.UTC(), string(e.Type), e.Key.String(), newKey,
		); err != nil {
			return fmt.Errorf("failed to save event %s: %w", e.Identifier, err)
		}
	}

	return nil
}

func (p *SQLProvider) LoadSecrets(ctx context.Context) (map[uuid.UUID]lock.Secret, error) {
	var rows []secretRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT id, secret FROM secrets`); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	secrets := make(map[uuid.UUID]lock.Secret, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("corrupt secret identifier: %w", err)
		}
		secrets[id] = lock.Secret(r.Secret)
	}
	return secrets, nil
}

// InsertNonce records a nonce for replay detection. Returns seen=true
// when the nonce was already present; the row itself is left intact so
// a replayed header keeps failing until eviction.
func (p *SQLProvider) InsertNonce(ctx context.Context, key string, evictAt time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO nonces (key, evict_at) VALUES (?, ?)`,
		key, evictAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check nonce insert: %w", err)
	}
	return n == 0, nil
}

func (p *SQLProvider) EvictNonces(ctx context.Context, now time.Time) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM nonces WHERE evict_at <= ?`, now.UTC()); err != nil {
		return fmt.Errorf("failed to evict nonces: %w", err)
	}
	return nil
}

func (p *SQLProvider) runMigrations(driver string) error {
	return NewMigrationRunner(driver).Up(p.db.DB)
}

func (p *SQLProvider) GetSchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := p.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
