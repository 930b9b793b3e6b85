package host

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/warden/internal/provider"
)

// PublishGlobal stores rec as a new version of its key. A zero Version
// takes the next free version number. The stored record is returned.
func (s *Store) PublishGlobal(ctx context.Context, rec provider.GlobalKVRecord) (provider.GlobalKVRecord, error) {
	if err := s.check(); err != nil {
		return rec, err
	}
	if rec.Key == "" || rec.Scope == "" {
		return rec, fmt.Errorf("global key and scope must be set")
	}
	data, err := encodeValue(rec.Data)
	if err != nil {
		return rec, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()

	if rec.Version == 0 {
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM global_kv WHERE scope = ? AND key = ?`,
			rec.Scope, rec.Key).Scan(&rec.Version)
		if err != nil {
			return rec, err
		}
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.LastUpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO global_kv (key, version, scope, owner_id, public, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope, key, version) DO UPDATE SET
			owner_id = excluded.owner_id,
			public = excluded.public,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, rec.Key, rec.Version, rec.Scope, rec.OwnerID, rec.Public, data,
		unixNano(rec.CreatedAt), unixNano(rec.LastUpdatedAt))
	if err != nil {
		return rec, fmt.Errorf("failed to publish %q: %w", rec.Key, err)
	}
	return rec, tx.Commit()
}

const globalColumns = `key, version, scope, owner_id, public, data, created_at, updated_at`

func scanGlobal(row interface{ Scan(...any) error }) (provider.GlobalKVRecord, error) {
	var (
		rec       provider.GlobalKVRecord
		data      sql.NullString
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&rec.Key, &rec.Version, &rec.Scope, &rec.OwnerID, &rec.Public, &data, &createdAt, &updatedAt)
	if err != nil {
		return rec, err
	}
	if rec.Data, err = decodeValue(data); err != nil {
		return rec, err
	}
	rec.CreatedAt = fromUnixNano(createdAt)
	rec.LastUpdatedAt = fromUnixNano(updatedAt)
	return rec, nil
}

// globalList returns the latest version of every public key in scope
// matching the SQL LIKE pattern query.
func (s *Store) globalList(ctx context.Context, query, scope string) ([]provider.GlobalKVRecord, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+globalColumns+` FROM global_kv g
		WHERE scope = ? AND public = 1 AND key LIKE ?
		  AND version = (SELECT MAX(version) FROM global_kv WHERE scope = g.scope AND key = g.key)
		ORDER BY key
	`, scope, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list global keys: %w", err)
	}
	defer rows.Close()

	var out []provider.GlobalKVRecord
	for rows.Next() {
		rec, err := scanGlobal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// globalGet returns one version of key, or the latest when version is 0.
// A missing key is (nil, nil).
func (s *Store) globalGet(ctx context.Context, key string, version int, scope string) (*provider.GlobalKVRecord, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var row *sql.Row
	if version == 0 {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+globalColumns+` FROM global_kv WHERE scope = ? AND key = ? ORDER BY version DESC LIMIT 1`,
			scope, key)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+globalColumns+` FROM global_kv WHERE scope = ? AND key = ? AND version = ?`,
			scope, key, version)
	}
	rec, err := scanGlobal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get global key %q: %w", key, err)
	}
	return &rec, nil
}

// GlobalKV serves read access to the global store for one tenant.
type GlobalKV struct {
	limits
	store *Store
}

func (g *GlobalKV) List(ctx context.Context, query, scope string) ([]provider.GlobalKVRecord, error) {
	return g.store.globalList(ctx, query, scope)
}

func (g *GlobalKV) Get(ctx context.Context, key string, version int, scope string) (*provider.GlobalKVRecord, error) {
	return g.store.globalGet(ctx, key, version, scope)
}

var _ provider.GlobalKVProvider = (*GlobalKV)(nil)
