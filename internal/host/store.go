package host

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/dshills/warden/internal/logging"
	"github.com/dshills/warden/internal/provider"
)

// ErrStoreClosed is returned by store operations after Close.
var ErrStoreClosed = errors.New("store is closed")

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	tenant_id  TEXT NOT NULL,
	scopes     TEXT NOT NULL,
	key        TEXT NOT NULL,
	id         TEXT NOT NULL,
	value      TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, scopes, key)
);

CREATE TABLE IF NOT EXISTS global_kv (
	key        TEXT NOT NULL,
	version    INTEGER NOT NULL,
	scope      TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	public     INTEGER NOT NULL,
	data       TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (scope, key, version)
);

CREATE TABLE IF NOT EXISTS scheduled_execs (
	tenant_id     TEXT NOT NULL,
	id            TEXT NOT NULL,
	template_name TEXT NOT NULL,
	data          TEXT,
	run_at        INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_scheduled_execs_run_at ON scheduled_execs(run_at);
`

// Store persists tenant key-value data, global key-value data and
// scheduled executions in SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// OpenStore opens the SQLite database at dsn and creates the schema.
func OpenStore(dsn string, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn cannot be empty")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logging.OrNop(logger).Named("store"),
	}, nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// scopeKey normalizes a scope list into the stored column value. Order is
// not significant.
func scopeKey(scopes []string) (string, error) {
	sorted := append([]string{}, scopes...)
	sort.Strings(sorted)
	b, err := json.Marshal(sorted)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeValue(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("value is not storable: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeValue(ns sql.NullString) (any, error) {
	if !ns.Valid {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return nil, fmt.Errorf("corrupt stored value: %w", err)
	}
	return v, nil
}

func unixNano(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

// kvListScopes returns the distinct scopes used by tenant, sorted.
func (s *Store) kvListScopes(ctx context.Context, tenant string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT scopes FROM kv WHERE tenant_id = ?`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var scopes []string
		if err := json.Unmarshal([]byte(raw), &scopes); err != nil {
			return nil, fmt.Errorf("corrupt scope list: %w", err)
		}
		for _, sc := range scopes {
			seen[sc] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for sc := range seen {
		out = append(out, sc)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) kvKeys(ctx context.Context, tenant string, scopes []string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	sk, err := scopeKey(scopes)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE tenant_id = ? AND scopes = ? ORDER BY key`, tenant, sk)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

const kvColumns = `id, key, value, scopes, created_at, updated_at`

func scanKV(row interface{ Scan(...any) error }) (provider.KVRecord, error) {
	var (
		rec       provider.KVRecord
		value     sql.NullString
		scopes    string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&rec.ID, &rec.Key, &value, &scopes, &createdAt, &updatedAt); err != nil {
		return rec, err
	}
	v, err := decodeValue(value)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(scopes), &rec.Scopes); err != nil {
		return rec, fmt.Errorf("corrupt scope list: %w", err)
	}
	created, updated := fromUnixNano(createdAt), fromUnixNano(updatedAt)
	rec.Value = v
	rec.Exists = true
	rec.CreatedAt = &created
	rec.LastUpdatedAt = &updated
	return rec, nil
}

// kvFind returns the records whose key matches the SQL LIKE pattern query.
func (s *Store) kvFind(ctx context.Context, tenant string, scopes []string, query string) ([]provider.KVRecord, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	sk, err := scopeKey(scopes)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+kvColumns+` FROM kv WHERE tenant_id = ? AND scopes = ? AND key LIKE ? ORDER BY key`,
		tenant, sk, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find keys: %w", err)
	}
	defer rows.Close()

	var out []provider.KVRecord
	for rows.Next() {
		rec, err := scanKV(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) kvGet(ctx context.Context, tenant string, scopes []string, key string) (provider.KVRecord, error) {
	if err := s.check(); err != nil {
		return provider.KVRecord{}, err
	}
	sk, err := scopeKey(scopes)
	if err != nil {
		return provider.KVRecord{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+kvColumns+` FROM kv WHERE tenant_id = ? AND scopes = ? AND key = ?`, tenant, sk, key)
	rec, err := scanKV(row)
	if errors.Is(err, sql.ErrNoRows) {
		return provider.KVRecord{Key: key, Scopes: scopes}, nil
	}
	if err != nil {
		return provider.KVRecord{}, fmt.Errorf("failed to get key %q: %w", key, err)
	}
	return rec, nil
}

func (s *Store) kvSet(ctx context.Context, tenant string, scopes []string, key string, value any, id string) (provider.KVSetResult, error) {
	if err := s.check(); err != nil {
		return provider.KVSetResult{}, err
	}
	sk, err := scopeKey(scopes)
	if err != nil {
		return provider.KVSetResult{}, err
	}
	v, err := encodeValue(value)
	if err != nil {
		return provider.KVSetResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return provider.KVSetResult{}, err
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM kv WHERE tenant_id = ? AND scopes = ? AND key = ?`, tenant, sk, key).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return provider.KVSetResult{}, err
	default:
		id = existing
	}

	now := unixNano(time.Now())
	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv (tenant_id, scopes, key, id, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, scopes, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, tenant, sk, key, id, v, now, now)
	if err != nil {
		return provider.KVSetResult{}, fmt.Errorf("failed to set key %q: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return provider.KVSetResult{}, err
	}
	return provider.KVSetResult{Exists: existing != "", ID: id}, nil
}

func (s *Store) kvDelete(ctx context.Context, tenant string, scopes []string, key string) error {
	if err := s.check(); err != nil {
		return err
	}
	sk, err := scopeKey(scopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE tenant_id = ? AND scopes = ? AND key = ?`, tenant, sk, key)
	if err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}
