// Package sqlite provides the SQLite-backed implementation of the outbound
// store port. It gives a single-node deployment durable bucket state and
// idempotency records across process restarts without running Redis.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flux-gate/fluxgate/internal/port/outbound"
)

// purgeEvery is how many writes pass between sweeps of expired rows.
// Expired rows are also filtered out on every read, so the sweep only
// bounds disk growth.
const purgeEvery = 256

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS kv_expires_at ON kv (expires_at);
`

// Store implements outbound.Store over a SQLite database file.
// Safe for concurrent use; database/sql serializes access.
type Store struct {
	db     *sql.DB
	writes atomic.Uint64
}

// NewStore opens (creating if needed) the database at path and prepares the
// schema. Use ":memory:" for an ephemeral store in tests.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent middleware writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the value for key, treating expired rows as absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite get: %w", err)
	}
	if time.Now().UnixMilli() >= expiresAt {
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores value under key with the given ttl, replacing any prior row.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl).UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}

	if s.writes.Add(1)%purgeEvery == 0 {
		s.purgeExpired(ctx)
	}
	return nil
}

// purgeExpired removes rows past their expiry. Failures are ignored: the
// rows are invisible to Get either way.
func (s *Store) purgeExpired(ctx context.Context) {
	_, _ = s.db.ExecContext(ctx, `DELETE FROM kv WHERE expires_at <= ?`, time.Now().UnixMilli())
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Compile-time interface verification.
var _ outbound.Store = (*Store)(nil)
var _ outbound.Pinger = (*Store)(nil)
