// Package statestore is the per-user durable state layer: reranker
// weights, the gradient accumulator, session metadata, and the message
// buffer, namespaced by an ordered tuple of strings and backed by a
// single generic SQLite key-value table.
package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/goblincore/rmm/corekit"
)

// SQLiteStore implements corekit.SessionStore on a single-connection
// SQLite database, one row per (namespace, key).
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("statestore: mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("statestore: open db: %w", err)
	}

	// Single connection avoids write contention for our scale.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("statestore: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var version int
	s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)

	if version < 1 {
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS kv (
				namespace  TEXT NOT NULL,
				key        TEXT NOT NULL,
				version    INTEGER NOT NULL,
				data       BLOB NOT NULL,
				updated_at TEXT NOT NULL DEFAULT (datetime('now')),
				PRIMARY KEY (namespace, key)
			);
		`); err != nil {
			return err
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return err
		}
	}

	return nil
}

// joinNamespace turns an ordered tuple of namespace segments into the
// single TEXT key stored in the kv table. A NUL separator is used since
// it cannot appear in any of the caller's segments (Go strings are
// arbitrary bytes but namespace segments here are always short ASCII
// identifiers like "rmm", a userId, "weights").
func joinNamespace(namespace []string) string {
	out := ""
	for i, seg := range namespace {
		if i > 0 {
			out += "\x00"
		}
		out += seg
	}
	return out
}

// Get returns the stored value for (namespace, key), or (nil, nil) if
// absent or on a transient read failure — a missing or unreadable row
// degrades to "absent", never an error the caller must specifically
// handle.
func (s *SQLiteStore) Get(ctx context.Context, namespace []string, key string) (*corekit.StoredValue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, data FROM kv WHERE namespace = ? AND key = ?`,
		joinNamespace(namespace), key)

	var v corekit.StoredValue
	if err := row.Scan(&v.Version, &v.Data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, nil
	}
	return &v, nil
}

// Put upserts the value, returning false (never an error) on failure so
// the caller can log a warning and continue.
func (s *SQLiteStore) Put(ctx context.Context, namespace []string, key string, value corekit.StoredValue) (bool, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (namespace, key, version, data, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(namespace, key) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, joinNamespace(namespace), key, value.Version, value.Data)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Delete removes the row for (namespace, key). Deleting an absent row is
// a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, namespace []string, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ? AND key = ?`, joinNamespace(namespace), key)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ corekit.SessionStore = (*SQLiteStore)(nil)
