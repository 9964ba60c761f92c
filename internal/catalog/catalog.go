// Package catalog keeps a SQLite ledger of memo files: a checksum per memo to
// detect edits made while the process was not running, and a tombstone per
// deleted id so deleted memos are never served again.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/memoranda/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS memos (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	checksum   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tombstones (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL DEFAULT '',
	deleted_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memos_path ON memos(path);
`

// Ledger is what the memo store needs from the catalog.
type Ledger interface {
	Record(ctx context.Context, m *models.Memo) error
	Retire(ctx context.Context, id, path string) error
	Retired(ctx context.Context, id string) (bool, error)
	RetiredIDs(ctx context.Context) (map[string]struct{}, error)
	Sync(ctx context.Context, memos []*models.Memo) (SyncReport, error)
	Close() error
}

// Verify *DB satisfies Ledger at compile time.
var _ Ledger = (*DB)(nil)

// DB wraps a sql.DB with catalog operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

