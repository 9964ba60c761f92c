package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/memoranda/internal/checksum"
	"github.com/starford/memoranda/internal/models"
)

// Row represents a row in the memos table.
type Row struct {
	ID        string
	Path      string
	Title     string
	Checksum  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Record inserts or replaces the ledger row of m.
func (db *DB) Record(ctx context.Context, m *models.Memo) error {
	return upsert(ctx, db.conn, m)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, ex execer, m *models.Memo) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO memos (id, path, title, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path       = excluded.path,
			title      = excluded.title,
			checksum   = excluded.checksum,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`, m.ID, m.Location, m.Title, checksum.Memo(m), m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("catalog: upsert memo %s: %w", m.ID, err)
	}
	return nil
}

// Retire moves id from the memos table to the tombstones table.
func (db *DB) Retire(ctx context.Context, id, path string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx, `DELETE FROM memos WHERE id = ?`, id); err != nil {
		return fmt.Errorf("catalog: delete memo %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tombstones (id, path, deleted_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, path, time.Now().UTC()); err != nil {
		return fmt.Errorf("catalog: tombstone %s: %w", id, err)
	}
	return tx.Commit()
}

// Retired reports whether id was deleted through the store.
func (db *DB) Retired(ctx context.Context, id string) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM tombstones WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("catalog: retired %s: %w", id, err)
	}
	return true, nil
}

// RetiredIDs returns every tombstoned id.
func (db *DB) RetiredIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id FROM tombstones`)
	if err != nil {
		return nil, fmt.Errorf("catalog: retired ids: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// Get returns the ledger row of id, or nil if there is none.
func (db *DB) Get(ctx context.Context, id string) (*Row, error) {
	var r Row
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, path, title, checksum, created_at, updated_at FROM memos WHERE id = ?
	`, id).Scan(&r.ID, &r.Path, &r.Title, &r.Checksum, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get %s: %w", id, err)
	}
	return &r, nil
}

// Checksums returns id -> checksum for every recorded memo.
func (db *DB) Checksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, checksum FROM memos`)
	if err != nil {
		return nil, fmt.Errorf("catalog: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}
