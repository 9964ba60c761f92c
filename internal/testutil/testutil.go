// Package testutil provides shared test helpers for setting up repositories,
// memo stores and catalogs.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/memoranda/internal/catalog"
	"github.com/starford/memoranda/internal/storage"
)

// TestDB creates a temporary SQLite catalog that is automatically cleaned up.
func TestDB(t *testing.T) *catalog.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "memoranda-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := catalog.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRepo creates a temporary directory that looks like a repository root.
func TestRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	return root
}

// TestStore creates a temporary repository with a filesystem memo store.
func TestStore(t *testing.T, opts ...storage.Option) (string, *storage.FS) {
	t.Helper()
	root := TestRepo(t)
	fs, err := storage.Open(root, storage.ScopeOptions{}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return root, fs
}
