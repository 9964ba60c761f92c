// Package storage persists memos as individual markdown files inside the
// storage directories of a repository.
package storage

import (
	"context"
	"iter"

	"github.com/starford/memoranda/internal/models"
)

// Provider is the interface for memo file operations.
type Provider interface {
	// Scope returns the storage directories this provider serves.
	Scope() Scope
	// Rescan re-discovers the storage directories under the same root.
	Rescan() (Scope, error)
	// List lazily yields metadata for every memo in scope, directory by
	// directory, in creation order within a directory. Only headers are read.
	List(ctx context.Context) iter.Seq2[models.MemoMetadata, error]
	// Read returns the full memo.
	Read(ctx context.Context, id string) (*models.Memo, error)
	// Write creates a new memo file in the primary directory.
	Write(ctx context.Context, title, content string) (*models.Memo, error)
	// Update atomically replaces the content of an existing memo, keeping its
	// title and creation time and advancing its update time.
	Update(ctx context.Context, id, content string) (*models.Memo, error)
	// Delete removes the memo file.
	Delete(ctx context.Context, id string) error
	// Stat returns the location, size and modification time without reading
	// the file.
	Stat(ctx context.Context, id string) (FileInfo, error)
	// Locate resolves an id to its file path.
	Locate(id string) (string, bool)
}

var _ Provider = (*FS)(nil)
