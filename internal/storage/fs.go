package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/starford/memoranda/internal/apperr"
	"github.com/starford/memoranda/internal/idgen"
	"github.com/starford/memoranda/internal/models"
	"github.com/starford/memoranda/internal/parser"
)

const (
	tempPrefix = ".memoranda-tmp-"
	// headerPeek is how much of a file List reads to decode its header.
	headerPeek = 4096
)

// FileInfo is what Stat reports about a memo file.
type FileInfo struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// FS implements Provider backed by the local file system.
type FS struct {
	gen    *idgen.Generator
	now    func() time.Time
	retry  RetryPolicy
	logger *slog.Logger

	mu    sync.RWMutex
	scope Scope
	sopts ScopeOptions
	paths map[string]string // id -> absolute file path
}

// Option configures an FS.
type Option func(*FS)

// WithGenerator sets the identifier generator.
func WithGenerator(g *idgen.Generator) Option {
	return func(f *FS) { f.gen = g }
}

// WithClock sets the time source for created_at / updated_at.
func WithClock(now func() time.Time) Option {
	return func(f *FS) { f.now = now }
}

// WithRetryPolicy sets how transient I/O errors are retried.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(f *FS) { f.retry = p }
}

// WithLogger sets the logger used for skipped or ambiguous files.
func WithLogger(l *slog.Logger) Option {
	return func(f *FS) { f.logger = l }
}

// NewFS creates a provider over scope. The repository root must exist; the
// primary storage directory is created on the first write.
func NewFS(scope Scope, opts ...Option) (*FS, error) {
	info, err := os.Stat(scope.Root)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", scope.Root)
	}
	f := &FS{
		scope:  scope,
		gen:    idgen.New(),
		now:    time.Now,
		retry:  DefaultRetryPolicy(),
		logger: slog.Default(),
		paths:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Open discovers the scope enclosing startDir and returns a provider over it.
func Open(startDir string, sopts ScopeOptions, opts ...Option) (*FS, error) {
	scope, err := DiscoverScope(startDir, sopts)
	if err != nil {
		return nil, err
	}
	f, err := NewFS(scope, opts...)
	if err != nil {
		return nil, err
	}
	f.sopts = sopts
	return f, nil
}

// Scope returns the storage directories served by f.
func (f *FS) Scope() Scope {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.scope
}

// Rescan discovers storage directories created or removed since the scope
// was last computed. The root and primary directory never change; a scan
// that resolves to another root leaves the scope as it was.
func (f *FS) Rescan() (Scope, error) {
	cur := f.Scope()
	next, err := DiscoverScope(cur.Root, f.sopts)
	if err != nil {
		return cur, err
	}
	if next.Root != cur.Root || next.Primary != cur.Primary {
		return cur, nil
	}
	f.mu.Lock()
	f.scope = next
	f.mu.Unlock()
	return next, nil
}

// Read returns the full memo stored under id.
func (f *FS) Read(ctx context.Context, id string) (*models.Memo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var memo *models.Memo
	err := f.withPath("read", id, func(path string) error {
		snap, err := do(ctx, f.retry, func() (snapshot, error) { return readFile(path) })
		if err != nil {
			return err
		}
		m, _, err := decode(id, path, snap)
		memo = m
		return err
	})
	if err != nil {
		return nil, f.wrap("read", id, err)
	}
	return memo, nil
}

// Write creates a new memo with a fresh id in the primary directory.
func (f *FS) Write(ctx context.Context, title, content string) (*models.Memo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := f.gen.New()
	if err != nil {
		return nil, apperr.IO("write", "", fmt.Errorf("generate id: %w", err))
	}
	now := f.now().UTC()

	primary := f.Scope().Primary
	if err := os.MkdirAll(primary, 0o755); err != nil {
		return nil, apperr.IO("write", id, fmt.Errorf("mkdir: %w", err))
	}
	path := filepath.Join(primary, fileName(title, id))
	if _, err := os.Lstat(path); err == nil {
		return nil, apperr.Conflict("write", id, "file already exists: "+path)
	}

	data, err := parser.Render(parser.Header{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}, content)
	if err != nil {
		return nil, apperr.IO("write", id, err)
	}
	info, err := f.writeAtomic(ctx, path, data)
	if err != nil {
		return nil, f.wrap("write", id, err)
	}
	f.remember(id, path)

	return &models.Memo{
		ID:        id,
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      parser.MergeTags(nil, content),
		Location:  path,
		ModTime:   info.ModTime(),
	}, nil
}

// Update rewrites the memo's content in place. Title, creation time and
// frontmatter tags are preserved; updated_at moves strictly forward.
func (f *FS) Update(ctx context.Context, id, content string) (*models.Memo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var memo *models.Memo
	err := f.withPath("update", id, func(path string) error {
		snap, err := do(ctx, f.retry, func() (snapshot, error) { return readFile(path) })
		if err != nil {
			return err
		}
		prev, header, err := decode(id, path, snap)
		if err != nil {
			return err
		}

		now := f.now().UTC()
		if !now.After(prev.UpdatedAt) {
			now = prev.UpdatedAt.Add(time.Microsecond)
		}
		data, err := parser.Render(parser.Header{
			ID:        id,
			Title:     prev.Title,
			CreatedAt: prev.CreatedAt,
			UpdatedAt: now,
			Tags:      header.Tags,
		}, content)
		if err != nil {
			return err
		}
		info, err := f.writeAtomic(ctx, path, data)
		if err != nil {
			return err
		}
		memo = &models.Memo{
			ID:        id,
			Title:     prev.Title,
			Content:   content,
			CreatedAt: prev.CreatedAt,
			UpdatedAt: now,
			Tags:      parser.MergeTags(header.Tags, content),
			Location:  path,
			ModTime:   info.ModTime(),
		}
		return nil
	})
	if err != nil {
		return nil, f.wrap("update", id, err)
	}
	return memo, nil
}

// Delete removes the memo file.
func (f *FS) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := f.withPath("delete", id, func(path string) error {
		_, err := do(ctx, f.retry, func() (struct{}, error) { return struct{}{}, os.Remove(path) })
		return err
	})
	if err != nil {
		return f.wrap("delete", id, err)
	}
	f.forget(id)
	return nil
}

// Stat reports the memo file's current modification time and size.
func (f *FS) Stat(ctx context.Context, id string) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}
	var out FileInfo
	err := f.withPath("stat", id, func(path string) error {
		info, err := do(ctx, f.retry, func() (fs.FileInfo, error) { return os.Stat(path) })
		if err != nil {
			return err
		}
		out = FileInfo{Path: path, ModTime: info.ModTime(), Size: info.Size()}
		return nil
	})
	if err != nil {
		return FileInfo{}, f.wrap("stat", id, err)
	}
	return out, nil
}

// Locate resolves id to a file path, scanning the scope directories for a
// "*-<id>.md" file when the id has not been seen yet.
func (f *FS) Locate(id string) (string, bool) {
	f.mu.RLock()
	p, ok := f.paths[id]
	f.mu.RUnlock()
	if ok {
		return p, true
	}

	suffix := "-" + id + memoExt
	for _, dir := range f.Scope().Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
				p = filepath.Join(dir, e.Name())
				f.remember(id, p)
				return p, true
			}
		}
	}
	return "", false
}

// withPath runs fn against the file of id. A file that vanished since it was
// located is looked up again once, which covers external renames.
func (f *FS) withPath(op, id string, fn func(path string) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		path, ok := f.Locate(id)
		if !ok {
			break
		}
		err := fn(path)
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		f.forget(id)
	}
	return apperr.NotFound(op, id)
}

func (f *FS) remember(id, path string) {
	f.mu.Lock()
	f.paths[id] = path
	f.mu.Unlock()
}

func (f *FS) forget(id string) {
	f.mu.Lock()
	delete(f.paths, id)
	f.mu.Unlock()
}

// wrap classifies err as an apperr kind, leaving context errors and errors
// that already carry a kind untouched.
func (f *FS) wrap(op, id string, err error) error {
	if apperr.Kind(err) != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.IO(op, id, err)
}

// writeAtomic writes data to path: tmp file → fsync → rename. A context
// cancelled before the rename leaves the previous file untouched.
func (f *FS) writeAtomic(ctx context.Context, path string, data []byte) (fs.FileInfo, error) {
	return do(ctx, f.retry, func() (fs.FileInfo, error) {
		dir := filepath.Dir(path)
		tmp, err := os.CreateTemp(dir, tempPrefix+"*")
		if err != nil {
			return nil, fmt.Errorf("storage: create temp: %w", err)
		}
		tmpName := tmp.Name()

		// Clean up on any failure path.
		success := false
		defer func() {
			if !success {
				_ = tmp.Close()
				_ = os.Remove(tmpName)
			}
		}()

		if _, err := tmp.Write(data); err != nil {
			return nil, fmt.Errorf("storage: write temp: %w", err)
		}
		if err := tmp.Sync(); err != nil {
			return nil, fmt.Errorf("storage: fsync: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return nil, fmt.Errorf("storage: close temp: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := os.Rename(tmpName, path); err != nil {
			return nil, fmt.Errorf("storage: rename: %w", err)
		}
		success = true

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("storage: stat after rename: %w", err)
		}
		return info, nil
	})
}

type snapshot struct {
	data []byte
	info fs.FileInfo
}

// readFile stats the open handle before reading so the recorded mtime is
// never newer than the content.
func readFile(path string) (snapshot, error) {
	fh, err := os.Open(path)
	if err != nil {
		return snapshot{}, err
	}
	defer fh.Close()
	info, err := fh.Stat()
	if err != nil {
		return snapshot{}, err
	}
	data, err := io.ReadAll(fh)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{data: data, info: info}, nil
}

func decode(id, path string, snap snapshot) (*models.Memo, parser.Header, error) {
	if !utf8.Valid(snap.data) {
		return nil, parser.Header{}, apperr.Encoding("read", id)
	}
	res, err := parser.Parse(snap.data)
	if err != nil {
		return nil, parser.Header{}, err
	}
	meta := metadata(id, path, res.Header, snap.info)
	return &models.Memo{
		ID:        id,
		Title:     meta.Title,
		Content:   res.Body,
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
		Tags:      res.Tags,
		Location:  path,
		ModTime:   meta.ModTime,
	}, res.Header, nil
}

// metadata fills in what a header does not say: the title from the file
// name, created_at from the id, updated_at from the modification time.
func metadata(id, path string, h parser.Header, info fs.FileInfo) models.MemoMetadata {
	title := h.Title
	if strings.TrimSpace(title) == "" {
		stem, _, _ := splitName(filepath.Base(path))
		title = titleFromStem(stem)
	}
	created := h.CreatedAt
	if created.IsZero() {
		created, _ = idgen.Time(id)
	}
	updated := h.UpdatedAt
	if updated.IsZero() {
		updated = info.ModTime().UTC()
	}
	if updated.Before(created) {
		updated = created
	}
	return models.MemoMetadata{
		ID:        id,
		Title:     title,
		CreatedAt: created,
		UpdatedAt: updated,
		Location:  path,
		ModTime:   info.ModTime(),
	}
}
