package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/starford/memoranda/internal/apperr"
	"github.com/starford/memoranda/internal/idgen"
	"github.com/starford/memoranda/internal/models"
	"github.com/starford/memoranda/internal/parser"
)

// List yields metadata for every memo in scope. Each storage directory is
// read with a single ReadDir; within a directory memos come in id order,
// which is creation order. A file whose id is already taken by an earlier
// file is skipped with a warning.
func (f *FS) List(ctx context.Context) iter.Seq2[models.MemoMetadata, error] {
	return func(yield func(models.MemoMetadata, error) bool) {
		seen := make(map[string]string)
		for _, dir := range f.Scope().Dirs {
			if err := ctx.Err(); err != nil {
				yield(models.MemoMetadata{}, err)
				return
			}
			entries, err := do(ctx, f.retry, func() ([]os.DirEntry, error) { return os.ReadDir(dir) })
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				if !yield(models.MemoMetadata{}, f.wrap("list", "", err)) {
					return
				}
				continue
			}

			batch := make([]models.MemoMetadata, 0, len(entries))
			for _, e := range entries {
				if e.IsDir() || !isMemoFile(e.Name()) {
					continue
				}
				if err := ctx.Err(); err != nil {
					yield(models.MemoMetadata{}, err)
					return
				}
				meta, ok, err := f.listEntry(ctx, dir, e.Name())
				if err != nil {
					if !yield(models.MemoMetadata{}, err) {
						return
					}
					continue
				}
				if !ok {
					continue
				}
				if prev, dup := seen[meta.ID]; dup {
					f.logger.Warn("duplicate memo id, skipping file",
						slog.String("id", meta.ID),
						slog.String("path", meta.Location),
						slog.String("kept", prev))
					continue
				}
				seen[meta.ID] = meta.Location
				batch = append(batch, meta)
			}

			sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })
			for _, meta := range batch {
				f.remember(meta.ID, meta.Location)
				if !yield(meta, nil) {
					return
				}
			}
		}
	}
}

// listEntry reads just enough of a file to describe it. ok is false for
// files that cannot be identified or vanished while listing.
func (f *FS) listEntry(ctx context.Context, dir, name string) (models.MemoMetadata, bool, error) {
	path := filepath.Join(dir, name)
	_, id, named := splitName(name)

	head, err := do(ctx, f.retry, func() (headSnapshot, error) { return readHead(path) })
	if errors.Is(err, fs.ErrNotExist) {
		return models.MemoMetadata{}, false, nil
	}
	if err != nil {
		return models.MemoMetadata{}, false, apperr.IO("list", id, err)
	}

	if !named {
		id = head.header.ID
		if !idgen.Valid(id) {
			f.logger.Warn("memo file has no id, skipping", slog.String("path", path))
			return models.MemoMetadata{}, false, nil
		}
	}
	return metadata(id, path, head.header, head.info), true, nil
}

type headSnapshot struct {
	header parser.Header
	info   fs.FileInfo
}

// readHead decodes the header from the first bytes of a file, falling back to
// the whole file for oversized headers.
func readHead(path string) (headSnapshot, error) {
	fh, err := os.Open(path)
	if err != nil {
		return headSnapshot{}, err
	}
	defer fh.Close()
	info, err := fh.Stat()
	if err != nil {
		return headSnapshot{}, err
	}

	buf := make([]byte, headerPeek)
	n, err := io.ReadFull(fh, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return headSnapshot{}, err
	}
	h, complete := parser.ParseHeader(buf[:n])
	if !complete && n == headerPeek {
		rest, err := io.ReadAll(fh)
		if err != nil {
			return headSnapshot{}, err
		}
		h, _ = parser.ParseHeader(append(buf[:n], rest...))
	}
	return headSnapshot{header: h, info: info}, nil
}
