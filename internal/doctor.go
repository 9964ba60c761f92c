package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/memoranda/internal/catalog"
	"github.com/starford/memoranda/internal/storage"
)

// Report is the result of a store health check.
type Report struct {
	Root        string
	Dirs        []string
	Memos       int
	Listed      int
	Retired     int
	Unreadable  []string
	Unnamed     []string
	Catalog     *catalog.SyncReport
	CatalogPath string
}

// Healthy reports whether every memo file could be identified and read.
func (r *Report) Healthy() bool {
	return len(r.Unreadable) == 0 && len(r.Unnamed) == 0
}

// Diagnose opens the store described by cfg and checks that every file in
// scope is a readable memo. Logs go to logger; the report is returned.
func Diagnose(ctx context.Context, cfg *Config, logger *slog.Logger) (*Report, error) {
	env, err := openEnvironment(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer env.Close()

	scope := env.fs.Scope()
	rep := &Report{
		Root: scope.Root,
		Dirs: scope.Dirs,
	}

	for meta, err := range env.fs.List(ctx) {
		if err != nil {
			rep.Unreadable = append(rep.Unreadable, err.Error())
			continue
		}
		rep.Listed++
		if _, err := env.store.GetMemo(ctx, meta.ID); err != nil {
			rep.Unreadable = append(rep.Unreadable, fmt.Sprintf("%s: %v", meta.Location, err))
		}
	}

	for _, dir := range scope.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				rep.Unreadable = append(rep.Unreadable, err.Error())
			}
			continue
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
				continue
			}
			if _, ok := storage.MemoID(e.Name()); !ok {
				rep.Unnamed = append(rep.Unnamed, filepath.Join(dir, e.Name()))
			}
		}
	}
	sort.Strings(rep.Unnamed)

	stats := env.store.Stats()
	rep.Memos = stats.Memos
	rep.Retired = stats.Retired

	if env.ledger != nil {
		sync, err := env.store.Sync(ctx)
		if err != nil {
			return nil, fmt.Errorf("catalog sync: %w", err)
		}
		rep.Catalog = &sync
		rep.CatalogPath = cfg.Catalog.DatabasePath(scope.Primary)
	}
	return rep, nil
}

// Write prints the report in a human-readable form.
func (r *Report) Write(w io.Writer) {
	fmt.Fprintf(w, "repository:  %s\n", r.Root)
	fmt.Fprintf(w, "directories: %d\n", len(r.Dirs))
	for _, d := range r.Dirs {
		fmt.Fprintf(w, "  %s\n", d)
	}
	fmt.Fprintf(w, "memos:       %d indexed, %d files, %d deleted\n", r.Memos, r.Listed, r.Retired)

	if r.Catalog != nil {
		fmt.Fprintf(w, "catalog:     %s\n", r.CatalogPath)
		if r.Catalog.Empty() {
			fmt.Fprintln(w, "  in sync")
		} else {
			printList(w, "  added", r.Catalog.Added)
			printList(w, "  changed", r.Catalog.Changed)
			printList(w, "  removed", r.Catalog.Removed)
		}
	}

	printList(w, "unreadable", r.Unreadable)
	printList(w, "files without a memo id", r.Unnamed)

	if r.Healthy() {
		fmt.Fprintln(w, "status:      ok")
	} else {
		fmt.Fprintln(w, "status:      problems found")
	}
}

func printList(w io.Writer, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s (%d):\n", label, len(items))
	for _, it := range items {
		fmt.Fprintf(w, "    %s\n", strings.TrimSpace(it))
	}
}

