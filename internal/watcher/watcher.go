// Package watcher reconciles the memo store with changes made to memo files
// by other processes as soon as they happen, instead of on next access.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/memoranda/internal/storage"
)

const (
	debounce = 200 * time.Millisecond

	// DefaultRescanInterval is how often the watcher looks for storage
	// directories created after it started.
	DefaultRescanInterval = 10 * time.Second
)

// Target is what the watcher drives.
type Target interface {
	Refresh(ctx context.Context, id string) error
	Forget(ctx context.Context, id string)
	Rebuild(ctx context.Context) error
	Scope() storage.Scope
	Rescan(ctx context.Context) (bool, error)
}

type options struct {
	rescanInterval time.Duration
}

// Option configures Watch.
type Option func(*options)

// WithRescanInterval sets how often storage directories are re-discovered.
// A non-positive interval disables periodic rescans.
func WithRescanInterval(d time.Duration) Option {
	return func(o *options) {
		o.rescanInterval = d
	}
}

// Watch watches every storage directory of target and processes file change
// events until ctx is cancelled. The primary directory is created if it does
// not exist yet so that the first memo written by another process is seen.
//
// Renames and files whose name carries no id are handled by a debounced
// full rebuild, since the new name of a renamed file arrives as a separate
// event, if at all. Directories that appear later are picked up by the
// periodic rescan and after every rebuild.
func Watch(ctx context.Context, target Target, logger *slog.Logger, opts ...Option) error {
	o := options{rescanInterval: DefaultRescanInterval}
	for _, opt := range opts {
		opt(&o)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	scope := target.Scope()
	if err := os.MkdirAll(scope.Primary, 0o755); err != nil {
		return err
	}
	watched := make(map[string]bool)
	follow := func(dirs []string) {
		for _, dir := range dirs {
			if watched[dir] {
				continue
			}
			if err := w.Add(dir); err != nil {
				logger.Warn("watcher: add dir failed", slog.String("dir", dir), slog.String("error", err.Error()))
				continue
			}
			watched[dir] = true
		}
	}
	follow(scope.Dirs)

	logger.Info("watcher: started", slog.String("root", scope.Root), slog.Int("dirs", len(watched)))

	var rescanCh <-chan time.Time
	if o.rescanInterval > 0 {
		ticker := time.NewTicker(o.rescanInterval)
		defer ticker.Stop()
		rescanCh = ticker.C
	}

	var rebuildTimer *time.Timer
	var rebuildCh <-chan time.Time

	scheduleRebuild := func() {
		if rebuildTimer == nil {
			rebuildTimer = time.NewTimer(debounce)
			rebuildCh = rebuildTimer.C
		} else {
			rebuildTimer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if rebuildTimer != nil {
				rebuildTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-rebuildCh:
			if err := target.Rebuild(ctx); err != nil {
				logger.Warn("watcher: rebuild failed", slog.String("error", err.Error()))
			}
			follow(target.Scope().Dirs)

		case <-rescanCh:
			changed, err := target.Rescan(ctx)
			if err != nil {
				logger.Warn("watcher: rescan failed", slog.String("error", err.Error()))
				continue
			}
			if changed {
				follow(target.Scope().Dirs)
				logger.Debug("watcher: directories changed", slog.Int("dirs", len(watched)))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			handle(ctx, target, ev, logger, scheduleRebuild)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func handle(ctx context.Context, target Target, ev fsnotify.Event, logger *slog.Logger, scheduleRebuild func()) {
	name := filepath.Base(ev.Name)
	// Temporary files of atomic writes have no .md extension.
	if filepath.Ext(name) != ".md" {
		return
	}
	id, named := storage.MemoID(name)

	switch {
	case ev.Op&fsnotify.Rename != 0:
		if named {
			target.Forget(ctx, id)
		}
		scheduleRebuild()

	case !named:
		// The id lives in the header; only a full listing can place it.
		scheduleRebuild()

	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		if err := target.Refresh(ctx, id); err != nil {
			logger.Warn("watcher: refresh failed", slog.String("id", id), slog.String("error", err.Error()))
			return
		}
		logger.Debug("watcher: refreshed", slog.String("id", id), slog.String("op", ev.Op.String()))

	case ev.Op&fsnotify.Remove != 0:
		target.Forget(ctx, id)
		logger.Debug("watcher: forgot", slog.String("id", id))
	}
}
