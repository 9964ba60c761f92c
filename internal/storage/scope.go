package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/memoranda/internal/apperr"
)

// Scope defaults.
const (
	DefaultDirName  = ".memoranda"
	DefaultMaxDepth = 8
)

// skipDirs are never descended into while looking for nested storage directories.
var skipDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"vendor":       {},
}

// Scope is the ordered set of storage directories of one repository.
type Scope struct {
	// Root is the repository root (the directory holding .git).
	Root string
	// Primary is <Root>/<dir name>; new memos are written here.
	Primary string
	// Dirs lists Primary first, then every nested storage directory in
	// lexical path order.
	Dirs []string
}

// Rank returns the position of dir in the scope order, or len(Dirs) if dir is
// not part of the scope.
func (s Scope) Rank(dir string) int {
	for i, d := range s.Dirs {
		if d == dir {
			return i
		}
	}
	return len(s.Dirs)
}

// Contains reports whether dir is one of the scope's storage directories.
func (s Scope) Contains(dir string) bool {
	return s.Rank(dir) < len(s.Dirs)
}

// ScopeOptions tunes scope discovery.
type ScopeOptions struct {
	DirName  string
	MaxDepth int
}

// DiscoverScope walks up from startDir to the nearest repository root and
// enumerates its storage directories. The primary directory is included even
// when it does not exist yet.
func DiscoverScope(startDir string, opts ScopeOptions) (Scope, error) {
	if opts.DirName == "" {
		opts.DirName = DefaultDirName
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}

	start, err := filepath.Abs(startDir)
	if err != nil {
		return Scope{}, fmt.Errorf("storage: resolve start dir: %w", err)
	}
	root, err := findRoot(start)
	if err != nil {
		return Scope{}, err
	}

	primary := filepath.Join(root, opts.DirName)
	nested, err := findNested(root, primary, opts)
	if err != nil {
		return Scope{}, err
	}
	return Scope{
		Root:    root,
		Primary: primary,
		Dirs:    append([]string{primary}, nested...),
	}, nil
}

func findRoot(start string) (string, error) {
	dir := start
	for {
		// .git may be a directory or, for worktrees and submodules, a file.
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", apperr.ScopeNotFound(start)
		}
		dir = parent
	}
}

func findNested(root, primary string, opts ScopeOptions) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root {
				return walkErr
			}
			// Unreadable subtrees are not part of the scope.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() || p == root {
			return nil
		}
		name := d.Name()
		if name == opts.DirName {
			if p != primary {
				out = append(out, p)
			}
			return fs.SkipDir
		}
		if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
			return fs.SkipDir
		}
		if depth(root, p) >= opts.MaxDepth {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.SkipDir) {
		return nil, fmt.Errorf("storage: scan %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

func depth(root, p string) int {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return 0
	}
	return strings.Count(rel, string(os.PathSeparator)) + 1
}
