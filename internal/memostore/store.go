// Package memostore composes file persistence, the memo cache, the search
// index and the catalog into the operations served to clients.
package memostore

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/starford/memoranda/internal/apperr"
	"github.com/starford/memoranda/internal/cache"
	"github.com/starford/memoranda/internal/catalog"
	"github.com/starford/memoranda/internal/checksum"
	"github.com/starford/memoranda/internal/models"
	"github.com/starford/memoranda/internal/search"
	"github.com/starford/memoranda/internal/storage"
)

// Event kinds passed to the event hook.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
	EventRebuilt = "rebuilt"
)

// EventFunc is called after a change has been applied. id is empty for
// EventRebuilt.
type EventFunc func(kind, id string)

// Stats describes the state of a store.
type Stats struct {
	Memos       int         `json:"memos"`
	Vocabulary  int         `json:"vocabulary"`
	Directories int         `json:"directories"`
	Retired     int         `json:"retired"`
	Cache       cache.Stats `json:"cache"`
}

// Store is safe for concurrent use. Operations on the same id are
// serialized; operations on different ids run in parallel.
type Store struct {
	fs     storage.Provider
	cache  *cache.Cache
	index  *search.Index
	ledger catalog.Ledger
	logger *slog.Logger
	notify EventFunc

	capacity  int
	searchCfg search.Config
	indexOpts []search.Option

	// gate is held for reading by every per-id operation and for writing by
	// Rebuild, so a rebuild never swaps in an index older than a mutation.
	gate  sync.RWMutex
	locks stripes

	mu      sync.RWMutex
	retired map[string]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithCacheCapacity bounds the number of cached memos.
func WithCacheCapacity(n int) Option {
	return func(s *Store) { s.capacity = n }
}

// WithSearchConfig sets the ranking parameters and any index options.
func WithSearchConfig(cfg search.Config, opts ...search.Option) Option {
	return func(s *Store) {
		s.searchCfg = cfg
		s.indexOpts = opts
	}
}

// WithLedger records checksums and deletions in l.
func WithLedger(l catalog.Ledger) Option {
	return func(s *Store) { s.ledger = l }
}

// WithEventHook registers fn to be told about every applied change.
func WithEventHook(fn EventFunc) Option {
	return func(s *Store) { s.notify = fn }
}

// New builds a store over fs and loads the search index from its listing.
func New(ctx context.Context, fs storage.Provider, opts ...Option) (*Store, error) {
	s := &Store{
		fs:        fs,
		logger:    slog.Default(),
		capacity:  cache.DefaultCapacity,
		searchCfg: search.DefaultConfig(),
		retired:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	c, err := cache.New(fs, s.capacity)
	if err != nil {
		return nil, err
	}
	s.cache = c
	s.index = search.New(s.searchCfg, s.indexOpts...)

	report, err := s.rebuild(ctx)
	if err != nil {
		return nil, err
	}
	s.logReport(report)
	return s, nil
}

// Scope returns the storage directories served by the store.
func (s *Store) Scope() storage.Scope {
	return s.fs.Scope()
}

// CreateMemo writes a new memo and makes it visible to get, list and search.
func (s *Store) CreateMemo(ctx context.Context, title, content string) (*models.Memo, error) {
	if err := models.ValidateTitle(title); err != nil {
		return nil, err
	}
	if err := models.ValidateContent(content); err != nil {
		return nil, err
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	m, err := s.fs.Write(ctx, title, content)
	if err != nil {
		return nil, err
	}

	l := s.locks.of(m.ID)
	l.Lock()
	defer l.Unlock()

	s.cache.Put(m)
	s.index.Index(m)
	s.record(ctx, m)
	s.emit(EventCreated, m.ID)
	s.logger.Debug("memo created", slog.String("id", m.ID), slog.String("location", m.Location))
	return m, nil
}

// UpdateMemo replaces the content of id.
func (s *Store) UpdateMemo(ctx context.Context, id, content string) (*models.Memo, error) {
	return s.update(ctx, id, content, "")
}

// UpdateMemoIfMatch replaces the content of id only if the current memo has
// checksum ifMatch (see checksum.Memo); otherwise it fails with a
// ConflictError. An empty ifMatch always matches.
func (s *Store) UpdateMemoIfMatch(ctx context.Context, id, content, ifMatch string) (*models.Memo, error) {
	return s.update(ctx, id, content, ifMatch)
}

func (s *Store) update(ctx context.Context, id, content, ifMatch string) (*models.Memo, error) {
	if err := models.ValidateID(id); err != nil {
		return nil, err
	}
	if err := models.ValidateContent(content); err != nil {
		return nil, err
	}

	s.gate.RLock()
	defer s.gate.RUnlock()
	l := s.locks.of(id)
	l.Lock()
	defer l.Unlock()

	if s.isRetired(id) {
		return nil, apperr.NotFound("update", id)
	}

	if ifMatch != "" {
		current, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if checksum.Memo(current) != ifMatch {
			return nil, apperr.Conflict("update", id, "checksum mismatch")
		}
	}

	s.cache.Invalidate(id)
	m, err := s.fs.Update(ctx, id, content)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			s.index.Remove(id)
		}
		return nil, err
	}

	s.cache.Put(m)
	s.index.Index(m)
	s.record(ctx, m)
	s.emit(EventUpdated, id)
	return m, nil
}

// DeleteMemo removes id for good: the id is never served again.
func (s *Store) DeleteMemo(ctx context.Context, id string) error {
	if err := models.ValidateID(id); err != nil {
		return err
	}

	s.gate.RLock()
	defer s.gate.RUnlock()
	l := s.locks.of(id)
	l.Lock()
	defer l.Unlock()

	if s.isRetired(id) {
		return apperr.NotFound("delete", id)
	}

	s.cache.Invalidate(id)
	path, _ := s.fs.Locate(id)
	if err := s.fs.Delete(ctx, id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			s.index.Remove(id)
		}
		return err
	}
	s.index.Remove(id)

	s.mu.Lock()
	s.retired[id] = struct{}{}
	s.mu.Unlock()
	if s.ledger != nil {
		if err := s.ledger.Retire(ctx, id, path); err != nil {
			s.logger.Warn("catalog: retire failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
	s.emit(EventDeleted, id)
	return nil
}

// GetMemo returns the current memo. A file edited on disk since it was last
// read is reloaded and re-indexed.
func (s *Store) GetMemo(ctx context.Context, id string) (*models.Memo, error) {
	if err := models.ValidateID(id); err != nil {
		return nil, err
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	m, current, err := s.read(ctx, id)
	if err != nil || current {
		return m, err
	}

	// The index holds another version. Readers may have loaded different
	// snapshots, so re-indexing reloads under the write lock.
	l := s.locks.of(id)
	l.Lock()
	defer l.Unlock()

	if s.isRetired(id) {
		return nil, apperr.NotFound("get", id)
	}
	m, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.reconcile(m) {
		s.record(ctx, m)
	}
	return m, nil
}

// read loads id under the stripe read lock and reports whether the index
// already holds the loaded version.
func (s *Store) read(ctx context.Context, id string) (*models.Memo, bool, error) {
	l := s.locks.of(id)
	l.RLock()
	defer l.RUnlock()

	if s.isRetired(id) {
		return nil, false, apperr.NotFound("get", id)
	}
	m, err := s.load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return m, s.indexed(m), nil
}

// ListMemos returns the metadata of every indexed memo, ordered by storage
// directory and then by creation.
func (s *Store) ListMemos(_ context.Context) ([]models.MemoMetadata, error) {
	docs := s.index.Documents()
	scope := s.fs.Scope()
	sort.Slice(docs, func(i, j int) bool {
		ri, rj := scope.Rank(filepath.Dir(docs[i].Location)), scope.Rank(filepath.Dir(docs[j].Location))
		if ri != rj {
			return ri < rj
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

// SearchMemos runs query against the index. A corrupted index is rebuilt
// from disk and the query retried once.
func (s *Store) SearchMemos(ctx context.Context, query string) ([]search.Result, error) {
	if err := models.ValidateQuery(query); err != nil {
		return nil, err
	}
	rs, err := s.index.Query(query)
	if !errors.Is(err, apperr.ErrIndexCorruption) {
		return rs, err
	}

	s.logger.Warn("search index corrupted, rebuilding", slog.String("error", err.Error()))
	if rerr := s.Rebuild(ctx); rerr != nil {
		return nil, errors.Join(err, rerr)
	}
	return s.index.Query(query)
}

// Rebuild re-discovers the storage directories, reloads every memo from
// disk, replaces the search index and brings the catalog up to date.
func (s *Store) Rebuild(ctx context.Context) error {
	if _, err := s.fs.Rescan(); err != nil {
		s.logger.Warn("storage rescan failed", slog.String("error", err.Error()))
	}
	report, err := s.rebuild(ctx)
	if err != nil {
		return err
	}
	s.logReport(report)
	s.emit(EventRebuilt, "")
	return nil
}

// Rescan looks for storage directories created or removed since the last
// scan and rebuilds when the set changed. It reports whether it did.
func (s *Store) Rescan(ctx context.Context) (bool, error) {
	before := s.fs.Scope().Dirs
	after, err := s.fs.Rescan()
	if err != nil {
		return false, err
	}
	if slices.Equal(before, after.Dirs) {
		return false, nil
	}
	s.logger.Info("storage directories changed",
		slog.Int("before", len(before)),
		slog.Int("after", len(after.Dirs)))
	return true, s.Rebuild(ctx)
}

func (s *Store) logReport(report catalog.SyncReport) {
	if report.Empty() {
		return
	}
	s.logger.Info("catalog synced",
		slog.Int("added", len(report.Added)),
		slog.Int("changed", len(report.Changed)),
		slog.Int("removed", len(report.Removed)),
	)
}

// Sync is Rebuild returning the catalog report.
func (s *Store) Sync(ctx context.Context) (catalog.SyncReport, error) {
	return s.rebuild(ctx)
}

// Refresh re-reads id after it changed on disk.
func (s *Store) Refresh(ctx context.Context, id string) error {
	if err := models.ValidateID(id); err != nil {
		return err
	}

	s.gate.RLock()
	defer s.gate.RUnlock()
	l := s.locks.of(id)
	l.Lock()
	defer l.Unlock()

	if s.isRetired(id) {
		s.logger.Warn("ignoring deleted memo reappearing on disk", slog.String("id", id))
		return nil
	}
	had := s.index.Has(id)
	m, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !s.reconcile(m) {
		return nil
	}
	s.record(ctx, m)
	if had {
		s.emit(EventUpdated, id)
	} else {
		s.emit(EventCreated, id)
	}
	return nil
}

// Forget drops id from the cache and index after its file disappeared. It
// is not a deletion: the id may come back.
func (s *Store) Forget(_ context.Context, id string) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	l := s.locks.of(id)
	l.Lock()
	defer l.Unlock()

	s.cache.Invalidate(id)
	if s.index.Remove(id) {
		s.emit(EventDeleted, id)
	}
}

// Stats returns counters describing the store.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	retired := len(s.retired)
	s.mu.RUnlock()
	return Stats{
		Memos:       s.index.Len(),
		Vocabulary:  s.index.Vocabulary(),
		Directories: len(s.fs.Scope().Dirs),
		Retired:     retired,
		Cache:       s.cache.Stats(),
	}
}

// load reads through the cache; a memo gone from disk leaves the index.
func (s *Store) load(ctx context.Context, id string) (*models.Memo, error) {
	m, _, err := s.cache.Get(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		s.index.Remove(id)
	}
	return m, err
}

func (s *Store) indexed(m *models.Memo) bool {
	doc, ok := s.index.Document(m.ID)
	return ok && doc.ModTime.Equal(m.ModTime)
}

// reconcile re-indexes m unless the index already holds this version. It
// reports whether the index changed.
func (s *Store) reconcile(m *models.Memo) bool {
	if s.indexed(m) {
		return false
	}
	s.index.Index(m)
	return true
}

func (s *Store) rebuild(ctx context.Context) (catalog.SyncReport, error) {
	s.gate.Lock()
	defer s.gate.Unlock()

	if s.ledger != nil {
		ids, err := s.ledger.RetiredIDs(ctx)
		if err != nil {
			return catalog.SyncReport{}, err
		}
		s.mu.Lock()
		for id := range ids {
			s.retired[id] = struct{}{}
		}
		s.mu.Unlock()
	}

	var memos []*models.Memo
	for meta, err := range s.fs.List(ctx) {
		if err != nil {
			return catalog.SyncReport{}, err
		}
		if s.isRetired(meta.ID) {
			s.logger.Warn("ignoring deleted memo reappearing on disk",
				slog.String("id", meta.ID), slog.String("location", meta.Location))
			continue
		}
		m, _, err := s.cache.Get(ctx, meta.ID)
		switch {
		case err == nil:
			memos = append(memos, m)
		case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrEncoding):
			s.logger.Warn("skipping unreadable memo",
				slog.String("id", meta.ID), slog.String("error", err.Error()))
		default:
			return catalog.SyncReport{}, err
		}
	}

	s.index.Rebuild(memos)
	s.logger.Debug("search index rebuilt", slog.Int("memos", len(memos)))

	if s.ledger == nil {
		return catalog.SyncReport{}, nil
	}
	return s.ledger.Sync(ctx, memos)
}

func (s *Store) record(ctx context.Context, m *models.Memo) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Record(ctx, m); err != nil {
		s.logger.Warn("catalog: record failed", slog.String("id", m.ID), slog.String("error", err.Error()))
	}
}

func (s *Store) isRetired(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.retired[id]
	return ok
}

func (s *Store) emit(kind, id string) {
	if s.notify != nil {
		s.notify(kind, id)
	}
}
