// Package cache keeps recently used memos in memory and revalidates them
// against the file's modification time on every access.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/starford/memoranda/internal/models"
	"github.com/starford/memoranda/internal/storage"
)

// DefaultCapacity is the number of memos kept when no capacity is configured.
const DefaultCapacity = 1000

// Source is the subset of storage.Provider the cache loads from.
type Source interface {
	Read(ctx context.Context, id string) (*models.Memo, error)
	Stat(ctx context.Context, id string) (storage.FileInfo, error)
}

type entry struct {
	memo    *models.Memo
	modTime time.Time
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Reloads   uint64 `json:"reloads"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// Cache is a bounded LRU of memo snapshots. Concurrent loads of the same id
// share one disk read.
type Cache struct {
	src   Source
	lru   *lru.Cache[string, entry]
	group singleflight.Group

	// epoch is bumped by Invalidate and Purge so a load that started earlier
	// cannot re-insert what was just evicted.
	mu    sync.Mutex
	epoch uint64

	hits, misses, reloads, evictions atomic.Uint64
}

// New returns a cache holding up to capacity memos.
func New(src Source, capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l, err := lru.New[string, entry](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{src: src, lru: l}, nil
}

// Get returns the memo for id, reloading it when the file changed since it
// was cached. reloaded reports whether the returned snapshot came from disk
// because a cached copy was stale.
func (c *Cache) Get(ctx context.Context, id string) (memo *models.Memo, reloaded bool, err error) {
	info, err := c.src.Stat(ctx, id)
	if err != nil {
		c.Invalidate(id)
		return nil, false, err
	}

	cached, ok := c.lru.Get(id)
	if ok && cached.modTime.Equal(info.ModTime) {
		c.hits.Add(1)
		return cached.memo.Clone(), false, nil
	}
	if ok {
		c.reloads.Add(1)
	} else {
		c.misses.Add(1)
	}

	v, err, _ := c.group.Do(id, func() (interface{}, error) {
		epoch := c.currentEpoch()
		m, err := c.src.Read(ctx, id)
		if err != nil {
			return nil, err
		}
		c.store(m, epoch)
		return m, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*models.Memo).Clone(), ok, nil
}

// Put inserts or replaces the entry for memo using its observed mtime.
func (c *Cache) Put(memo *models.Memo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(memo)
}

// Invalidate evicts id and detaches any load in flight for it.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	c.epoch++
	c.lru.Remove(id)
	c.mu.Unlock()
	c.group.Forget(id)
}

// Peek returns the cached snapshot without validating or touching recency.
func (c *Cache) Peek(id string) (*models.Memo, bool) {
	e, ok := c.lru.Peek(id)
	if !ok {
		return nil, false
	}
	return e.memo.Clone(), true
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.epoch++
	c.lru.Purge()
	c.mu.Unlock()
}

// Len returns the number of cached memos.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Reloads:   c.reloads.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.lru.Len(),
	}
}

func (c *Cache) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Cache) store(m *models.Memo, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return
	}
	c.add(m)
}

// add must be called with c.mu held.
func (c *Cache) add(m *models.Memo) {
	if c.lru.Add(m.ID, entry{memo: m.Clone(), modTime: m.ModTime}) {
		c.evictions.Add(1)
	}
}
