// Package cache stores lookup results keyed by ROM content hash.
//
// Entries carry the source file size and per-asset sub-hashes so a changed
// ROM or a re-selected media set invalidates naturally. The whole cache is
// one keyed document per output directory, persisted synchronously after
// every mutation.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jbruns/curateur-sub000/internal/core/domain"
	"github.com/jbruns/curateur-sub000/internal/sched/metrics"
)

// Entry is one cached lookup result.
type Entry struct {
	Payload   domain.GameInfo   `json:"payload"`
	Size      int64             `json:"size"`
	SubHashes map[string]string `json:"sub_hashes,omitempty"` // media kind -> hex SHA-1
	CreatedAt time.Time         `json:"created_at"`
	TTLDays   int               `json:"ttl_days"`
}

// expired reports whether the entry has outlived its TTL. TTLDays 0 never
// expires.
func (e Entry) expired(now time.Time) bool {
	if e.TTLDays <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > time.Duration(e.TTLDays)*24*time.Hour
}

// Store persists the cache document.
type Store interface {
	Load(ctx context.Context) (map[string]Entry, error)
	Save(ctx context.Context, entries map[string]Entry) error
}

// Stats holds cache counters.
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// Cache is the in-memory view over a Store. The lock is held across saves
// so the persisted document never regresses behind the memory state.
type Cache struct {
	store   Store
	ttlDays int
	log     *slog.Logger

	mu      sync.Mutex
	entries map[string]Entry
	hits    uint64
	misses  uint64
}

// New loads the persisted document and returns a cache over it. A corrupt
// or unreadable document starts the cache empty rather than failing the
// run.
func New(ctx context.Context, store Store, ttlDays int, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	entries, err := store.Load(ctx)
	if err != nil {
		log.Warn("cache document unreadable, starting empty", "error", err)
		entries = make(map[string]Entry)
	}
	if entries == nil {
		entries = make(map[string]Entry)
	}
	return &Cache{
		store:   store,
		ttlDays: ttlDays,
		log:     log,
		entries: entries,
	}
}

// Get returns the entry for key. Expired entries and absent keys are
// misses. A size mismatch against expectedSize means the source file
// changed, so the stale entry is evicted and reported as a miss;
// expectedSize 0 skips the check.
func (c *Cache) Get(ctx context.Context, key string, expectedSize int64) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.miss()
		return Entry{}, false
	}
	if e.expired(time.Now()) {
		c.miss()
		return Entry{}, false
	}
	if expectedSize > 0 && e.Size != expectedSize {
		delete(c.entries, key)
		if err := c.store.Save(ctx, c.entries); err != nil {
			c.log.Error("cache save failed", "error", err)
		}
		c.log.Debug("cache entry invalidated by size mismatch",
			"key", key,
			"cached", e.Size,
			"actual", expectedSize)
		c.miss()
		return Entry{}, false
	}

	c.hits++
	metrics.CacheHits.Inc()
	return e, true
}

// Put stores a lookup result under key and persists the document.
func (c *Cache) Put(ctx context.Context, key string, info domain.GameInfo, size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry{
		Payload:   info,
		Size:      size,
		CreatedAt: time.Now().UTC(),
		TTLDays:   c.ttlDays,
	}
	return c.store.Save(ctx, c.entries)
}

// UpdateSubHashes merges sub-resource hashes into an existing entry and
// persists. A missing key is a no-op: the entry may have been evicted
// between the lookup and the media download finishing.
func (c *Cache) UpdateSubHashes(ctx context.Context, key string, sub map[string]string) error {
	if len(sub) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.log.Warn("sub-hash update for unknown cache key", "key", key)
		return nil
	}
	if e.SubHashes == nil {
		e.SubHashes = make(map[string]string, len(sub))
	}
	for k, v := range sub {
		e.SubHashes[k] = v
	}
	c.entries[key] = e
	return c.store.Save(ctx, c.entries)
}

// EvictExpired removes entries past their TTL and returns how many went.
func (c *Cache) EvictExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := c.store.Save(ctx, c.entries); err != nil {
		return removed, err
	}
	c.log.Info("evicted expired cache entries", "count", removed)
	return removed, nil
}

// Stats returns current cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

// miss counts a miss. Caller must hold c.mu.
func (c *Cache) miss() {
	c.misses++
	metrics.CacheMisses.Inc()
}
