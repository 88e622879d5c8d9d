// Package embcache holds query embeddings in a bounded LRU that survives restarts
// through a JSON snapshot written by a pluggable Persister.
package embcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/jordnlvr/hybridkb/internal/domain/provider"
	"github.com/jordnlvr/hybridkb/internal/metrics"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultCapacity  = 1000
	DefaultSaveEvery = 50

	saveTimeout = 10 * time.Second
)

// Key builds the cache key for a query under the given provider mode.
// Vectors of different modes never share a key.
func Key(query string, mode provider.Mode) string {
	return Normalize(query) + ":" + string(mode)
}

// RevisionKey is Key for providers whose vectors depend on local state, such as
// the vocabulary of the lexical index. An empty revision gives Key.
func RevisionKey(query string, mode provider.Mode, revision string) string {
	if revision == "" {
		return Key(query, mode)
	}
	return Key(query, mode) + "@" + revision
}

// Normalize trims and lowercases a query.
func Normalize(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Stats are the cache counters. They are cumulative for the process and
// restored from the snapshot on load.
type Stats struct {
	Size       int    `json:"size"`
	Capacity   int    `json:"capacity"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Evictions  uint64 `json:"evictions"`
	Insertions uint64 `json:"insertions"`
}

// Config configures a Cache.
type Config struct {
	Capacity int
	// SaveEvery triggers a background save after that many insertions. Zero disables it.
	SaveEvery int
	// Persister is optional; without one the cache lives in memory only.
	Persister Persister
	Logger    *zap.Logger
}

// Cache is a mutex-guarded LRU of query vectors.
type Cache struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[string, []float32]
	stats Stats

	persister Persister
	saveEvery int
	sinceSave int
	saving    atomic.Bool
	wg        sync.WaitGroup

	now    func() time.Time
	logger *zap.Logger
}

// New creates an empty cache.
func New(cfg Config) (*Cache, error) {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cache{
		persister: cfg.Persister,
		saveEvery: cfg.SaveEvery,
		now:       time.Now,
		logger:    logger,
	}
	c.stats.Capacity = capacity

	l, err := simplelru.NewLRU[string, []float32](capacity, func(string, []float32) {
		c.stats.Evictions++
	})
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c.lru = l
	return c, nil
}

// Get returns the vector for key and marks it most recently used.
func (c *Cache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	vec, ok := c.lru.Get(key)
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.mu.Unlock()

	if ok {
		metrics.QueryCacheTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.QueryCacheTotal.WithLabelValues("miss").Inc()
	}
	return vec, ok
}

// Add inserts or refreshes key, evicting the least recently used entry when full.
func (c *Cache) Add(key string, vec []float32) {
	c.mu.Lock()
	c.lru.Add(key, vec)
	c.stats.Insertions++
	c.sinceSave++
	size := c.lru.Len()
	due := c.persister != nil && c.saveEvery > 0 && c.sinceSave >= c.saveEvery
	if due {
		c.sinceSave = 0
	}
	c.mu.Unlock()

	metrics.QueryCacheSize.Set(float64(size))
	if due {
		c.saveInBackground()
	}
}

// Keys returns the cached keys ordered from oldest to newest.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a copy of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.lru.Len()
	return s
}

// Purge drops every entry but keeps the counters.
func (c *Cache) Purge() {
	c.mu.Lock()
	evictions := c.stats.Evictions
	c.lru.Purge()
	c.stats.Evictions = evictions // Purge reports every entry to the evict callback
	c.mu.Unlock()
	metrics.QueryCacheSize.Set(0)
}

// Snapshot captures the entries from oldest to newest.
func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.lru.Keys()
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if v, ok := c.lru.Peek(k); ok {
			entries = append(entries, Entry{Key: k, Vector: v})
		}
	}
	stats := c.stats
	stats.Size = len(entries)

	return Snapshot{
		Version: SnapshotVersion,
		SavedAt: c.now().UTC(),
		Entries: entries,
		Stats:   stats,
	}
}

// Restore replaces the cache content with the snapshot, re-adding entries in
// order so the newest snapshot entry becomes the most recently used.
func (c *Cache) Restore(s Snapshot) {
	c.mu.Lock()
	c.lru.Purge()
	for _, e := range s.Entries {
		c.lru.Add(e.Key, e.Vector)
	}
	c.stats.Hits = s.Stats.Hits
	c.stats.Misses = s.Stats.Misses
	c.stats.Insertions = s.Stats.Insertions
	c.stats.Evictions = s.Stats.Evictions
	size := c.lru.Len()
	c.mu.Unlock()

	metrics.QueryCacheSize.Set(float64(size))
}

// Load restores the cache from the persister. A missing, corrupt or foreign
// snapshot leaves the cache empty and is only logged. Returns the entries loaded.
func (c *Cache) Load(ctx context.Context) int {
	if c.persister == nil {
		return 0
	}

	data, err := c.persister.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			c.logger.Info("No query cache snapshot, starting empty", zap.String("persister", c.persister.Name()))
		} else {
			c.logger.Warn("Failed to read query cache snapshot, starting empty",
				zap.String("persister", c.persister.Name()), zap.Error(err))
		}
		return 0
	}

	snap, err := DecodeSnapshot(data)
	if err != nil {
		c.logger.Warn("Discarding unreadable query cache snapshot",
			zap.String("persister", c.persister.Name()), zap.Error(err))
		return 0
	}

	c.Restore(snap)
	n := c.Len()
	c.logger.Info("Query cache loaded",
		zap.String("persister", c.persister.Name()),
		zap.Int("entries", n),
		zap.Time("saved_at", snap.SavedAt),
	)
	return n
}

// Save writes a snapshot through the persister.
func (c *Cache) Save(ctx context.Context) error {
	if c.persister == nil {
		return nil
	}

	data, err := c.Snapshot().Encode()
	if err != nil {
		metrics.QueryCacheSavesTotal.WithLabelValues("error").Inc()
		return err
	}
	if err := c.persister.Save(ctx, data); err != nil {
		metrics.QueryCacheSavesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("save query cache to %s: %w", c.persister.Name(), err)
	}
	metrics.QueryCacheSavesTotal.WithLabelValues("success").Inc()
	return nil
}

// saveInBackground starts a save unless one is already running.
func (c *Cache) saveInBackground() {
	if !c.saving.CompareAndSwap(false, true) {
		metrics.QueryCacheSavesTotal.WithLabelValues("skipped").Inc()
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.saving.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()

		if err := c.Save(ctx); err != nil {
			c.logger.Warn("Background query cache save failed", zap.Error(err))
		}
	}()
}

// Close waits for an in-flight background save, then saves synchronously.
func (c *Cache) Close(ctx context.Context) error {
	c.wg.Wait()
	return c.Save(ctx)
}
