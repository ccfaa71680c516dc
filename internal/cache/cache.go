// Package cache is a disk-backed, size- and count-bounded LRU store of
// serialized model artifacts. Blobs live as files under the cache directory;
// their index is kept in the shared sqlite store so it survives restarts.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"modelrouter/internal/store"
)

// Defaults applied when Config fields are unset.
const (
	DefaultMaxSizeGB  = 20.0
	DefaultMaxEntries = 10
	blobExt           = ".mrce"
)

// ErrTooLarge is returned when a blob exceeds the whole cache budget.
var ErrTooLarge = errors.New("cache: blob larger than cache budget")

// Config bounds the cache.
type Config struct {
	Dir        string
	MaxSizeGB  float64
	MaxEntries int
}

// Entry describes one cached artifact.
type Entry struct {
	ModelID        string    `json:"model_id"`
	CacheKey       string    `json:"cache_key"`
	BlobPath       string    `json:"blob_path"`
	SizeBytes      int64     `json:"size_bytes"`
	SizeMB         float64   `json:"size_mb"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`
	ContentHash    string    `json:"content_hash"`
	Format         string    `json:"format"`
}

// Stats is a point-in-time summary of cache activity.
type Stats struct {
	Entries       int     `json:"entries"`
	SizeBytes     int64   `json:"size_bytes"`
	MaxBytes      int64   `json:"max_bytes"`
	MaxEntries    int     `json:"max_entries"`
	Utilization   float64 `json:"utilization"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Evictions     int64   `json:"evictions"`
	Invalidations int64   `json:"invalidations"`
}

// Cache is safe for concurrent use: reads share the lock, writes are serialized.
type Cache struct {
	mu       sync.RWMutex
	dir      string
	maxBytes int64
	maxCount int
	entries  map[string]*Entry
	st       *store.Store
	log      zerolog.Logger
	now      func() time.Time

	hits, misses, evictions, invalidations atomic.Int64
}

// Option customizes a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.log = l.With().Str("component", "cache").Logger() }
}

// WithClock overrides the time source; tests use it to order accesses.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Open creates the cache directory and reloads the index from st. Entries whose
// backing file disappeared are dropped together with their metadata row.
func Open(ctx context.Context, cfg Config, st *store.Store, opts ...Option) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache: directory is required")
	}
	if cfg.MaxSizeGB <= 0 {
		cfg.MaxSizeGB = DefaultMaxSizeGB
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	c := &Cache{
		dir:      cfg.Dir,
		maxBytes: int64(cfg.MaxSizeGB * (1 << 30)),
		maxCount: cfg.MaxEntries,
		entries:  make(map[string]*Entry),
		st:       st,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if st == nil {
		return c, nil
	}
	rows, err := st.ListCacheEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cache index: %w", err)
	}
	dropped := 0
	for _, r := range rows {
		if _, err := os.Stat(r.BlobPath); err != nil {
			dropped++
			if err := st.DeleteCacheEntry(ctx, r.ModelID); err != nil {
				c.log.Warn().Err(err).Str("model", r.ModelID).Msg("drop stale cache row")
			}
			continue
		}
		c.entries[r.ModelID] = fromRow(r)
	}
	c.log.Info().Int("entries", len(c.entries)).Int("dropped", dropped).Str("dir", c.dir).Msg("cache index loaded")
	return c, nil
}

// Put stores blob for modelID. If an entry with the same key already exists it
// counts as a hit and nothing is rewritten. The bool reports whether the blob is
// now cached.
func (c *Cache) Put(ctx context.Context, modelID string, blob []byte, src Source) (bool, error) {
	key := Key(modelID, src)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[modelID]; ok && e.CacheKey == key {
		if _, err := os.Stat(e.BlobPath); err == nil {
			c.touchLocked(ctx, e)
			c.hits.Add(1)
			cacheHits.Inc()
			return true, nil
		}
	}

	env, err := encodeEnvelope(src.Format, blob)
	if err != nil {
		return false, err
	}
	size := int64(len(env))
	if size > c.maxBytes {
		c.log.Warn().Str("model", modelID).Str("size", humanize.IBytes(uint64(size))).Msg("blob exceeds cache budget")
		return false, ErrTooLarge
	}
	// an older version of this model's blob is replaced, not kept alongside
	if _, ok := c.entries[modelID]; ok {
		c.removeLocked(ctx, modelID)
	}
	c.ensureSpaceLocked(ctx, size)

	path := filepath.Join(c.dir, key+blobExt)
	if err := writeAtomic(path, env); err != nil {
		return false, fmt.Errorf("write blob: %w", err)
	}
	now := c.now()
	e := &Entry{
		ModelID:        modelID,
		CacheKey:       key,
		BlobPath:       path,
		SizeBytes:      size,
		SizeMB:         bytesToMB(size),
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    0,
		ContentHash:    contentHash(env),
		Format:         src.Format,
	}
	if c.st != nil {
		if err := c.st.PutCacheEntry(ctx, toRow(e)); err != nil {
			_ = os.Remove(path)
			return false, fmt.Errorf("persist cache entry: %w", err)
		}
	}
	c.entries[modelID] = e
	c.log.Debug().Str("event", "cache_put").Str("model", modelID).Str("size", humanize.IBytes(uint64(size))).Msg("blob cached")
	return true, nil
}

// LoadCached returns the payload cached for modelID if the key still matches
// src. A stale key, a missing file or a corrupt envelope invalidates the entry
// and reports a miss.
func (c *Cache) LoadCached(ctx context.Context, modelID string, src Source) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[modelID]
	var snapshot Entry
	if ok {
		snapshot = *e
	}
	c.mu.RUnlock()
	if !ok {
		c.miss()
		return nil, false
	}
	if snapshot.CacheKey != Key(modelID, src) {
		c.log.Debug().Str("model", modelID).Msg("cache key mismatch; source changed")
		c.invalidateIf(ctx, modelID, snapshot.CacheKey)
		c.miss()
		return nil, false
	}
	payload, err := readVerified(snapshot)
	if err != nil {
		c.log.Warn().Err(err).Str("model", modelID).Msg("cache entry corrupt")
		c.invalidateIf(ctx, modelID, snapshot.CacheKey)
		c.miss()
		return nil, false
	}

	c.mu.Lock()
	if cur, ok := c.entries[modelID]; ok && cur.CacheKey == snapshot.CacheKey {
		c.touchLocked(ctx, cur)
	}
	c.mu.Unlock()
	c.hits.Add(1)
	cacheHits.Inc()
	return payload, true
}

// Invalidate removes the entry for modelID. The index is updated before the
// file is deleted. It reports whether an entry existed.
func (c *Cache) Invalidate(ctx context.Context, modelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[modelID]; !ok {
		return false
	}
	c.removeLocked(ctx, modelID)
	c.invalidations.Add(1)
	cacheInvalidations.Inc()
	return true
}

// Entries lists cached artifacts, least recently accessed first.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.mu.RUnlock()
	sortLRU(out)
	return out
}

// Stats returns counters and utilisation.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	var total int64
	for _, e := range c.entries {
		total += e.SizeBytes
	}
	s := Stats{
		Entries:    len(c.entries),
		SizeBytes:  total,
		MaxBytes:   c.maxBytes,
		MaxEntries: c.maxCount,
	}
	c.mu.RUnlock()
	if c.maxBytes > 0 {
		s.Utilization = float64(total) / float64(c.maxBytes)
	}
	s.Hits = c.hits.Load()
	s.Misses = c.misses.Load()
	s.Evictions = c.evictions.Load()
	s.Invalidations = c.invalidations.Load()
	return s
}

// ensureSpaceLocked evicts by ascending LastAccessedAt until one more entry of
// size bytes fits both bounds.
func (c *Cache) ensureSpaceLocked(ctx context.Context, size int64) {
	var total int64
	for _, e := range c.entries {
		total += e.SizeBytes
	}
	if len(c.entries)+1 <= c.maxCount && total+size <= c.maxBytes {
		return
	}
	lru := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		lru = append(lru, *e)
	}
	sortLRU(lru)
	for _, victim := range lru {
		if len(c.entries)+1 <= c.maxCount && total+size <= c.maxBytes {
			return
		}
		c.removeLocked(ctx, victim.ModelID)
		total -= victim.SizeBytes
		c.evictions.Add(1)
		cacheEvictions.Inc()
		c.log.Info().Str("event", "cache_evict").Str("model", victim.ModelID).
			Str("size", humanize.IBytes(uint64(victim.SizeBytes))).
			Str("last_access", humanize.Time(victim.LastAccessedAt)).Msg("cache entry evicted")
	}
}

func (c *Cache) removeLocked(ctx context.Context, modelID string) {
	e := c.entries[modelID]
	delete(c.entries, modelID)
	if c.st != nil {
		if err := c.st.DeleteCacheEntry(ctx, modelID); err != nil {
			c.log.Warn().Err(err).Str("model", modelID).Msg("delete cache row")
		}
	}
	if e != nil {
		if err := os.Remove(e.BlobPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.log.Warn().Err(err).Str("path", e.BlobPath).Msg("remove blob")
		}
	}
}

// invalidateIf removes modelID only if its key is still key, so a concurrent
// rewrite is not thrown away.
func (c *Cache) invalidateIf(ctx context.Context, modelID, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[modelID]; ok && e.CacheKey == key {
		c.removeLocked(ctx, modelID)
		c.invalidations.Add(1)
		cacheInvalidations.Inc()
	}
}

func (c *Cache) touchLocked(ctx context.Context, e *Entry) {
	e.LastAccessedAt = c.now()
	e.AccessCount++
	if c.st != nil {
		if err := c.st.TouchCacheEntry(ctx, e.ModelID, e.LastAccessedAt, e.AccessCount); err != nil {
			c.log.Warn().Err(err).Str("model", e.ModelID).Msg("touch cache row")
		}
	}
}

func (c *Cache) miss() {
	c.misses.Add(1)
	cacheMisses.Inc()
}

func readVerified(e Entry) ([]byte, error) {
	b, err := os.ReadFile(e.BlobPath)
	if err != nil {
		return nil, err
	}
	if contentHash(b) != e.ContentHash {
		return nil, fmt.Errorf("%w: content hash mismatch", errCorrupt)
	}
	format, payload, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	if format != e.Format {
		return nil, fmt.Errorf("%w: format %q, want %q", errCorrupt, format, e.Format)
	}
	return payload, nil
}

func writeAtomic(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}

func sortLRU(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].LastAccessedAt.Equal(es[j].LastAccessedAt) {
			return es[i].LastAccessedAt.Before(es[j].LastAccessedAt)
		}
		return es[i].ModelID < es[j].ModelID
	})
}

func bytesToMB(n int64) float64 { return float64(n) / (1 << 20) }

func toRow(e *Entry) store.CacheRow {
	return store.CacheRow{
		ModelID:        e.ModelID,
		CacheKey:       e.CacheKey,
		BlobPath:       e.BlobPath,
		SizeBytes:      e.SizeBytes,
		CreatedAt:      e.CreatedAt,
		LastAccessedAt: e.LastAccessedAt,
		AccessCount:    e.AccessCount,
		ContentHash:    e.ContentHash,
		Format:         e.Format,
	}
}

func fromRow(r store.CacheRow) *Entry {
	return &Entry{
		ModelID:        r.ModelID,
		CacheKey:       r.CacheKey,
		BlobPath:       r.BlobPath,
		SizeBytes:      r.SizeBytes,
		SizeMB:         bytesToMB(r.SizeBytes),
		CreatedAt:      r.CreatedAt,
		LastAccessedAt: r.LastAccessedAt,
		AccessCount:    r.AccessCount,
		ContentHash:    r.ContentHash,
		Format:         r.Format,
	}
}
