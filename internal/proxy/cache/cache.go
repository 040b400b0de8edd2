// Package cache implements the bounded, TTL-based response cache.
//
// Entries are keyed by normalized URL and bounded both by count and by
// total payload bytes. When an insertion would exceed either bound, a batch
// of roughly 10% of entries (oldest by last access) is evicted first.
// Expired entries are removed lazily on Get and by a periodic sweep.
package cache

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry is one cached response payload.
type Entry struct {
	Key            string
	Payload        []byte
	ContentType    string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	SizeBytes      int64
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Evictions     int64   `json:"evictions"`
	TotalRequests int64   `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"`
	EvictionRate  float64 `json:"eviction_rate"`
	Entries       int     `json:"entries"`
	MemoryBytes   int64   `json:"memory_bytes"`
}

// Config bounds the cache.
type Config struct {
	MaxEntries    int
	MaxMemory     int64
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:    1000,
		MaxMemory:     100 << 20,
		DefaultTTL:    10 * time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

// Cache is a bounded TTL store safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	memory  int64

	hits          int64
	misses        int64
	evictions     int64
	totalRequests int64

	cfg     Config
	now     func() time.Time
	onEvict func()
	stop    chan struct{}
	once    sync.Once
}

// New creates a cache and starts its periodic sweep.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.MaxMemory <= 0 {
		cfg.MaxMemory = DefaultConfig().MaxMemory
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}

	c := &Cache{
		entries: make(map[string]*Entry),
		cfg:     cfg,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		go c.sweepLoop(cfg.SweepInterval)
	}
	return c
}

// WithEvictionHook installs a callback invoked once per evicted entry.
func (c *Cache) WithEvictionHook(fn func()) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
	return c
}

// WithClock overrides the cache's time source. Test hook.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// NormalizeKey canonicalizes a URL for use as a cache key: the fragment is
// dropped and the host lowercased. Unparseable input is used verbatim.
func NormalizeKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// Set stores a payload under key with the given TTL (DefaultTTL when zero),
// evicting a batch of least-recently-accessed entries first if the insertion
// would exceed the configured bounds.
func (c *Cache) Set(key string, payload []byte, contentType string, ttl time.Duration) {
	size := int64(len(payload))
	// A payload beyond the memory bound can never fit; evicting for it would
	// drain the cache and still break the bound.
	if size > c.cfg.MaxMemory {
		return
	}

	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Replace any existing entry before accounting.
	if old, ok := c.entries[key]; ok {
		c.memory -= old.SizeBytes
		delete(c.entries, key)
	}

	for (len(c.entries)+1 > c.cfg.MaxEntries || c.memory+size > c.cfg.MaxMemory) && len(c.entries) > 0 {
		c.evictBatchLocked()
	}

	now := c.now()
	c.entries[key] = &Entry{
		Key:            key,
		Payload:        payload,
		ContentType:    contentType,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
		AccessCount:    0,
		SizeBytes:      size,
	}
	c.memory += size
}

// Get returns the entry for key if present and unexpired. Expired entries
// are deleted lazily and counted as both a miss and an eviction.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	now := c.now()
	if now.After(e.ExpiresAt) {
		c.removeLocked(e)
		c.misses++
		c.evictedLocked()
		return nil, false
	}

	e.LastAccessedAt = now
	e.AccessCount++
	c.hits++
	return e, true
}

// Len returns the current live entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		TotalRequests: c.totalRequests,
		Entries:       len(c.entries),
		MemoryBytes:   c.memory,
	}
	if c.totalRequests > 0 {
		s.HitRate = float64(c.hits) / float64(c.totalRequests)
		s.EvictionRate = float64(c.evictions) / float64(c.totalRequests)
	}
	return s
}

// Sweep removes expired entries and entries never accessed since insertion.
// Normally driven by the internal ticker; exported for deterministic tests.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, e := range c.entries {
		if now.After(e.ExpiresAt) || e.AccessCount == 0 {
			c.removeLocked(e)
			c.evictedLocked()
		}
	}
}

// Close stops the periodic sweep.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// evictBatchLocked removes ~10% of entries (at least one), oldest by last
// access first.
func (c *Cache) evictBatchLocked() {
	if len(c.entries) == 0 {
		return
	}

	batch := len(c.entries) / 10
	if batch < 1 {
		batch = 1
	}

	victims := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		victims = append(victims, e)
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].LastAccessedAt.Before(victims[j].LastAccessedAt)
	})

	for i := 0; i < batch && i < len(victims); i++ {
		c.removeLocked(victims[i])
		c.evictedLocked()
	}
}

func (c *Cache) evictedLocked() {
	c.evictions++
	if c.onEvict != nil {
		c.onEvict()
	}
}

func (c *Cache) removeLocked(e *Entry) {
	c.memory -= e.SizeBytes
	delete(c.entries, e.Key)
}
