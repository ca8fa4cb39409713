package clubperm

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// PermissionCache memoizes computed PermissionSets keyed by role-set
// identity. It is the engine's only shared-mutable structure. Because the
// computation is pure and deterministic, concurrent population of the same
// key is benign: last writer wins and every writer wrote the same value.
type PermissionCache interface {
	Get(key string) (PermissionSet, bool)
	Set(key string, ps PermissionSet)
	Invalidate(key string)
	Flush()
	Close()
}

// CacheKey derives the stable digest of a role-name set. Order and
// duplicates in the input do not affect the key.
func CacheKey(roleNames []string) string {
	if len(roleNames) == 0 {
		return "roles:none"
	}
	sorted := append([]string(nil), roleNames...)
	sort.Strings(sorted)
	dedup := sorted[:0]
	for i, name := range sorted {
		if i > 0 && name == sorted[i-1] {
			continue
		}
		dedup = append(dedup, name)
	}
	sum := sha256.Sum256([]byte(strings.Join(dedup, "\x00")))
	return hex.EncodeToString(sum[:])
}

// DefaultCacheTTL keeps cached sets short-lived; role changes also
// invalidate explicitly, the TTL is the backstop.
const DefaultCacheTTL = 5 * time.Minute

type memoryCacheEntry struct {
	ps        PermissionSet
	expiresAt time.Time
}

// MemoryPermissionCache is a locked-map cache with TTL, suitable for
// single-process deployments and tests.
type MemoryPermissionCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	ttl     time.Duration
}

func NewMemoryPermissionCache(ttl time.Duration) *MemoryPermissionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryPermissionCache{entries: make(map[string]memoryCacheEntry), ttl: ttl}
}

func (c *MemoryPermissionCache) Get(key string) (PermissionSet, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.ps, true
}

func (c *MemoryPermissionCache) Set(key string, ps PermissionSet) {
	c.mu.Lock()
	c.entries[key] = memoryCacheEntry{ps: ps, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *MemoryPermissionCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *MemoryPermissionCache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]memoryCacheEntry)
	c.mu.Unlock()
}

func (c *MemoryPermissionCache) Close() {}

// RistrettoPermissionCache backs the decision cache with a ristretto
// cache, for deployments where many distinct role combinations are live at
// once and admission control matters.
type RistrettoPermissionCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// RistrettoCacheConfig sizes the backing cache.
type RistrettoCacheConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// NewRistrettoPermissionCache builds the ristretto-backed cache. Zero
// config fields fall back to sizing fit for a few thousand role sets.
func NewRistrettoPermissionCache(cfg RistrettoCacheConfig, ttl time.Duration) (*RistrettoPermissionCache, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 10_000
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 1 << 20
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoPermissionCache{cache: cache, ttl: ttl}, nil
}

func (c *RistrettoPermissionCache) Get(key string) (PermissionSet, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	ps, ok := v.(PermissionSet)
	return ps, ok
}

func (c *RistrettoPermissionCache) Set(key string, ps PermissionSet) {
	cost := int64(1 + len(ps))
	c.cache.SetWithTTL(key, ps, cost, c.ttl)
}

func (c *RistrettoPermissionCache) Invalidate(key string) {
	c.cache.Del(key)
}

func (c *RistrettoPermissionCache) Flush() {
	c.cache.Clear()
}

func (c *RistrettoPermissionCache) Close() {
	c.cache.Close()
}
