// Package cache memoizes inference and graph responses.
//
// Engine runs are pure functions of (endpoint, rules, facts, goals, layout),
// so an identical request can be answered from memory. Requests are reduced to
// a blake2b digest with Key; values are whatever the caller stores, usually an
// encoded response.
//
// Features:
// - LRU eviction for bounded memory
// - TTL expiration
// - Thread-safe operations
// - Hit/miss statistics
//
// Usage:
//
//	c := cache.New(1000, 5*time.Minute)
//
//	key := cache.Key("forward", rules.ContentFingerprint(rs), "A,B", "D")
//	if resp, ok := c.Get(key); ok {
//		return resp
//	}
//
//	resp := runForward(...)
//	c.Put(key, resp)
package cache

import (
	"container/list"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"
)

// DefaultMaxSize is used when New is given a non-positive size.
const DefaultMaxSize = 1000

// ResultCache is a thread-safe LRU cache with optional TTL.
type ResultCache struct {
	mu sync.Mutex

	maxSize int
	ttl     time.Duration
	enabled bool
	now     func() time.Time

	list  *list.List
	items map[string]*list.Element

	hits   atomic.Uint64
	misses atomic.Uint64
}

type cacheEntry struct {
	key       string
	value     any
	expiresAt time.Time
}

// New creates a cache holding up to maxSize entries for ttl each.
// A zero ttl disables expiration; only LRU eviction applies.
func New(maxSize int, ttl time.Duration) *ResultCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &ResultCache{
		maxSize: maxSize,
		ttl:     ttl,
		enabled: true,
		now:     time.Now,
		list:    list.New(),
		items:   make(map[string]*list.Element, maxSize),
	}
}

// Key digests parts into a cache key. Parts are length-prefixed, so
// ("ab", "c") and ("a", "bc") differ.
func Key(parts ...string) string {
	h, _ := blake2b.New256(nil)
	var size [8]byte
	for _, p := range parts {
		n := uint64(len(p))
		for i := range size {
			size[i] = byte(n >> (8 * i))
		}
		h.Write(size[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the value stored under key if present and not expired.
// A hit moves the entry to the front of the LRU list.
func (c *ResultCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		c.misses.Add(1)
		return nil, false
	}

	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses.Add(1)
		return nil, false
	}

	c.list.MoveToFront(elem)
	c.hits.Add(1)
	return entry.value, true
}

// Put stores value under key, evicting the least recently used entry when
// full. An existing entry is replaced and its TTL restarted.
func (c *ResultCache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.removeElement(c.list.Back())
	}

	c.items[key] = c.list.PushFront(&cacheEntry{key: key, value: value, expiresAt: expiresAt})
}

// Remove deletes key from the cache.
func (c *ResultCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries. Statistics are kept.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Init()
	c.items = make(map[string]*list.Element, c.maxSize)
}

// Len returns the number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Enabled reports whether the cache stores values.
func (c *ResultCache) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetEnabled enables or disables the cache. Disabling drops every entry.
func (c *ResultCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.list.Init()
		c.items = make(map[string]*list.Element, c.maxSize)
	}
}

// Stats holds cache performance statistics.
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"` // percent, 0-100
	Enabled bool    `json:"enabled"`
}

// Stats returns cache statistics.
func (c *ResultCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	c.mu.Lock()
	size := c.list.Len()
	enabled := c.enabled
	c.mu.Unlock()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Size:    size,
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
		Enabled: enabled,
	}
}

// removeElement drops elem. Caller must hold the lock.
func (c *ResultCache) removeElement(elem *list.Element) {
	if elem == nil {
		return
	}
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}
