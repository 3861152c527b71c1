package resolver

import (
	"net/url"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache maps a z-base-32 public key to its homeserver URL.
//
// A maxAge of zero or less means the entry never expires. Implementations
// must be safe for concurrent use.
type Cache interface {
	Get(key string) (*url.URL, bool)
	Set(key string, u *url.URL, maxAge time.Duration)
	Delete(key string)
}

type cacheEntry struct {
	url     url.URL
	expires time.Time // zero = never
}

func (e cacheEntry) live(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

func newEntry(u *url.URL, maxAge time.Duration, now time.Time) cacheEntry {
	e := cacheEntry{url: *u}
	if maxAge > 0 {
		e.expires = now.Add(maxAge)
	}
	return e
}

// MemoryCache is an unbounded map with per-entry expiry.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

var _ Cache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry), now: time.Now}
}

func (c *MemoryCache) Get(key string) (*url.URL, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.live(c.now()) {
		delete(c.entries, key)
		return nil, false
	}
	u := e.url
	return &u, true
}

func (c *MemoryCache) Set(key string, u *url.URL, maxAge time.Duration) {
	c.mu.Lock()
	c.entries[key] = newEntry(u, maxAge, c.now())
	c.mu.Unlock()
}

func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// LRUCache holds at most size entries, evicting the least recently used.
type LRUCache struct {
	lru *lru.Cache[string, cacheEntry]
	now func() time.Time
}

var _ Cache = (*LRUCache)(nil)

func NewLRUCache(size int) (*LRUCache, error) {
	l, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{lru: l, now: time.Now}, nil
}

func (c *LRUCache) Get(key string) (*url.URL, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !e.live(c.now()) {
		c.lru.Remove(key)
		return nil, false
	}
	u := e.url
	return &u, true
}

func (c *LRUCache) Set(key string, u *url.URL, maxAge time.Duration) {
	c.lru.Add(key, newEntry(u, maxAge, c.now()))
}

func (c *LRUCache) Delete(key string) { c.lru.Remove(key) }

// Len returns the number of entries, expired ones included.
func (c *LRUCache) Len() int { return c.lru.Len() }

// NopCache never stores anything.
type NopCache struct{}

var _ Cache = NopCache{}

func (NopCache) Get(string) (*url.URL, bool)         { return nil, false }
func (NopCache) Set(string, *url.URL, time.Duration) {}
func (NopCache) Delete(string)                       {}
