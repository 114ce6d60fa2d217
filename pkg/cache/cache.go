package cache

// ResultCache maps (pipeline identity, query text) to a previously
// computed response so repeated identical queries against an unchanged
// pipeline are cheap and deterministic.  The built-in implementation is
// an in-memory map safe for concurrent use which is perfectly
// sufficient for dev & unit tests.  Production deployments can swap in
// a persistent implementation (redis, sql, …).

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Key derives the deterministic cache key for a query against a
// pipeline. The hash is scoped by pipeline id so identical queries
// against different pipelines never collide.
func Key(pipelineID, query string) string {
	sum := sha256.Sum256([]byte(pipelineID + "\x00" + query))
	return pipelineID + ":" + hex.EncodeToString(sum[:])
}

type ResultCache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	Cleanup()
}

// cachedValue wraps the stored response with its expiration time.
type cachedValue struct {
	Value     any
	ExpiresAt time.Time
}

// InMemoryResultCache is the default implementation.
type InMemoryResultCache struct {
	mu   sync.RWMutex
	data map[string]*cachedValue
}

func NewInMemoryResultCache() *InMemoryResultCache {
	store := &InMemoryResultCache{
		data: make(map[string]*cachedValue),
	}

	// Start cleanup goroutine
	go store.cleanupExpired()

	return store
}

func (c *InMemoryResultCache) Get(key string) (any, bool) {
	c.mu.RLock()
	cached, ok := c.data[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Now().After(cached.ExpiresAt) {
		c.Delete(key)
		return nil, false
	}

	return cached.Value, true
}

func (c *InMemoryResultCache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	c.data[key] = &cachedValue{
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
}

func (c *InMemoryResultCache) Delete(key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

func (c *InMemoryResultCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, cached := range c.data {
		if now.After(cached.ExpiresAt) {
			delete(c.data, key)
		}
	}
}

// cleanupExpired runs in a goroutine to periodically clean up expired entries
func (c *InMemoryResultCache) cleanupExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.Cleanup()
	}
}
