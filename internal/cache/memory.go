package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

// MemoryCache is a process-local cache with TTL and LRU eviction.
type MemoryCache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, model.CacheEntry]
	ttl time.Duration
}

// NewMemoryCache creates a cache holding at most maxEntries (0 = unbounded)
// entries for ttl (0 = no expiry).
func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		lru: expirable.NewLRU[string, model.CacheEntry](maxEntries, nil, ttl),
		ttl: ttl,
	}
}

func (c *MemoryCache) Get(ctx context.Context, fingerprint string) (string, bool, error) {
	entry, ok := c.lru.Get(fingerprint)
	if !ok {
		return "", false, nil
	}
	return entry.ArtifactRef, true, nil
}

func (c *MemoryCache) Put(ctx context.Context, fingerprint, artifactRef string) (string, error) {
	if fingerprint == "" || artifactRef == "" {
		return "", errors.New("fingerprint and artifact reference are required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.lru.Peek(fingerprint); ok {
		return existing.ArtifactRef, nil
	}

	now := time.Now()
	entry := model.CacheEntry{
		Fingerprint: fingerprint,
		ArtifactRef: artifactRef,
		CreatedAt:   now,
	}
	if c.ttl > 0 {
		expires := now.Add(c.ttl)
		entry.ExpiresAt = &expires
	}
	c.lru.Add(fingerprint, entry)
	return artifactRef, nil
}

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}
