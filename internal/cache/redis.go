package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

const keyPrefix = "cache:artifact:"

// RedisCache shares cache entries between all engine replicas.
type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisCache(redisClient *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: redisClient, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, fingerprint string) (string, bool, error) {
	data, err := c.redis.Get(ctx, keyPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return "", false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return entry.ArtifactRef, true, nil
}

func (c *RedisCache) Put(ctx context.Context, fingerprint, artifactRef string) (string, error) {
	if fingerprint == "" || artifactRef == "" {
		return "", errors.New("fingerprint and artifact reference are required")
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
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	// SET NX keeps the first writer's entry
	stored, err := c.redis.SetNX(ctx, keyPrefix+fingerprint, data, c.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if stored {
		return artifactRef, nil
	}

	existing, found, err := c.Get(ctx, fingerprint)
	if err != nil {
		return "", err
	}
	if !found {
		// expired between SETNX and GET; the caller's ref is as good as any
		return artifactRef, nil
	}
	return existing, nil
}
