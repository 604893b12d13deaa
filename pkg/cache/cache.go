// Package cache keeps JSON values in Redis with a TTL. The client uses it to
// hold meal lists of past days, so repeated weekly rollups do not refetch
// every day from the API.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// scanBatch is the COUNT hint for SCAN and the UNLINK batch size.
const scanBatch = 100

// Cache stores JSON values in Redis.
type Cache struct {
	client *redis.Client
}

// NewCache wraps a Redis client. The client's pool is shared, not owned:
// closing it is left to the caller.
//
// Example:
//
//	redisDB, _ := database.NewRedisDB(&cfg.Redis)
//	mealCache := cache.NewCache(redisDB.Client())
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get decodes the value at key into target. A missing or expired key
// returns ErrCacheMiss.
//
// Example:
//
//	var meals []models.MealEntry
//	err := c.Get(ctx, cache.MealsDayKey(userID, "2024-01-15"), &meals)
//	if errors.Is(err, cache.ErrCacheMiss) {
//	    // fetch from the API
//	}
func (c *Cache) Get(ctx context.Context, key string, target interface{}) error {
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return fmt.Errorf("read %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		// A value we cannot decode is as good as absent; drop it.
		c.client.Del(ctx, key)
		return fmt.Errorf("decode %s: %w", key, err)
	}

	return nil
}

// Set encodes value and stores it at key for ttl.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}

	log.Debug().Str("key", key).Dur("ttl", ttl).Int("bytes", len(raw)).Msg("Cache entry stored")
	return nil
}

// Delete removes keys. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Unlink(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheInvalidation, err)
	}
	log.Debug().Strs("keys", keys).Msg("Cache entries removed")
	return nil
}

// DeletePattern unlinks every key matching a glob pattern. Keys are found
// with SCAN, never KEYS, and removed in batches.
//
// Example:
//
//	// Forget every cached day of one user
//	c.DeletePattern(ctx, cache.UserMealsPattern(userID))
func (c *Cache) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()

	batch := make([]string, 0, scanBatch)
	removed := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.client.Unlink(ctx, batch...).Err(); err != nil {
			return err
		}
		removed += len(batch)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return fmt.Errorf("%w: %v", ErrCacheInvalidation, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheInvalidation, err)
	}
	if err := flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheInvalidation, err)
	}

	log.Debug().Str("pattern", pattern).Int("count", removed).Msg("Cache entries removed")
	return nil
}
