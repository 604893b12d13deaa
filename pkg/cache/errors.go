package cache

import "errors"

var (
	// ErrCacheMiss indicates the requested key was not found in cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheInvalidation indicates that keys could not be scanned or
	// deleted.
	ErrCacheInvalidation = errors.New("cache invalidation failed")
)
