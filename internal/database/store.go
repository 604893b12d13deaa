// Package database persists the client's bearer credential. Three backends
// implement Store:
//
//   - FileStore keeps the token in a JSON file under the user's home so it
//     survives restarts (default)
//   - RedisDB keeps it in Redis under a per-profile key, for shared or
//     containerized setups
//   - MemoryStore keeps it in process memory, for tests and one-shot runs
//
// Tokens are opaque strings; no backend inspects them.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ieraasyl/PulseClient/internal/middleware"
	"github.com/ieraasyl/PulseClient/pkg/config"
)

// Store is a durable single-slot credential store.
//
// Get returns "" and a nil error when no token is stored.
type Store interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string) error
	Clear(ctx context.Context) error
	IsPresent(ctx context.Context) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the Store selected by cfg.Store.Kind.
//
// Example:
//
//	store, err := database.Open(cfg)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Failed to open token store")
//	}
//	defer store.Close()
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Store.Kind {
	case config.StoreFile:
		return NewFileStore(cfg.Store.FilePath), nil
	case config.StoreRedis:
		db, err := NewRedisDB(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		return db.TokenStore(cfg.Store.Profile), nil
	case config.StoreMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown token store %q", cfg.Store.Kind)
	}
}

// observe records a store operation in the token store metrics.
func observe(backend, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	middleware.RecordTokenStoreOp(backend, operation, status, time.Since(start))
}
