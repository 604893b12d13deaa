package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ieraasyl/PulseClient/pkg/config"
	"github.com/ieraasyl/PulseClient/pkg/utils"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const backendRedis = "redis"

// RedisDB wraps a Redis client used as a durable credential store.
// Tokens are stored without expiry; the API decides when a token is no
// longer valid and the session clears it on the first 401.
//
// Key pattern: "pulse:token:{profile}"
type RedisDB struct {
	client *redis.Client
}

// NewRedisDB creates a Redis connection with automatic retry.
//
// Retry configuration (utils.StoreRetryConfig):
//   - Max attempts: 5
//   - Initial delay: 100ms
//   - Max delay: 3 seconds
//   - Total timeout: 30 seconds
//
// Parameters:
//   - cfg: Redis configuration including host, port, password, database, and pool size
//
// Returns the connected Redis client or an error if all retries fail.
//
// Example:
//
//	redisDB, err := database.NewRedisDB(&config.RedisConfig{
//	    Host:     "localhost",
//	    Port:     "6379",
//	    PoolSize: 10,
//	})
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Redis connection failed")
//	}
//	defer redisDB.Close()
func NewRedisDB(cfg *config.RedisConfig) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := utils.Retry(ctx, utils.StoreRetryConfig(), func() error {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()

		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Address()).Msg("Failed to ping Redis, retrying...")
			return err
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Debug().Str("addr", cfg.Address()).Msg("Connected to Redis")

	return &RedisDB{client: client}, nil
}

// Close closes the Redis connection and releases all resources.
func (r *RedisDB) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client.
func (r *RedisDB) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is alive and responsive. Used by the dashboard's
// readiness endpoint.
func (r *RedisDB) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// TokenKey returns the key holding the token of profile.
func TokenKey(profile string) string {
	return fmt.Sprintf("pulse:token:%s", profile)
}

// GetToken returns the token stored for profile, or "" if there is none.
func (r *RedisDB) GetToken(ctx context.Context, profile string) (token string, err error) {
	start := time.Now()
	defer func() { observe(backendRedis, "get", start, err) }()

	token, err = r.client.Get(ctx, TokenKey(profile)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

// SetToken stores token for profile, replacing any previous value.
func (r *RedisDB) SetToken(ctx context.Context, profile, token string) (err error) {
	start := time.Now()
	defer func() { observe(backendRedis, "set", start, err) }()

	if err = r.client.Set(ctx, TokenKey(profile), token, 0).Err(); err != nil {
		return fmt.Errorf("failed to set token: %w", err)
	}
	return nil
}

// DeleteToken removes the token of profile. Deleting a missing key is not
// an error.
func (r *RedisDB) DeleteToken(ctx context.Context, profile string) (err error) {
	start := time.Now()
	defer func() { observe(backendRedis, "clear", start, err) }()

	if err = r.client.Del(ctx, TokenKey(profile)).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// TokenStore binds the RedisDB to one profile, yielding a Store.
// Closing the returned store closes the RedisDB.
func (r *RedisDB) TokenStore(profile string) *RedisTokenStore {
	return &RedisTokenStore{db: r, profile: profile}
}

// RedisTokenStore is a Store backed by one Redis key.
type RedisTokenStore struct {
	db      *RedisDB
	profile string
}

func (s *RedisTokenStore) Get(ctx context.Context) (string, error) {
	return s.db.GetToken(ctx, s.profile)
}

func (s *RedisTokenStore) Set(ctx context.Context, token string) error {
	return s.db.SetToken(ctx, s.profile, token)
}

func (s *RedisTokenStore) Clear(ctx context.Context) error {
	return s.db.DeleteToken(ctx, s.profile)
}

func (s *RedisTokenStore) IsPresent(ctx context.Context) (bool, error) {
	token, err := s.Get(ctx)
	if err != nil {
		return false, err
	}
	return token != "", nil
}

func (s *RedisTokenStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Client exposes the underlying Redis client so other caches can share the
// connection pool.
func (s *RedisTokenStore) Client() *redis.Client {
	return s.db.Client()
}

func (s *RedisTokenStore) Close() error {
	return s.db.Close()
}
