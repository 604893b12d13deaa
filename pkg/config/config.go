// Package config provides client configuration loaded from environment
// variables, with .env support for local development. Every setting has a
// default, so an empty environment yields a working client against a local
// API; Load validates the result before returning it.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Failed to load configuration")
//	}
//
//	client := gateway.New(cfg.API, store)
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Token store backends.
const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Summary sources.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Config holds all configuration for the client.
type Config struct {
	API       APIConfig
	Store     StoreConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Summary   SummaryConfig
	Cache     CacheConfig
	Dashboard DashboardConfig
	CORS      CORSConfig
	Log       LogConfig
}

// APIConfig configures the outbound client for the meal-logging API.
type APIConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int     // attempts for idempotent GETs, including the first
	RateLimit     float64 // requests per second, 0 disables limiting
	RateBurst     int
}

// StoreConfig selects where the bearer token is persisted between runs.
type StoreConfig struct {
	Kind     string // file, redis or memory
	FilePath string
	Profile  string // credential namespace, lets several accounts share one redis
}

// RedisConfig holds Redis connection settings for the redis token store.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	PoolSize int
}

// AuthConfig holds the local credential rules checked before any network
// call.
type AuthConfig struct {
	MinPassword         int
	RegisterMinPassword int
	RegisterMinUsername int
}

// SummaryConfig chooses whether rollups are aggregated locally from meals or
// fetched from the server's nutrition endpoints.
type SummaryConfig struct {
	Source string
}

// CacheConfig controls the meal cache used for local rollups. The cache
// lives in Redis and is active only with the redis token store.
type CacheConfig struct {
	TTL time.Duration // 0 disables the cache
}

// DashboardConfig configures the local dashboard server started by
// `pulse serve`.
type DashboardConfig struct {
	Port string
}

// CORSConfig holds the origins allowed to call the dashboard API.
type CORSConfig struct {
	AllowedOrigins []string
}

// LogConfig holds the zerolog level name.
type LogConfig struct {
	Level string
}

// Load reads configuration from the environment and an optional .env file in
// the working directory.
//
// Environment variables:
//   - PULSE_API_URL: API base URL (default: http://localhost:8000/api)
//   - PULSE_HTTP_TIMEOUT: per-request timeout (default: 15s)
//   - PULSE_RETRY_ATTEMPTS: attempts for GET requests (default: 3)
//   - PULSE_RATE_LIMIT, PULSE_RATE_BURST: outbound limiter (default: 10/s, burst 5)
//   - PULSE_TOKEN_STORE: file, redis or memory (default: file)
//   - PULSE_TOKEN_FILE: token file path (default: ~/.pulse/token.json)
//   - PULSE_PROFILE: credential namespace (default: default)
//   - REDIS_HOST, REDIS_PORT, REDIS_PASSWORD, REDIS_DB, REDIS_POOL_SIZE
//   - PULSE_SUMMARY_SOURCE: local or remote (default: local)
//   - AUTH_MIN_PASSWORD, REGISTER_MIN_PASSWORD, REGISTER_MIN_USERNAME
//   - PULSE_CACHE_TTL: lifetime of cached past-day meals, 0 disables (default: 10m)
//   - PULSE_DASHBOARD_PORT: dashboard port (default: 8090)
//   - ALLOWED_ORIGINS: comma-separated CORS origins
//   - PULSE_LOG_LEVEL: debug, info, warn or error (default: info)
//
// Returns an error if any value fails Validate.
func Load() (*Config, error) {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	config := &Config{
		API: APIConfig{
			BaseURL:       strings.TrimRight(getEnv("PULSE_API_URL", "http://localhost:8000/api"), "/"),
			Timeout:       getEnvAsDuration("PULSE_HTTP_TIMEOUT", 15*time.Second),
			RetryAttempts: getEnvAsInt("PULSE_RETRY_ATTEMPTS", 3),
			RateLimit:     getEnvAsFloat("PULSE_RATE_LIMIT", 10),
			RateBurst:     getEnvAsInt("PULSE_RATE_BURST", 5),
		},
		Store: StoreConfig{
			Kind:     strings.ToLower(getEnv("PULSE_TOKEN_STORE", StoreFile)),
			FilePath: getEnv("PULSE_TOKEN_FILE", defaultTokenFile()),
			Profile:  getEnv("PULSE_PROFILE", "default"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		Auth: AuthConfig{
			MinPassword:         getEnvAsInt("AUTH_MIN_PASSWORD", 6),
			RegisterMinPassword: getEnvAsInt("REGISTER_MIN_PASSWORD", 8),
			RegisterMinUsername: getEnvAsInt("REGISTER_MIN_USERNAME", 3),
		},
		Summary: SummaryConfig{
			Source: strings.ToLower(getEnv("PULSE_SUMMARY_SOURCE", SourceLocal)),
		},
		Cache: CacheConfig{
			TTL: getEnvAsDuration("PULSE_CACHE_TTL", 10*time.Minute),
		},
		Dashboard: DashboardConfig{
			Port: getEnv("PULSE_DASHBOARD_PORT", "8090"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Log: LogConfig{
			Level: strings.ToLower(getEnv("PULSE_LOG_LEVEL", "info")),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks that all values are usable.
//
// Validation rules:
//   - API URL must be absolute (scheme and host)
//   - Timeout and retry attempts must be positive, rate settings and cache TTL
//     non-negative
//   - Store kind and summary source must be known values
//   - A file store needs a path
//   - Ports must be valid integers
//   - Minimum lengths must be positive and the registration password minimum
//     must not be below the login minimum
func (c *Config) Validate() error {
	u, err := url.ParseRequestURI(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid API URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API URL must be absolute, got %q", c.API.BaseURL)
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("HTTP timeout must be positive")
	}
	if c.API.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	if c.API.RateLimit < 0 || c.API.RateBurst < 0 {
		return fmt.Errorf("rate limit and burst must not be negative")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache TTL must not be negative")
	}

	switch c.Store.Kind {
	case StoreFile:
		if c.Store.FilePath == "" {
			return fmt.Errorf("token file path is required for the file store")
		}
	case StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("unknown token store %q", c.Store.Kind)
	}
	if c.Store.Profile == "" {
		return fmt.Errorf("profile name is required")
	}

	if _, err := strconv.Atoi(c.Redis.Port); err != nil {
		return fmt.Errorf("redis port must be a valid integer: %w", err)
	}
	if _, err := strconv.Atoi(c.Dashboard.Port); err != nil {
		return fmt.Errorf("dashboard port must be a valid integer: %w", err)
	}

	switch c.Summary.Source {
	case SourceLocal, SourceRemote:
	default:
		return fmt.Errorf("unknown summary source %q", c.Summary.Source)
	}

	if c.Auth.MinPassword < 1 || c.Auth.RegisterMinPassword < 1 || c.Auth.RegisterMinUsername < 1 {
		return fmt.Errorf("credential minimums must be positive")
	}
	if c.Auth.RegisterMinPassword < c.Auth.MinPassword {
		return fmt.Errorf("registration password minimum (%d) is below the login minimum (%d)",
			c.Auth.RegisterMinPassword, c.Auth.MinPassword)
	}

	return nil
}

// Address returns the Redis address in "host:port" format.
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pulse", "token.json")
	}
	return filepath.Join(home, ".pulse", "token.json")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma-separated variable, dropping empty parts.
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
