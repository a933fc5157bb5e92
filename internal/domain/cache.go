package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// Keys are scoped so unrelated entries never collide.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, scope string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, scope string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, scope string, key string) error

	// GetBatch retrieves a scored batch by dataset fingerprint.
	// Returns nil, nil on a miss.
	GetBatch(ctx context.Context, fingerprint string) (*BatchSnapshot, error)

	// SetBatch caches a scored batch under its dataset fingerprint.
	SetBatch(ctx context.Context, fingerprint string, batch *BatchSnapshot, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// BatchSnapshot is a whole-dataset batch score, keyed by the fingerprint of its inputs.
// A dataset with different content has a different fingerprint, so a hit is always current.
type BatchSnapshot struct {
	DatasetID   string                 `json:"datasetId"`
	Fingerprint string                 `json:"fingerprint"`
	ScoredAt    time.Time              `json:"scoredAt"`
	Results     map[string]ScoreResult `json:"results"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" mapstructure:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `json:"localMaxSize" mapstructure:"localmaxsize"`
	LocalTTL     time.Duration `json:"localTtl" mapstructure:"localttl"`

	// Redis settings (Pro tier)
	RedisAddr     string `json:"redisAddr" mapstructure:"redisaddr"`
	RedisPassword string `json:"-" mapstructure:"redispassword"`
	RedisDB       int    `json:"redisDb" mapstructure:"redisdb"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase" mapstructure:"enabletwophase"` // If true, check local first, then Redis
}
