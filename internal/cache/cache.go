package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// BatchScope is the key scope holding scored batches.
const BatchScope = "batch"

// New creates a new cache based on configuration.
// For Community tier: returns LRU cache.
// For Pro tier with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For Pro tier without two-phase: returns Redis cache.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// byteStore is the raw key/value half shared by every implementation.
type byteStore interface {
	Get(ctx context.Context, scope string, key string) ([]byte, error)
	Set(ctx context.Context, scope string, key string, value []byte, ttl time.Duration) error
}

func getBatch(ctx context.Context, s byteStore, fingerprint string) (*domain.BatchSnapshot, error) {
	if fingerprint == "" {
		return nil, fmt.Errorf("fingerprint is required")
	}
	data, err := s.Get(ctx, BatchScope, fingerprint)
	if err != nil || data == nil {
		return nil, err
	}

	var snap domain.BatchSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", fingerprint, err)
	}
	return &snap, nil
}

func setBatch(ctx context.Context, s byteStore, fingerprint string, batch *domain.BatchSnapshot, ttl time.Duration) error {
	if fingerprint == "" {
		return fmt.Errorf("fingerprint is required")
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch %s: %w", fingerprint, err)
	}
	return s.Set(ctx, BatchScope, fingerprint, data, ttl)
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis shared by every replica
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, scope string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, scope, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, scope, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, scope, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2. L1 keeps the shorter of the two TTLs.
func (c *TwoPhaseCache) Set(ctx context.Context, scope string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, scope, key, value, min(ttl, c.l1TTL)); err != nil {
		return err
	}
	return c.remote.Set(ctx, scope, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, scope string, key string) error {
	if err := c.local.Delete(ctx, scope, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, scope, key)
}

// GetBatch retrieves a scored batch, L1 first.
func (c *TwoPhaseCache) GetBatch(ctx context.Context, fingerprint string) (*domain.BatchSnapshot, error) {
	return getBatch(ctx, c, fingerprint)
}

// SetBatch caches a scored batch in both L1 and L2.
func (c *TwoPhaseCache) SetBatch(ctx context.Context, fingerprint string, batch *domain.BatchSnapshot, ttl time.Duration) error {
	return setBatch(ctx, c, fingerprint, batch, ttl)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
