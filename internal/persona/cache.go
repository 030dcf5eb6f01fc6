package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// #region cache-config
// CacheConfig holds Redis read-through cache settings.
type CacheConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// #endregion cache-config

// #region cached-store
// CachedStore is a read-through Redis cache in front of another Store.
// Cache failures are logged and fall through to the backing store.
type CachedStore struct {
	next      Store
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *slog.Logger
}

// NewCachedStore connects to Redis and wraps next.
func NewCachedStore(ctx context.Context, next Store, cfg CacheConfig, logger *slog.Logger) (*CachedStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return newCachedStore(next, client, cfg, logger), nil
}

func newCachedStore(next Store, client *redis.Client, cfg CacheConfig, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "persona:"
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{next: next, client: client, keyPrefix: prefix, ttl: ttl, logger: logger}
}

// key length-prefixes the tenant so no (tenant, ref) pair can collide with another.
func (c *CachedStore) key(tenantID, ref string) string {
	return fmt.Sprintf("%s%d:%s:%s", c.keyPrefix, len(tenantID), tenantID, ref)
}

// Lookup implements Store. Misses are not cached.
func (c *CachedStore) Lookup(ctx context.Context, tenantID, ref string) (*Profile, error) {
	key := c.key(tenantID, ref)
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Profile
		if uerr := json.Unmarshal(data, &p); uerr == nil && p.TenantID == tenantID {
			return &p, nil
		}
		c.logger.Warn("discarding corrupt cached persona", slog.String("component", "persona"), slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("persona cache read failed", slog.String("component", "persona"), slog.Any("error", err))
	}

	p, err := c.next.Lookup(ctx, tenantID, ref)
	if err != nil {
		return nil, err
	}
	if data, merr := json.Marshal(p); merr == nil {
		if serr := c.client.Set(ctx, key, data, c.ttl).Err(); serr != nil {
			c.logger.Warn("persona cache write failed", slog.String("component", "persona"), slog.Any("error", serr))
		}
	}
	return p, nil
}

// Invalidate drops a cached entry.
func (c *CachedStore) Invalidate(ctx context.Context, tenantID, ref string) error {
	return c.client.Del(ctx, c.key(tenantID, ref)).Err()
}

// Close closes the Redis client.
func (c *CachedStore) Close() error {
	return c.client.Close()
}

// #endregion cached-store
