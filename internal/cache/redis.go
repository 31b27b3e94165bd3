package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/KennXion/follow-swarm/pkg/config"
	"github.com/KennXion/follow-swarm/pkg/logging"
)

// keyNamespace prefixes every key so the instance can share a redis with
// other services.
const keyNamespace = "swarm"

// Cache wraps Redis client
type Cache struct {
	client *redis.Client
	ctx    context.Context
}

// New creates a new Redis cache client
func New(cfg *config.RedisConfig) (*Cache, error) {
	if !cfg.Enabled {
		logging.GetLogger().Info("Redis cache disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetLogger().Info("Redis connection established")

	return &Cache{
		client: client,
		ctx:    context.Background(),
	}, nil
}

// NewFromClient wraps an existing redis client. Used by tests backed by
// miniredis.
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{
		client: client,
		ctx:    context.Background(),
	}
}

// NamespaceKey prefixes a key with the service namespace
func (c *Cache) NamespaceKey(key string) string {
	return keyNamespace + ":" + key
}

// HashKey builds a deterministic key from arbitrary parts
func HashKey(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Get retrieves a value from cache
func (c *Cache) Get(key string) (string, error) {
	if c == nil || c.client == nil {
		return "", ErrCacheDisabled
	}
	return c.client.Get(c.ctx, c.NamespaceKey(key)).Result()
}

// Set sets a value in cache with TTL
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Set(c.ctx, c.NamespaceKey(key), value, ttl).Err()
}

// Delete removes a key from cache
func (c *Cache) Delete(key string) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Del(c.ctx, c.NamespaceKey(key)).Err()
}

// Exists checks if a key exists
func (c *Cache) Exists(key string) (bool, error) {
	if c == nil || c.client == nil {
		return false, ErrCacheDisabled
	}
	count, err := c.client.Exists(c.ctx, c.NamespaceKey(key)).Result()
	return count > 0, err
}

// Incr atomically increments a counter, setting its expiry when the key is
// first created. The returned value is the counter after the increment, so
// callers can compare against a limit in one round trip.
func (c *Cache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if c == nil || c.client == nil {
		return 0, ErrCacheDisabled
	}
	nk := c.NamespaceKey(key)
	val, err := c.client.Incr(ctx, nk).Result()
	if err != nil {
		return 0, err
	}
	if val == 1 && ttl > 0 {
		if err := c.client.Expire(ctx, nk, ttl).Err(); err != nil {
			return val, err
		}
	}
	return val, nil
}

// SetNX stores a value with TTL only when the key is absent.
// Returns true when the value was stored.
func (c *Cache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if c == nil || c.client == nil {
		return false, ErrCacheDisabled
	}
	return c.client.SetNX(ctx, c.NamespaceKey(key), value, ttl).Result()
}

// decrScript decrements an existing counter, flooring it at zero. An absent
// key stays absent so the next read recomputes from the database instead of
// trusting a counter that lost its history.
var decrScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
local val = redis.call("DECR", KEYS[1])
if val < 0 then
	val = redis.call("INCR", KEYS[1])
end
return val
`)

// Decr atomically decrements a counter. The counter never goes below zero,
// and decrementing a missing counter is a no-op.
func (c *Cache) Decr(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return decrScript.Run(ctx, c.client, []string{c.NamespaceKey(key)}).Err()
}

// GetInt reads an integer counter. The second return is false when the key
// is absent.
func (c *Cache) GetInt(ctx context.Context, key string) (int64, bool, error) {
	if c == nil || c.client == nil {
		return 0, false, ErrCacheDisabled
	}
	val, err := c.client.Get(ctx, c.NamespaceKey(key)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

// SetFlag sets a persistent boolean flag
func (c *Cache) SetFlag(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Set(ctx, c.NamespaceKey(key), "1", 0).Err()
}

// ClearFlag removes a boolean flag
func (c *Cache) ClearFlag(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Del(ctx, c.NamespaceKey(key)).Err()
}

// HasFlag checks a boolean flag
func (c *Cache) HasFlag(ctx context.Context, key string) (bool, error) {
	if c == nil || c.client == nil {
		return false, ErrCacheDisabled
	}
	count, err := c.client.Exists(ctx, c.NamespaceKey(key)).Result()
	return count > 0, err
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Health checks Redis health
func (c *Cache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Ping(ctx).Err()
}

var (
	// ErrCacheDisabled is returned when cache operations are attempted but cache is disabled
	ErrCacheDisabled = fmt.Errorf("cache is disabled")
)
