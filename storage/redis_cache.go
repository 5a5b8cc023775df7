package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"polymarket-copybot/config"
)

const (
	marketTitleKeyPrefix = "copybot:market:"
	marketTitleTTL       = 24 * time.Hour
)

// NewRedisClient connects to Redis. It returns nil, nil when no host is
// configured so callers can run without a cache.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Host == "" {
		return nil, nil
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// RedisCache caches market titles used to enrich decision logs.
type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisCache wraps client. ttl <= 0 uses 24h.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = marketTitleTTL
	}
	return &RedisCache{redis: client, ttl: ttl}
}

// GetMarketTitle returns ErrNotFound on a cache miss.
func (c *RedisCache) GetMarketTitle(ctx context.Context, tokenID string) (string, error) {
	title, err := c.redis.Get(ctx, marketTitleKeyPrefix+tokenID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return title, err
}

// SetMarketTitle stores title for tokenID.
func (c *RedisCache) SetMarketTitle(ctx context.Context, tokenID, title string) error {
	return c.redis.Set(ctx, marketTitleKeyPrefix+tokenID, title, c.ttl).Err()
}
