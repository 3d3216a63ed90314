package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"alarm-pipeline/internal/infra/metrics"
)

// RedisCache реализует domain.Cache через Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedis создаёт кэш; все ключи получают префикс.
func NewRedis(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Once выполняет функцию, если ключ ещё не задан. При ошибке fn ключ снимается.
func (c *RedisCache) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	start := time.Now()
	ok, err := c.client.SetNX(ctx, c.prefix+key, "1", ttl).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "once", start, err)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := fn(); err != nil {
		_ = c.client.Del(context.WithoutCancel(ctx), c.prefix+key).Err()
		return err
	}
	return nil
}
