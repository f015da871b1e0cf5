package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type RedisSettlementCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSettlementCache(addr string, password string, db int, ttl time.Duration) *RedisSettlementCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisSettlementCache{client: client, ttl: ttl}
}

func (c *RedisSettlementCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSettlementCache) Close() error {
	return c.client.Close()
}

func (c *RedisSettlementCache) Seen(ctx context.Context, code string) (bool, error) {
	_, err := c.client.Get(ctx, settlementKey(code)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisSettlementCache) Mark(ctx context.Context, code string) error {
	return c.client.Set(ctx, settlementKey(code), "1", c.ttl).Err()
}

func settlementKey(code string) string {
	return "settlement:" + code
}
