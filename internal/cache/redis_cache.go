package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirinaja/settlement/internal/domain"
)

type RedisStatusCache struct {
	client *redis.Client
}

func NewRedisStatusCache(addr string, password string, db int) *RedisStatusCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStatusCache{client: client}
}

func (c *RedisStatusCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStatusCache) Close() error {
	return c.client.Close()
}

func (c *RedisStatusCache) Get(ctx context.Context, orderCode string) (*domain.GatewayStatus, bool, error) {
	val, err := c.client.Get(ctx, statusKey(orderCode)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var status domain.GatewayStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return nil, false, err
	}
	return &status, true, nil
}

func (c *RedisStatusCache) Set(ctx context.Context, orderCode string, value *domain.GatewayStatus, ttl time.Duration) error {
	if value == nil || ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statusKey(orderCode), payload, ttl).Err()
}

func (c *RedisStatusCache) Delete(ctx context.Context, orderCode string) error {
	return c.client.Del(ctx, statusKey(orderCode)).Err()
}
