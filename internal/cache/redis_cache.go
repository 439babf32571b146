package cache

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"
)

// RedisKV stores mirror documents in Redis, for terminals sharing one back office box.
type RedisKV struct {
	client *redis.Client
	prefix string
}

func NewRedisKV(addr string, password string, db int, prefix string) *RedisKV {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisKV{client: client, prefix: prefix}
}

func (c *RedisKV) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisKV) Close() error {
	return c.client.Close()
}

func (c *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores without expiry; the mirror lives as long as the installation.
func (c *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	return c.client.Set(ctx, c.prefix+key, value, 0).Err()
}

func (c *RedisKV) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}
