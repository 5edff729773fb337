package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStorage maps keys onto plain redis strings under a prefix.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage connects lazily; the first command surfaces connection errors.
func NewRedisStorage(addr string, db int, prefix string) (*RedisStorage, error) {
	if addr == "" {
		return nil, errors.New("redis storage: empty address")
	}
	if prefix == "" {
		prefix = "tripsync:"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	return &RedisStorage{client: client, prefix: prefix}, nil
}

func (r *RedisStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisStorage) SetItem(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}

func (r *RedisStorage) RemoveItem(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (r *RedisStorage) Close() error { return r.client.Close() }
