package server

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type redisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore returns a WindowStore keeping fixed-window counters in
// Redis. The client is owned by the caller.
func NewRedisStore(client redis.UniversalClient, prefix string) (WindowStore, error) {
	if client == nil {
		return nil, errors.New("server: redis client is required")
	}
	if prefix == "" {
		prefix = "app"
	}
	return &redisStore{client: client, prefix: prefix}, nil
}

func (s *redisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	if window < time.Millisecond {
		window = time.Second
	}
	key = s.prefix + ":" + key

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return false, 0, err
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl < 0 {
		// The key lost its expiry; restore it so the window can close.
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return false, 0, err
		}
		ttl = window
	}
	return false, ttl, nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
