// Package redis is a cache backend for deployments that already run Redis,
// e.g. when several gateway instances should share one cache.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/halden/converse/internal/config"
	"github.com/redis/go-redis/v9"
)

// Store implements cache.KV on Redis. Entries do not expire: the cache is
// only ever invalidated explicitly (session delete, flush).
type Store struct {
	rdb *redis.Client
}

// Open connects to Redis and verifies the connection.
func Open(cfg config.RedisConfig) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{rdb: rdb}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get entry: %w", err)
	}
	return data, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.rdb.Set(ctx, key, value, 0).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
