// Package dedup remembers which work items already produced output.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store records processed item ids
type Store interface {
	Seen(ctx context.Context, id string) (bool, error)
	MarkSeen(ctx context.Context, id string) error
}

// RedisStore keeps one expiring key per processed item
type RedisStore struct {
	rdb      *redis.Client
	ttlHours int
	prefix   string
}

// NewRedisStore creates a store. If ttlHours is 0, defaults to 48 hours.
func NewRedisStore(rdb *redis.Client, ttlHours int) *RedisStore {
	if ttlHours <= 0 {
		ttlHours = 48
	}
	return &RedisStore{
		rdb:      rdb,
		ttlHours: ttlHours,
		prefix:   "visionpipe:processed",
	}
}

// NewRedisStoreFromURL parses a redis:// URL and verifies the connection
func NewRedisStoreFromURL(ctx context.Context, url string, ttlHours int) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dedup Redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to dedup Redis: %w", err)
	}
	return NewRedisStore(rdb, ttlHours), nil
}

func (s *RedisStore) key(id string) string {
	return fmt.Sprintf("%s:%s", s.prefix, id)
}

// MarkSeen records id as processed
func (s *RedisStore) MarkSeen(ctx context.Context, id string) error {
	ttl := time.Duration(s.ttlHours) * time.Hour
	return s.rdb.Set(ctx, s.key(id), "1", ttl).Err()
}

// Seen reports whether id was marked processed
func (s *RedisStore) Seen(ctx context.Context, id string) (bool, error) {
	exists, err := s.rdb.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// Close closes the underlying redis connection
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
