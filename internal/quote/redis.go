package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key holding the current quote.
const DefaultRedisKey = "quote:current"

// RedisStore keeps the quote in a single Redis key and lets Redis enforce the TTL.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Put serialises the quote and sets it with an expiry.
func (s *RedisStore) Put(ctx context.Context, q Quote, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Get reads the quote; a missing key is reported as ok=false.
func (s *RedisStore) Get(ctx context.Context) (Quote, bool, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Quote{}, false, nil
		}
		return Quote{}, false, fmt.Errorf("redis get %s: %w", s.key, err)
	}

	var q Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return Quote{}, false, fmt.Errorf("unmarshal quote: %w", err)
	}
	return q, true, nil
}

// Invalidate deletes the key.
func (s *RedisStore) Invalidate(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.key, err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
