package sigcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares signatures between coordinator nodes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store using keys "<prefix>:sig:<path>".
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(path string) string {
	return s.prefix + ":sig:" + path
}

func (s *RedisStore) GetSignature(ctx context.Context, path string) (Signature, bool, error) {
	v, err := s.client.Get(ctx, s.key(path)).Result()
	if errors.Is(err, redis.Nil) {
		return Signature{}, false, nil
	}
	if err != nil {
		return Signature{}, false, fmt.Errorf("redis get: %w", err)
	}
	sig, err := ParseSignature(v)
	if err != nil {
		return Signature{}, false, err
	}
	return sig, true, nil
}

func (s *RedisStore) SetSignature(ctx context.Context, path string, sig Signature) error {
	if err := s.client.Set(ctx, s.key(path), sig.String(), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteSignature(ctx context.Context, path string) error {
	if err := s.client.Del(ctx, s.key(path)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
