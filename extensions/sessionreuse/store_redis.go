package sessionreuse

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore shares session state across instances. Entries expire
// through Redis TTLs, so no cleanup pass is needed.
type RedisSessionStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisSessionStore creates a Redis-backed session store.
func NewRedisSessionStore(client redis.UniversalClient) *RedisSessionStore {
	return &RedisSessionStore{
		client:    client,
		keyPrefix: "x402:session:",
	}
}

func (s *RedisSessionStore) key(resource, payer string) string {
	return s.keyPrefix + resource + "|" + strings.ToLower(payer)
}

// Record implements SessionStore.
func (s *RedisSessionStore) Record(ctx context.Context, resource, payer string, window time.Duration) error {
	return s.client.Set(ctx, s.key(resource, payer), "1", window).Err()
}

// Known implements SessionStore.
func (s *RedisSessionStore) Known(ctx context.Context, resource, payer string) (bool, error) {
	count, err := s.client.Exists(ctx, s.key(resource, payer)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
