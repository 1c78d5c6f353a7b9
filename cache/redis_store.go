package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is an optional distributed Store backend. The Resilient
// Operation engine only ever reads/writes through the Store interface —
// swapping MemoryStore for RedisStore is purely a deployment choice for
// sharing cached responses across processes.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces keys within a shared Redis instance.
	KeyPrefix string
}

// NewRedisStore creates a RedisStore and verifies connectivity with a Ping.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("resilient-llm: connect to redis: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "resilient-llm:cache:"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) fullKey(key string) string {
	return s.prefix + key
}

// Get returns the cached entry for key, if present. A Redis miss is
// reported as (nil, false, nil), not an error.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("resilient-llm: redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("resilient-llm: decode cache entry: %w", err)
	}
	return &entry, true, nil
}

// Set stores entry under key with no expiration; callers that want TTL
// semantics should wrap RedisStore rather than have the engine impose one.
func (s *RedisStore) Set(ctx context.Context, key string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("resilient-llm: encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.fullKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("resilient-llm: redis set: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
