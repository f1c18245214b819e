package session

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefix for sessions
	sessionKeyPrefix = "session:"
	// Default TTL for session keys
	defaultTTL = time.Hour
	scanCount  = 200
)

// RedisStore implements Store using Redis string keys with a TTL.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-based session store.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

// Put implements Store. Every write resets the TTL.
func (s *RedisStore) Put(ctx context.Context, data *Info) error {
	val, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(data.ID), val, s.ttl).Err()
}

// Get implements Store.
// Returns nil if the session is not found (not an error).
func (s *RedisStore) Get(ctx context.Context, id string) (*Info, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, err
	}

	var data Info
	if err := json.Unmarshal(val, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// List implements Store by scanning the session key space.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, sessionKeyPrefix+"*", scanCount).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, sessionKeyPrefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store. The client is owned by the store adapter.
func (s *RedisStore) Close() error {
	return nil
}

// key constructs the Redis key for a session ID.
func (s *RedisStore) key(id string) string {
	return sessionKeyPrefix + id
}

var _ Store = (*RedisStore)(nil)
