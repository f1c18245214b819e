package queue

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/creastat/relay"
)

const defaultTTL = time.Hour

// StoreType represents the queue backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// Option is a functional option for configuring a queue backend.
type Option func(*config)

type config struct {
	redisClient redis.UniversalClient
	ttl         time.Duration
	now         func() time.Time
}

// WithRedisClient sets the Redis client for the Redis queue.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(c *config) { c.redisClient = client }
}

// WithTTL sets the expiry refreshed on every enqueue.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) { c.ttl = ttl }
}

// WithClock overrides time.Now for the memory queue.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

func newConfig(opts []Option) *config {
	c := &config{ttl: defaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.ttl <= 0 {
		c.ttl = defaultTTL
	}
	return c
}

// NewStore creates a queue backend of the given type.
// For Redis, requires WithRedisClient option.
func NewStore(storeType StoreType, opts ...Option) (Queue, error) {
	switch storeType {
	case StoreTypeMemory:
		return NewMemoryQueue(opts...), nil
	case StoreTypeRedis:
		q := NewRedisQueue(opts...)
		if q == nil {
			return nil, relay.ErrInvalidConfig
		}
		return q, nil
	default:
		return nil, relay.ErrInvalidStoreType
	}
}
