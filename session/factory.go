package session

import (
	"github.com/creastat/relay"
)

// StoreType represents the type of session store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// NewStore creates a new Store based on the given type.
// For Redis, requires WithRedisClient option.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}

	// Apply options
	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory:
		return NewMemoryStore(), nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, relay.ErrInvalidConfig
		}
		return NewRedisStore(config.redisClient, config.redisTTL), nil

	default:
		return nil, relay.ErrInvalidStoreType
	}
}
