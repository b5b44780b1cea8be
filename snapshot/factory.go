package snapshot

import (
	"errors"
	"time"
)

// Errors for snapshot store construction.
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
)

// StoreType represents the type of snapshot store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// NewStore creates a new snapshot Store based on the given type.
// Supports "memory" and "redis" driver types.
// For Redis, requires WithRedisClient option.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}

	// Apply options
	for _, opt := range opts {
		opt(config)
	}

	if config.ttl <= 0 {
		config.ttl = 24 * time.Hour
	}
	if config.now == nil {
		config.now = time.Now
	}

	switch storeType {
	case StoreTypeMemory:
		return &inMemoryStore{
			snapshots: make(map[string]*Snapshot),
			ttl:       config.ttl,
			now:       config.now,
		}, nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return &redisStore{
			client: config.redisClient,
			ttl:    config.ttl,
			now:    config.now,
		}, nil

	default:
		return nil, ErrInvalidStoreType
	}
}
