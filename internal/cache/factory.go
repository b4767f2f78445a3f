package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Backend string
	TTL     time.Duration
	Prefix  string
}

// NewResultCache selects the backend: "redis" for prod, memory
// otherwise.
func NewResultCache(cfg Config, redisClient *redis.Client) ResultCache {
	switch cfg.Backend {
	case "redis":
		return NewRedisResultCache(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		})
	default:
		return NewMemoryResultCache(cfg.TTL)
	}
}
