package cache

import (
	"context"
	"fmt"
	"time"
)

// ResultCacheKey scopes a cached generation result. Hash is the sha256
// of the normalized generation request.
type ResultCacheKey struct {
	UserID string
	Model  string
	Size   string
	Hash   string
}

// String converts the structured key into the final string used in Redis/map.
func (k ResultCacheKey) String() string {
	// result:<USER_ID>:<MODEL>:<SIZE>:<HASH_HEX>
	return fmt.Sprintf("result:%s:%s:%s:%s", k.UserID, k.Model, k.Size, k.Hash)
}

// ResultCache stores settled generation responses. Implemented by the
// memory cache (dev) and the Redis cache (prod). It is best-effort: the
// pipeline treats every error as a miss.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
