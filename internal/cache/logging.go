package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"mediagate/internal/metrics"
	"mediagate/pkg/logging/logging"
)

// LoggingResultCache wraps a ResultCache with logging + metrics.
type LoggingResultCache struct {
	inner ResultCache
}

// NewLoggingResultCache returns a cache that logs and records metrics.
func NewLoggingResultCache(inner ResultCache) ResultCache {
	return &LoggingResultCache{inner: inner}
}

func (c *LoggingResultCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.FromContext(ctx)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
		metrics.ResultCacheHitsTotal.Inc()
	}

	fields := []zap.Field{
		zap.String("cache_tier", "result"),
		zap.String("cache_key", key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	}
	fields = appendKeyParts(fields, key)

	if err != nil {
		logger.Error("result_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("result_cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingResultCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.FromContext(ctx)

	fields := []zap.Field{
		zap.String("cache_tier", "result"),
		zap.String("cache_key", key),
		zap.Float64("latency_ms", latencyMs),
	}
	fields = appendKeyParts(fields, key)

	if err != nil {
		logger.Error("result_cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("result_cache_set", fields...)
	}

	return err
}

// appendKeyParts splits a ResultCacheKey.String() rendering into its
// scoping fields for structured logs. Unknown key shapes are left as-is.
func appendKeyParts(fields []zap.Field, key string) []zap.Field {
	// result:<USER_ID>:<MODEL>:<SIZE>:<HASH>
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "result" {
		return fields
	}
	return append(fields,
		zap.String("user_id", parts[1]),
		zap.String("model", parts[2]),
		zap.String("size", parts[3]),
		zap.String("hash", parts[4]),
	)
}
