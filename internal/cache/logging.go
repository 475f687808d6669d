package cache

import (
	"context"
	"strings"
	"time"

	"brokerdesk/pkg/logging/logging"

	"go.uber.org/zap"
)

// LoggingStore wraps a Store with structured logging.
type LoggingStore struct {
	inner Store
}

func NewLoggingStore(inner Store) Store {
	return &LoggingStore{inner: inner}
}

func (c *LoggingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}

	fields := append(keyFields(key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	fields := append(keyFields(key),
		zap.Duration("ttl", ttl),
		zap.Int("bytes", len(value)),
		zap.Float64("latency_ms", latencyMs),
	)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_set", fields...)
	}

	return err
}

func (c *LoggingStore) Delete(ctx context.Context, key string) error {
	err := c.inner.Delete(ctx, key)
	if err != nil {
		logging.L(ctx).Error("cache_delete", append(keyFields(key), zap.Error(err))...)
	}
	return err
}

func keyFields(key string) []zap.Field {
	fields := []zap.Field{zap.String("cache_key", key)}
	if parts, ok := parseCompletionKey(key); ok {
		fields = append(fields,
			zap.String("provider", parts.Provider),
			zap.String("version_id", parts.VersionID),
			zap.String("hash", parts.Hash),
		)
	}
	return fields
}

// Expecting: completion:<PROVIDER>:<VERSION_ID>:<HASH>
func parseCompletionKey(key string) (CompletionKey, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != "completion" {
		return CompletionKey{}, false
	}
	return CompletionKey{
		Provider:  parts[1],
		VersionID: parts[2],
		Hash:      parts[3],
	}, true
}
