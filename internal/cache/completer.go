package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"brokerdesk/internal/completion"
	"brokerdesk/internal/metrics"
	"brokerdesk/pkg/logging/logging"
)

// CachingCompleter answers repeated identical completion calls from the
// cache. Only successful results are stored. Cache failures never fail the
// call; they are logged and treated as a miss.
type CachingCompleter struct {
	next      completion.Completer
	store     Store
	ttl       time.Duration
	versionID string
}

func NewCachingCompleter(next completion.Completer, store Store, ttl time.Duration, versionID string) *CachingCompleter {
	if versionID == "" {
		versionID = "v1"
	}
	return &CachingCompleter{
		next:      next,
		store:     store,
		ttl:       ttl,
		versionID: versionID,
	}
}

func (c *CachingCompleter) Complete(
	ctx context.Context,
	req *completion.Request,
	provider completion.Provider,
	maxRetries int,
) (*completion.Result, error) {
	logger := logging.L(ctx)

	if req == nil || c.ttl <= 0 {
		return c.next.Complete(ctx, req, provider, maxRetries)
	}

	key, err := BuildCompletionKey(req, provider, maxRetries, c.versionID)
	if err != nil {
		logger.Warn("key_builder_error", zap.Error(err))
		return c.next.Complete(ctx, req, provider, maxRetries)
	}
	cacheKey := key.String()

	cached, hit, err := c.store.Get(ctx, cacheKey)
	if err != nil {
		logger.Warn("completion_cache_get_error", zap.Error(err))
	}
	if hit {
		var res completion.Result
		if err := json.Unmarshal(cached, &res); err != nil {
			logger.Warn("completion_cache_unmarshal_error", zap.Error(err))
		} else {
			metrics.CacheHitsTotal.Inc()
			logger.Info("cache_decision",
				zap.String("hash", key.Hash),
				zap.String("provider", string(provider)),
				zap.Bool("cache_hit", true),
			)
			return &res, nil
		}
	}

	res, err := c.next.Complete(ctx, req, provider, maxRetries)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(res); err != nil {
		logger.Warn("marshal_result_error", zap.Error(err))
	} else if err := c.store.Set(ctx, cacheKey, b, c.ttl); err != nil {
		logger.Warn("completion_cache_set_error", zap.Error(err))
	}

	logger.Info("cache_decision",
		zap.String("hash", key.Hash),
		zap.String("provider", string(provider)),
		zap.Bool("cache_hit", false),
	)
	return res, nil
}
