package redisadapter

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// CacheInvalidator drops read-model keys. DEL on a missing key is a no-op,
// so replays are harmless.
type CacheInvalidator struct {
	client redis.Cmdable
	prefix string
	logger *slog.Logger
}

func NewCacheInvalidator(client redis.Cmdable, prefix string, logger *slog.Logger) *CacheInvalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheInvalidator{client: client, prefix: prefix, logger: logger}
}

func (c *CacheInvalidator) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, c.prefix+key)
	}
	deleted, err := c.client.Del(ctx, prefixed...).Result()
	if err != nil {
		return err
	}
	c.logger.Debug("cache keys invalidated",
		"event", "order_fulfillment_cache_invalidated",
		"module", "commerce-core/order-fulfillment-service",
		"layer", "adapter",
		"key_count", len(prefixed),
		"deleted_count", deleted,
	)
	return nil
}
