package accounts

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const invalidationChannel = "accounts:invalidate"

// PublishInvalidation notifies every switch instance that an account's
// settings changed. Best effort: a missed publish is bounded by the cache
// TTL.
func PublishInvalidation(ctx context.Context, cache *redis.Client, id string) error {
	return cache.Publish(ctx, invalidationChannel, id).Err()
}

// Invalidator subscribes to settings-change notifications and drops the
// corresponding cache entries.
type Invalidator struct {
	cache  *redis.Client
	store  *CachedStore
	logger *slog.Logger
	sub    *redis.PubSub
}

// NewInvalidator wires a cache invalidation subscriber.
func NewInvalidator(cache *redis.Client, store *CachedStore, logger *slog.Logger) *Invalidator {
	return &Invalidator{cache: cache, store: store, logger: logger}
}

// Start begins consuming invalidation messages until ctx is cancelled or
// Close is called.
func (i *Invalidator) Start(ctx context.Context) {
	i.sub = i.cache.Subscribe(ctx, invalidationChannel)
	// Wait for the subscription confirmation so no publish issued after
	// Start returns can be missed.
	if _, err := i.sub.Receive(ctx); err != nil {
		i.logger.Warn("invalidation subscribe failed", "error", err)
	}
	go func() {
		for msg := range i.sub.Channel() {
			i.store.Invalidate(msg.Payload)
			i.logger.Debug("account cache invalidated", "account_id", msg.Payload)
		}
	}()
}

// Close stops the subscriber.
func (i *Invalidator) Close() error {
	if i.sub == nil {
		return nil
	}
	return i.sub.Close()
}
