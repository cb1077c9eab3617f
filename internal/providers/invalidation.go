package providers

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"building-cloud/internal/observability/logging"
)

// DefaultInvalidationChannel is the pub/sub channel for config changes.
const DefaultInvalidationChannel = "provider-config:invalidate"

type invalidationMessage struct {
	TenantID string   `json:"tenant_id"`
	Provider Provider `json:"provider"`
}

// RedisInvalidator broadcasts config changes to other instances.
type RedisInvalidator struct {
	client  goredis.UniversalClient
	channel string
	logger  logging.Logger
}

// NewRedisInvalidator constructs an invalidator on channel.
func NewRedisInvalidator(client goredis.UniversalClient, channel string, logger logging.Logger) *RedisInvalidator {
	if client == nil {
		return nil
	}
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &RedisInvalidator{client: client, channel: channel, logger: logger}
}

// Broadcast announces that tenantID changed provider config.
func (r *RedisInvalidator) Broadcast(ctx context.Context, tenantID string, provider Provider) error {
	if r == nil {
		return nil
	}
	payload, err := json.Marshal(invalidationMessage{TenantID: tenantID, Provider: provider})
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

// Run invalidates cache entries announced by other instances until ctx is done.
func (r *RedisInvalidator) Run(ctx context.Context, cache *Cache) error {
	if r == nil || cache == nil {
		return nil
	}
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe invalidation: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var payload invalidationMessage
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				r.logger.WithError(err).Warn("invalid config invalidation message")
				continue
			}
			if payload.TenantID == "" {
				continue
			}
			cache.Invalidate(payload.TenantID)
			r.logger.WithFields(logging.Fields{
				"tenant_id": payload.TenantID,
				"provider":  payload.Provider,
			}).Debug("provider config invalidated")
		}
	}
}
