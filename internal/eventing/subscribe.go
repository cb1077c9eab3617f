package eventing

import (
	"context"
	"fmt"
	"time"

	"building-cloud/internal/observability/metrics"
)

// ProcessedStore remembers which consumer has handled which event id.
type ProcessedStore interface {
	HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, consumerName string) error
}

// On subscribes a handler for events of type T under consumerName. Pointer
// payloads are dereferenced. A nil store disables deduplication.
func On[T any](bus Subscriber, consumerName string, store ProcessedStore, handle func(ctx context.Context, evt T) error) {
	Subscribe(bus, EventTypeOf[T](), consumerName, func(ctx context.Context, event any) error {
		switch evt := event.(type) {
		case T:
			return handle(ctx, evt)
		case *T:
			if evt != nil {
				return handle(ctx, *evt)
			}
		}
		return fmt.Errorf("%w: %s received %T", ErrInvalidEventType, consumerName, event)
	}, store)
}

// Subscribe registers handler for eventType, deduplicated through store.
func Subscribe(bus Subscriber, eventType, consumerName string, handler EventHandler, store ProcessedStore) {
	if store != nil {
		handler = WrapHandler(consumerName, handler, store)
	}
	bus.Subscribe(eventType, handler)
}

// WrapHandler skips envelopes consumerName already handled. The mark is
// written only after handler succeeds, so a failed delivery runs again on
// replay. Events published outside the outbox carry no envelope and always
// run.
func WrapHandler(consumerName string, handler EventHandler, store ProcessedStore) EventHandler {
	return func(ctx context.Context, event any) error {
		env, ok := EnvelopeFromContext(ctx)
		if !ok || env.EventID == "" {
			return handler(ctx, event)
		}
		done, err := store.HasProcessed(ctx, env.EventID, consumerName)
		if err != nil {
			return fmt.Errorf("%s: processed lookup: %w", consumerName, err)
		}
		if done {
			return nil
		}
		if err := handler(ctx, event); err != nil {
			return fmt.Errorf("%s: %w", consumerName, err)
		}
		if !env.OccurredAt.IsZero() {
			metrics.ObserveConsumerLag(consumerName, time.Since(env.OccurredAt))
		}
		return store.MarkProcessed(ctx, env.EventID, consumerName)
	}
}
