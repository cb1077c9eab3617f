package eventing

import (
	"context"

	"building-cloud/internal/observability/logging"
)

// OutboxWriter appends envelopes to durable storage.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Subscriber registers handlers by event type.
type Subscriber interface {
	Subscribe(eventType string, handler EventHandler)
}

// OutboxPublisher makes Publish durable: the event is stored first and only
// then offered to subscribers through the dispatcher. Callers observe an
// error only when the event could not be stored.
type OutboxPublisher struct {
	outbox   OutboxWriter
	dispatch *Dispatcher
	sub      Subscriber
	logger   logging.Logger
}

// PublisherOption configures the publisher.
type PublisherOption func(*OutboxPublisher)

func WithPublisherLogger(logger logging.Logger) PublisherOption {
	return func(p *OutboxPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewOutboxPublisher wires the outbox to a dispatcher. A nil dispatcher
// leaves delivery to whoever runs one.
func NewOutboxPublisher(outbox OutboxWriter, dispatch *Dispatcher, sub Subscriber, opts ...PublisherOption) *OutboxPublisher {
	p := &OutboxPublisher{outbox: outbox, dispatch: dispatch, sub: sub, logger: logging.NewDiscard()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OutboxPublisher) Publish(ctx context.Context, event any) error {
	if p == nil || p.outbox == nil {
		return nil
	}
	env, err := BuildEnvelope(event, MetaFromContext(ctx, ""))
	if err != nil {
		return err
	}
	if _, err := p.outbox.Insert(ctx, env); err != nil {
		return err
	}
	if p.dispatch == nil {
		return nil
	}
	// The event is stored; a cancelled request must not strand it until the next tick.
	if _, err := p.dispatch.Dispatch(context.WithoutCancel(ctx), 0); err != nil {
		p.logger.WithFields(logging.Fields{
			"event_id":   env.EventID,
			"event_type": env.EventType,
		}).WithError(err).Debug("eager dispatch deferred to ticker")
	}
	return nil
}

func (p *OutboxPublisher) Subscribe(eventType string, handler EventHandler) {
	if p == nil || p.sub == nil {
		return
	}
	p.sub.Subscribe(eventType, handler)
}
