package eventing

import "context"

type contextKey int

const (
	envelopeKey contextKey = iota
	metaKey
)

// WithEnvelope marks ctx as handling env. Events published while handling
// it inherit its correlation id.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, envelopeKey, env)
}

// EnvelopeFromContext returns the envelope being handled, if any.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	env, ok := ctx.Value(envelopeKey).(Envelope)
	return env, ok
}

// WithCorrelationID tags events published under ctx, typically with the
// id of the inbound request.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	meta := metaFrom(ctx)
	meta.CorrelationID = correlationID
	return context.WithValue(ctx, metaKey, meta)
}

// WithEventID fixes the id of the next event published under ctx. Used by
// callers that retry a publish and need the consumer side to deduplicate.
func WithEventID(ctx context.Context, eventID string) context.Context {
	meta := metaFrom(ctx)
	meta.EventID = eventID
	return context.WithValue(ctx, metaKey, meta)
}

// MetaFromContext collects envelope overrides from ctx. An explicit
// correlation id wins over the one inherited from a handled envelope.
func MetaFromContext(ctx context.Context, defaultTenantID string) Meta {
	meta := metaFrom(ctx)
	if meta.CorrelationID == "" {
		if env, ok := EnvelopeFromContext(ctx); ok {
			meta.CorrelationID = env.CorrelationID
		}
	}
	if meta.TenantID == "" {
		meta.TenantID = defaultTenantID
	}
	return meta
}

func metaFrom(ctx context.Context) Meta {
	if ctx == nil {
		return Meta{}
	}
	meta, _ := ctx.Value(metaKey).(Meta)
	return meta
}
