package http

import (
	"context"
	"errors"
	"net/http"

	apihttp "building-cloud/internal/api/http"
	"building-cloud/internal/audit"
	"building-cloud/internal/eventing"
	eventingrepo "building-cloud/internal/eventing/infrastructure/postgres"
)

const (
	deadLettersPrefix      = "/api/v1/events/dead-letters"
	defaultDeadLetterLimit = 50
)

// DeadLetterLister lists a tenant's undeliverable events.
type DeadLetterLister interface {
	List(ctx context.Context, tenantID string, limit int) ([]eventingrepo.DeadLetter, error)
}

// DeadLetterReplayer puts a dead letter back on the outbox.
type DeadLetterReplayer interface {
	Replay(ctx context.Context, tenantID, eventID string) (eventing.Envelope, error)
}

// Dispatcher drains the outbox right after a replay.
type Dispatcher interface {
	Dispatch(ctx context.Context, limit int) (eventing.DispatchResult, error)
}

// DeadLettersHandler serves:
//
//	GET  /api/v1/events/dead-letters
//	POST /api/v1/events/dead-letters/{event_id}/replay
type DeadLettersHandler struct {
	store      DeadLetterLister
	replayer   DeadLetterReplayer
	dispatcher Dispatcher
	audit      audit.Logger
}

// Option configures the handler.
type Option func(*DeadLettersHandler)

// WithReplay enables the replay route. dispatcher may be nil, in which case
// the replayed event waits for the next outbox tick.
func WithReplay(replayer DeadLetterReplayer, dispatcher Dispatcher) Option {
	return func(h *DeadLettersHandler) {
		h.replayer = replayer
		h.dispatcher = dispatcher
	}
}

func WithAuditLogger(logger audit.Logger) Option {
	return func(h *DeadLettersHandler) { h.audit = logger }
}

func NewDeadLettersHandler(store DeadLetterLister, opts ...Option) (*DeadLettersHandler, error) {
	if store == nil {
		return nil, errors.New("dead letters handler: nil store")
	}
	h := &DeadLettersHandler{store: store}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *DeadLettersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := apihttp.RequireTenant(w, r)
	if !ok {
		return
	}
	segments := apihttp.Segments(r.URL.Path, deadLettersPrefix)
	switch {
	case len(segments) == 0:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r, tenantID)
	case len(segments) == 2 && segments[1] == "replay":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.replay(w, r, tenantID, segments[0])
	default:
		http.NotFound(w, r)
	}
}

func (h *DeadLettersHandler) list(w http.ResponseWriter, r *http.Request, tenantID string) {
	limit, err := apihttp.ParseLimit(r, defaultDeadLetterLimit)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	items, err := h.store.List(r.Context(), tenantID, limit)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if items == nil {
		items = []eventingrepo.DeadLetter{}
	}
	apihttp.WriteJSON(w, http.StatusOK, items)
}

func (h *DeadLettersHandler) replay(w http.ResponseWriter, r *http.Request, tenantID, eventID string) {
	if h.replayer == nil {
		http.NotFound(w, r)
		return
	}
	env, err := h.replayer.Replay(r.Context(), tenantID, eventID)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.Audit(r, h.audit, "event.replay", "dead_letter", eventID, map[string]any{"event_type": env.EventType})

	if h.dispatcher != nil {
		// A failure here lands the event back in the dead letters.
		_, _ = h.dispatcher.Dispatch(r.Context(), 0)
	}
	apihttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"event_id":   env.EventID,
		"event_type": env.EventType,
		"status":     "requeued",
	})
}
