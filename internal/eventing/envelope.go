package eventing

import (
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"
)

const currentSchemaVersion = 1

// Envelope is the stored and dispatched form of an event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	TenantID      string          `json:"tenant_id"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Meta overrides envelope fields. Zero fields fall back to the event.
type Meta struct {
	EventID       string
	OccurredAt    time.Time
	CorrelationID string
	TenantID      string
	SchemaVersion int
}

// BuildEnvelope serialises event. Tenant and occurrence time are read from
// the event's TenantID and OccurredAt fields when meta leaves them empty.
func BuildEnvelope(event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, ErrNilEvent
	}
	eventType := EventType(event)
	if eventType == "" {
		return Envelope{}, ErrInvalidEventType
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		EventID:       meta.EventID,
		EventType:     eventType,
		OccurredAt:    meta.OccurredAt,
		CorrelationID: meta.CorrelationID,
		TenantID:      meta.TenantID,
		SchemaVersion: meta.SchemaVersion,
		Payload:       payload,
	}
	if fields := structOf(event); fields.IsValid() {
		if f := fields.FieldByName("TenantID"); env.TenantID == "" && f.IsValid() && f.Kind() == reflect.String {
			env.TenantID = f.String()
		}
		if f := fields.FieldByName("OccurredAt"); env.OccurredAt.IsZero() && f.IsValid() {
			if t, ok := f.Interface().(time.Time); ok {
				env.OccurredAt = t
			}
		}
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now()
	}
	env.OccurredAt = env.OccurredAt.UTC()
	if env.EventID == "" {
		env.EventID = NewEventID()
	}
	if env.CorrelationID == "" {
		env.CorrelationID = env.EventID
	}
	if env.SchemaVersion == 0 {
		env.SchemaVersion = currentSchemaVersion
	}
	if env.TenantID == "" {
		return Envelope{}, errors.New("eventing: event carries no tenant")
	}
	return env, nil
}

// structOf dereferences event down to its struct value, or the zero Value.
func structOf(event any) reflect.Value {
	value := reflect.ValueOf(event)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return reflect.Value{}
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	return value
}

// NewEventID returns a time-ordered UUIDv7, falling back to a random v4 when
// the clock source fails.
func NewEventID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
