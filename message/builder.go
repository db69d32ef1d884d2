package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/syncbus/errors"
	"github.com/c360/syncbus/pkg/timestamp"
)

// defaultResourceType is used when nothing can be inferred from the event type.
const defaultResourceType = "event"

// Params are the inputs to New. EventType and Payload are required;
// everything else is inferred or generated when absent.
type Params struct {
	EventType string
	Payload   map[string]any

	// Optional overrides
	ResourceType  string
	ResourceID    string
	EventID       string
	TraceID       string
	Producer      string
	OccurredAt    any // time.Time, RFC3339 string, or Unix epoch
	SchemaVersion int
}

// New builds an immutable envelope from params.
//
// Inference rules:
//   - resource_type: explicit value, else the first dot-segment of the event
//     type, else "event"
//   - resource_id: explicit value, else payload "id" (or "resource_id")
//     stringified, else empty
//   - event_id and trace_id: generated when absent
//   - occurred_at: parsed leniently; unparseable or absent values become the
//     current UTC time
func New(p Params) (*Envelope, error) {
	if strings.TrimSpace(p.EventType) == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: event_type is required", errors.ErrInvalidEnvelope),
			"Builder", "New", "check params")
	}
	if p.Payload == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: payload is required", errors.ErrInvalidEnvelope),
			"Builder", "New", "check params")
	}

	version := p.SchemaVersion
	if version == 0 {
		version = SchemaVersion
	}

	eventID := p.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	traceID := p.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	return &Envelope{
		EventID:       eventID,
		SchemaVersion: version,
		EventType:     p.EventType,
		Producer:      p.Producer,
		ResourceType:  inferResourceType(p.ResourceType, p.EventType),
		ResourceID:    inferResourceID(p.ResourceID, p.Payload),
		OccurredAt:    timestamp.Parse(p.OccurredAt, time.Now()),
		TraceID:       traceID,
		Payload:       copyPayload(p.Payload),
	}, nil
}

func inferResourceType(explicit, eventType string) string {
	if explicit != "" {
		return explicit
	}
	if first, _, _ := strings.Cut(eventType, "."); first != "" {
		return first
	}
	return defaultResourceType
}

func inferResourceID(explicit string, payload map[string]any) string {
	if explicit != "" {
		return explicit
	}
	for _, key := range []string{"id", "resource_id"} {
		if v, ok := payload[key]; ok && v != nil {
			return stringify(v)
		}
	}
	return ""
}

// stringify renders payload identifier values the way they read in JSON:
// integral floats without a decimal point, everything else via %v.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
