package message

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360/syncbus/errors"
)

// SchemaVersion is the current envelope schema version stamped on newly
// built envelopes.
const SchemaVersion = 1

// Envelope is the versioned wire representation of a single event.
//
// An Envelope is built once per publish call and never mutated afterwards;
// the builder deep-copies the payload so later changes to the caller's map
// cannot leak into an envelope already handed to the publisher.
type Envelope struct {
	EventID       string         `json:"event_id"`
	SchemaVersion int            `json:"schema_version"`
	EventType     string         `json:"event_type"`
	Producer      string         `json:"producer"`
	ResourceType  string         `json:"resource_type"`
	ResourceID    string         `json:"resource_id"`
	OccurredAt    string         `json:"occurred_at"`
	TraceID       string         `json:"trace_id"`
	Payload       map[string]any `json:"payload"`
}

// Parse decodes a wire envelope. Malformed JSON is an invalid-class error;
// the processor routes those to the DLQ rather than retrying.
func Parse(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "Envelope", "Parse", "empty message body")
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"Envelope", "Parse", "decode wire envelope")
	}

	return &env, nil
}

// Encode serializes the envelope to its wire format.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Envelope", "Encode", "encode wire envelope")
	}
	return data, nil
}

// requiredFields maps field names to accessors for Validate.
var requiredFields = []struct {
	name  string
	blank func(*Envelope) bool
}{
	{"event_id", func(e *Envelope) bool { return strings.TrimSpace(e.EventID) == "" }},
	{"event_type", func(e *Envelope) bool { return strings.TrimSpace(e.EventType) == "" }},
	{"producer", func(e *Envelope) bool { return strings.TrimSpace(e.Producer) == "" }},
	{"occurred_at", func(e *Envelope) bool { return strings.TrimSpace(e.OccurredAt) == "" }},
	{"payload", func(e *Envelope) bool { return e.Payload == nil }},
}

// Validate checks that every required field is present and non-blank,
// reporting all missing fields in one error.
func (e *Envelope) Validate() error {
	var missing []string
	for _, f := range requiredFields {
		if f.blank(e) {
			missing = append(missing, f.name)
		}
	}
	if e.SchemaVersion < 1 {
		missing = append(missing, "schema_version")
	}

	if len(missing) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: missing fields: %s", errors.ErrInvalidEnvelope, strings.Join(missing, ", ")),
			"Envelope", "Validate", "check required fields")
	}
	return nil
}

// copyPayload deep-copies a payload structure. Only JSON-shaped values
// (maps, slices, scalars) are traversed; anything else is kept by reference.
func copyPayload(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyPayload(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
