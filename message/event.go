package message

// Event is the view of a delivered envelope handed to consumer handlers and
// middleware. It wraps the parsed envelope with convenient payload access.
type Event struct {
	env *Envelope

	// Delivery metadata, populated by the consumer
	Subject    string
	Deliveries int
	StreamSeq  uint64
}

// NewEvent wraps a parsed envelope.
func NewEvent(env *Envelope) *Event {
	return &Event{env: env}
}

// Envelope returns the underlying envelope.
func (e *Event) Envelope() *Envelope {
	return e.env
}

// EventID returns the envelope event id.
func (e *Event) EventID() string {
	return e.env.EventID
}

// EventType returns the envelope event type.
func (e *Event) EventType() string {
	return e.env.EventType
}

// ResourceType returns the envelope resource type.
func (e *Event) ResourceType() string {
	return e.env.ResourceType
}

// ResourceID returns the envelope resource id.
func (e *Event) ResourceID() string {
	return e.env.ResourceID
}

// TraceID returns the envelope trace id.
func (e *Event) TraceID() string {
	return e.env.TraceID
}

// Producer returns the publishing application name.
func (e *Event) Producer() string {
	return e.env.Producer
}

// OccurredAt returns the wire-format occurrence timestamp.
func (e *Event) OccurredAt() string {
	return e.env.OccurredAt
}

// Payload returns the full payload map.
func (e *Event) Payload() map[string]any {
	return e.env.Payload
}

// Get returns a top-level payload value, or nil when absent.
func (e *Event) Get(key string) any {
	if e.env.Payload == nil {
		return nil
	}
	return e.env.Payload[key]
}

// GetString returns a top-level payload value as a string, or "" when the
// value is absent or not a string.
func (e *Event) GetString(key string) string {
	s, _ := e.Get(key).(string)
	return s
}

// Dig walks nested payload maps along path, returning the value and whether
// the full path resolved.
func (e *Event) Dig(path ...string) (any, bool) {
	if len(path) == 0 || e.env.Payload == nil {
		return nil, false
	}

	var current any = e.env.Payload
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
