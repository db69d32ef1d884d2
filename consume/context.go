package consume

import (
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Context is the per-delivery metadata built fresh for every fetched
// message. Never persisted directly; its values seed the inbox record.
type Context struct {
	EventID     string
	Subject     string
	Stream      string
	Consumer    string
	StreamSeq   uint64
	ConsumerSeq uint64
	Deliveries  int

	// Generated is set when the dedup header was absent and the event id
	// was freshly generated. Inbox dedup then falls back to the stream
	// sequence key.
	Generated bool
}

// NewContext extracts delivery metadata from a message. A missing
// metadata reply (not a JetStream delivery) leaves the sequence fields
// zero with deliveries assumed 1.
func NewContext(m Msg) Context {
	c := Context{
		Subject:    m.Subject(),
		Deliveries: 1,
	}

	if meta, err := m.Meta(); err == nil {
		c.Stream = meta.Stream
		c.Consumer = meta.Consumer
		c.StreamSeq = meta.StreamSeq
		c.ConsumerSeq = meta.ConsumerSeq
		if meta.Deliveries > 0 {
			c.Deliveries = meta.Deliveries
		}
	}

	if h := m.Headers(); h != nil {
		c.EventID = h.Get(nats.MsgIdHdr)
	}
	if c.EventID == "" {
		c.EventID = uuid.NewString()
		c.Generated = true
	}
	return c
}
