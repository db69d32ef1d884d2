package consume

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Msg is the broker-message surface the processor needs, narrow enough to
// wrap both pull-mode (jetstream.Msg) and push-mode (*nats.Msg) deliveries
// and to fake in tests.
type Msg interface {
	Subject() string
	Data() []byte
	Headers() nats.Header
	Ack() error
	NakWithDelay(delay time.Duration) error
	Meta() (Meta, error)
}

// Meta is delivery metadata common to both subscription modes.
type Meta struct {
	Stream      string
	Consumer    string
	StreamSeq   uint64
	ConsumerSeq uint64
	Deliveries  int
	Timestamp   time.Time
}

type jetstreamMsg struct {
	m jetstream.Msg
}

// WrapJetStreamMsg adapts a pull-subscription message.
func WrapJetStreamMsg(m jetstream.Msg) Msg {
	return &jetstreamMsg{m: m}
}

func (j *jetstreamMsg) Subject() string      { return j.m.Subject() }
func (j *jetstreamMsg) Data() []byte         { return j.m.Data() }
func (j *jetstreamMsg) Headers() nats.Header { return j.m.Headers() }
func (j *jetstreamMsg) Ack() error           { return j.m.Ack() }

func (j *jetstreamMsg) NakWithDelay(delay time.Duration) error {
	return j.m.NakWithDelay(delay)
}

func (j *jetstreamMsg) Meta() (Meta, error) {
	md, err := j.m.Metadata()
	if err != nil {
		return Meta{}, err
	}
	return Meta{
		Stream:      md.Stream,
		Consumer:    md.Consumer,
		StreamSeq:   md.Sequence.Stream,
		ConsumerSeq: md.Sequence.Consumer,
		Deliveries:  int(md.NumDelivered),
		Timestamp:   md.Timestamp,
	}, nil
}

type natsMsg struct {
	m *nats.Msg
}

// WrapNATSMsg adapts a push-subscription message.
func WrapNATSMsg(m *nats.Msg) Msg {
	return &natsMsg{m: m}
}

func (n *natsMsg) Subject() string      { return n.m.Subject }
func (n *natsMsg) Data() []byte         { return n.m.Data }
func (n *natsMsg) Headers() nats.Header { return n.m.Header }
func (n *natsMsg) Ack() error           { return n.m.Ack() }

func (n *natsMsg) NakWithDelay(delay time.Duration) error {
	return n.m.NakWithDelay(delay)
}

func (n *natsMsg) Meta() (Meta, error) {
	md, err := n.m.Metadata()
	if err != nil {
		return Meta{}, err
	}
	return Meta{
		Stream:      md.Stream,
		Consumer:    md.Consumer,
		StreamSeq:   md.Sequence.Stream,
		ConsumerSeq: md.Sequence.Consumer,
		Deliveries:  int(md.NumDelivered),
		Timestamp:   md.Timestamp,
	}, nil
}
