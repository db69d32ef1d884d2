package consume

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/syncbus/config"
	"github.com/c360/syncbus/errors"
	"github.com/c360/syncbus/inbox"
	"github.com/c360/syncbus/message"
	"github.com/c360/syncbus/metric"
	"github.com/c360/syncbus/natsclient"
	"github.com/c360/syncbus/pkg/backoff"
)

// Broker is the publish surface needed for dead-letter routing.
// natsclient.Client satisfies it.
type Broker interface {
	PublishMsg(ctx context.Context, msg *nats.Msg) (*jetstream.PubAck, error)
}

// Dead-letter headers attached to every DLQ publish. The original message
// body is preserved verbatim.
const (
	HeaderDeadLetter = "x-dead-letter"
	HeaderDLQReason  = "x-dlq-reason"
	HeaderDeliveries = "x-deliveries"
	HeaderDLQContext = "x-dlq-context"
)

// Dead-letter reason codes.
const (
	ReasonMalformedJSON      = "malformed_json"
	ReasonUnrecoverable      = "unrecoverable"
	ReasonMaxDeliverExceeded = "max_deliver_exceeded"
)

// Action is the broker resolution for one message.
type Action int

const (
	ActionAck Action = iota
	ActionNak
)

func (a Action) String() string {
	if a == ActionAck {
		return "ack"
	}
	return "nak"
}

// Outcome describes how a message was resolved.
type Outcome struct {
	Action       Action
	Delay        time.Duration // nak backoff delay, zero for ack
	DeadLettered bool
	Reason       string // dead-letter reason code, empty otherwise
	Skipped      bool   // inbox detected an already-processed event
	Err          error  // handler or parse error, if any
}

// dlqContext is the JSON block attached to dead-lettered messages.
type dlqContext struct {
	EventID         string `json:"event_id"`
	ErrorClass      string `json:"error_class"`
	ErrorMessage    string `json:"error_message"`
	OriginalSubject string `json:"original_subject"`
	StreamSequence  uint64 `json:"stream_sequence"`
	ConsumerSeq     uint64 `json:"consumer_sequence"`
	Timestamp       string `json:"timestamp"`
}

// Processor routes one delivered message through parse, the optional inbox
// gate, the middleware chain and the user handler, then resolves the
// outcome back to the broker as an ack or a delayed nak, dead-lettering
// poison messages.
type Processor struct {
	cfg     *config.Config
	broker  Broker
	chain   Handler
	inbox   inbox.Repository
	logger  natsclient.Logger
	metrics *metric.Metrics
}

// ProcessorOption configures a Processor
type ProcessorOption func(*Processor)

// WithInbox enables the idempotent-inbox gate
func WithInbox(repo inbox.Repository) ProcessorOption {
	return func(p *Processor) {
		p.inbox = repo
	}
}

// WithProcessorLogger sets a custom logger
func WithProcessorLogger(logger natsclient.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithProcessorMetrics enables metric recording
func WithProcessorMetrics(m *metric.Metrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = m
	}
}

// NewProcessor creates a message processor terminating in handler, wrapped
// by the given middleware (first middleware outermost).
func NewProcessor(broker Broker, cfg *config.Config, handler Handler, mws []Middleware, opts ...ProcessorOption) (*Processor, error) {
	if broker == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: broker is required", errors.ErrMissingConfig),
			"Processor", "NewProcessor", "check dependencies")
	}
	if cfg == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: config is required", errors.ErrMissingConfig),
			"Processor", "NewProcessor", "check dependencies")
	}
	if handler == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: handler is required", errors.ErrMissingConfig),
			"Processor", "NewProcessor", "check handler")
	}

	norm := cfg.Normalized()
	p := &Processor{
		cfg:    &norm,
		broker: broker,
		chain:  Chain(handler, mws...),
		logger: natsclient.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if cfg.InboxEnabled && p.inbox == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: inbox enabled but no repository provided", errors.ErrMissingConfig),
			"Processor", "NewProcessor", "check inbox repository")
	}
	return p, nil
}

// Handle processes one message and applies the resulting action to it.
func (p *Processor) Handle(ctx context.Context, m Msg) Outcome {
	mctx := NewContext(m)
	if mctx.Generated {
		p.logger.Printf("Message on %s missing dedup header, generated event id %s",
			mctx.Subject, mctx.EventID)
	}

	outcome := p.decide(ctx, m, mctx)
	p.apply(m, mctx, outcome)
	return outcome
}

func (p *Processor) decide(ctx context.Context, m Msg, mctx Context) Outcome {
	env, err := message.Parse(m.Data())
	if err != nil {
		// Poison message: dead-letter and drop, or retry when the DLQ
		// hand-off itself failed. Never silently lose data.
		if p.deadLetter(ctx, m, mctx, ReasonMalformedJSON, err) {
			return Outcome{Action: ActionAck, DeadLettered: true, Reason: ReasonMalformedJSON, Err: err}
		}
		return Outcome{Action: ActionNak, Delay: backoff.Delay(mctx.Deliveries, err), Err: err}
	}

	if env.EventID != "" {
		mctx.EventID = env.EventID
	}

	if p.inbox != nil && p.cfg.InboxEnabled {
		return p.handleWithInbox(ctx, m, mctx, env)
	}
	return p.invoke(ctx, m, mctx, env)
}

func (p *Processor) handleWithInbox(ctx context.Context, m Msg, mctx Context, env *message.Envelope) Outcome {
	d := inbox.Delivery{
		EventID:      mctx.EventID,
		EventType:    env.EventType,
		ResourceType: env.ResourceType,
		ResourceID:   env.ResourceID,
		Subject:      mctx.Subject,
		Stream:       mctx.Stream,
		StreamSeq:    mctx.StreamSeq,
		Deliveries:   mctx.Deliveries,
		Body:         m.Data(),
		Headers:      flattenHeaders(m.Headers()),
	}
	if mctx.Generated {
		// No dedup header on the wire: key by stream sequence instead of
		// the locally generated id.
		d.EventID = ""
	}

	rec, err := p.inbox.FindOrBuild(ctx, d)
	if err != nil {
		// Inbox storage unavailable: retry later rather than risking a
		// double invocation.
		return Outcome{Action: ActionNak, Delay: backoff.Delay(mctx.Deliveries, err), Err: err}
	}

	if p.inbox.AlreadyProcessed(rec) {
		p.inbox.Release(ctx, rec)
		if p.metrics != nil {
			p.metrics.RecordInboxSkip(mctx.Consumer)
		}
		p.logger.Debugf("Event %s already processed, skipping (deliveries=%d)",
			mctx.EventID, mctx.Deliveries)
		return Outcome{Action: ActionAck, Skipped: true}
	}

	if err := p.inbox.PersistPre(ctx, rec, d); err != nil {
		p.inbox.Release(ctx, rec)
		return Outcome{Action: ActionNak, Delay: backoff.Delay(mctx.Deliveries, err), Err: err}
	}

	outcome := p.invoke(ctx, m, mctx, env)
	switch {
	case outcome.Err == nil && outcome.Action == ActionAck:
		if err := p.inbox.PersistPost(ctx, rec); err != nil {
			p.logger.Errorf("Inbox %s processed bookkeeping failed: %v", mctx.EventID, err)
		}
	default:
		p.inbox.PersistFailure(ctx, rec, outcome.Err)
	}
	return outcome
}

func (p *Processor) invoke(ctx context.Context, m Msg, mctx Context, env *message.Envelope) Outcome {
	evt := message.NewEvent(env)
	evt.Subject = mctx.Subject
	evt.Deliveries = mctx.Deliveries
	evt.StreamSeq = mctx.StreamSeq

	err := p.runChain(ctx, evt)
	if err == nil {
		return Outcome{Action: ActionAck}
	}

	switch {
	case errors.IsUnrecoverable(err):
		if p.deadLetter(ctx, m, mctx, ReasonUnrecoverable, err) {
			return Outcome{Action: ActionAck, DeadLettered: true, Reason: ReasonUnrecoverable, Err: err}
		}
		return Outcome{Action: ActionNak, Delay: backoff.Delay(mctx.Deliveries, err), Err: err}

	case mctx.Deliveries >= p.cfg.MaxDeliver:
		if p.deadLetter(ctx, m, mctx, ReasonMaxDeliverExceeded, err) {
			return Outcome{Action: ActionAck, DeadLettered: true, Reason: ReasonMaxDeliverExceeded, Err: err}
		}
		return Outcome{Action: ActionNak, Delay: backoff.Delay(mctx.Deliveries, err), Err: err}

	default:
		return Outcome{Action: ActionNak, Delay: backoff.Delay(mctx.Deliveries, err), Err: err}
	}
}

// runChain invokes the middleware chain, converting a handler panic into
// an error so a crashing handler cannot kill the consumer loop.
func (p *Processor) runChain(ctx context.Context, evt *message.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.chain(ctx, evt)
}

// deadLetter publishes the original message body to the dead-letter
// subject. Returns true when the hand-off succeeded, or trivially when DLQ
// routing is disabled.
func (p *Processor) deadLetter(ctx context.Context, m Msg, mctx Context, reason string, cause error) bool {
	if !p.cfg.DLQEnabled {
		return true
	}

	dlqCtx, err := json.Marshal(dlqContext{
		EventID:         mctx.EventID,
		ErrorClass:      errors.Classify(cause).String(),
		ErrorMessage:    fmt.Sprintf("%v", cause),
		OriginalSubject: mctx.Subject,
		StreamSequence:  mctx.StreamSeq,
		ConsumerSeq:     mctx.ConsumerSeq,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		dlqCtx = []byte("{}")
	}

	msg := &nats.Msg{
		Subject: p.cfg.DLQSubject(),
		Data:    m.Data(),
		Header: nats.Header{
			HeaderDeadLetter: []string{"true"},
			HeaderDLQReason:  []string{reason},
			HeaderDeliveries: []string{fmt.Sprintf("%d", mctx.Deliveries)},
			HeaderDLQContext: []string{string(dlqCtx)},
		},
	}

	if _, err := p.broker.PublishMsg(ctx, msg); err != nil {
		p.logger.Errorf("Dead-letter publish for %s failed (reason=%s): %v",
			mctx.EventID, reason, err)
		return false
	}

	if p.metrics != nil {
		p.metrics.RecordDeadLetter(mctx.Consumer, reason)
	}
	p.logger.Printf("Dead-lettered %s from %s (reason=%s, deliveries=%d)",
		mctx.EventID, mctx.Subject, reason, mctx.Deliveries)
	return true
}

func (p *Processor) apply(m Msg, mctx Context, outcome Outcome) {
	var err error
	if outcome.Action == ActionAck {
		err = m.Ack()
	} else {
		err = m.NakWithDelay(outcome.Delay)
		if p.metrics != nil {
			p.metrics.RecordRedeliveryDelay(mctx.Consumer, outcome.Delay)
		}
	}
	if err != nil {
		p.logger.Errorf("Failed to %s %s (seq=%d): %v",
			outcome.Action, mctx.EventID, mctx.StreamSeq, err)
		return
	}

	p.logger.Debugf("Resolved %s on %s: %s (seq=%d deliveries=%d delay=%s)",
		mctx.EventID, mctx.Subject, outcome.Action, mctx.StreamSeq,
		mctx.Deliveries, outcome.Delay)
}

func flattenHeaders(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, vals := range h {
		if len(vals) > 0 {
			out[k] = vals[0]
		}
	}
	return out
}
