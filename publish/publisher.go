// Package publish implements guaranteed-delivery publishing: envelope
// construction, dedup-header broker publish with bounded retry, and the
// optional transactional-outbox path that short-circuits duplicates and
// records every attempt's outcome.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/syncbus/config"
	"github.com/c360/syncbus/errors"
	"github.com/c360/syncbus/message"
	"github.com/c360/syncbus/metric"
	"github.com/c360/syncbus/natsclient"
	"github.com/c360/syncbus/outbox"
	"github.com/c360/syncbus/pkg/retry"
)

// Broker is the publish surface the publisher needs. natsclient.Client
// satisfies it.
type Broker interface {
	PublishMsg(ctx context.Context, msg *nats.Msg) (*jetstream.PubAck, error)
}

// Params describes one event to publish. Subject overrides the configured
// source subject when set.
type Params struct {
	message.Params
	Subject string
}

// Result is the outcome of one publish call. Duplicate means the broker
// (or the outbox) had already seen this event id; Success is still true.
type Result struct {
	Success   bool
	Duplicate bool
	EventID   string
	Subject   string
	Err       error
}

// Error is the typed failure returned by the raising variants, carrying
// enough identity to correlate with outbox rows and broker logs.
type Error struct {
	EventID string
	Subject string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("publish %s to %s failed: %v", e.EventID, e.Subject, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Publisher publishes envelopes to the configured sync subject.
type Publisher struct {
	broker   Broker
	cfg      *config.Config
	outbox   outbox.Repository
	logger   natsclient.Logger
	metrics  *metric.Metrics
	retryCfg retry.Config
}

// Option configures a Publisher
type Option func(*Publisher)

// WithOutbox enables the transactional-outbox path
func WithOutbox(repo outbox.Repository) Option {
	return func(p *Publisher) {
		p.outbox = repo
	}
}

// WithLogger sets a custom logger
func WithLogger(logger natsclient.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics enables metric recording
func WithMetrics(m *metric.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithRetryConfig overrides the broker-publish retry policy
func WithRetryConfig(cfg retry.Config) Option {
	return func(p *Publisher) {
		p.retryCfg = cfg
	}
}

// NewPublisher creates a publisher for the configured endpoint pair. The
// destination identity must be configured; without it there is no subject
// to publish to.
func NewPublisher(broker Broker, cfg *config.Config, opts ...Option) (*Publisher, error) {
	if broker == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: broker is required", errors.ErrMissingConfig),
			"Publisher", "NewPublisher", "check dependencies")
	}
	if cfg == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: config is required", errors.ErrMissingConfig),
			"Publisher", "NewPublisher", "check dependencies")
	}
	if cfg.Destination == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: destination identity is required", errors.ErrMissingConfig),
			"Publisher", "NewPublisher", "check destination")
	}

	p := &Publisher{
		broker:   broker,
		cfg:      cfg,
		logger:   natsclient.DefaultLogger(),
		retryCfg: retry.Publish(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if cfg.OutboxEnabled && p.outbox == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: outbox enabled but no repository provided", errors.ErrMissingConfig),
			"Publisher", "NewPublisher", "check outbox repository")
	}
	return p, nil
}

// Publish builds an envelope from params and publishes it. Failures are
// reported in the Result; the method itself only errs through Result.Err.
func (p *Publisher) Publish(ctx context.Context, params Params) Result {
	env, err := message.New(params.Params)
	if err != nil {
		return Result{Err: err}
	}
	return p.send(ctx, env, params.Subject)
}

// PublishOrError is the raising variant of Publish: a failed result is
// converted into a typed *Error.
func (p *Publisher) PublishOrError(ctx context.Context, params Params) (Result, error) {
	res := p.Publish(ctx, params)
	if !res.Success {
		return res, &Error{EventID: res.EventID, Subject: res.Subject, Err: res.Err}
	}
	return res, nil
}

// PublishEnvelope publishes a complete, pre-built envelope, for callers
// forwarding or replaying events from an external system. The envelope is
// validated first; the error lists every missing field.
func (p *Publisher) PublishEnvelope(ctx context.Context, env *message.Envelope, subject string) Result {
	if env == nil {
		return Result{Err: errors.WrapInvalid(
			fmt.Errorf("%w: envelope is nil", errors.ErrInvalidEnvelope),
			"Publisher", "PublishEnvelope", "check envelope")}
	}
	if err := env.Validate(); err != nil {
		return Result{EventID: env.EventID, Err: err}
	}
	return p.send(ctx, env, subject)
}

func (p *Publisher) send(ctx context.Context, env *message.Envelope, subjectOverride string) Result {
	subj := subjectOverride
	if subj == "" {
		subj = p.cfg.PublishSubject()
	}

	start := time.Now()
	var res Result
	if p.outbox != nil && p.cfg.OutboxEnabled {
		res = p.sendViaOutbox(ctx, env, subj)
	} else {
		res = p.sendDirect(ctx, env, subj)
	}

	p.record(res, time.Since(start))
	if res.Success {
		p.logger.Debugf("Published %s to %s (duplicate=%t)", res.EventID, res.Subject, res.Duplicate)
	} else {
		p.logger.Errorf("Publish %s to %s failed: %v", res.EventID, res.Subject, res.Err)
	}
	return res
}

func (p *Publisher) sendDirect(ctx context.Context, env *message.Envelope, subj string) Result {
	duplicate, err := p.publishToBroker(ctx, env, subj)
	if err != nil {
		return Result{EventID: env.EventID, Subject: subj, Err: err}
	}
	return Result{Success: true, Duplicate: duplicate, EventID: env.EventID, Subject: subj}
}

func (p *Publisher) sendViaOutbox(ctx context.Context, env *message.Envelope, subj string) Result {
	rec, err := p.outbox.FindOrBuild(ctx, env.EventID)
	if err != nil {
		return Result{EventID: env.EventID, Subject: subj, Err: err}
	}

	if p.outbox.AlreadySent(rec) {
		p.outbox.Release(ctx, rec)
		return Result{Success: true, Duplicate: true, EventID: env.EventID, Subject: subj}
	}

	rec.EventType = env.EventType
	rec.ResourceType = env.ResourceType
	rec.ResourceID = env.ResourceID

	data, err := env.Encode()
	if err != nil {
		p.outbox.PersistException(ctx, rec, err)
		p.transition(outbox.StatusException)
		return Result{EventID: env.EventID, Subject: subj, Err: err}
	}
	if err := p.outbox.PersistPre(ctx, rec, subj, data); err != nil {
		p.outbox.PersistException(ctx, rec, err)
		p.transition(outbox.StatusException)
		return Result{EventID: env.EventID, Subject: subj, Err: err}
	}
	p.transition(outbox.StatusPublishing)

	duplicate, pubErr := p.publishToBroker(ctx, env, subj)
	if pubErr != nil {
		if err := p.outbox.PersistFailure(ctx, rec, pubErr.Error()); err != nil {
			p.logger.Errorf("Outbox %s failure bookkeeping failed: %v", env.EventID, err)
		}
		p.transition(outbox.StatusFailed)
		return Result{EventID: env.EventID, Subject: subj, Err: pubErr}
	}

	// A broker publish that succeeded stays a success even when the sent
	// marker cannot be written.
	if err := p.outbox.PersistSuccess(ctx, rec); err != nil {
		p.logger.Errorf("Outbox %s sent bookkeeping failed: %v", env.EventID, err)
	}
	p.transition(outbox.StatusSent)
	return Result{Success: true, Duplicate: duplicate, EventID: env.EventID, Subject: subj}
}

func (p *Publisher) publishToBroker(ctx context.Context, env *message.Envelope, subj string) (bool, error) {
	data, err := env.Encode()
	if err != nil {
		return false, err
	}

	msg := &nats.Msg{Subject: subj, Data: data, Header: nats.Header{}}
	msg.Header.Set(nats.MsgIdHdr, env.EventID)

	var ack *jetstream.PubAck
	err = retry.Do(ctx, p.retryCfg, func() error {
		a, pubErr := p.broker.PublishMsg(ctx, msg)
		if pubErr != nil {
			if errors.IsInvalid(pubErr) || errors.IsUnrecoverable(pubErr) {
				return retry.NonRetryable(pubErr)
			}
			return pubErr
		}
		ack = a
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "Publisher", "publishToBroker", "publish to "+subj)
	}
	return ack != nil && ack.Duplicate, nil
}

func (p *Publisher) transition(status outbox.Status) {
	if p.metrics != nil {
		p.metrics.RecordOutboxTransition(string(status))
	}
}

func (p *Publisher) record(res Result, elapsed time.Duration) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordPublishDuration(res.Subject, elapsed)
	switch {
	case res.Success && res.Duplicate:
		p.metrics.RecordPublish(res.Subject, "duplicate")
		p.metrics.RecordDuplicate(res.Subject)
	case res.Success:
		p.metrics.RecordPublish(res.Subject, "success")
	default:
		p.metrics.RecordPublish(res.Subject, "failure")
		p.metrics.RecordPublishFailure(res.Subject, errors.Classify(res.Err).String())
	}
}
