// Package config defines the validated configuration consumed by every
// SyncBus component. Loading (env, files, flags) is the host application's
// concern; this package only models the values and the subject conventions
// derived from them.
package config

import (
	"fmt"
	"time"

	"github.com/c360/syncbus/errors"
	"github.com/c360/syncbus/subject"
)

// ConsumerMode selects how the consumer receives messages.
type ConsumerMode string

// Supported consumer modes
const (
	// ModePull fetches batches against the durable consumer (default)
	ModePull ConsumerMode = "pull"
	// ModePush subscribes to a delivery subject, optionally in a queue group
	ModePush ConsumerMode = "push"
)

// Defaults applied by Normalized
const (
	DefaultBatchSize  = 25
	DefaultMaxDeliver = 5
	DefaultAckWait    = 30 * time.Second
)

// Config carries everything the publish and consume pipelines need. Build
// one at process startup, call Validate once, and pass it by reference into
// component constructors.
type Config struct {
	// URL is the broker address, e.g. nats://localhost:4222
	URL string

	// Source is this application's endpoint identity
	Source string
	// Destination is the peer application's endpoint identity
	Destination string

	// StreamName is the JetStream stream reconciled by the topology manager
	StreamName string

	// Reliability toggles
	OutboxEnabled bool
	InboxEnabled  bool
	DLQEnabled    bool

	// Consumer tuning
	MaxDeliver int
	AckWait    time.Duration
	// Backoff is the broker-side redelivery ladder applied to the durable
	// consumer; empty means broker default
	Backoff   []time.Duration
	BatchSize int

	// Mode selects pull or push consumption
	Mode ConsumerMode
	// DeliverSubject and QueueGroup apply to push mode only
	DeliverSubject string
	QueueGroup     string

	// Durable overrides the derived durable consumer name
	Durable string

	// AutoProvision lets this process call administrative broker APIs to
	// create missing streams and consumers
	AutoProvision bool
	// DisableManagement suppresses every administrative call, including the
	// opportunistic consumer recreation during subscribe, for
	// least-privilege deployments
	DisableManagement bool
}

// DefaultConfig returns a config with provisioning enabled and consumer
// tuning defaults filled in. Identities and the URL must still be set.
func DefaultConfig() Config {
	return Config{
		MaxDeliver:    DefaultMaxDeliver,
		AckWait:       DefaultAckWait,
		BatchSize:     DefaultBatchSize,
		Mode:          ModePull,
		DLQEnabled:    true,
		AutoProvision: true,
	}
}

// Normalized returns a copy with zero-value tuning fields replaced by
// defaults. Identities are never defaulted.
func (c Config) Normalized() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.Mode == "" {
		c.Mode = ModePull
	}
	return c
}

// Validate checks the configuration once at startup.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "url is required")
	}
	if c.Source == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "source identity is required")
	}
	if err := subject.ValidateComponent(c.Source); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "check source identity")
	}
	if c.Destination == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "destination identity is required")
	}
	if err := subject.ValidateComponent(c.Destination); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "check destination identity")
	}
	if c.StreamName == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "stream name is required")
	}

	switch c.Mode {
	case "", ModePull, ModePush:
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown consumer mode %q", errors.ErrInvalidConfig, c.Mode),
			"Config", "Validate", "check consumer mode")
	}
	if c.Mode == ModePush && c.DeliverSubject == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: push mode requires a deliver subject", errors.ErrInvalidConfig),
			"Config", "Validate", "check push configuration")
	}

	if c.BatchSize < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: batch size cannot be negative", errors.ErrInvalidConfig),
			"Config", "Validate", "check batch size")
	}
	if c.MaxDeliver < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: max deliver cannot be negative", errors.ErrInvalidConfig),
			"Config", "Validate", "check max deliver")
	}
	for _, d := range c.Backoff {
		if d <= 0 {
			return errors.WrapInvalid(
				fmt.Errorf("%w: backoff ladder entries must be positive", errors.ErrInvalidConfig),
				"Config", "Validate", "check backoff ladder")
		}
	}

	return nil
}

// PublishSubject is where this application publishes events for the peer:
// {source}.sync.{destination}.
func (c *Config) PublishSubject() string {
	return c.Source + subject.Delimiter + "sync" + subject.Delimiter + c.Destination
}

// ConsumeSubject is the durable consumer's filter subject, carrying events
// the peer publishes for this application: {destination}.sync.{source}.
func (c *Config) ConsumeSubject() string {
	return c.Destination + subject.Delimiter + "sync" + subject.Delimiter + c.Source
}

// DLQSubject is where unprocessable messages are routed:
// {source}.sync.dlq.
func (c *Config) DLQSubject() string {
	return c.Source + subject.Delimiter + "sync" + subject.Delimiter + "dlq"
}

// DurableName is the durable consumer name, derived from the source
// identity unless overridden.
func (c *Config) DurableName() string {
	if c.Durable != "" {
		return c.Durable
	}
	return c.Source + "-workers"
}
