// Package topology reconciles desired JetStream stream and durable-consumer
// configuration against observed broker state.
package topology

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/syncbus/config"
	"github.com/c360/syncbus/errors"
	"github.com/c360/syncbus/natsclient"
	"github.com/c360/syncbus/pkg/retry"
	"github.com/c360/syncbus/subject"
)

// Admin is the JetStream administrative surface the manager needs.
// jetstream.JetStream satisfies it.
type Admin interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	ListStreams(ctx context.Context, opts ...jetstream.StreamListOpt) jetstream.StreamInfoLister
	Consumer(ctx context.Context, stream, consumer string) (jetstream.Consumer, error)
	CreateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
	DeleteConsumer(ctx context.Context, stream, consumer string) error
}

// createRetries bounds stream-creation attempts racing an overlap
const createRetries = 3

// Manager makes observed stream/consumer configuration match the desired
// configuration, idempotently and without destructive side effects beyond
// the documented consumer recreation. Safe to run redundantly from multiple
// processes; "already exists" outcomes are tolerated.
type Manager struct {
	js     Admin
	cfg    *config.Config
	logger natsclient.Logger
	cache  *overlapCache
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithLogger sets a custom logger
func WithLogger(logger natsclient.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithCacheTTL overrides the stream-listing cache TTL
func WithCacheTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.cache.ttl = ttl
	}
}

// NewManager creates a topology manager for the given admin surface.
func NewManager(js Admin, cfg *config.Config, opts ...ManagerOption) (*Manager, error) {
	if js == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: admin surface is required", errors.ErrMissingConfig),
			"Manager", "NewManager", "check dependencies")
	}
	if cfg == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: config is required", errors.ErrMissingConfig),
			"Manager", "NewManager", "check dependencies")
	}

	m := &Manager{
		js:     js,
		cfg:    cfg,
		logger: natsclient.DefaultLogger(),
		cache:  newOverlapCache(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Provision reconciles the full topology for this endpoint: the stream
// holding this application's consume and dead-letter subjects, and the
// durable consumer over the consume subject.
func (m *Manager) Provision(ctx context.Context) error {
	subjects := []string{m.cfg.ConsumeSubject()}
	if m.cfg.DLQEnabled {
		subjects = append(subjects, m.cfg.DLQSubject())
	}

	if err := m.EnsureStream(ctx, m.cfg.StreamName, subjects); err != nil {
		return err
	}
	return m.EnsureConsumer(ctx, m.cfg.StreamName, m.ConsumerConfig())
}

// EnsureStream creates the stream if absent, or extends its subject set
// with any desired subjects not yet claimed by another stream. Retention is
// never modified after creation.
func (m *Manager) EnsureStream(ctx context.Context, name string, subjects []string) error {
	if !m.cfg.AutoProvision || m.cfg.DisableManagement {
		m.logger.Debugf("Auto-provisioning disabled, skipping stream %s", name)
		return nil
	}

	desired := cleanSubjects(subjects)
	if len(desired) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: stream %s needs at least one subject", errors.ErrInvalidConfig, name),
			"Manager", "EnsureStream", "check subjects")
	}

	stream, err := m.js.Stream(ctx, name)
	if natsclient.IsNotFoundError(err) {
		return m.createStream(ctx, name, desired)
	}
	if err != nil {
		return errors.WrapTransient(err, "Manager", "EnsureStream", "fetch stream info")
	}

	return m.updateStream(ctx, stream.CachedInfo().Config, desired)
}

func (m *Manager) createStream(ctx context.Context, name string, subjects []string) error {
	cfg := jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}

	// Creation racing another process's overlapping stream is retried a
	// bounded number of times; other errors propagate immediately.
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  createRetries,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}, func() error {
		_, createErr := m.js.CreateStream(ctx, cfg)
		if createErr == nil || natsclient.IsAlreadyExistsError(createErr) {
			return nil
		}
		if natsclient.IsOverlapError(createErr) {
			m.logger.Printf("Stream %s creation blocked by subject overlap, retrying", name)
			return errors.WrapTransient(createErr, "Manager", "createStream", "create stream")
		}
		return retry.NonRetryable(createErr)
	})
	if err != nil {
		return errors.Wrap(err, "Manager", "createStream", "create stream "+name)
	}

	m.cache.invalidate()
	m.logger.Printf("Created stream %s with subjects %v", name, subjects)
	return nil
}

func (m *Manager) updateStream(ctx context.Context, existing jetstream.StreamConfig, desired []string) error {
	if existing.Retention != jetstream.WorkQueuePolicy {
		// Retention cannot change after creation
		m.logger.Printf("Stream %s retention is %v, wanted work-queue; leaving as-is",
			existing.Name, existing.Retention)
	}

	var missing []string
	for _, s := range desired {
		if !contains(existing.Subjects, s) {
			missing = append(missing, s)
		}
	}

	var allowed []string
	for _, s := range missing {
		if owner := m.claimedBy(ctx, s, existing.Name); owner != "" {
			m.logger.Printf("Subject %s already claimed by stream %s, skipping", s, owner)
			continue
		}
		allowed = append(allowed, s)
	}

	storageChanged := existing.Storage != jetstream.FileStorage
	if len(allowed) == 0 && !storageChanged {
		return nil
	}

	updated := existing
	updated.Subjects = append(append([]string{}, existing.Subjects...), allowed...)
	if storageChanged {
		updated.Storage = jetstream.FileStorage
	}

	if _, err := m.js.UpdateStream(ctx, updated); err != nil {
		return errors.WrapTransient(err, "Manager", "updateStream", "update stream "+existing.Name)
	}

	m.cache.invalidate()
	if len(allowed) > 0 {
		m.logger.Printf("Stream %s extended with subjects %v", existing.Name, allowed)
	}
	return nil
}

// claimedBy returns the name of another stream whose subject set overlaps
// s, or "" when s is unclaimed.
func (m *Manager) claimedBy(ctx context.Context, s, excludeStream string) string {
	for _, rec := range m.cache.records(ctx, m.js, m.logger) {
		if rec.name == excludeStream {
			continue
		}
		for _, pattern := range rec.subjects {
			if subject.Overlap(pattern, s) {
				return rec.name
			}
		}
	}
	return ""
}

// ConsumerConfig builds the desired durable-consumer configuration from the
// endpoint config: explicit acks, the configured max-deliver ceiling,
// ack-wait, and the broker-side redelivery ladder.
func (m *Manager) ConsumerConfig() jetstream.ConsumerConfig {
	return DesiredConsumerConfig(m.cfg)
}

// DesiredConsumerConfig is the single source of the durable-consumer shape.
// Anything that creates the consumer outside Provision must build it here,
// or the next reconcile pass will see drift and recreate it.
func DesiredConsumerConfig(c *config.Config) jetstream.ConsumerConfig {
	cfg := c.Normalized()

	cc := jetstream.ConsumerConfig{
		Durable:       cfg.DurableName(),
		FilterSubject: cfg.ConsumeSubject(),
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    cfg.MaxDeliver,
		AckWait:       cfg.AckWait,
	}
	if len(cfg.Backoff) > 0 {
		cc.BackOff = append([]time.Duration{}, cfg.Backoff...)
		// JetStream requires MaxDeliver > len(BackOff)
		if cc.MaxDeliver <= len(cc.BackOff) {
			cc.MaxDeliver = len(cc.BackOff) + 1
		}
	}
	return cc
}

// EnsureConsumer creates the durable consumer if absent. When present with
// drifted configuration it is deleted and recreated; consumer updates are
// not additive. Skipped entirely when auto-provisioning is disabled, in
// which case observed configuration wins.
func (m *Manager) EnsureConsumer(ctx context.Context, streamName string, desired jetstream.ConsumerConfig) error {
	if !m.cfg.AutoProvision || m.cfg.DisableManagement {
		m.logger.Debugf("Auto-provisioning disabled, skipping consumer %s", desired.Durable)
		return nil
	}

	existing, err := m.js.Consumer(ctx, streamName, desired.Durable)
	if natsclient.IsNotFoundError(err) {
		return m.createConsumer(ctx, streamName, desired)
	}
	if err != nil {
		return errors.WrapTransient(err, "Manager", "EnsureConsumer", "fetch consumer info")
	}

	observed := existing.CachedInfo().Config
	if consumerConfigEqual(observed, desired) {
		return nil
	}

	m.logger.Printf("Consumer %s config drifted, recreating", desired.Durable)
	if err := m.js.DeleteConsumer(ctx, streamName, desired.Durable); err != nil && !natsclient.IsNotFoundError(err) {
		return errors.WrapTransient(err, "Manager", "EnsureConsumer", "delete drifted consumer")
	}
	return m.createConsumer(ctx, streamName, desired)
}

func (m *Manager) createConsumer(ctx context.Context, streamName string, desired jetstream.ConsumerConfig) error {
	if _, err := m.js.CreateConsumer(ctx, streamName, desired); err != nil && !natsclient.IsAlreadyExistsError(err) {
		return errors.WrapTransient(err, "Manager", "createConsumer", "create consumer "+desired.Durable)
	}
	m.logger.Printf("Consumer %s ready on stream %s", desired.Durable, streamName)
	return nil
}

// consumerConfigEqual compares the fields the manager owns, with duration
// fields normalized to whole seconds so broker rounding does not force a
// recreate loop.
func consumerConfigEqual(a, b jetstream.ConsumerConfig) bool {
	if a.Durable != b.Durable ||
		a.FilterSubject != b.FilterSubject ||
		a.AckPolicy != b.AckPolicy ||
		a.MaxDeliver != b.MaxDeliver {
		return false
	}
	if seconds(a.AckWait) != seconds(b.AckWait) {
		return false
	}
	if len(a.BackOff) != len(b.BackOff) {
		return false
	}
	for i := range a.BackOff {
		if seconds(a.BackOff[i]) != seconds(b.BackOff[i]) {
			return false
		}
	}
	return true
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

func cleanSubjects(subjects []string) []string {
	seen := make(map[string]struct{}, len(subjects))
	var out []string
	for _, s := range subjects {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
