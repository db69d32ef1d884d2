package consume

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/syncbus/config"
	"github.com/c360/syncbus/errors"
	"github.com/c360/syncbus/health"
	"github.com/c360/syncbus/metric"
	"github.com/c360/syncbus/natsclient"
	"github.com/c360/syncbus/topology"
)

// Consumer states.
const (
	StateConstructed int32 = iota
	StateSubscribed
	StateRunning
	StateDraining
	StateStopped
)

// Run-loop tuning. The idle backoff keeps a quiet consumer cheap without
// adding meaningful latency; the reconnect backoff bounds churn against a
// broker that keeps refusing the subscription.
const (
	defaultFetchTimeout = 5 * time.Second

	idleFloor      = 50 * time.Millisecond
	idleCeiling    = time.Second
	idleMultiplier = 1.5

	reconnectFloor   = 100 * time.Millisecond
	reconnectCeiling = 30 * time.Second

	drainCycles       = 3
	drainFetchTimeout = 500 * time.Millisecond

	snapshotInterval = 10 * time.Minute

	// One-time warning threshold for live heap objects, in millions.
	heapHighWaterM = 100
)

// FetchFunc fetches up to batch messages, waiting at most maxWait. An
// empty result with no error is normal idle.
type FetchFunc func(ctx context.Context, batch int, maxWait time.Duration) ([]Msg, error)

// SubscribeFunc establishes (or re-establishes) the subscription and
// returns the fetch function bound to it.
type SubscribeFunc func(ctx context.Context) (FetchFunc, error)

// Consumer runs the fetch/process loop: one logical thread of control,
// messages processed sequentially, idle and reconnect backoff, periodic
// health snapshots and bounded drain on shutdown.
type Consumer struct {
	cfg       *config.Config
	processor *Processor
	subscribe SubscribeFunc
	logger    natsclient.Logger
	metrics   *metric.Metrics
	monitor   *health.Monitor

	state  atomic.Int32
	stopCh chan struct{}
	stop   atomic.Bool

	startedAt  time.Time
	iterations atomic.Uint64
	processed  atomic.Uint64
	heapWarned bool

	fetchTimeout time.Duration
}

// ConsumerOption configures a Consumer
type ConsumerOption func(*Consumer)

// WithConsumerLogger sets a custom logger
func WithConsumerLogger(logger natsclient.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// WithConsumerMetrics enables metric recording
func WithConsumerMetrics(m *metric.Metrics) ConsumerOption {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// WithHealthMonitor publishes run-loop health into the monitor
func WithHealthMonitor(monitor *health.Monitor) ConsumerOption {
	return func(c *Consumer) {
		c.monitor = monitor
	}
}

// WithSubscribe overrides the subscription factory. Intended for embedding
// the consumer behind custom transports and for tests.
func WithSubscribe(subscribe SubscribeFunc) ConsumerOption {
	return func(c *Consumer) {
		c.subscribe = subscribe
	}
}

// WithFetchTimeout overrides the per-fetch wait
func WithFetchTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// NewConsumer creates a consumer bound to the configured endpoint. The
// processor must already be constructed with the user handler; the
// subscription is built from the client according to the configured mode
// unless WithSubscribe overrides it.
func NewConsumer(client *natsclient.Client, cfg *config.Config, processor *Processor, opts ...ConsumerOption) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: config is required", errors.ErrMissingConfig),
			"Consumer", "NewConsumer", "check dependencies")
	}
	if processor == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: processor is required", errors.ErrMissingConfig),
			"Consumer", "NewConsumer", "check dependencies")
	}
	if cfg.Destination == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: destination identity is required", errors.ErrMissingConfig),
			"Consumer", "NewConsumer", "check destination")
	}

	norm := cfg.Normalized()
	c := &Consumer{
		cfg:          &norm,
		processor:    processor,
		logger:       natsclient.DefaultLogger(),
		stopCh:       make(chan struct{}),
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.subscribe == nil {
		if client == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: client is required without a custom subscription", errors.ErrMissingConfig),
				"Consumer", "NewConsumer", "check dependencies")
		}
		switch norm.Mode {
		case config.ModePush:
			c.subscribe = pushSubscribe(client, &norm)
		default:
			c.subscribe = pullSubscribe(client, &norm, c.logger)
		}
	}
	return c, nil
}

// State returns the current lifecycle state.
func (c *Consumer) State() int32 { return c.state.Load() }

// Stop signals the run loop to exit after its current iteration.
func (c *Consumer) Stop() {
	if c.stop.CompareAndSwap(false, true) {
		close(c.stopCh)
	}
}

// Run executes the consume loop until Stop is called, the context is
// cancelled, or a termination signal arrives. Messages within a batch are
// processed strictly sequentially.
func (c *Consumer) Run(ctx context.Context) error {
	if !c.state.CompareAndSwap(StateConstructed, StateSubscribed) {
		return errors.WrapInvalid(
			fmt.Errorf("consumer already started"),
			"Consumer", "Run", "check lifecycle")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			c.logger.Printf("Received %v, stopping consumer %s", sig, c.cfg.DurableName())
			c.Stop()
		case <-c.stopCh:
		case <-ctx.Done():
		}
	}()

	fetch, err := c.subscribe(ctx)
	if err != nil {
		c.Stop()
		c.state.Store(StateStopped)
		return errors.Wrap(err, "Consumer", "Run", "establish subscription")
	}

	c.state.Store(StateRunning)
	c.startedAt = time.Now()
	lastSnapshot := c.startedAt
	idle := idleFloor
	reconnects := 0

	c.logger.Printf("Consumer %s running on %s (batch=%d mode=%s)",
		c.cfg.DurableName(), c.cfg.ConsumeSubject(), c.cfg.BatchSize, c.cfg.Mode)

	for !c.stopping(ctx) {
		msgs, fetchErr := fetch(ctx, c.cfg.BatchSize, c.fetchTimeout)
		if fetchErr != nil && !isFetchTimeout(fetchErr) {
			if isRecoverableFetch(fetchErr) {
				reconnects++
				delay := reconnectDelay(reconnects)
				c.logger.Printf("Subscription error (%v), re-establishing in %s", fetchErr, delay)
				if !c.sleep(ctx, delay) {
					break
				}
				if nf, err := c.subscribe(ctx); err == nil {
					fetch = nf
					reconnects = 0
					if c.metrics != nil {
						c.metrics.RecordBrokerReconnect()
					}
					c.logger.Printf("Subscription re-established for %s", c.cfg.DurableName())
				} else {
					c.logger.Errorf("Re-subscribe failed: %v", err)
				}
				continue
			}
			// A single bad cycle is not fatal to the loop.
			c.logger.Errorf("Fetch failed: %v", fetchErr)
		}

		processed := c.processBatch(ctx, msgs)

		if processed > 0 {
			idle = idleFloor
			c.processed.Add(uint64(processed))
		} else {
			if !c.sleep(ctx, jittered(idle)) {
				break
			}
			idle = nextIdle(idle)
		}

		c.iterations.Add(1)
		if time.Since(lastSnapshot) >= snapshotInterval {
			c.healthSnapshot()
			lastSnapshot = time.Now()
		}
	}

	c.drain(ctx, fetch)
	c.state.Store(StateStopped)
	c.logger.Printf("Consumer %s stopped after %d iterations, %d messages",
		c.cfg.DurableName(), c.iterations.Load(), c.processed.Load())
	return nil
}

func (c *Consumer) processBatch(ctx context.Context, msgs []Msg) int {
	if len(msgs) == 0 {
		return 0
	}
	if c.metrics != nil {
		c.metrics.RecordFetched(c.cfg.DurableName(), len(msgs))
	}

	processed := 0
	for _, m := range msgs {
		c.processor.Handle(ctx, m)
		processed++
	}
	return processed
}

// drain flushes already-fetched and in-flight messages with a few
// short-timeout fetch cycles before the consumer goes away.
func (c *Consumer) drain(ctx context.Context, fetch FetchFunc) {
	c.state.Store(StateDraining)
	for i := 0; i < drainCycles; i++ {
		msgs, err := fetch(ctx, c.cfg.BatchSize, drainFetchTimeout)
		if err != nil && !isFetchTimeout(err) {
			return
		}
		if c.processBatch(ctx, msgs) == 0 {
			return
		}
	}
}

func (c *Consumer) healthSnapshot() {
	snap := health.TakeSnapshot(c.startedAt, c.iterations.Load(), c.processed.Load())
	c.logger.Printf("Consumer %s health: up %s, %d iterations, %d processed, rss=%dMB",
		c.cfg.DurableName(), snap.Uptime.Round(time.Second),
		snap.Iterations, snap.Processed, snap.RSSBytes>>20)

	if snap.OverMemoryThreshold() {
		c.logger.Errorf("Consumer %s resident memory %dMB exceeds threshold",
			c.cfg.DurableName(), snap.RSSBytes>>20)
	}
	if !c.heapWarned && snap.HeapObjsMB > heapHighWaterM {
		c.heapWarned = true
		c.logger.Errorf("Consumer %s live heap objects at %dM, above high-water mark; "+
			"host application should investigate", c.cfg.DurableName(), snap.HeapObjsMB)
	}

	if c.monitor != nil {
		c.monitor.Update(c.cfg.DurableName(), snap.Status(c.cfg.DurableName()))
	}
}

func (c *Consumer) stopping(ctx context.Context) bool {
	select {
	case <-c.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// sleep waits for d unless stopped first; returns false when stopping.
func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func nextIdle(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * idleMultiplier)
	if next > idleCeiling {
		return idleCeiling
	}
	return next
}

func jittered(d time.Duration) time.Duration {
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d + jitter
}

func reconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Past this point the doubling has already cleared the ceiling, and a
	// larger shift would overflow.
	if attempt > 10 {
		return reconnectCeiling
	}
	delay := reconnectFloor << uint(attempt-1)
	if delay > reconnectCeiling {
		return reconnectCeiling
	}
	return delay
}

func isFetchTimeout(err error) bool {
	return stderrors.Is(err, nats.ErrTimeout) ||
		stderrors.Is(err, context.DeadlineExceeded)
}

// isRecoverableFetch reports whether the subscription should be torn down
// and re-established, which may opportunistically recreate a missing
// durable consumer.
func isRecoverableFetch(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrConsumerNotFound) ||
		stderrors.Is(err, jetstream.ErrStreamNotFound) ||
		stderrors.Is(err, jetstream.ErrNoStreamResponse) ||
		stderrors.Is(err, nats.ErrNoResponders) ||
		stderrors.Is(err, nats.ErrConsumerNotFound) ||
		stderrors.Is(err, nats.ErrStreamNotFound) ||
		stderrors.Is(err, nats.ErrConnectionClosed) {
		return true
	}
	return natsclient.IsNotFoundError(err)
}

// pullSubscribe binds to the durable consumer over the request/reply fetch
// endpoint, creating the consumer opportunistically when it is missing and
// management APIs are allowed.
func pullSubscribe(client *natsclient.Client, cfg *config.Config, logger natsclient.Logger) SubscribeFunc {
	return func(ctx context.Context) (FetchFunc, error) {
		js, err := client.JetStream()
		if err != nil {
			return nil, errors.WrapTransient(err,
				"Consumer", "pullSubscribe", "get JetStream context")
		}

		cons, err := js.Consumer(ctx, cfg.StreamName, cfg.DurableName())
		if natsclient.IsNotFoundError(err) && !cfg.DisableManagement {
			logger.Printf("Durable %s missing, creating", cfg.DurableName())
			cons, err = js.CreateConsumer(ctx, cfg.StreamName, topology.DesiredConsumerConfig(cfg))
		}
		if err != nil {
			return nil, errors.WrapTransient(err, "Consumer", "pullSubscribe", "bind durable consumer")
		}

		return func(_ context.Context, batch int, maxWait time.Duration) ([]Msg, error) {
			b, err := cons.Fetch(batch, jetstream.FetchMaxWait(maxWait))
			if err != nil {
				return nil, err
			}
			var msgs []Msg
			for m := range b.Messages() {
				msgs = append(msgs, WrapJetStreamMsg(m))
			}
			return msgs, b.Error()
		}, nil
	}
}

// pushSubscribe binds a synchronous subscription to the configured deliver
// subject, with an optional queue group for competing consumers.
func pushSubscribe(client *natsclient.Client, cfg *config.Config) SubscribeFunc {
	var prev *nats.Subscription
	return func(_ context.Context) (FetchFunc, error) {
		conn := client.Conn()
		if conn == nil {
			return nil, errors.WrapTransient(errors.ErrNoConnection,
				"Consumer", "pushSubscribe", "get connection")
		}

		// Drop the previous subscription before re-subscribing, otherwise
		// every reconnect leaks interest on the deliver subject.
		if prev != nil {
			_ = prev.Unsubscribe()
			prev = nil
		}

		var sub *nats.Subscription
		var err error
		if cfg.QueueGroup != "" {
			sub, err = conn.QueueSubscribeSync(cfg.DeliverSubject, cfg.QueueGroup)
		} else {
			sub, err = conn.SubscribeSync(cfg.DeliverSubject)
		}
		if err != nil {
			return nil, errors.WrapTransient(err, "Consumer", "pushSubscribe", "subscribe "+cfg.DeliverSubject)
		}
		prev = sub

		return func(_ context.Context, batch int, maxWait time.Duration) ([]Msg, error) {
			deadline := time.Now().Add(maxWait)
			var msgs []Msg
			for len(msgs) < batch {
				remaining := time.Until(deadline)
				if remaining <= 0 {
					break
				}
				m, err := sub.NextMsg(remaining)
				if err != nil {
					if stderrors.Is(err, nats.ErrTimeout) {
						break
					}
					return msgs, err
				}
				msgs = append(msgs, WrapNATSMsg(m))
			}
			return msgs, nil
		}, nil
	}
}
