package consume

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/syncbus/config"
	"github.com/c360/syncbus/message"
)

// scriptedFetcher returns pre-loaded batches, then idles.
type scriptedFetcher struct {
	mu         sync.Mutex
	batches    [][]Msg
	errs       []error
	fetchCalls int
	subCalls   int
	subErr     error
}

func (s *scriptedFetcher) subscribe(context.Context) (FetchFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subCalls++
	if s.subErr != nil {
		err := s.subErr
		s.subErr = nil
		return nil, err
	}
	return s.fetch, nil
}

func (s *scriptedFetcher) fetch(context.Context, int, time.Duration) ([]Msg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(s.batches) > 0 {
		batch := s.batches[0]
		s.batches = s.batches[1:]
		return batch, nil
	}
	return nil, nil
}

func (s *scriptedFetcher) stats() (fetches, subs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls, s.subCalls
}

func consumerMsg(t *testing.T, eventID string) *fakeMsg {
	t.Helper()
	env, err := message.New(message.Params{
		EventID:   eventID,
		EventType: "user.created",
		Payload:   map[string]any{"id": 1},
	})
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	return &fakeMsg{
		subject: "api.sync.worker",
		data:    data,
		meta:    Meta{Stream: "worker-sync", StreamSeq: 1, Deliveries: 1},
	}
}

func newTestConsumer(t *testing.T, fetcher *scriptedFetcher, handled *atomic.Int32, cfgEdit func(*config.Config)) *Consumer {
	t.Helper()
	cfg := testConfig()
	if cfgEdit != nil {
		cfgEdit(cfg)
	}

	p := newProcessor(t, &fakeDLQBroker{}, cfg, func(context.Context, *message.Event) error {
		if handled != nil {
			handled.Add(1)
		}
		return nil
	})

	c, err := NewConsumer(nil, cfg, p,
		WithSubscribe(fetcher.subscribe),
		WithFetchTimeout(10*time.Millisecond))
	require.NoError(t, err)
	return c
}

func TestNewConsumer_Validation(t *testing.T) {
	p := newProcessor(t, &fakeDLQBroker{}, testConfig(), func(context.Context, *message.Event) error { return nil })

	_, err := NewConsumer(nil, nil, p)
	assert.Error(t, err)

	_, err = NewConsumer(nil, testConfig(), nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Destination = ""
	_, err = NewConsumer(nil, cfg, p, WithSubscribe((&scriptedFetcher{}).subscribe))
	assert.Error(t, err)

	// No client and no custom subscription.
	_, err = NewConsumer(nil, testConfig(), p)
	assert.Error(t, err)
}

func TestConsumer_ProcessesBatchesThenStops(t *testing.T) {
	var handled atomic.Int32
	fetcher := &scriptedFetcher{batches: [][]Msg{
		{consumerMsg(t, "evt-1"), consumerMsg(t, "evt-2")},
		{consumerMsg(t, "evt-3")},
	}}
	c := newTestConsumer(t, fetcher, &handled, nil)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool { return c.State() == StateRunning }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		fetches, _ := fetcher.stats()
		return fetches >= 3
	}, time.Second, 5*time.Millisecond)

	c.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}

	assert.Equal(t, int32(3), handled.Load())
	assert.Equal(t, StateStopped, c.State())
}

func TestConsumer_ContextCancelStops(t *testing.T) {
	fetcher := &scriptedFetcher{}
	c := newTestConsumer(t, fetcher, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return c.State() == StateRunning }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop on context cancel")
	}
	assert.Equal(t, StateStopped, c.State())
}

func TestConsumer_SubscribeFailureReturnsError(t *testing.T) {
	fetcher := &scriptedFetcher{subErr: jetstream.ErrJetStreamNotEnabled}
	c := newTestConsumer(t, fetcher, nil, nil)

	err := c.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateStopped, c.State())

	// The signal watcher parks on stopCh; it must be released even when Run
	// never reaches the fetch loop.
	select {
	case <-c.stopCh:
	case <-time.After(time.Second):
		t.Fatal("stop channel left open after subscribe failure")
	}
}

func TestConsumer_RecoverableFetchResubscribes(t *testing.T) {
	var handled atomic.Int32
	fetcher := &scriptedFetcher{
		errs:    []error{jetstream.ErrConsumerNotFound},
		batches: [][]Msg{{consumerMsg(t, "evt-1")}},
	}
	c := newTestConsumer(t, fetcher, &handled, nil)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		_, subs := fetcher.stats()
		return subs >= 2 && handled.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond, "expected resubscribe and processing")

	c.Stop()
	require.NoError(t, <-done)
}

func TestConsumer_CannotRunTwice(t *testing.T) {
	fetcher := &scriptedFetcher{}
	c := newTestConsumer(t, fetcher, nil, nil)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	require.Eventually(t, func() bool { return c.State() == StateRunning }, time.Second, 5*time.Millisecond)

	assert.Error(t, c.Run(context.Background()))

	c.Stop()
	require.NoError(t, <-done)
}

func TestIdleBackoff(t *testing.T) {
	idle := idleFloor
	var seen []time.Duration
	for i := 0; i < 10; i++ {
		seen = append(seen, idle)
		idle = nextIdle(idle)
	}

	assert.Equal(t, idleFloor, seen[0])
	assert.Equal(t, 75*time.Millisecond, seen[1])
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
		assert.LessOrEqual(t, seen[i], idleCeiling)
	}
	assert.Equal(t, idleCeiling, seen[len(seen)-1])
}

func TestJittered(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jittered(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestReconnectDelay(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, reconnectDelay(1))
	assert.Equal(t, 200*time.Millisecond, reconnectDelay(2))
	assert.Equal(t, 400*time.Millisecond, reconnectDelay(3))
	assert.Equal(t, 30*time.Second, reconnectDelay(10))
	assert.Equal(t, 30*time.Second, reconnectDelay(60), "shift overflow clamps to ceiling")
}

func TestIsRecoverableFetch(t *testing.T) {
	assert.True(t, isRecoverableFetch(jetstream.ErrConsumerNotFound))
	assert.True(t, isRecoverableFetch(jetstream.ErrStreamNotFound))
	assert.False(t, isRecoverableFetch(nil))
	assert.False(t, isRecoverableFetch(context.Canceled))
}
