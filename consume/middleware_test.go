package consume

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/syncbus/message"
	"github.com/c360/syncbus/metric"
	"github.com/c360/syncbus/natsclient"
)

func testEvent(t *testing.T) *message.Event {
	t.Helper()
	env, err := message.New(message.Params{
		EventType: "user.created",
		Payload:   map[string]any{"id": 1},
	})
	require.NoError(t, err)
	evt := message.NewEvent(env)
	evt.Subject = "api.sync.worker"
	evt.Deliveries = 2
	return evt
}

func TestChain_FirstMiddlewareOutermost(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, evt *message.Event) error {
				order = append(order, name+":before")
				err := next(ctx, evt)
				order = append(order, name+":after")
				return err
			}
		}
	}

	h := Chain(func(context.Context, *message.Event) error {
		order = append(order, "handler")
		return nil
	}, mw("first"), mw("second"))

	require.NoError(t, h(context.Background(), testEvent(t)))
	assert.Equal(t, []string{
		"first:before", "second:before", "handler", "second:after", "first:after",
	}, order)
}

func TestChain_NoMiddleware(t *testing.T) {
	called := false
	h := Chain(func(context.Context, *message.Event) error {
		called = true
		return nil
	})
	require.NoError(t, h(context.Background(), testEvent(t)))
	assert.True(t, called)
}

func TestTimeout_ConvertsOverrunToTypedError(t *testing.T) {
	h := Chain(func(ctx context.Context, _ *message.Event) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, Timeout(20*time.Millisecond))

	err := h(context.Background(), testEvent(t))
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 2, timeoutErr.Deliveries)
	assert.Equal(t, 20*time.Millisecond, timeoutErr.After)
	assert.NotEmpty(t, timeoutErr.EventID)
}

func TestTimeout_FastHandlerPasses(t *testing.T) {
	h := Chain(func(context.Context, *message.Event) error {
		return nil
	}, Timeout(time.Second))
	assert.NoError(t, h(context.Background(), testEvent(t)))
}

func TestLogging_PassesErrorThrough(t *testing.T) {
	want := fmt.Errorf("boom")
	h := Chain(func(context.Context, *message.Event) error {
		return want
	}, Logging(natsclient.DefaultLogger()))
	assert.ErrorIs(t, h(context.Background(), testEvent(t)), want)
}

func TestMetrics_RecordsOutcomes(t *testing.T) {
	m := metric.NewMetrics()
	h := Chain(func(_ context.Context, evt *message.Event) error {
		if evt.GetString("fail") != "" {
			return fmt.Errorf("boom")
		}
		return nil
	}, Metrics(m, "worker-workers"))

	require.NoError(t, h(context.Background(), testEvent(t)))

	env, err := message.New(message.Params{
		EventType: "user.created",
		Payload:   map[string]any{"id": 1, "fail": "yes"},
	})
	require.NoError(t, err)
	failing := message.NewEvent(env)
	assert.Error(t, h(context.Background(), failing))
}

func TestTracing_PropagatesHandlerError(t *testing.T) {
	want := fmt.Errorf("boom")
	h := Chain(func(context.Context, *message.Event) error {
		return want
	}, Tracing())
	assert.ErrorIs(t, h(context.Background(), testEvent(t)), want)
}
