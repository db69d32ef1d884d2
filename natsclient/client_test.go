package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status   ConnectionStatus
		expected string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
		{ConnectionStatus(99), "unknown"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.status.String())
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(nats.DefaultURL)
	require.NoError(t, err)

	assert.Equal(t, nats.DefaultURL, c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Nil(t, c.Conn())
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("nats://example:4222",
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithTimeout(2*time.Second),
		WithName("syncbus-test"),
		WithCircuitBreakerThreshold(2),
		WithMaxBackoff(10*time.Second),
	)
	require.NoError(t, err)

	assert.Equal(t, 3, c.maxReconnects)
	assert.Equal(t, time.Second, c.reconnectWait)
	assert.Equal(t, "syncbus-test", c.clientName)
	assert.Equal(t, int32(2), c.circuitThreshold)
}

func TestNewClient_InvalidOptions(t *testing.T) {
	_, err := NewClient(nats.DefaultURL, WithLogger(nil))
	assert.Error(t, err)

	_, err = NewClient(nats.DefaultURL, WithCircuitBreakerThreshold(0))
	assert.Error(t, err)
}

func TestPublishMsg_NotConnected(t *testing.T) {
	c, err := NewClient(nats.DefaultURL)
	require.NoError(t, err)

	_, err = c.PublishMsg(context.Background(), &nats.Msg{Subject: "a.b"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestJetStream_NotInitialized(t *testing.T) {
	c, err := NewClient(nats.DefaultURL)
	require.NoError(t, err)

	_, err = c.JetStream()
	assert.Error(t, err)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	c, err := NewClient(nats.DefaultURL, WithCircuitBreakerThreshold(3))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		c.recordFailure()
	}

	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.Equal(t, int32(3), c.Failures())

	// A successful call resets the circuit
	c.resetCircuit()
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, int32(0), c.Failures())
}

func TestClose_Idempotent(t *testing.T) {
	c, err := NewClient(nats.DefaultURL)
	require.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, c.Close(ctx))
	assert.NoError(t, c.Close(ctx), "second close is a no-op")
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.False(t, IsAlreadyExistsError(nil))
	assert.True(t, IsAlreadyExistsError(jetstream.ErrStreamNameAlreadyInUse))
	assert.True(t, IsAlreadyExistsError(jetstream.ErrConsumerExists))
	assert.True(t, IsAlreadyExistsError(fmt.Errorf("stream name already in use")))
	assert.False(t, IsAlreadyExistsError(fmt.Errorf("boom")))
}

func TestIsNotFoundError(t *testing.T) {
	assert.False(t, IsNotFoundError(nil))
	assert.True(t, IsNotFoundError(jetstream.ErrStreamNotFound))
	assert.True(t, IsNotFoundError(jetstream.ErrConsumerNotFound))
	assert.True(t, IsNotFoundError(nats.ErrNoResponders))
	assert.True(t, IsNotFoundError(fmt.Errorf("consumer not found")))
	assert.True(t, IsNotFoundError(&jetstream.APIError{Code: 404}))
	assert.False(t, IsNotFoundError(fmt.Errorf("boom")))
}

func TestIsOverlapError(t *testing.T) {
	assert.False(t, IsOverlapError(nil))
	assert.True(t, IsOverlapError(fmt.Errorf("subjects overlap with an existing stream")))
	assert.False(t, IsOverlapError(fmt.Errorf("boom")))
}

func TestWithStatusHandler_FiresOnChange(t *testing.T) {
	var seen []ConnectionStatus
	c, err := NewClient("nats://localhost:4222", WithStatusHandler(func(s ConnectionStatus) {
		seen = append(seen, s)
	}))
	require.NoError(t, err)

	c.setStatus(StatusConnecting)
	c.setStatus(StatusConnected)
	c.setStatus(StatusConnected) // no change, no callback
	c.setStatus(StatusCircuitOpen)

	assert.Equal(t, []ConnectionStatus{StatusConnecting, StatusConnected, StatusCircuitOpen}, seen)
}
