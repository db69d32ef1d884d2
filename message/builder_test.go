package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/syncbus/pkg/timestamp"
)

func TestNew_RequiredParams(t *testing.T) {
	_, err := New(Params{Payload: map[string]any{}})
	assert.Error(t, err, "event_type is required")

	_, err = New(Params{EventType: "  "})
	assert.Error(t, err, "blank event_type is rejected")

	_, err = New(Params{EventType: "user.created"})
	assert.Error(t, err, "payload is required")
}

func TestNew_Inference(t *testing.T) {
	env, err := New(Params{
		EventType: "user.created",
		Payload:   map[string]any{"id": 1, "email": "a@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, "user", env.ResourceType)
	assert.Equal(t, "1", env.ResourceID)
	assert.Equal(t, SchemaVersion, env.SchemaVersion)
	assert.NotEmpty(t, env.EventID)
	assert.NotEmpty(t, env.TraceID)
	assert.NotEmpty(t, env.OccurredAt)

	occurred, ok := timestamp.ToTime(env.OccurredAt)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), occurred, 2*time.Second)
}

func TestNew_ResourceType(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		explicit  string
		expected  string
	}{
		{"first dot segment", "order.item.added", "", "order"},
		{"no dot keeps whole type", "heartbeat", "", "heartbeat"},
		{"explicit wins", "user.created", "account", "account"},
		{"leading dot falls back", ".created", "", "event"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			env, err := New(Params{
				EventType:    test.eventType,
				ResourceType: test.explicit,
				Payload:      map[string]any{},
			})
			require.NoError(t, err)
			assert.Equal(t, test.expected, env.ResourceType)
		})
	}
}

func TestNew_ResourceID(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]any
		explicit string
		expected string
	}{
		{"string id", map[string]any{"id": "abc"}, "", "abc"},
		{"int id", map[string]any{"id": 42}, "", "42"},
		{"json float id", map[string]any{"id": float64(7)}, "", "7"},
		{"fractional id kept verbatim", map[string]any{"id": 1.5}, "", "1.5"},
		{"resource_id fallback", map[string]any{"resource_id": "r9"}, "", "r9"},
		{"id wins over resource_id", map[string]any{"id": "a", "resource_id": "b"}, "", "a"},
		{"absent", map[string]any{"email": "x"}, "", ""},
		{"explicit wins", map[string]any{"id": "a"}, "explicit", "explicit"},
		{"nil id ignored", map[string]any{"id": nil}, "", ""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			env, err := New(Params{
				EventType:  "user.created",
				ResourceID: test.explicit,
				Payload:    test.payload,
			})
			require.NoError(t, err)
			assert.Equal(t, test.expected, env.ResourceID)
		})
	}
}

func TestNew_ExplicitOverrides(t *testing.T) {
	occurred := time.Date(2023, 3, 1, 10, 0, 0, 0, time.UTC)

	env, err := New(Params{
		EventType:     "user.created",
		Payload:       map[string]any{"id": 1},
		EventID:       "evt-1",
		TraceID:       "trc-1",
		Producer:      "api",
		OccurredAt:    occurred,
		SchemaVersion: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, "evt-1", env.EventID)
	assert.Equal(t, "trc-1", env.TraceID)
	assert.Equal(t, "api", env.Producer)
	assert.Equal(t, "2023-03-01T10:00:00Z", env.OccurredAt)
	assert.Equal(t, 3, env.SchemaVersion)
}

func TestNew_OccurredAtParseFallback(t *testing.T) {
	env, err := New(Params{
		EventType:  "user.created",
		Payload:    map[string]any{},
		OccurredAt: "definitely not a timestamp",
	})
	require.NoError(t, err)

	occurred, ok := timestamp.ToTime(env.OccurredAt)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), occurred, 2*time.Second)
}

func TestNew_UniqueIDs(t *testing.T) {
	a, err := New(Params{EventType: "user.created", Payload: map[string]any{}})
	require.NoError(t, err)
	b, err := New(Params{EventType: "user.created", Payload: map[string]any{}})
	require.NoError(t, err)

	assert.NotEqual(t, a.EventID, b.EventID)
	assert.NotEqual(t, a.TraceID, b.TraceID)
}
