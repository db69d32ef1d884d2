package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RoundTrip(t *testing.T) {
	env, err := New(Params{
		EventType: "order.shipped",
		Producer:  "api",
		Payload: map[string]any{
			"id": "ord-1",
			"items": []any{
				map[string]any{"sku": "A", "qty": float64(2)},
			},
			"address": map[string]any{
				"city": "Springfield",
				"geo":  map[string]any{"lat": 1.5, "lng": -2.5},
			},
		},
	})
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, env, parsed)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("{not json"))
	assert.Error(t, err)

	_, err = Parse(nil)
	assert.Error(t, err)

	_, err = Parse([]byte(`"a bare string"`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := &Envelope{
		EventID:       "e1",
		SchemaVersion: 1,
		EventType:     "user.created",
		Producer:      "api",
		OccurredAt:    "2024-06-01T12:00:00Z",
		Payload:       map[string]any{},
	}
	assert.NoError(t, valid.Validate())

	empty := &Envelope{}
	err := empty.Validate()
	require.Error(t, err)
	// Every missing field is named in one error
	for _, field := range []string{"event_id", "event_type", "producer", "occurred_at", "payload", "schema_version"} {
		assert.Contains(t, err.Error(), field)
	}

	blankID := *valid
	blankID.EventID = "   "
	err = blankID.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event_id")
	assert.NotContains(t, err.Error(), "event_type")
}

func TestCopyPayload_Isolation(t *testing.T) {
	original := map[string]any{
		"id":   "1",
		"tags": []any{"a", "b"},
		"nested": map[string]any{
			"k": "v",
		},
	}

	env, err := New(Params{EventType: "user.created", Payload: original})
	require.NoError(t, err)

	// Mutations to the caller's structures must not reach the envelope
	original["id"] = "mutated"
	original["nested"].(map[string]any)["k"] = "mutated"
	original["tags"].([]any)[0] = "mutated"

	assert.Equal(t, "1", env.Payload["id"])
	assert.Equal(t, "v", env.Payload["nested"].(map[string]any)["k"])
	assert.Equal(t, "a", env.Payload["tags"].([]any)[0])
}
