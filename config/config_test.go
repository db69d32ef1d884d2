package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.URL = "nats://localhost:4222"
	cfg.Source = "api"
	cfg.Destination = "worker"
	cfg.StreamName = "SYNC_API"
	return cfg
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing url", func(c *Config) { c.URL = "" }},
		{"missing source", func(c *Config) { c.Source = "" }},
		{"missing destination", func(c *Config) { c.Destination = "" }},
		{"missing stream", func(c *Config) { c.StreamName = "" }},
		{"source with delimiter", func(c *Config) { c.Source = "api.v2" }},
		{"source with wildcard", func(c *Config) { c.Source = "api*" }},
		{"destination with tail wildcard", func(c *Config) { c.Destination = ">" }},
		{"unknown mode", func(c *Config) { c.Mode = "poll" }},
		{"push without deliver subject", func(c *Config) { c.Mode = ModePush }},
		{"negative batch size", func(c *Config) { c.BatchSize = -1 }},
		{"negative max deliver", func(c *Config) { c.MaxDeliver = -1 }},
		{"zero backoff entry", func(c *Config) { c.Backoff = []time.Duration{time.Second, 0} }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := validConfig()
			test.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_PushMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = ModePush
	cfg.DeliverSubject = "deliver.api"
	cfg.QueueGroup = "api-workers"
	assert.NoError(t, cfg.Validate())
}

func TestSubjectConventions(t *testing.T) {
	cfg := Config{Source: "api", Destination: "worker"}

	assert.Equal(t, "api.sync.worker", cfg.PublishSubject())
	assert.Equal(t, "worker.sync.api", cfg.ConsumeSubject())
	assert.Equal(t, "api.sync.dlq", cfg.DLQSubject())
	assert.Equal(t, "api-workers", cfg.DurableName())
}

func TestDurableOverride(t *testing.T) {
	cfg := Config{Source: "api", Durable: "custom-durable"}
	assert.Equal(t, "custom-durable", cfg.DurableName())
}

func TestNormalized(t *testing.T) {
	cfg := Config{}.Normalized()

	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultMaxDeliver, cfg.MaxDeliver)
	assert.Equal(t, DefaultAckWait, cfg.AckWait)
	assert.Equal(t, ModePull, cfg.Mode)

	custom := Config{BatchSize: 7, MaxDeliver: 2, AckWait: time.Minute, Mode: ModePush}.Normalized()
	assert.Equal(t, 7, custom.BatchSize)
	assert.Equal(t, 2, custom.MaxDeliver)
	assert.Equal(t, time.Minute, custom.AckWait)
	assert.Equal(t, ModePush, custom.Mode)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.AutoProvision)
	assert.True(t, cfg.DLQEnabled)
	assert.False(t, cfg.OutboxEnabled)
	assert.False(t, cfg.InboxEnabled)
	assert.Equal(t, ModePull, cfg.Mode)
}
