package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all delivery-pipeline metrics (not application-specific)
type Metrics struct {
	// Publish side
	EventsPublished   *prometheus.CounterVec
	PublishDuration   *prometheus.HistogramVec
	PublishFailures   *prometheus.CounterVec
	DuplicatesSkipped *prometheus.CounterVec
	OutboxStatus      *prometheus.CounterVec

	// Consume side
	MessagesFetched    *prometheus.CounterVec
	MessagesProcessed  *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	DeadLettered       *prometheus.CounterVec
	InboxSkipped       *prometheus.CounterVec
	RedeliveryDelay    *prometheus.HistogramVec

	// Broker connection
	BrokerConnected  prometheus.Gauge
	BrokerReconnects prometheus.Counter
	CircuitBreaker   prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncbus",
				Subsystem: "publish",
				Name:      "events_total",
				Help:      "Total number of events published",
			},
			[]string{"subject", "outcome"},
		),

		PublishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "syncbus",
				Subsystem: "publish",
				Name:      "duration_seconds",
				Help:      "Publish round-trip duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"subject"},
		),

		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncbus",
				Subsystem: "publish",
				Name:      "failures_total",
				Help:      "Total number of failed publish attempts",
			},
			[]string{"subject", "error_class"},
		),

		DuplicatesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncbus",
				Subsystem: "publish",
				Name:      "duplicates_total",
				Help:      "Total number of publishes short-circuited as duplicates",
			},
			[]string{"subject"},
		),

		OutboxStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncbus",
				Subsystem: "outbox",
				Name:      "transitions_total",
				Help:      "Total number of outbox status transitions",
			},
			[]string{"status"},
		),

		MessagesFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncbus",
				Subsystem: "consume",
				Name:      "fetched_total",
				Help:      "Total number of messages fetched from the broker",
			},
			[]string{"consumer"},
		),

		MessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncbus",
				Subsystem: "consume",
				Name:      "processed_total",
				Help:      "Total number of messages processed",
			},
			[]string{"consumer", "outcome"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "syncbus",
				Subsystem: "consume",
				Name:      "duration_seconds",
				Help:      "Handler processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"consumer"},
		),

		DeadLettered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncbus",
				Subsystem: "consume",
				Name:      "dead_lettered_total",
				Help:      "Total number of messages routed to the dead-letter subject",
			},
			[]string{"consumer", "reason"},
		),

		InboxSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "syncbus",
				Subsystem: "inbox",
				Name:      "skipped_total",
				Help:      "Total number of redeliveries skipped as already processed",
			},
			[]string{"consumer"},
		),

		RedeliveryDelay: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "syncbus",
				Subsystem: "consume",
				Name:      "redelivery_delay_seconds",
				Help:      "Requested negative-acknowledgement backoff delay in seconds",
				Buckets:   []float64{1, 2, 4, 8, 16, 32, 60},
			},
			[]string{"consumer"},
		),

		BrokerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "syncbus",
				Subsystem: "broker",
				Name:      "connected",
				Help:      "Broker connection status (0=disconnected, 1=connected)",
			},
		),

		BrokerReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "syncbus",
				Subsystem: "broker",
				Name:      "reconnects_total",
				Help:      "Total number of broker reconnections",
			},
		),

		CircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "syncbus",
				Subsystem: "broker",
				Name:      "circuit_breaker",
				Help:      "Broker circuit breaker status (0=closed, 1=open)",
			},
		),
	}
}

// RecordPublish increments the published-events counter
func (c *Metrics) RecordPublish(subject, outcome string) {
	c.EventsPublished.WithLabelValues(subject, outcome).Inc()
}

// RecordPublishDuration records one publish round trip
func (c *Metrics) RecordPublishDuration(subject string, duration time.Duration) {
	c.PublishDuration.WithLabelValues(subject).Observe(duration.Seconds())
}

// RecordPublishFailure increments the failed-publish counter
func (c *Metrics) RecordPublishFailure(subject, errorClass string) {
	c.PublishFailures.WithLabelValues(subject, errorClass).Inc()
}

// RecordDuplicate increments the duplicate-publish counter
func (c *Metrics) RecordDuplicate(subject string) {
	c.DuplicatesSkipped.WithLabelValues(subject).Inc()
}

// RecordOutboxTransition increments the outbox transition counter
func (c *Metrics) RecordOutboxTransition(status string) {
	c.OutboxStatus.WithLabelValues(status).Inc()
}

// RecordFetched adds fetched messages to the consume counter
func (c *Metrics) RecordFetched(consumer string, count int) {
	c.MessagesFetched.WithLabelValues(consumer).Add(float64(count))
}

// RecordProcessed increments the processed-messages counter
func (c *Metrics) RecordProcessed(consumer, outcome string) {
	c.MessagesProcessed.WithLabelValues(consumer, outcome).Inc()
}

// RecordProcessingDuration records one handler invocation
func (c *Metrics) RecordProcessingDuration(consumer string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(consumer).Observe(duration.Seconds())
}

// RecordDeadLetter increments the dead-letter counter
func (c *Metrics) RecordDeadLetter(consumer, reason string) {
	c.DeadLettered.WithLabelValues(consumer, reason).Inc()
}

// RecordInboxSkip increments the already-processed skip counter
func (c *Metrics) RecordInboxSkip(consumer string) {
	c.InboxSkipped.WithLabelValues(consumer).Inc()
}

// RecordRedeliveryDelay records a requested nak backoff delay
func (c *Metrics) RecordRedeliveryDelay(consumer string, delay time.Duration) {
	c.RedeliveryDelay.WithLabelValues(consumer).Observe(delay.Seconds())
}

// RecordBrokerStatus updates broker connection status
func (c *Metrics) RecordBrokerStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.BrokerConnected.Set(value)
}

// RecordBrokerReconnect increments the reconnection counter
func (c *Metrics) RecordBrokerReconnect() {
	c.BrokerReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(open bool) {
	value := 0.0
	if open {
		value = 1.0
	}
	c.CircuitBreaker.Set(value)
}
