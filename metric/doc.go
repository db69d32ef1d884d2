// Package metric provides Prometheus instrumentation for the delivery
// pipeline: publish outcomes and latency, outbox status transitions,
// consume/processing counters, dead-letter routing, inbox dedup skips and
// broker connection state, plus an HTTP server exposing the registry.
//
// The pipeline components record into Registry.CoreMetrics(); host
// applications can add their own collectors through Registry.Register.
//
// Usage:
//
//	registry := metric.NewRegistry()
//	srv := metric.NewServer(9090, "/metrics", registry)
//	go srv.Start()
//
//	registry.CoreMetrics().RecordPublish("api.sync.worker", "success")
package metric
