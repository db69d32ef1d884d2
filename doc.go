// Package syncbus is a delivery-reliability layer for service-to-service
// event sync over NATS JetStream.
//
// JetStream gives at-least-once delivery. SyncBus layers the coordination
// needed to approximate at-most-once publish and exactly-once processing on
// top of it:
//
//   - Transactional outbox: outbound events are recorded in Postgres before
//     and after the broker publish, so a crash between business commit and
//     publish is recoverable and re-publishing a sent event is a no-op.
//   - Idempotent inbox: inbound event ids are recorded so redeliveries are
//     detected and skipped without re-invoking the handler.
//   - Dead-letter routing: unparseable, unrecoverable, or repeatedly failing
//     messages are forwarded to a DLQ subject with full diagnostic headers.
//   - A consumer loop with batch fetch, idle and reconnect backoff,
//     middleware, health snapshots, and graceful drain on shutdown.
//
// # Architecture
//
//	┌────────────┐   build    ┌──────────┐  persist   ┌──────────┐
//	│  Publisher ├───────────►│ Envelope ├───────────►│  Outbox  │
//	└─────┬──────┘            └──────────┘            └──────────┘
//	      │ publish (Nats-Msg-Id = event_id)
//	      ▼
//	┌────────────────────── JetStream ──────────────────────┐
//	│  stream {source}.sync.{destination}, work-queue       │
//	└─────┬─────────────────────────────────────────────────┘
//	      │ durable pull/push consumer
//	      ▼
//	┌────────────┐   dedup    ┌──────────┐  middleware ┌──────────┐
//	│  Consumer  ├───────────►│  Inbox   ├────────────►│ Handler  │
//	└─────┬──────┘            └──────────┘             └──────────┘
//	      │ ack / nak(delay) / DLQ
//	      ▼
//	 {source}.sync.dlq
//
// Subjects follow the sync convention between two logical endpoints: a
// service named "api" talking to "worker" publishes on "api.sync.worker",
// consumes "worker.sync.api", and dead-letters to "api.sync.dlq".
//
// # Packages
//
//   - subject: hierarchical subject values, wildcard matching, overlap checks
//   - message: the versioned event envelope and its wire format
//   - config: the validated configuration passed into every component
//   - natsclient: the JetStream connection handle
//   - topology: idempotent stream/consumer reconciliation
//   - outbox, inbox: Postgres (and in-memory) reliability repositories
//   - publish: the publishing pipeline and batch publisher
//   - consume: the consumer loop, message processor, and middleware
//   - metric, health: prometheus delivery metrics and health reporting
//
// # Quick start
//
//	cfg := config.Config{
//		URL:         nats.DefaultURL,
//		Source:      "api",
//		Destination: "worker",
//		StreamName:  "SYNC_API",
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
//	nc, err := natsclient.NewClient(cfg.URL)
//	...
//	pub, err := publish.NewPublisher(nc, &cfg)
//	res := pub.Publish(ctx, publish.Params{
//		EventType: "user.created",
//		Payload:   map[string]any{"id": 1, "email": "a@example.com"},
//	})
//
// The examples above elide error handling; every constructor validates its
// configuration up front and returns classified errors from the errors
// package.
package syncbus
