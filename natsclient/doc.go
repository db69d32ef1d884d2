// Package natsclient provides the process-wide NATS JetStream connection
// handle used by every SyncBus publisher and consumer.
//
// The Client wraps connection lifecycle (connect, reconnect callbacks,
// drain-on-close), a small circuit breaker around broker calls, and the
// JetStream context. It is constructed once at the composition root and
// injected into the publish, consume, and topology components, which keeps
// those components testable against fakes.
//
//	nc, err := natsclient.NewClient(cfg.URL,
//		natsclient.WithName("syncbus-"+cfg.Source),
//		natsclient.WithMaxReconnects(-1),
//	)
//	if err != nil {
//		return err
//	}
//	if err := nc.Connect(ctx); err != nil {
//		return err
//	}
//	defer nc.Close(context.Background())
//
// Error-classification helpers (IsNotFoundError, IsAlreadyExistsError,
// IsOverlapError) centralize the string and sentinel matching needed to
// interpret JetStream administrative errors; topology reconciliation and
// the consumer's resubscribe logic both depend on them.
package natsclient
