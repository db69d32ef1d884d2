// Package consume implements the receiving half of the delivery pipeline:
// a sequential fetch/process loop over a durable subscription (pull batch
// fetch or push delivery), a message processor that resolves every
// delivery to an ack, a delayed nak or a dead-letter hand-off based on
// error classification and delivery count, an optional idempotent-inbox
// gate, and a composable middleware chain for cross-cutting concerns.
//
// Usage:
//
//	processor, err := consume.NewProcessor(client, cfg, handleEvent,
//		[]consume.Middleware{
//			consume.Logging(logger),
//			consume.Timeout(30 * time.Second),
//		})
//	if err != nil {
//		return err
//	}
//
//	consumer, err := consume.NewConsumer(client, cfg, processor)
//	if err != nil {
//		return err
//	}
//	go consumer.Run(ctx)
//	...
//	consumer.Stop()
//
// The loop processes messages strictly sequentially within one Consumer
// instance; run multiple instances (sharing the durable name) for
// competing-consumer parallelism.
package consume
