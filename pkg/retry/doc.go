// Package retry provides simple exponential backoff retry logic for transient failures.
//
// # Overview
//
// This package offers a minimal retry mechanism with exponential backoff for
// the bounded retry loops SyncBus runs around broker calls: publish attempts,
// stream creation racing a topology overlap, and consumer provisioning.
//
// # Core Functions
//
//   - Do: Execute function with retry and exponential backoff
//   - DoWithResult: Execute function with retry, returns both result and error
//
// # Configuration Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (normal operations)
//   - Publish(): 3 attempts, 250ms-2s delay (broker publish attempts)
//
// # Usage Examples
//
// Basic retry with defaults:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.Connect(ctx)
//	})
//
// Publish with result:
//
//	ack, err := retry.DoWithResult(ctx, retry.Publish(), func() (*jetstream.PubAck, error) {
//	    return js.PublishMsg(ctx, msg)
//	})
//
// Errors wrapped with NonRetryable fail immediately without further attempts;
// the publisher uses this for ack-level errors that retrying cannot fix.
package retry
