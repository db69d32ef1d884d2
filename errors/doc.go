// Package errors provides standardized error handling patterns for SyncBus.
//
// Errors are classified into four classes that drive the delivery state
// machine:
//
//   - Transient: temporary failures (broker hiccup, timeout) that the retry
//     and nak/backoff machinery is allowed to retry.
//   - Invalid: caller mistakes (bad envelope, bad subject) raised
//     synchronously and never retried.
//   - Unrecoverable: programming-error-class handler failures that
//     redelivery cannot fix; the message processor dead-letters these
//     immediately instead of burning redelivery attempts.
//   - Fatal: configuration or construction failures that stop the component.
//
// Components wrap errors with WrapTransient, WrapInvalid, WrapUnrecoverable,
// or WrapFatal to attach both the classification and a
// "component.method: action failed" context trail. Handlers that want a
// message dead-lettered without extra context use Unrecoverable:
//
//	func handle(ctx context.Context, ev *message.Event) error {
//		id, ok := ev.Payload()["id"].(float64)
//		if !ok {
//			return errors.Unrecoverable(fmt.Errorf("payload id missing"))
//		}
//		...
//	}
//
// Classification is checked with IsTransient, IsInvalid, IsUnrecoverable,
// and IsFatal. Unknown errors default to transient so they stay retryable;
// unrecoverable is never inferred from message text.
package errors
