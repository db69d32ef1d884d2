// Package message defines the event envelope: the versioned JSON document
// every SyncBus event travels as, the builder that constructs it, and the
// Event view handed to consumer handlers.
//
// # Wire format
//
//	{
//	  "event_id": "5f6b...",
//	  "schema_version": 1,
//	  "event_type": "user.created",
//	  "producer": "api",
//	  "resource_type": "user",
//	  "resource_id": "42",
//	  "occurred_at": "2024-06-01T12:00:00Z",
//	  "trace_id": "c1d2...",
//	  "payload": { ... }
//	}
//
// Envelopes are immutable after construction. The builder infers
// resource_type from the event type's first dot-segment and resource_id from
// the payload's "id" field when they are not supplied, and generates
// event_id and trace_id when absent. The event_id doubles as the broker
// dedup header on publish.
package message
