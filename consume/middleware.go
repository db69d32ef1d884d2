package consume

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/c360/syncbus/message"
	"github.com/c360/syncbus/metric"
	"github.com/c360/syncbus/natsclient"
)

// Handler processes one delivered event. A nil return acknowledges the
// message; an error is classified to decide between redelivery and the
// dead-letter subject.
type Handler func(ctx context.Context, evt *message.Event) error

// Middleware wraps a handler with a cross-cutting concern.
type Middleware func(next Handler) Handler

// Chain composes middleware around a handler, right to left, so the first
// middleware in the list is outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Logging logs every handled event with its outcome and elapsed time.
func Logging(logger natsclient.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *message.Event) error {
			start := time.Now()
			err := next(ctx, evt)
			if err != nil {
				logger.Errorf("Event %s (%s) failed after %s: %v",
					evt.EventID(), evt.EventType(), time.Since(start).Round(time.Millisecond), err)
			} else {
				logger.Debugf("Event %s (%s) handled in %s",
					evt.EventID(), evt.EventType(), time.Since(start).Round(time.Millisecond))
			}
			return err
		}
	}
}

// Metrics records handler duration and outcome counters.
func Metrics(m *metric.Metrics, consumer string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *message.Event) error {
			start := time.Now()
			err := next(ctx, evt)
			m.RecordProcessingDuration(consumer, time.Since(start))
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			m.RecordProcessed(consumer, outcome)
			return err
		}
	}
}

// TimeoutError is returned when a handler exceeds the per-message timeout.
type TimeoutError struct {
	EventID    string
	Deliveries int
	After      time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("handler timed out after %s for event %s (delivery %d)",
		e.After, e.EventID, e.Deliveries)
}

// Timeout enforces a per-message deadline, converting an overrun into a
// typed TimeoutError carrying the event id and delivery count.
func Timeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *message.Event) error {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- next(tctx, evt)
			}()

			select {
			case err := <-done:
				return err
			case <-tctx.Done():
				if tctx.Err() == context.DeadlineExceeded {
					return &TimeoutError{
						EventID:    evt.EventID(),
						Deliveries: evt.Deliveries,
						After:      d,
					}
				}
				return tctx.Err()
			}
		}
	}
}

const tracerName = "github.com/c360/syncbus/consume"

// Tracing starts a consumer span per event and propagates it through the
// handler context.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *message.Event) error {
			sctx, span := tracer.Start(ctx, "consume "+evt.EventType(),
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.message.id", evt.EventID()),
					attribute.String("messaging.destination.name", evt.Subject),
					attribute.Int("messaging.nats.deliveries", evt.Deliveries),
					attribute.String("syncbus.trace_id", evt.TraceID()),
				))
			defer span.End()

			err := next(sctx, evt)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}
