package worker

import (
	"context"

	domoutbox "github.com/noodleworks/orderflow/internal/domain/outbox"
	"github.com/noodleworks/orderflow/internal/observability"
	"github.com/noodleworks/orderflow/internal/observability/logctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// WithEventContext injects a delivery-scoped logger for event handler
// executions: a fresh event_id, trace/span ids when a span is active, plus
// caller-provided low-cardinality attributes (service, event name).
func WithEventContext(ctx context.Context, base observability.Logger, attrs map[string]string) context.Context {
	if base == nil {
		base = observability.NopLogger()
	}

	fields := make([]observability.Field, 0, len(attrs)+3)
	fields = append(fields, observability.F("event_id", uuid.NewString()))

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	for k, v := range attrs {
		if v == "" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}

	return logctx.With(ctx, base.With(fields...))
}

// Instrument wraps an event handler with the delivery-scoped logger.
func Instrument(base observability.Logger, service string, h domoutbox.Handler) domoutbox.Handler {
	return func(ctx context.Context, e domoutbox.Event) error {
		ctx = WithEventContext(ctx, base, map[string]string{
			"service": service,
			"event":   e.EventName(),
		})
		return h(ctx, e)
	}
}

// InstrumentedSubscriber decorates a Subscriber so every handler registered
// through it runs with the delivery-scoped logger. Workers subscribe through
// this and stay unaware of the instrumentation.
type InstrumentedSubscriber struct {
	sub     domoutbox.Subscriber
	log     observability.Logger
	service string
}

func NewInstrumentedSubscriber(sub domoutbox.Subscriber, log observability.Logger, service string) InstrumentedSubscriber {
	return InstrumentedSubscriber{sub: sub, log: log, service: service}
}

func (s InstrumentedSubscriber) Subscribe(eventName string, h domoutbox.Handler) {
	s.sub.Subscribe(eventName, Instrument(s.log, s.service, h))
}
