package audit

import (
	"context"
	"time"

	domain "github.com/noodleworks/orderflow/internal/domain/audit"
	"github.com/noodleworks/orderflow/internal/observability"
)

// ZapSink writes audit entries as structured log records on a dedicated
// audit logger. It replaces ad hoc console audit trails with an append-only
// stream that log shipping can pick up.
type ZapSink struct {
	log observability.Logger
}

func NewZapSink(logger observability.Logger) *ZapSink {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ZapSink{log: logger.With(observability.F("stream", "audit"))}
}

func (s *ZapSink) Record(ctx context.Context, e domain.Entry) {
	_ = ctx
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}

	fields := []observability.Field{
		observability.F("audit_event", e.Event),
		observability.F("order_id", e.OrderID),
		observability.F("user_id", e.UserID),
		observability.F("recorded_at", e.RecordedAt),
	}
	if e.Detail != "" {
		fields = append(fields, observability.F("detail", e.Detail))
	}
	for k, v := range e.Fields {
		fields = append(fields, observability.F(k, v))
	}
	s.log.Info("audit", fields...)
}
