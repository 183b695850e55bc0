package audit

import (
	"context"
	"time"
)

// Entry is one append-only audit record. The saga workers record an entry
// for every business-significant step so the trail survives independent of
// log retention.
type Entry struct {
	Event      string
	OrderID    int32
	UserID     int32
	Detail     string
	Fields     map[string]any
	RecordedAt time.Time
}

// Sink receives audit entries. Recording is best-effort from the caller's
// point of view: a sink failure must not fail the saga step that produced
// the entry.
type Sink interface {
	Record(ctx context.Context, e Entry)
}
