package audit

import (
	"context"
	"sync"
	"time"

	domain "github.com/noodleworks/orderflow/internal/domain/audit"
)

// MemorySink collects entries in memory. Used by tests to assert on the
// audit trail.
type MemorySink struct {
	mu      sync.Mutex
	entries []domain.Entry
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(ctx context.Context, e domain.Entry) {
	_ = ctx
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *MemorySink) Entries() []domain.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Entry(nil), s.entries...)
}
