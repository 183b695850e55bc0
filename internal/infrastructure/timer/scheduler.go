// Package timer provides the delayed-task abstraction behind the payment
// timeout: a real per-key timer, not an inline sleep.
package timer

import (
	"sync"
	"time"
)

// Scheduler runs one delayed task per key. Scheduling a key again replaces
// the pending task; Cancel drops it. Fired tasks run on their own goroutine.
type Scheduler struct {
	mu     sync.Mutex
	timers map[int32]*time.Timer
	closed bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[int32]*time.Timer)}
}

func (s *Scheduler) Schedule(key int32, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.timers[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
}

func (s *Scheduler) Cancel(key int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[key]
	if !ok {
		return false
	}
	delete(s.timers, key)
	return t.Stop()
}

// Stop cancels all pending tasks. The scheduler accepts no work afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
