package timer_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/noodleworks/orderflow/internal/infrastructure/timer"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestSchedulerFires(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := timer.NewScheduler()
	defer s.Stop()

	fired := make(chan struct{})
	s.Schedule(1, 10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
}

func TestSchedulerCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := timer.NewScheduler()
	defer s.Stop()

	var fired atomic.Bool
	s.Schedule(1, 20*time.Millisecond, func() { fired.Store(true) })

	assert.True(t, s.Cancel(1))
	assert.False(t, s.Cancel(1), "second cancel finds nothing")

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestSchedulerRescheduleReplaces(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := timer.NewScheduler()
	defer s.Stop()

	var old, current atomic.Int32
	s.Schedule(1, 20*time.Millisecond, func() { old.Add(1) })
	s.Schedule(1, 30*time.Millisecond, func() { current.Add(1) })

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), old.Load())
	assert.Equal(t, int32(1), current.Load())
}

func TestSchedulerStopDropsPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := timer.NewScheduler()

	var fired atomic.Bool
	s.Schedule(1, 20*time.Millisecond, func() { fired.Store(true) })
	s.Stop()

	// no work accepted after Stop either
	s.Schedule(2, time.Millisecond, func() { fired.Store(true) })

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestSchedulerIndependentKeys(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := timer.NewScheduler()
	defer s.Stop()

	var count atomic.Int32
	s.Schedule(1, 10*time.Millisecond, func() { count.Add(1) })
	s.Schedule(2, 10*time.Millisecond, func() { count.Add(1) })

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(2), count.Load())
}
