package order

import "time"

// TimeoutScheduler runs one delayed task per order, used to expire payments
// that never produce an outcome event.
type TimeoutScheduler interface {
	Schedule(key int32, delay time.Duration, fn func())
	Cancel(key int32) bool
}
