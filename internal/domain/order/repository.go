package order

import "context"

// Repository persists orders. UpdateStatus is the saga's only serialization
// point: a compare-and-set that applies the transition only while the stored
// status is one of the expected prior states. It reports the status the
// order actually held; on ErrStatusConflict the returned order reflects the
// current state so callers can tell an idempotent redelivery from a stale
// transition. Concurrent handlers and redeliveries race through here safely.
type Repository interface {
	Create(ctx context.Context, o *Order) (*Order, error)
	Get(ctx context.Context, id int32) (*Order, error)
	ListByUser(ctx context.Context, userID int32) ([]*Order, error)
	ListAll(ctx context.Context) ([]*Order, error)
	UpdateStatus(ctx context.Context, id int32, from []Status, to Status) (updated *Order, prev Status, err error)
}
