package outbox

import "context"

// Event is any domain event with a name identifier. The saga's event set is
// closed: order.created, order.status_changed, payment.requested,
// payment.completed, payment.failed.
type Event interface {
	EventName() string
}

// Handler processes a delivered event. Delivery is at-least-once and
// unordered; handlers must be idempotent and safe to re-run from the top.
type Handler func(ctx context.Context, e Event) error

// Publisher publishes events to interested subscribers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber registers handlers for event names.
type Subscriber interface {
	Subscribe(eventName string, h Handler)
}
