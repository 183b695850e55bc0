package order

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Domain events are immutable and self-contained: each carries everything a
// consumer needs, so no handler has to look the order up just to interpret
// the event.

// CreatedEvent is emitted once when a new order is persisted.
type CreatedEvent struct {
	OrderID     int32
	UserID      int32
	TotalAmount decimal.Decimal
	Items       []ItemSnapshot
	CreatedAt   time.Time
}

type ItemSnapshot struct {
	NoodleID int32
	Name     string
	Quantity int
	Subtotal decimal.Decimal
}

func (CreatedEvent) EventName() string { return "order.created" }

func NewCreatedEvent(o *Order) CreatedEvent {
	return CreatedEvent{
		OrderID:     o.ID,
		UserID:      o.UserID,
		TotalAmount: o.TotalAmount,
		Items: lo.Map(o.Items, func(it Item, _ int) ItemSnapshot {
			return ItemSnapshot{
				NoodleID: it.NoodleID,
				Name:     it.Name,
				Quantity: it.Quantity,
				Subtotal: it.Subtotal,
			}
		}),
		CreatedAt: o.CreatedAt,
	}
}

// StatusChangedEvent is published after every persisted status transition.
// Persistence precedes publication: a crash between the two loses only the
// notification, never the state.
type StatusChangedEvent struct {
	OrderID     int32
	UserID      int32
	OldStatus   Status
	NewStatus   Status
	TotalAmount decimal.Decimal
	ChangedAt   time.Time
}

func (StatusChangedEvent) EventName() string { return "order.status_changed" }

func NewStatusChangedEvent(o *Order, old Status) StatusChangedEvent {
	return StatusChangedEvent{
		OrderID:     o.ID,
		UserID:      o.UserID,
		OldStatus:   old,
		NewStatus:   o.Status,
		TotalAmount: o.TotalAmount,
		ChangedAt:   o.UpdatedAt,
	}
}
