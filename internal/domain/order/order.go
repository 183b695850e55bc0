package order

import (
	"errors"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("order: not found")
	ErrInvalidQuantity = errors.New("order: quantity must be at least one")
	ErrInvalidUser     = errors.New("order: user id must be positive")
	ErrNegativeAmount  = errors.New("order: amount must be zero or greater")
)

// Order is the order-side aggregate of the payment saga. It is never
// deleted; its lifecycle advances through Status only.
type Order struct {
	ID          int32
	UserID      int32
	Status      Status
	TotalAmount decimal.Decimal
	Items       []Item
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Item is a priced line of an order. Subtotal is base price times quantity,
// fixed at creation.
type Item struct {
	NoodleID int32
	Name     string
	Quantity int
	Subtotal decimal.Decimal
}

func New(userID int32, items []Item) (*Order, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}
	for _, it := range items {
		if it.Quantity < 1 {
			return nil, ErrInvalidQuantity
		}
		if it.Subtotal.IsNegative() {
			return nil, ErrNegativeAmount
		}
	}

	now := time.Now().UTC()
	return &Order{
		UserID:      userID,
		Status:      StatusPending,
		TotalAmount: SumSubtotals(items),
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// SumSubtotals is the TotalAmount invariant: the order total equals the sum
// of its item subtotals.
func SumSubtotals(items []Item) decimal.Decimal {
	return lo.Reduce(items, func(acc decimal.Decimal, it Item, _ int) decimal.Decimal {
		return acc.Add(it.Subtotal)
	}, decimal.Zero)
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]Item(nil), o.Items...)
	return &clone
}
