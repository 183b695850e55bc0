package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrOrderNotFound is a definitive answer from the order service: the
	// order does not exist. Never retried.
	ErrOrderNotFound = errors.New("payment: order not found")
	// ErrOrderServiceUnavailable means the order service could not be
	// reached within the retry budget. Retryable from the customer's side.
	ErrOrderServiceUnavailable = errors.New("payment: order service unavailable")
	// ErrPaymentDeclined is the gateway's business decline, terminal for
	// this payment attempt.
	ErrPaymentDeclined = errors.New("payment: declined by gateway")
)

// OrderDetails is the payment side's view of a validated order.
type OrderDetails struct {
	OrderID     int32
	UserID      int32
	Status      string
	TotalAmount decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderValidator is the synchronous cross-service check guarding settlement.
// Implementations apply their own bounded retry and surface
// ErrOrderNotFound and ErrOrderServiceUnavailable as distinct conditions.
type OrderValidator interface {
	ValidateOrderExists(ctx context.Context, orderID int32) (bool, error)
	GetOrderDetails(ctx context.Context, orderID int32) (*OrderDetails, error)
}

// Gateway settles payments. Business declines surface as
// ErrPaymentDeclined; anything else is an infrastructure fault.
type Gateway interface {
	Charge(ctx context.Context, orderID int32, amount decimal.Decimal) (transactionID string, err error)
}
