package payment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("payment: not found")
	ErrInvalidAmount = errors.New("payment: amount must be greater than zero")
)

type Status string

const (
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

// Payment records one settlement attempt for an order. Several payments may
// exist per order over retries, but at most one is non-terminal. Mutated
// only by the payment worker as settlement resolves, never deleted.
type Payment struct {
	ID            int32
	OrderID       int32
	Amount        decimal.Decimal
	Currency      string
	Status        Status
	PaymentMethod string
	TransactionID string // set only on success
	PaidAt        *time.Time
	CreatedAt     time.Time
}

func New(orderID int32, amount decimal.Decimal, currencyCode, method string) (*Payment, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	return &Payment{
		OrderID:       orderID,
		Amount:        amount,
		Currency:      currencyCode,
		Status:        StatusProcessing,
		PaymentMethod: method,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func (p *Payment) MarkCompleted(transactionID string) {
	now := time.Now().UTC()
	p.Status = StatusCompleted
	p.TransactionID = transactionID
	p.PaidAt = &now
}

func (p *Payment) MarkFailed() {
	p.Status = StatusFailed
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	clone := *p
	if p.PaidAt != nil {
		t := *p.PaidAt
		clone.PaidAt = &t
	}
	return &clone
}
