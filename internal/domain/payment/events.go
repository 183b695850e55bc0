package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Failure codes carried on FailedEvent. Retryability travels with the event
// so the order side never has to interpret codes itself.
const (
	CodeOrderNotFound     = "ORDER_NOT_FOUND"
	CodeOrderDetailsError = "ORDER_DETAILS_ERROR"
	CodeAmountMismatch    = "AMOUNT_MISMATCH"
	CodeInvalidAmount     = "INVALID_AMOUNT"
	CodeInvalidUser       = "INVALID_USER"
	CodePaymentDeclined   = "PAYMENT_DECLINED"
	CodeProcessingError   = "PROCESSING_ERROR"
)

// RequestedEvent asks the payment side to settle an order. Published once,
// by the order-creation use case.
type RequestedEvent struct {
	OrderID     int32
	UserID      int32
	Amount      decimal.Decimal
	Currency    string
	RequestedAt time.Time
}

func (RequestedEvent) EventName() string { return "payment.requested" }

// CompletedEvent is one of the two terminal outcomes of a payment request.
type CompletedEvent struct {
	OrderID       int32
	UserID        int32
	Amount        decimal.Decimal
	Currency      string
	PaymentID     int32
	TransactionID string
	CompletedAt   time.Time
}

func (CompletedEvent) EventName() string { return "payment.completed" }

// FailedEvent is the other terminal outcome. Every payment request that
// reaches persistence must end in exactly one CompletedEvent or FailedEvent.
type FailedEvent struct {
	OrderID     int32
	UserID      int32
	Amount      decimal.Decimal
	Currency    string
	Reason      string
	ErrorCode   string
	IsRetryable bool
	FailedAt    time.Time
}

func (FailedEvent) EventName() string { return "payment.failed" }
