package order

import "errors"

var ErrStatusConflict = errors.New("order: status conflict")

type Status string

const (
	StatusPending                 Status = "Pending"
	StatusProcessing              Status = "Processing"
	StatusAwaitingPayment         Status = "AwaitingPayment"
	StatusInPreparation           Status = "InPreparation"
	StatusPaymentFailedRetryable  Status = "PaymentFailedRetryable"
	StatusCancelled               Status = "Cancelled"
	StatusPaymentProcessingFailed Status = "PaymentProcessingFailed"
	StatusPaymentTimeout          Status = "PaymentTimeout"
)

var validStatuses = map[Status]struct{}{
	StatusPending:                 {},
	StatusProcessing:              {},
	StatusAwaitingPayment:         {},
	StatusInPreparation:           {},
	StatusPaymentFailedRetryable:  {},
	StatusCancelled:               {},
	StatusPaymentProcessingFailed: {},
	StatusPaymentTimeout:          {},
}

func ToStatus(s string) (Status, error) {
	status := Status(s)
	if _, ok := validStatuses[status]; ok {
		return status, nil
	}
	return "", errors.New("order: invalid status")
}

// Terminal reports whether the saga is finished for this order.
// InPreparation hands off to fulfillment; the rest end the payment attempt.
func (s Status) Terminal() bool {
	switch s {
	case StatusInPreparation, StatusCancelled:
		return true
	}
	return false
}
