package order_test

import (
	"testing"

	"github.com/noodleworks/orderflow/internal/domain/order"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(name string, qty int, subtotal string) order.Item {
	return order.Item{
		NoodleID: 1,
		Name:     name,
		Quantity: qty,
		Subtotal: decimal.RequireFromString(subtotal),
	}
}

func TestNew(t *testing.T) {
	o, err := order.New(42, []order.Item{
		item("Spicy Beef Noodle", 2, "17.98"),
		item("Dan Dan Noodle", 1, "7.49"),
	})
	require.NoError(t, err)

	assert.Equal(t, int32(42), o.UserID)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("25.47")),
		"total %s", o.TotalAmount)
	assert.Equal(t, o.CreatedAt, o.UpdatedAt)
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := order.New(0, []order.Item{item("x", 1, "1.00")})
	require.ErrorIs(t, err, order.ErrInvalidUser)

	_, err = order.New(1, []order.Item{item("x", 0, "1.00")})
	require.ErrorIs(t, err, order.ErrInvalidQuantity)

	_, err = order.New(1, []order.Item{item("x", 1, "-1.00")})
	require.ErrorIs(t, err, order.ErrNegativeAmount)
}

func TestSumSubtotalsEmpty(t *testing.T) {
	assert.True(t, order.SumSubtotals(nil).IsZero())
}

func TestCloneIsolation(t *testing.T) {
	o, err := order.New(7, []order.Item{item("x", 1, "5.00")})
	require.NoError(t, err)

	clone := o.Clone()
	clone.Status = order.StatusCancelled
	clone.Items[0].Quantity = 99

	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, 1, o.Items[0].Quantity)
}

func TestToStatus(t *testing.T) {
	s, err := order.ToStatus("AwaitingPayment")
	require.NoError(t, err)
	assert.Equal(t, order.StatusAwaitingPayment, s)

	_, err = order.ToStatus("Shipped")
	require.Error(t, err)
}

func TestTerminal(t *testing.T) {
	assert.True(t, order.StatusInPreparation.Terminal())
	assert.True(t, order.StatusCancelled.Terminal())
	assert.False(t, order.StatusAwaitingPayment.Terminal())
	assert.False(t, order.StatusPaymentFailedRetryable.Terminal())
}
