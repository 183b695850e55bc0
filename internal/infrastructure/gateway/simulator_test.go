package gateway_test

import (
	"context"
	"strings"
	"testing"
	"time"

	apppayment "github.com/noodleworks/orderflow/internal/application/payment"
	"github.com/noodleworks/orderflow/internal/infrastructure/gateway"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var amount = decimal.RequireFromString("17.98")

func TestSimulatorAlwaysSucceeds(t *testing.T) {
	g := gateway.NewSimulator(1.0, 0)

	for i := 0; i < 20; i++ {
		txn, err := g.Charge(context.Background(), 1, amount)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(txn, "txn_"))
	}
}

func TestSimulatorAlwaysDeclines(t *testing.T) {
	g := gateway.NewSimulator(0, 0)

	for i := 0; i < 20; i++ {
		_, err := g.Charge(context.Background(), 1, amount)
		require.ErrorIs(t, err, apppayment.ErrPaymentDeclined)
	}
}

func TestSimulatorHonorsContext(t *testing.T) {
	g := gateway.NewSimulator(1.0, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.Charge(ctx, 1, amount)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSimulatorClampsRate(t *testing.T) {
	g := gateway.NewSimulator(7.5, 0)
	_, err := g.Charge(context.Background(), 1, amount)
	require.NoError(t, err)
}
