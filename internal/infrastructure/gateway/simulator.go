package gateway

import (
	"context"
	"math/rand"
	"sync"
	"time"

	apppayment "github.com/noodleworks/orderflow/internal/application/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Simulator stands in for a real payment gateway: charges succeed with a
// fixed probability and yield a transaction id.
type Simulator struct {
	mu          sync.Mutex
	random      *rand.Rand
	successRate float64
	latency     time.Duration
}

func NewSimulator(successRate float64, latency time.Duration) *Simulator {
	if successRate < 0 {
		successRate = 0
	}
	if successRate > 1 {
		successRate = 1
	}
	return &Simulator{
		random:      rand.New(rand.NewSource(time.Now().UnixNano())),
		successRate: successRate,
		latency:     latency,
	}
}

// Charge settles the amount. Declines surface as ErrPaymentDeclined.
func (s *Simulator) Charge(ctx context.Context, orderID int32, amount decimal.Decimal) (string, error) {
	_ = orderID
	_ = amount

	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	s.mu.Lock()
	roll := s.random.Float64()
	s.mu.Unlock()

	if roll > s.successRate {
		return "", apppayment.ErrPaymentDeclined
	}
	return "txn_" + uuid.NewString(), nil
}
