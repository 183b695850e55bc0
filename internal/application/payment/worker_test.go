package payment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apppayment "github.com/noodleworks/orderflow/internal/application/payment"
	domoutbox "github.com/noodleworks/orderflow/internal/domain/outbox"
	domain "github.com/noodleworks/orderflow/internal/domain/payment"
	auditsink "github.com/noodleworks/orderflow/internal/infrastructure/audit"
	"github.com/noodleworks/orderflow/internal/infrastructure/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *capturePublisher) Publish(ctx context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) completed() []domain.CompletedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.CompletedEvent
	for _, e := range p.events {
		if c, ok := e.(domain.CompletedEvent); ok {
			out = append(out, c)
		}
	}
	return out
}

func (p *capturePublisher) failed() []domain.FailedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.FailedEvent
	for _, e := range p.events {
		if f, ok := e.(domain.FailedEvent); ok {
			out = append(out, f)
		}
	}
	return out
}

func (p *capturePublisher) outcomes() int {
	return len(p.completed()) + len(p.failed())
}

type captureSubscriber struct {
	handlers map[string]domoutbox.Handler
}

func (s *captureSubscriber) Subscribe(name string, h domoutbox.Handler) {
	if s.handlers == nil {
		s.handlers = make(map[string]domoutbox.Handler)
	}
	s.handlers[name] = h
}

type stubValidator struct {
	details *apppayment.OrderDetails
	err     error
}

func (v *stubValidator) ValidateOrderExists(ctx context.Context, orderID int32) (bool, error) {
	if v.err != nil {
		return false, v.err
	}
	return v.details != nil, nil
}

func (v *stubValidator) GetOrderDetails(ctx context.Context, orderID int32) (*apppayment.OrderDetails, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.details, nil
}

type stubGateway struct {
	txnID  string
	err    error
	panics bool
	calls  int
}

func (g *stubGateway) Charge(ctx context.Context, orderID int32, amount decimal.Decimal) (string, error) {
	g.calls++
	if g.panics {
		panic("gateway wedged")
	}
	return g.txnID, g.err
}

func details(total string) *apppayment.OrderDetails {
	return &apppayment.OrderDetails{
		OrderID:     1,
		UserID:      7,
		Status:      "AwaitingPayment",
		TotalAmount: decimal.RequireFromString(total),
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
}

func requested(amount string) domain.RequestedEvent {
	return domain.RequestedEvent{
		OrderID:     1,
		UserID:      7,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "VND",
		RequestedAt: time.Now().UTC(),
	}
}

type fixture struct {
	repo      *memory.PaymentRepository
	validator *stubValidator
	gateway   *stubGateway
	pub       *capturePublisher
	sink      *auditsink.MemorySink
	handler   domoutbox.Handler
}

func newFixture(t *testing.T, v *stubValidator, g *stubGateway) *fixture {
	t.Helper()
	repo := memory.NewPaymentRepository()
	pub := &capturePublisher{}
	sub := &captureSubscriber{}
	sink := auditsink.NewMemorySink()

	w := apppayment.NewWorker(repo, v, g, sub, pub, sink, apppayment.Config{}, nil)
	w.Start()

	h, ok := sub.handlers[domain.RequestedEvent{}.EventName()]
	require.True(t, ok)
	return &fixture{repo: repo, validator: v, gateway: g, pub: pub, sink: sink, handler: h}
}

func (f *fixture) deliver(t *testing.T, e domoutbox.Event) {
	t.Helper()
	require.NoError(t, f.handler(context.Background(), e))
}

func TestSettlementSuccess(t *testing.T) {
	f := newFixture(t,
		&stubValidator{details: details("17.98")},
		&stubGateway{txnID: "txn_ok"},
	)

	f.deliver(t, requested("17.98"))

	completed := f.pub.completed()
	require.Len(t, completed, 1)
	assert.Equal(t, "txn_ok", completed[0].TransactionID)
	assert.Equal(t, int32(1), completed[0].OrderID)
	assert.Empty(t, f.pub.failed())

	payments, err := f.repo.ListByOrder(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.StatusCompleted, payments[0].Status)
	assert.Equal(t, "txn_ok", payments[0].TransactionID)
}

func TestSettlementToleratesFloatDrift(t *testing.T) {
	f := newFixture(t,
		&stubValidator{details: details("100.00")},
		&stubGateway{txnID: "txn_ok"},
	)

	// one cent of drift from the float64 wire format is accepted
	f.deliver(t, requested("100.01"))

	require.Len(t, f.pub.completed(), 1)
	assert.Empty(t, f.pub.failed())
}

func TestSettlementAmountMismatch(t *testing.T) {
	f := newFixture(t,
		&stubValidator{details: details("100.00")},
		&stubGateway{txnID: "txn_never"},
	)

	f.deliver(t, requested("105.00"))

	failed := f.pub.failed()
	require.Len(t, failed, 1)
	assert.Equal(t, domain.CodeAmountMismatch, failed[0].ErrorCode)
	assert.False(t, failed[0].IsRetryable)
	assert.Zero(t, f.gateway.calls, "mismatched amounts never reach the gateway")

	payments, err := f.repo.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, payments, "nothing persisted before validation passes")
}

func TestSettlementOrderNotFound(t *testing.T) {
	f := newFixture(t,
		&stubValidator{err: apppayment.ErrOrderNotFound},
		&stubGateway{},
	)

	f.deliver(t, requested("17.98"))

	failed := f.pub.failed()
	require.Len(t, failed, 1)
	assert.Equal(t, domain.CodeOrderNotFound, failed[0].ErrorCode)
	assert.False(t, failed[0].IsRetryable)
}

func TestSettlementOrderServiceUnavailable(t *testing.T) {
	f := newFixture(t,
		&stubValidator{err: apppayment.ErrOrderServiceUnavailable},
		&stubGateway{},
	)

	f.deliver(t, requested("17.98"))

	failed := f.pub.failed()
	require.Len(t, failed, 1)
	assert.Equal(t, domain.CodeOrderDetailsError, failed[0].ErrorCode)
	assert.True(t, failed[0].IsRetryable, "validation outage is worth a customer retry")
}

func TestSettlementDeclined(t *testing.T) {
	f := newFixture(t,
		&stubValidator{details: details("17.98")},
		&stubGateway{err: apppayment.ErrPaymentDeclined},
	)

	f.deliver(t, requested("17.98"))

	failed := f.pub.failed()
	require.Len(t, failed, 1)
	assert.Equal(t, domain.CodePaymentDeclined, failed[0].ErrorCode)
	assert.True(t, failed[0].IsRetryable)

	payments, err := f.repo.ListByOrder(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.StatusFailed, payments[0].Status)
}

func TestSettlementInvalidRequest(t *testing.T) {
	f := newFixture(t, &stubValidator{details: details("17.98")}, &stubGateway{})

	f.deliver(t, requested("0"))
	failed := f.pub.failed()
	require.Len(t, failed, 1)
	assert.Equal(t, domain.CodeInvalidAmount, failed[0].ErrorCode)

	evt := requested("17.98")
	evt.UserID = 0
	f.deliver(t, evt)
	failed = f.pub.failed()
	require.Len(t, failed, 2)
	assert.Equal(t, domain.CodeInvalidUser, failed[1].ErrorCode)

	evt = requested("17.98")
	evt.Currency = "NOPE"
	f.deliver(t, evt)
	failed = f.pub.failed()
	require.Len(t, failed, 3)
	assert.Equal(t, domain.CodeInvalidAmount, failed[2].ErrorCode)
}

// a panic after persistence still produces exactly one outcome event and the
// stored payment ends terminal
func TestSettlementPanicStillPublishesOutcome(t *testing.T) {
	f := newFixture(t,
		&stubValidator{details: details("17.98")},
		&stubGateway{panics: true},
	)

	f.deliver(t, requested("17.98"))

	failed := f.pub.failed()
	require.Len(t, failed, 1)
	assert.Equal(t, domain.CodeProcessingError, failed[0].ErrorCode)
	assert.True(t, failed[0].IsRetryable)
	assert.Equal(t, 1, f.pub.outcomes(), "exactly one terminal event")

	payments, err := f.repo.ListByOrder(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.StatusFailed, payments[0].Status)
}

func TestSettlementGatewayFault(t *testing.T) {
	f := newFixture(t,
		&stubValidator{details: details("17.98")},
		&stubGateway{err: errors.New("connection reset")},
	)

	f.deliver(t, requested("17.98"))

	failed := f.pub.failed()
	require.Len(t, failed, 1)
	assert.Equal(t, domain.CodeProcessingError, failed[0].ErrorCode)
	assert.True(t, failed[0].IsRetryable)
}

func TestHighValuePaymentFlaggedNotBlocked(t *testing.T) {
	f := newFixture(t,
		&stubValidator{details: details("5000.00")},
		&stubGateway{txnID: "txn_big"},
	)

	f.deliver(t, requested("5000.00"))

	require.Len(t, f.pub.completed(), 1, "high value is flagged, never blocked")

	var flagged bool
	for _, e := range f.sink.Entries() {
		if e.Event == "payment.high_value_flagged" {
			flagged = true
		}
	}
	assert.True(t, flagged)
}
