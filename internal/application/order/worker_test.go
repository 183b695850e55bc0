package order_test

import (
	"context"
	"sync"
	"testing"
	"time"

	apporder "github.com/noodleworks/orderflow/internal/application/order"
	domain "github.com/noodleworks/orderflow/internal/domain/order"
	domoutbox "github.com/noodleworks/orderflow/internal/domain/outbox"
	dompayment "github.com/noodleworks/orderflow/internal/domain/payment"
	auditsink "github.com/noodleworks/orderflow/internal/infrastructure/audit"
	"github.com/noodleworks/orderflow/internal/infrastructure/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSubscriber hands registered handlers back to the test so events can
// be delivered synchronously.
type captureSubscriber struct {
	handlers map[string]domoutbox.Handler
}

func newCaptureSubscriber() *captureSubscriber {
	return &captureSubscriber{handlers: make(map[string]domoutbox.Handler)}
}

func (s *captureSubscriber) Subscribe(name string, h domoutbox.Handler) {
	s.handlers[name] = h
}

func (s *captureSubscriber) deliver(t *testing.T, e domoutbox.Event) {
	t.Helper()
	h, ok := s.handlers[e.EventName()]
	require.True(t, ok, "no handler for %s", e.EventName())
	require.NoError(t, h(context.Background(), e))
}

// fakeScheduler records scheduled timeouts without real timers.
type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[int32]func()
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: make(map[int32]func())}
}

func (s *fakeScheduler) Schedule(key int32, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[key] = fn
}

func (s *fakeScheduler) Cancel(key int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.scheduled[key]
	delete(s.scheduled, key)
	return ok
}

func (s *fakeScheduler) pending(key int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.scheduled[key]
	return ok
}

type workerFixture struct {
	svc       *apporder.Service
	repo      *memory.OrderRepository
	sub       *captureSubscriber
	scheduler *fakeScheduler
	sink      *auditsink.MemorySink
	pub       *capturePublisher
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	repo := memory.NewOrderRepository()
	pub := &capturePublisher{}
	sink := auditsink.NewMemorySink()
	svc := apporder.NewService(repo, memory.DefaultMenu(), pub, sink, nil)
	sub := newCaptureSubscriber()
	scheduler := newFakeScheduler()

	w := apporder.NewWorker(svc, sub, scheduler, sink, time.Minute, nil)
	w.Start()

	return &workerFixture{svc: svc, repo: repo, sub: sub, scheduler: scheduler, sink: sink, pub: pub}
}

func (f *workerFixture) createOrder(t *testing.T) int32 {
	t.Helper()
	result, err := f.svc.CreateOrder(context.Background(), apporder.CreateOrderInput{
		UserID: 7,
		Items:  []apporder.ItemInput{{NoodleID: 1, Quantity: 2}},
	})
	require.NoError(t, err)
	return result.OrderID
}

func (f *workerFixture) status(t *testing.T, id int32) domain.Status {
	t.Helper()
	o, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func requested(orderID int32) dompayment.RequestedEvent {
	return dompayment.RequestedEvent{
		OrderID:     orderID,
		UserID:      7,
		Amount:      decimal.RequireFromString("17.98"),
		Currency:    "VND",
		RequestedAt: time.Now().UTC(),
	}
}

func completed(orderID int32) dompayment.CompletedEvent {
	return dompayment.CompletedEvent{
		OrderID:       orderID,
		UserID:        7,
		Amount:        decimal.RequireFromString("17.98"),
		Currency:      "VND",
		PaymentID:     1,
		TransactionID: "txn_test",
		CompletedAt:   time.Now().UTC(),
	}
}

func failed(orderID int32, retryable bool) dompayment.FailedEvent {
	return dompayment.FailedEvent{
		OrderID:     orderID,
		UserID:      7,
		Amount:      decimal.RequireFromString("17.98"),
		Currency:    "VND",
		Reason:      "declined",
		ErrorCode:   dompayment.CodePaymentDeclined,
		IsRetryable: retryable,
		FailedAt:    time.Now().UTC(),
	}
}

func TestWorkerHappyPath(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.createOrder(t)

	f.sub.deliver(t, domain.CreatedEvent{OrderID: id, UserID: 7})
	assert.Equal(t, domain.StatusProcessing, f.status(t, id))

	f.sub.deliver(t, requested(id))
	assert.Equal(t, domain.StatusAwaitingPayment, f.status(t, id))
	assert.True(t, f.scheduler.pending(id), "payment timeout armed")

	f.sub.deliver(t, completed(id))
	assert.Equal(t, domain.StatusInPreparation, f.status(t, id))
	assert.False(t, f.scheduler.pending(id), "timeout cancelled on outcome")
}

// payment.requested may arrive before order.created; the ack accepts Pending
// too and the late order.created becomes a no-op.
func TestWorkerToleratesEventReordering(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.createOrder(t)

	f.sub.deliver(t, requested(id))
	assert.Equal(t, domain.StatusAwaitingPayment, f.status(t, id))

	f.sub.deliver(t, domain.CreatedEvent{OrderID: id, UserID: 7})
	assert.Equal(t, domain.StatusAwaitingPayment, f.status(t, id))
}

func TestWorkerDuplicateCompletedIsIdempotent(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.createOrder(t)

	f.sub.deliver(t, domain.CreatedEvent{OrderID: id, UserID: 7})
	f.sub.deliver(t, requested(id))
	f.sub.deliver(t, completed(id))
	f.sub.deliver(t, completed(id))

	assert.Equal(t, domain.StatusInPreparation, f.status(t, id))

	// one status_changed per applied transition, not per delivery
	changed := f.pub.byName("order.status_changed")
	assert.Len(t, changed, 3)
}

func TestWorkerPaymentFailedRetryable(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.createOrder(t)

	f.sub.deliver(t, requested(id))
	f.sub.deliver(t, failed(id, true))

	assert.Equal(t, domain.StatusPaymentFailedRetryable, f.status(t, id))

	entries := f.sink.Entries()
	var found bool
	for _, e := range entries {
		if e.Event == "order.payment_retry_available" {
			found = true
		}
	}
	assert.True(t, found, "retryable failure leaves an audit trail")
}

func TestWorkerPaymentFailedTerminal(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.createOrder(t)

	f.sub.deliver(t, requested(id))
	f.sub.deliver(t, failed(id, false))

	assert.Equal(t, domain.StatusCancelled, f.status(t, id))
	assert.False(t, f.scheduler.pending(id))
}

func TestWorkerPaymentTimeout(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.createOrder(t)

	f.sub.deliver(t, requested(id))
	require.True(t, f.scheduler.pending(id))

	f.scheduler.scheduled[id]()
	assert.Equal(t, domain.StatusPaymentTimeout, f.status(t, id))
}

// an outcome that already settled the order wins over a late-firing timeout
func TestWorkerTimeoutLosesRaceToOutcome(t *testing.T) {
	f := newWorkerFixture(t)
	id := f.createOrder(t)

	f.sub.deliver(t, requested(id))
	timeoutFn := f.scheduler.scheduled[id]

	f.sub.deliver(t, completed(id))
	timeoutFn()

	assert.Equal(t, domain.StatusInPreparation, f.status(t, id))
}

// panicScheduler blows up when the worker tries to arm the payment timeout,
// after the order already reached AwaitingPayment.
type panicScheduler struct{}

func (panicScheduler) Schedule(int32, time.Duration, func()) { panic("scheduler wedged") }
func (panicScheduler) Cancel(int32) bool                     { return false }

// a crash while the payment request is being set up must not escape to the
// bus; the order lands in PaymentProcessingFailed instead of sticking in
// AwaitingPayment forever.
func TestWorkerPaymentRequestPanicMovesToProcessingFailed(t *testing.T) {
	repo := memory.NewOrderRepository()
	pub := &capturePublisher{}
	sink := auditsink.NewMemorySink()
	svc := apporder.NewService(repo, memory.DefaultMenu(), pub, sink, nil)
	sub := newCaptureSubscriber()

	w := apporder.NewWorker(svc, sub, panicScheduler{}, sink, time.Minute, nil)
	w.Start()

	result, err := svc.CreateOrder(context.Background(), apporder.CreateOrderInput{
		UserID: 7,
		Items:  []apporder.ItemInput{{NoodleID: 1, Quantity: 2}},
	})
	require.NoError(t, err)

	sub.deliver(t, requested(result.OrderID))

	o, err := repo.Get(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaymentProcessingFailed, o.Status)
}

func TestWorkerUnknownOrderIsConsistencyFault(t *testing.T) {
	f := newWorkerFixture(t)

	f.sub.deliver(t, completed(999))

	var found bool
	for _, e := range f.sink.Entries() {
		if e.Event == "order.consistency_fault" {
			found = true
		}
	}
	assert.True(t, found)
}
