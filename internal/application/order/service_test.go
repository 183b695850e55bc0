package order_test

import (
	"context"
	"sync"
	"testing"

	apporder "github.com/noodleworks/orderflow/internal/application/order"
	"github.com/noodleworks/orderflow/internal/domain/audit"
	domain "github.com/noodleworks/orderflow/internal/domain/order"
	domoutbox "github.com/noodleworks/orderflow/internal/domain/outbox"
	dompayment "github.com/noodleworks/orderflow/internal/domain/payment"
	auditsink "github.com/noodleworks/orderflow/internal/infrastructure/audit"
	"github.com/noodleworks/orderflow/internal/infrastructure/memory"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturePublisher records published events for assertions.
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

func (p *capturePublisher) byName(name string) []domoutbox.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo.Filter(p.events, func(e domoutbox.Event, _ int) bool {
		return e.EventName() == name
	})
}

func newService(t *testing.T) (*apporder.Service, *memory.OrderRepository, *capturePublisher, *auditsink.MemorySink) {
	t.Helper()
	repo := memory.NewOrderRepository()
	pub := &capturePublisher{}
	sink := auditsink.NewMemorySink()
	svc := apporder.NewService(repo, memory.DefaultMenu(), pub, sink, nil)
	return svc, repo, pub, sink
}

func TestCreateOrderPricesFromMenu(t *testing.T) {
	svc, repo, pub, _ := newService(t)
	ctx := context.Background()

	result, err := svc.CreateOrder(ctx, apporder.CreateOrderInput{
		UserID: 7,
		Items: []apporder.ItemInput{
			{NoodleID: 1, Quantity: 2}, // 2 x 8.99
			{NoodleID: 2, Quantity: 1}, // 1 x 7.49
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, result.Status)
	assert.Equal(t, "25.47", result.TotalAmount)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "17.98", result.Items[0].Subtotal.StringFixed(2))

	stored, err := repo.Get(ctx, result.OrderID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(domain.SumSubtotals(stored.Items)))

	created := pub.byName("order.created")
	require.Len(t, created, 1)

	requested := pub.byName("payment.requested")
	require.Len(t, requested, 1, "exactly one payment request per order")
	evt := requested[0].(dompayment.RequestedEvent)
	assert.Equal(t, result.OrderID, evt.OrderID)
	assert.True(t, evt.Amount.Equal(decimal.RequireFromString("25.47")))
	assert.Equal(t, "VND", evt.Currency)
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _, pub, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, apporder.CreateOrderInput{
		UserID: 0,
		Items:  []apporder.ItemInput{{NoodleID: 1, Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidUser)

	_, err = svc.CreateOrder(ctx, apporder.CreateOrderInput{UserID: 7})
	require.ErrorIs(t, err, apporder.ErrNoItems)

	_, err = svc.CreateOrder(ctx, apporder.CreateOrderInput{
		UserID: 7,
		Items:  []apporder.ItemInput{{NoodleID: 1, Quantity: 0}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = svc.CreateOrder(ctx, apporder.CreateOrderInput{
		UserID: 7,
		Items:  []apporder.ItemInput{{NoodleID: 999, Quantity: 1}},
	})
	require.Error(t, err)

	assert.Empty(t, pub.byName("payment.requested"), "rejected orders never request payment")
}

func TestCreateOrderRecordsAudit(t *testing.T) {
	svc, _, _, sink := newService(t)

	_, err := svc.CreateOrder(context.Background(), apporder.CreateOrderInput{
		UserID: 7,
		Items:  []apporder.ItemInput{{NoodleID: 3, Quantity: 1}},
	})
	require.NoError(t, err)

	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "order.created", entries[0].Event)
	assert.Equal(t, int32(7), entries[0].UserID)
}

func TestChangeStatusPublishesAfterPersist(t *testing.T) {
	svc, repo, pub, _ := newService(t)
	ctx := context.Background()

	result, err := svc.CreateOrder(ctx, apporder.CreateOrderInput{
		UserID: 7,
		Items:  []apporder.ItemInput{{NoodleID: 1, Quantity: 1}},
	})
	require.NoError(t, err)

	updated, err := svc.ChangeStatus(ctx, result.OrderID,
		[]domain.Status{domain.StatusPending}, domain.StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, updated.Status)

	stored, err := repo.Get(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, stored.Status)

	changed := pub.byName("order.status_changed")
	require.Len(t, changed, 1)
	evt := changed[0].(domain.StatusChangedEvent)
	assert.Equal(t, domain.StatusPending, evt.OldStatus)
	assert.Equal(t, domain.StatusProcessing, evt.NewStatus)
}

func TestChangeStatusConflictPublishesNothing(t *testing.T) {
	svc, _, pub, _ := newService(t)
	ctx := context.Background()

	result, err := svc.CreateOrder(ctx, apporder.CreateOrderInput{
		UserID: 7,
		Items:  []apporder.ItemInput{{NoodleID: 1, Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = svc.ChangeStatus(ctx, result.OrderID,
		[]domain.Status{domain.StatusAwaitingPayment}, domain.StatusInPreparation)
	require.ErrorIs(t, err, domain.ErrStatusConflict)
	assert.Empty(t, pub.byName("order.status_changed"))
}

var _ audit.Sink = (*auditsink.MemorySink)(nil)
