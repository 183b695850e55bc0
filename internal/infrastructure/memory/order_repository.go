package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	domain "github.com/noodleworks/orderflow/internal/domain/order"
)

// OrderRepository is an in-memory order store. UpdateStatus is the saga's
// compare-and-set boundary: the mutex serializes the read-check-write so
// concurrent handlers cannot both win the same transition.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[int32]*domain.Order
	nextID int32
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[int32]*domain.Order),
		nextID: 1,
	}
}

func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) (*domain.Order, error) {
	_ = ctx
	if o == nil {
		return nil, fmt.Errorf("order repository: order is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	clone := o.Clone()
	clone.ID = r.nextID
	r.nextID++
	r.orders[clone.ID] = clone
	return clone.Clone(), nil
}

func (r *OrderRepository) Get(ctx context.Context, id int32) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID int32) ([]*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, o.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

func (r *OrderRepository) ListAll(ctx context.Context) ([]*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o.Clone())
	}
	sortByID(out)
	return out, nil
}

// UpdateStatus applies the transition only while the stored status is one of
// the expected prior states. On conflict it returns the current order
// together with ErrStatusConflict so the caller can decide whether the
// redelivery was idempotent.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int32, from []domain.Status, to domain.Status) (*domain.Order, domain.Status, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, "", domain.ErrNotFound
	}

	prev := o.Status
	if !slices.Contains(from, prev) {
		return o.Clone(), prev, domain.ErrStatusConflict
	}

	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return o.Clone(), prev, nil
}

func sortByID(orders []*domain.Order) {
	slices.SortFunc(orders, func(a, b *domain.Order) int {
		return int(a.ID) - int(b.ID)
	})
}
