package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	domain "github.com/noodleworks/orderflow/internal/domain/payment"
)

type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[int32]*domain.Payment
	nextID   int32
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments: make(map[int32]*domain.Payment),
		nextID:   1,
	}
}

func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) (*domain.Payment, error) {
	_ = ctx
	if p == nil {
		return nil, fmt.Errorf("payment repository: payment is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	clone := p.Clone()
	clone.ID = r.nextID
	r.nextID++
	r.payments[clone.ID] = clone
	return clone.Clone(), nil
}

func (r *PaymentRepository) Get(ctx context.Context, id int32) (*domain.Payment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID int32) ([]*domain.Payment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Payment
	for _, p := range r.payments {
		if p.OrderID == orderID {
			out = append(out, p.Clone())
		}
	}
	sortPayments(out)
	return out, nil
}

func (r *PaymentRepository) ListAll(ctx context.Context) ([]*domain.Payment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Payment, 0, len(r.payments))
	for _, p := range r.payments {
		out = append(out, p.Clone())
	}
	sortPayments(out)
	return out, nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *domain.Payment) error {
	_ = ctx
	if p == nil || p.ID == 0 {
		return fmt.Errorf("payment repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[p.ID]; !ok {
		return domain.ErrNotFound
	}
	r.payments[p.ID] = p.Clone()
	return nil
}

func sortPayments(payments []*domain.Payment) {
	slices.SortFunc(payments, func(a, b *domain.Payment) int {
		return int(a.ID) - int(b.ID)
	})
}
