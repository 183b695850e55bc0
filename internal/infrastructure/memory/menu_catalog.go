package memory

import (
	"context"
	"slices"
	"sync"

	domain "github.com/noodleworks/orderflow/internal/domain/menu"
	"github.com/shopspring/decimal"
)

// MenuCatalog is a static in-memory noodle menu. Prices are fixed at
// construction; there is no mutation path.
type MenuCatalog struct {
	mu      sync.RWMutex
	noodles map[int32]*domain.Noodle
}

func NewMenuCatalog(noodles ...*domain.Noodle) *MenuCatalog {
	c := &MenuCatalog{noodles: make(map[int32]*domain.Noodle, len(noodles))}
	for _, n := range noodles {
		copied := *n
		c.noodles[n.ID] = &copied
	}
	return c
}

// DefaultMenu seeds the catalog the way the demo deployment does.
func DefaultMenu() *MenuCatalog {
	return NewMenuCatalog(
		&domain.Noodle{ID: 1, Name: "Spicy Beef Noodle", BasePrice: decimal.RequireFromString("8.99")},
		&domain.Noodle{ID: 2, Name: "Dan Dan Noodle", BasePrice: decimal.RequireFromString("7.49")},
		&domain.Noodle{ID: 3, Name: "Mala Dry Noodle", BasePrice: decimal.RequireFromString("9.25")},
		&domain.Noodle{ID: 4, Name: "Sichuan Cold Noodle", BasePrice: decimal.RequireFromString("6.75")},
	)
}

func (c *MenuCatalog) Get(ctx context.Context, id int32) (*domain.Noodle, error) {
	_ = ctx

	c.mu.RLock()
	defer c.mu.RUnlock()

	n, ok := c.noodles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *n
	return &copied, nil
}

func (c *MenuCatalog) List(ctx context.Context) ([]*domain.Noodle, error) {
	_ = ctx

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*domain.Noodle, 0, len(c.noodles))
	for _, n := range c.noodles {
		copied := *n
		out = append(out, &copied)
	}
	slices.SortFunc(out, func(a, b *domain.Noodle) int {
		return int(a.ID) - int(b.ID)
	})
	return out, nil
}
