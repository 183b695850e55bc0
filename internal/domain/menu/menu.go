package menu

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("menu: noodle not found")

// Noodle is a priced menu entry. Order items are priced off BasePrice at
// creation time.
type Noodle struct {
	ID        int32
	Name      string
	BasePrice decimal.Decimal
}

type Catalog interface {
	Get(ctx context.Context, id int32) (*Noodle, error)
	List(ctx context.Context) ([]*Noodle, error)
}
