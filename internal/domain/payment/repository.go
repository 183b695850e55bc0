package payment

import "context"

type Repository interface {
	Create(ctx context.Context, p *Payment) (*Payment, error)
	Get(ctx context.Context, id int32) (*Payment, error)
	ListByOrder(ctx context.Context, orderID int32) ([]*Payment, error)
	ListAll(ctx context.Context) ([]*Payment, error)
	Update(ctx context.Context, p *Payment) error
}
