package payment

import (
	"context"
	"errors"

	domain "github.com/noodleworks/orderflow/internal/domain/payment"
)

// Service exposes read access to payments. All writes go through the
// settlement worker.
type Service struct {
	repo domain.Repository
}

func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, id int32) (*domain.Payment, error) {
	if id <= 0 {
		return nil, errors.New("payment: id is required")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByOrder(ctx context.Context, orderID int32) ([]*domain.Payment, error) {
	if orderID <= 0 {
		return nil, errors.New("payment: order id is required")
	}
	return s.repo.ListByOrder(ctx, orderID)
}

func (s *Service) ListAll(ctx context.Context) ([]*domain.Payment, error) {
	return s.repo.ListAll(ctx)
}
