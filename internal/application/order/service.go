package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noodleworks/orderflow/internal/domain/audit"
	"github.com/noodleworks/orderflow/internal/domain/menu"
	domain "github.com/noodleworks/orderflow/internal/domain/order"
	domoutbox "github.com/noodleworks/orderflow/internal/domain/outbox"
	dompayment "github.com/noodleworks/orderflow/internal/domain/payment"
	"github.com/noodleworks/orderflow/internal/observability"
	"github.com/noodleworks/orderflow/internal/observability/logctx"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	orderService       = "order-service"
	useCaseOrderCreate = "order.create"
	spanPrefix         = "UC."
	publishTimeout     = 300 * time.Millisecond
	defaultCurrency    = "VND"
)

var ErrNoItems = errors.New("order: at least one item is required")

// Service owns order creation, queries, and the compare-and-set status
// transition every saga handler funnels through.
type Service struct {
	repo      domain.Repository
	catalog   menu.Catalog
	publisher domoutbox.Publisher
	auditSink audit.Sink
	currency  string
	tel       observability.Observability

	log      observability.Logger
	requests observability.Counter
	duration observability.Histogram
}

func NewService(
	repo domain.Repository,
	catalog menu.Catalog,
	publisher domoutbox.Publisher,
	auditSink audit.Sink,
	tel observability.Observability,
) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &Service{
		repo:      repo,
		catalog:   catalog,
		publisher: publisher,
		auditSink: auditSink,
		currency:  defaultCurrency,
		tel:       tel,
		log:       tel.Logger().With(observability.F("service", orderService)),
		requests:  metrics.Counter(observability.MUsecaseRequests),
		duration:  metrics.Histogram(observability.MUsecaseDuration),
	}
}

type ItemInput struct {
	NoodleID int32
	Quantity int
}

type CreateOrderInput struct {
	UserID int32
	Items  []ItemInput
}

type CreateOrderResult struct {
	OrderID     int32
	Status      domain.Status
	TotalAmount string
	Items       []domain.Item
}

// CreateOrder prices the requested items off the menu, persists the order as
// Pending, and publishes order.created plus the single payment.requested for
// this order. No other code path requests payment, so redeliveries can never
// double-charge.
func (s *Service) CreateOrder(ctx context.Context, cmd CreateOrderInput) (_ *CreateOrderResult, err error) {
	logger := logctx.FromOr(ctx, s.log).With(
		observability.F("use_case", useCaseOrderCreate),
		observability.F("user_id", cmd.UserID),
	)

	ctx, span := s.tel.Tracer().Start(ctx, spanPrefix+"CreateOrder",
		attribute.String("use_case", useCaseOrderCreate),
		attribute.Int("order.user_id", int(cmd.UserID)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		lat := time.Since(start).Seconds()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		s.requests.Add(1,
			observability.L("use_case", useCaseOrderCreate),
			observability.L("outcome", outcome),
		)
		s.duration.Observe(lat, observability.L("use_case", useCaseOrderCreate))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if cmd.UserID <= 0 {
		outcome, statusText = "error", "USER_ID_INVALID"
		return nil, domain.ErrInvalidUser
	}
	if len(cmd.Items) == 0 {
		outcome, statusText = "error", "NO_ITEMS"
		return nil, ErrNoItems
	}

	items := make([]domain.Item, 0, len(cmd.Items))
	for _, in := range cmd.Items {
		if in.Quantity < 1 {
			outcome, statusText = "error", "QUANTITY_INVALID"
			return nil, domain.ErrInvalidQuantity
		}
		noodle, cerr := s.catalog.Get(ctx, in.NoodleID)
		if cerr != nil {
			outcome, statusText = "error", "NOODLE_UNKNOWN"
			return nil, fmt.Errorf("order: price item %d: %w", in.NoodleID, cerr)
		}
		items = append(items, domain.Item{
			NoodleID: noodle.ID,
			Name:     noodle.Name,
			Quantity: in.Quantity,
			Subtotal: noodle.BasePrice.Mul(decimalFromInt(in.Quantity)),
		})
	}

	entity, err := domain.New(cmd.UserID, items)
	if err != nil {
		outcome, statusText = "error", "DOMAIN_CONSTRUCTION_FAILED"
		return nil, err
	}

	entity, err = s.repo.Create(ctx, entity)
	if err != nil {
		outcome, statusText = "error", "REPO_CREATE_FAILED"
		return nil, fmt.Errorf("order: create: %w", err)
	}

	span.SetAttributes(
		attribute.Int("order.id", int(entity.ID)),
		attribute.String("order.total", entity.TotalAmount.String()),
	)

	s.publish(ctx, logger, domain.NewCreatedEvent(entity))
	s.publish(ctx, logger, dompayment.RequestedEvent{
		OrderID:     entity.ID,
		UserID:      entity.UserID,
		Amount:      entity.TotalAmount,
		Currency:    s.currency,
		RequestedAt: time.Now().UTC(),
	})

	if s.auditSink != nil {
		s.auditSink.Record(ctx, audit.Entry{
			Event:   "order.created",
			OrderID: entity.ID,
			UserID:  entity.UserID,
			Fields: map[string]any{
				"total_amount": entity.TotalAmount.StringFixed(2),
				"item_count":   len(entity.Items),
				"items": lo.Map(entity.Items, func(it domain.Item, _ int) string {
					return fmt.Sprintf("%s x%d = %s", it.Name, it.Quantity, it.Subtotal.StringFixed(2))
				}),
			},
		})
	}

	return &CreateOrderResult{
		OrderID:     entity.ID,
		Status:      entity.Status,
		TotalAmount: entity.TotalAmount.StringFixed(2),
		Items:       entity.Items,
	}, nil
}

func (s *Service) Get(ctx context.Context, id int32) (*domain.Order, error) {
	if id <= 0 {
		return nil, errors.New("order: id is required")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByUser(ctx context.Context, userID int32) ([]*domain.Order, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidUser
	}
	return s.repo.ListByUser(ctx, userID)
}

func (s *Service) ListAll(ctx context.Context) ([]*domain.Order, error) {
	return s.repo.ListAll(ctx)
}

// Menu lists the noodles customers can order.
func (s *Service) Menu(ctx context.Context) ([]*menu.Noodle, error) {
	return s.catalog.List(ctx)
}

// ChangeStatus applies one compare-and-set transition and, only after it
// persisted, publishes order.status_changed. On ErrStatusConflict the
// current order is returned so callers can tell an idempotent redelivery
// from a genuinely stale transition.
func (s *Service) ChangeStatus(ctx context.Context, id int32, from []domain.Status, to domain.Status) (*domain.Order, error) {
	updated, prev, err := s.repo.UpdateStatus(ctx, id, from, to)
	if err != nil {
		return updated, err
	}

	s.publish(ctx, logctx.FromOr(ctx, s.log), domain.NewStatusChangedEvent(updated, prev))
	return updated, nil
}

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

func (s *Service) publish(ctx context.Context, logger observability.Logger, e domoutbox.Event) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, e); err != nil {
		logger.Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err.Error()),
		)
	}
}
