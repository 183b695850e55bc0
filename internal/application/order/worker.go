package order

import (
	"context"
	"errors"
	"time"

	"github.com/noodleworks/orderflow/internal/domain/audit"
	domain "github.com/noodleworks/orderflow/internal/domain/order"
	domoutbox "github.com/noodleworks/orderflow/internal/domain/outbox"
	dompayment "github.com/noodleworks/orderflow/internal/domain/payment"
	"github.com/noodleworks/orderflow/internal/observability"
	"github.com/noodleworks/orderflow/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	workerService         = "order-worker"
	defaultPaymentTimeout = 15 * time.Minute
)

// Worker is the order-side saga coordinator: four independent consumers
// driving Order.Status through the lifecycle. Every handler is idempotent
// against redelivery; re-observing an event for an order already in the
// target status is a no-op, not an error.
type Worker struct {
	svc            *Service
	subscriber     domoutbox.Subscriber
	scheduler      TimeoutScheduler
	auditSink      audit.Sink
	paymentTimeout time.Duration
	tel            observability.Observability

	log      observability.Logger
	requests observability.Counter
	duration observability.Histogram
}

func NewWorker(
	svc *Service,
	subscriber domoutbox.Subscriber,
	scheduler TimeoutScheduler,
	auditSink audit.Sink,
	paymentTimeout time.Duration,
	tel observability.Observability,
) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	if paymentTimeout <= 0 {
		paymentTimeout = defaultPaymentTimeout
	}
	metrics := tel.Metrics()
	return &Worker{
		svc:            svc,
		subscriber:     subscriber,
		scheduler:      scheduler,
		auditSink:      auditSink,
		paymentTimeout: paymentTimeout,
		tel:            tel,
		log:            tel.Logger().With(observability.F("service", workerService)),
		requests:       metrics.Counter(observability.MUsecaseRequests),
		duration:       metrics.Histogram(observability.MUsecaseDuration),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.svc == nil {
		return
	}
	w.subscriber.Subscribe(domain.CreatedEvent{}.EventName(), w.handleOrderCreated)
	w.subscriber.Subscribe(dompayment.RequestedEvent{}.EventName(), w.handlePaymentRequested)
	w.subscriber.Subscribe(dompayment.CompletedEvent{}.EventName(), w.handlePaymentCompleted)
	w.subscriber.Subscribe(dompayment.FailedEvent{}.EventName(), w.handlePaymentFailed)
}

// handleOrderCreated moves Pending orders to Processing. The payment request
// was already published by the creation path, so this handler never emits
// one; it only advances status and records the trail.
func (w *Worker) handleOrderCreated(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domain.CreatedEvent)
	if !ok {
		return nil
	}

	const useCase = "order.worker.order_created"
	ctx, finish := w.begin(ctx, "OrderCreated", useCase, evt.OrderID)
	status := "OK"
	defer func() { finish(status) }()

	_, err := w.svc.ChangeStatus(ctx, evt.OrderID,
		[]domain.Status{domain.StatusPending}, domain.StatusProcessing)
	if err != nil {
		status = w.resolveTransition(ctx, err, evt.OrderID, domain.StatusProcessing)
		return nil
	}

	if w.auditSink != nil {
		w.auditSink.Record(ctx, audit.Entry{
			Event:   "order.processing",
			OrderID: evt.OrderID,
			UserID:  evt.UserID,
			Fields: map[string]any{
				"total_amount": evt.TotalAmount.StringFixed(2),
				"item_count":   len(evt.Items),
			},
		})
	}
	return nil
}

// handlePaymentRequested acknowledges that the payment request is in flight:
// the order moves to AwaitingPayment and the payment timeout starts ticking.
// Pending is accepted alongside Processing because the broker does not order
// order.created ahead of payment.requested.
func (w *Worker) handlePaymentRequested(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(dompayment.RequestedEvent)
	if !ok {
		return nil
	}

	const useCase = "order.worker.payment_requested"
	ctx, finish := w.begin(ctx, "PaymentRequested", useCase, evt.OrderID)
	status := "OK"
	defer func() { finish(status) }()

	defer func() {
		if r := recover(); r != nil {
			status = "PAYMENT_REQUEST_PANIC"
			logctx.FromOr(ctx, w.log).Error("payment_request_handling_panic",
				observability.F("order_id", evt.OrderID),
				observability.F("panic", r),
			)
			if _, err := w.svc.ChangeStatus(ctx, evt.OrderID,
				[]domain.Status{domain.StatusAwaitingPayment}, domain.StatusPaymentProcessingFailed); err != nil {
				logctx.FromOr(ctx, w.log).Error("payment_processing_failed_transition_rejected",
					observability.F("order_id", evt.OrderID),
					observability.F("error", err.Error()),
				)
			}
		}
	}()

	_, err := w.svc.ChangeStatus(ctx, evt.OrderID,
		[]domain.Status{domain.StatusPending, domain.StatusProcessing}, domain.StatusAwaitingPayment)
	if err != nil {
		status = w.resolveTransition(ctx, err, evt.OrderID, domain.StatusAwaitingPayment)
		return nil
	}

	if w.scheduler != nil {
		w.scheduler.Schedule(evt.OrderID, w.paymentTimeout, func() {
			w.HandlePaymentTimeout(context.Background(), evt.OrderID)
		})
	}
	return nil
}

// handlePaymentCompleted finalizes the happy path:
// AwaitingPayment → InPreparation.
func (w *Worker) handlePaymentCompleted(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(dompayment.CompletedEvent)
	if !ok {
		return nil
	}

	const useCase = "order.worker.payment_completed"
	ctx, finish := w.begin(ctx, "PaymentCompleted", useCase, evt.OrderID)
	status := "OK"
	defer func() { finish(status) }()

	if w.scheduler != nil {
		w.scheduler.Cancel(evt.OrderID)
	}

	_, err := w.svc.ChangeStatus(ctx, evt.OrderID,
		[]domain.Status{domain.StatusAwaitingPayment}, domain.StatusInPreparation)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// a payment settled for an order we no longer know: a consistency
		// fault, reported but not retried.
		status = "CONSISTENCY_FAULT"
		logctx.FromOr(ctx, w.log).Error("payment_completed_for_unknown_order",
			observability.F("order_id", evt.OrderID),
			observability.F("transaction_id", evt.TransactionID),
		)
		w.recordFault(ctx, evt.OrderID, evt.UserID, "payment completed for unknown order")
		return nil
	case err != nil:
		status = w.resolveTransition(ctx, err, evt.OrderID, domain.StatusInPreparation)
		return nil
	}

	if w.auditSink != nil {
		w.auditSink.Record(ctx, audit.Entry{
			Event:   "order.payment_completed",
			OrderID: evt.OrderID,
			UserID:  evt.UserID,
			Fields: map[string]any{
				"amount":         evt.Amount.StringFixed(2),
				"currency":       evt.Currency,
				"payment_id":     evt.PaymentID,
				"transaction_id": evt.TransactionID,
			},
		})
	}
	return nil
}

// handlePaymentFailed routes the order by retryability:
// AwaitingPayment → PaymentFailedRetryable or Cancelled.
func (w *Worker) handlePaymentFailed(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(dompayment.FailedEvent)
	if !ok {
		return nil
	}

	const useCase = "order.worker.payment_failed"
	ctx, finish := w.begin(ctx, "PaymentFailed", useCase, evt.OrderID)
	status := "OK"
	defer func() { finish(status) }()

	if w.scheduler != nil {
		w.scheduler.Cancel(evt.OrderID)
	}

	target := domain.StatusCancelled
	if evt.IsRetryable {
		target = domain.StatusPaymentFailedRetryable
	}

	_, err := w.svc.ChangeStatus(ctx, evt.OrderID,
		[]domain.Status{domain.StatusAwaitingPayment}, target)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = "CONSISTENCY_FAULT"
		logctx.FromOr(ctx, w.log).Error("payment_failed_for_unknown_order",
			observability.F("order_id", evt.OrderID),
			observability.F("error_code", evt.ErrorCode),
		)
		w.recordFault(ctx, evt.OrderID, evt.UserID, "payment failed for unknown order")
		return nil
	case err != nil:
		status = w.resolveTransition(ctx, err, evt.OrderID, target)
		return nil
	}

	if evt.IsRetryable && w.auditSink != nil {
		// the customer may re-attempt payment; nothing is republished
		// without their action.
		w.auditSink.Record(ctx, audit.Entry{
			Event:   "order.payment_retry_available",
			OrderID: evt.OrderID,
			UserID:  evt.UserID,
			Detail:  evt.Reason,
			Fields:  map[string]any{"error_code": evt.ErrorCode},
		})
	}
	return nil
}

// HandlePaymentTimeout expires an order still awaiting payment. Invoked by
// the timeout scheduler; the compare-and-set makes it a no-op when the
// outcome event won the race.
func (w *Worker) HandlePaymentTimeout(ctx context.Context, orderID int32) {
	const useCase = "order.worker.payment_timeout"
	ctx, finish := w.begin(ctx, "PaymentTimeout", useCase, orderID)
	status := "OK"
	defer func() { finish(status) }()

	_, err := w.svc.ChangeStatus(ctx, orderID,
		[]domain.Status{domain.StatusAwaitingPayment}, domain.StatusPaymentTimeout)
	if err != nil {
		status = w.resolveTransition(ctx, err, orderID, domain.StatusPaymentTimeout)
		return
	}

	logctx.FromOr(ctx, w.log).Warn("payment_timed_out",
		observability.F("order_id", orderID),
	)
}

// resolveTransition classifies a ChangeStatus failure: reaching the target
// through an earlier delivery is idempotent success; anything else is logged
// and dropped, never thrown back at the broker.
func (w *Worker) resolveTransition(ctx context.Context, err error, orderID int32, target domain.Status) string {
	logger := logctx.FromOr(ctx, w.log)

	var current domain.Status
	if errors.Is(err, domain.ErrStatusConflict) {
		if o, gerr := w.svc.Get(ctx, orderID); gerr == nil {
			current = o.Status
		}
		if current == target {
			logger.Debug("transition_already_applied",
				observability.F("order_id", orderID),
				observability.F("status", string(target)),
			)
			return "IDEMPOTENT_REPLAY"
		}
		logger.Warn("transition_rejected",
			observability.F("order_id", orderID),
			observability.F("current_status", string(current)),
			observability.F("target_status", string(target)),
		)
		return "TRANSITION_REJECTED"
	}

	logger.Error("transition_failed",
		observability.F("order_id", orderID),
		observability.F("target_status", string(target)),
		observability.F("error", err.Error()),
	)
	return "TRANSITION_FAILED"
}

func (w *Worker) recordFault(ctx context.Context, orderID, userID int32, detail string) {
	if w.auditSink == nil {
		return
	}
	w.auditSink.Record(ctx, audit.Entry{
		Event:   "order.consistency_fault",
		OrderID: orderID,
		UserID:  userID,
		Detail:  detail,
	})
}

// begin opens the span and returns a closure finishing the common handler
// bookkeeping.
func (w *Worker) begin(ctx context.Context, spanName, useCase string, orderID int32) (context.Context, func(status string)) {
	ctx, span := w.tel.Tracer().Start(ctx, spanPrefix+spanName,
		attribute.String("use_case", useCase),
		attribute.Int("order.id", int(orderID)),
	)
	start := time.Now()

	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("use_case", useCase),
		observability.F("order_id", orderID),
	)
	ctx = logctx.With(ctx, logger)

	return ctx, func(status string) {
		lat := time.Since(start).Seconds()
		outcome := "success"
		switch status {
		case "OK", "IDEMPOTENT_REPLAY":
		default:
			outcome = "error"
		}

		w.requests.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
		w.duration.Observe(lat, observability.L("use_case", useCase))

		if outcome == "error" {
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		span.End()

		logger.Info("use_case_done",
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", lat),
		)
	}
}
