package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noodleworks/orderflow/internal/domain/audit"
	"github.com/noodleworks/orderflow/internal/domain/money"
	domoutbox "github.com/noodleworks/orderflow/internal/domain/outbox"
	domain "github.com/noodleworks/orderflow/internal/domain/payment"
	"github.com/noodleworks/orderflow/internal/observability"
	"github.com/noodleworks/orderflow/internal/observability/logctx"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	paymentService        = "payment-service"
	useCaseSettle         = "payment.settle"
	spanPrefix            = "UC."
	defaultPaymentMethod  = "Mock Payment"
	defaultHighValueLimit = "1000"
)

// Config tunes the settlement worker. Zero values fall back to the demo
// deployment defaults.
type Config struct {
	// HighValueThreshold flags payments for audit above this amount.
	// Flagged, not blocked.
	HighValueThreshold decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.HighValueThreshold.IsZero() {
		c.HighValueThreshold = decimal.RequireFromString(defaultHighValueLimit)
	}
	return c
}

// Worker is the payment-side saga coordinator. It consumes
// payment.requested, validates the order across the service boundary,
// persists the settlement attempt, and publishes exactly one terminal
// outcome event on every exit path.
type Worker struct {
	repo       domain.Repository
	validator  OrderValidator
	gateway    Gateway
	subscriber domoutbox.Subscriber
	publisher  domoutbox.Publisher
	auditSink  audit.Sink
	cfg        Config
	tel        observability.Observability

	log      observability.Logger
	requests observability.Counter
	duration observability.Histogram
	outcomes observability.Counter
}

func NewWorker(
	repo domain.Repository,
	validator OrderValidator,
	gw Gateway,
	subscriber domoutbox.Subscriber,
	publisher domoutbox.Publisher,
	auditSink audit.Sink,
	cfg Config,
	tel observability.Observability,
) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &Worker{
		repo:       repo,
		validator:  validator,
		gateway:    gw,
		subscriber: subscriber,
		publisher:  publisher,
		auditSink:  auditSink,
		cfg:        cfg.withDefaults(),
		tel:        tel,
		log:        tel.Logger().With(observability.F("service", paymentService)),
		requests:   metrics.Counter(observability.MUsecaseRequests),
		duration:   metrics.Histogram(observability.MUsecaseDuration),
		outcomes:   metrics.Counter(observability.MPaymentOutcomes),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil {
		return
	}
	w.subscriber.Subscribe(domain.RequestedEvent{}.EventName(), w.handlePaymentRequested)
}

// outcomeGuard guarantees the terminal-outcome rule: once a payment request
// reaches persistence, exactly one CompletedEvent or FailedEvent leaves the
// handler, even when the handler body fails or panics between persistence
// and publication.
type outcomeGuard struct {
	w         *Worker
	evt       domain.RequestedEvent
	payment   *domain.Payment
	armed     bool
	published bool
}

func (g *outcomeGuard) fail(ctx context.Context, code, reason string, retryable bool) {
	if g.published {
		return
	}
	g.published = true

	g.w.outcomes.Add(1, observability.L("outcome", code))
	err := g.w.publisher.Publish(ctx, domain.FailedEvent{
		OrderID:     g.evt.OrderID,
		UserID:      g.evt.UserID,
		Amount:      g.evt.Amount,
		Currency:    g.evt.Currency,
		Reason:      reason,
		ErrorCode:   code,
		IsRetryable: retryable,
		FailedAt:    time.Now().UTC(),
	})
	if err != nil {
		logctx.FromOr(ctx, g.w.log).Error("payment_failed_publish_error",
			observability.F("order_id", g.evt.OrderID),
			observability.F("error_code", code),
			observability.F("error", err.Error()),
		)
	}
}

func (g *outcomeGuard) complete(ctx context.Context, completedAt time.Time) {
	if g.published {
		return
	}
	g.published = true

	g.w.outcomes.Add(1, observability.L("outcome", "completed"))
	err := g.w.publisher.Publish(ctx, domain.CompletedEvent{
		OrderID:       g.evt.OrderID,
		UserID:        g.evt.UserID,
		Amount:        g.evt.Amount,
		Currency:      g.evt.Currency,
		PaymentID:     g.payment.ID,
		TransactionID: g.payment.TransactionID,
		CompletedAt:   completedAt,
	})
	if err != nil {
		logctx.FromOr(ctx, g.w.log).Error("payment_completed_publish_error",
			observability.F("order_id", g.evt.OrderID),
			observability.F("error", err.Error()),
		)
	}
}

// ensure runs deferred around the handler body, with the recover() result
// passed in from the deferred closure itself. If settlement began without a
// published outcome, it marks the payment failed and publishes
// PROCESSING_ERROR rather than leaving the order stuck in AwaitingPayment.
func (g *outcomeGuard) ensure(ctx context.Context, r any) {
	if r != nil {
		logctx.FromOr(ctx, g.w.log).Error("payment_handler_panic",
			observability.F("order_id", g.evt.OrderID),
			observability.F("panic", r),
		)
	}
	if !g.armed || g.published {
		return
	}

	if g.payment != nil {
		g.payment.MarkFailed()
		if err := g.w.repo.Update(ctx, g.payment); err != nil {
			logctx.FromOr(ctx, g.w.log).Error("payment_mark_failed_error",
				observability.F("payment_id", g.payment.ID),
				observability.F("error", err.Error()),
			)
		}
	}
	g.fail(ctx, domain.CodeProcessingError, "unexpected error during settlement", true)
}

// handlePaymentRequested never returns an error to the bus: every failure
// path already published its outcome event, and a broker-level redelivery on
// top of that would amplify retries.
func (w *Worker) handlePaymentRequested(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domain.RequestedEvent)
	if !ok {
		return nil
	}

	ctx, span := w.tel.Tracer().Start(ctx, spanPrefix+"SettlePayment",
		attribute.String("use_case", useCaseSettle),
		attribute.Int("order.id", int(evt.OrderID)),
		attribute.String("payment.amount", evt.Amount.String()),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("use_case", useCaseSettle),
		observability.F("order_id", evt.OrderID),
		observability.F("amount", evt.Amount.String()),
	)
	ctx = logctx.With(ctx, logger)

	guard := &outcomeGuard{w: w, evt: evt}

	defer func() {
		// recover must be called directly in this deferred func to stop an
		// in-flight panic; a panicked settlement still publishes its outcome
		// and never bubbles up into a broker redelivery.
		guard.ensure(ctx, recover())

		lat := time.Since(start).Seconds()
		w.requests.Add(1,
			observability.L("use_case", useCaseSettle),
			observability.L("outcome", outcome),
		)
		w.duration.Observe(lat, observability.L("use_case", useCaseSettle))

		if outcome == "error" {
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		logger.Info("use_case_done",
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		)
	}()

	// 1. fraud and sanity checks
	if code, reason, ok := w.checkRequest(ctx, evt); !ok {
		outcome, statusText = "error", code
		guard.fail(ctx, code, reason, false)
		return nil
	}

	// 2. synchronous cross-service validation
	details, err := w.validator.GetOrderDetails(ctx, evt.OrderID)
	switch {
	case errors.Is(err, ErrOrderNotFound):
		outcome, statusText = "error", domain.CodeOrderNotFound
		guard.fail(ctx, domain.CodeOrderNotFound, fmt.Sprintf("order %d does not exist", evt.OrderID), false)
		return nil
	case errors.Is(err, ErrOrderServiceUnavailable):
		outcome, statusText = "error", domain.CodeOrderDetailsError
		guard.fail(ctx, domain.CodeOrderDetailsError, "order service unavailable", true)
		return nil
	case err != nil:
		outcome, statusText = "error", domain.CodeOrderDetailsError
		guard.fail(ctx, domain.CodeOrderDetailsError, err.Error(), true)
		return nil
	}

	if !money.WithinEpsilon(details.TotalAmount, evt.Amount) {
		outcome, statusText = "error", domain.CodeAmountMismatch
		guard.fail(ctx, domain.CodeAmountMismatch,
			fmt.Sprintf("requested %s but order total is %s", evt.Amount.StringFixed(2), details.TotalAmount.StringFixed(2)),
			false)
		return nil
	}

	// 3. persist the settlement attempt; the outcome guard is armed from
	// here on
	p, err := domain.New(evt.OrderID, evt.Amount, evt.Currency, defaultPaymentMethod)
	if err != nil {
		outcome, statusText = "error", domain.CodeInvalidAmount
		guard.fail(ctx, domain.CodeInvalidAmount, err.Error(), false)
		return nil
	}
	guard.armed = true

	p, err = w.repo.Create(ctx, p)
	if err != nil {
		outcome, statusText = "error", domain.CodeProcessingError
		logger.Error("payment_persist_failed", observability.F("error", err.Error()))
		guard.fail(ctx, domain.CodeProcessingError, "could not persist payment", true)
		return nil
	}
	guard.payment = p

	// 4. settle
	txnID, err := w.gateway.Charge(ctx, evt.OrderID, evt.Amount)
	if errors.Is(err, ErrPaymentDeclined) {
		p.MarkFailed()
		if uerr := w.repo.Update(ctx, p); uerr != nil {
			logger.Error("payment_update_failed", observability.F("error", uerr.Error()))
		}
		outcome, statusText = "error", domain.CodePaymentDeclined
		w.recordAudit(ctx, "payment.declined", evt, p)
		guard.fail(ctx, domain.CodePaymentDeclined, "payment gateway declined", true)
		return nil
	}
	if err != nil {
		p.MarkFailed()
		if uerr := w.repo.Update(ctx, p); uerr != nil {
			logger.Error("payment_update_failed", observability.F("error", uerr.Error()))
		}
		outcome, statusText = "error", domain.CodeProcessingError
		guard.fail(ctx, domain.CodeProcessingError, err.Error(), true)
		return nil
	}

	// 5. success: persist first, then publish
	p.MarkCompleted(txnID)
	if err := w.repo.Update(ctx, p); err != nil {
		outcome, statusText = "error", domain.CodeProcessingError
		logger.Error("payment_update_failed", observability.F("error", err.Error()))
		guard.fail(ctx, domain.CodeProcessingError, "could not persist settled payment", true)
		return nil
	}

	w.recordAudit(ctx, "payment.completed", evt, p)
	guard.complete(ctx, *p.PaidAt)
	return nil
}

// checkRequest runs the fraud and sanity checks of the settlement flow.
// High-value payments are flagged for audit, not blocked.
func (w *Worker) checkRequest(ctx context.Context, evt domain.RequestedEvent) (code, reason string, ok bool) {
	if evt.Amount.LessThanOrEqual(decimal.Zero) {
		return domain.CodeInvalidAmount, fmt.Sprintf("invalid payment amount %s", evt.Amount), false
	}
	if evt.UserID <= 0 {
		return domain.CodeInvalidUser, fmt.Sprintf("invalid user id %d", evt.UserID), false
	}

	m, err := money.New(evt.Amount, evt.Currency)
	if err != nil {
		return domain.CodeInvalidAmount, fmt.Sprintf("unsupported currency %q", evt.Currency), false
	}

	if evt.Amount.GreaterThan(w.cfg.HighValueThreshold) {
		logctx.FromOr(ctx, w.log).Warn("high_value_payment_flagged",
			observability.F("order_id", evt.OrderID),
			observability.F("amount", m.String()),
		)
		if w.auditSink != nil {
			w.auditSink.Record(ctx, audit.Entry{
				Event:   "payment.high_value_flagged",
				OrderID: evt.OrderID,
				UserID:  evt.UserID,
				Detail:  m.String(),
			})
		}
	}
	return "", "", true
}

func (w *Worker) recordAudit(ctx context.Context, event string, evt domain.RequestedEvent, p *domain.Payment) {
	if w.auditSink == nil {
		return
	}
	w.auditSink.Record(ctx, audit.Entry{
		Event:   event,
		OrderID: evt.OrderID,
		UserID:  evt.UserID,
		Fields: map[string]any{
			"payment_id":     p.ID,
			"amount":         p.Amount.StringFixed(2),
			"currency":       p.Currency,
			"status":         string(p.Status),
			"transaction_id": p.TransactionID,
		},
	})
}
