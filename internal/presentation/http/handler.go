package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	apporder "github.com/noodleworks/orderflow/internal/application/order"
	apppayment "github.com/noodleworks/orderflow/internal/application/payment"
	domainmenu "github.com/noodleworks/orderflow/internal/domain/menu"
	domainorder "github.com/noodleworks/orderflow/internal/domain/order"
	domainpayment "github.com/noodleworks/orderflow/internal/domain/payment"
	"github.com/noodleworks/orderflow/internal/observability"
	"github.com/noodleworks/orderflow/internal/observability/logctx"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
)

// IDGenerator supplies request ids when the caller did not send one.
type IDGenerator interface {
	NewID() string
}

type Handler struct {
	orderService   *apporder.Service
	paymentService *apppayment.Service
	idGen          IDGenerator
	log            observability.Logger
	tel            observability.Observability
}

func NewHandler(
	orderSvc *apporder.Service,
	paymentSvc *apppayment.Service,
	idGen IDGenerator,
	tel observability.Observability,
) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		orderService:   orderSvc,
		paymentService: paymentSvc,
		idGen:          idGen,
		log:            tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:            tel,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// Each route is wrapped Trace → request logger → metrics → access log.
	h.muxHandle(mux, http.MethodPost, "/order", h.handleCreateOrder)
	h.muxHandle(mux, http.MethodGet, "/order", h.handleGetOrder)
	h.muxHandle(mux, http.MethodGet, "/orders", h.handleListOrders)
	h.muxHandle(mux, http.MethodGet, "/payments", h.handleListPayments)
	h.muxHandle(mux, http.MethodGet, "/menu", h.handleMenu)
	h.muxHandle(mux, http.MethodGet, "/health", h.handleHealth)

	return mux
}

func (h *Handler) muxHandle(mux *http.ServeMux, method, route string, handler http.HandlerFunc) {
	mux.HandleFunc(method+" "+route, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		// Stable route template keeps metric labels low-cardinality.
		ctx := contextWithRoute(r.Context(), route)
		r = r.WithContext(ctx)

		wrapped := h.withTrace(
			h.withRequestLogger(
				h.withAccessLog(
					h.withHTTPMetrics(http.HandlerFunc(handler)),
				),
			),
		)
		wrapped.ServeHTTP(w, r)
	})
}

type orderItemRequest struct {
	NoodleID int32 `json:"noodle_id"`
	Quantity int   `json:"quantity"`
}

type createOrderRequest struct {
	UserID int32              `json:"user_id"`
	Items  []orderItemRequest `json:"items"`
}

type orderItemResponse struct {
	NoodleID int32  `json:"noodle_id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Subtotal string `json:"subtotal"`
}

type createOrderResponse struct {
	OrderID     int32               `json:"order_id"`
	Status      domainorder.Status  `json:"status"`
	TotalAmount string              `json:"total_amount"`
	Items       []orderItemResponse `json:"items"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.orderService.CreateOrder(r.Context(), apporder.CreateOrderInput{
		UserID: req.UserID,
		Items: lo.Map(req.Items, func(it orderItemRequest, _ int) apporder.ItemInput {
			return apporder.ItemInput{NoodleID: it.NoodleID, Quantity: it.Quantity}
		}),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:     result.OrderID,
		Status:      result.Status,
		TotalAmount: result.TotalAmount,
		Items:       itemResponses(result.Items),
	})
}

type orderResponse struct {
	OrderID     int32               `json:"order_id"`
	UserID      int32               `json:"user_id"`
	Status      domainorder.Status  `json:"status"`
	TotalAmount string              `json:"total_amount"`
	Items       []orderItemResponse `json:"items"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := int32Query(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	o, err := h.orderService.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var (
		orders []*domainorder.Order
		err    error
	)
	if r.URL.Query().Has("user_id") {
		var userID int32
		userID, err = int32Query(r, "user_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		orders, err = h.orderService.ListByUser(r.Context(), userID)
	} else {
		orders, err = h.orderService.ListAll(r.Context())
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, lo.Map(orders, func(o *domainorder.Order, _ int) orderResponse {
		return toOrderResponse(o)
	}))
}

type paymentResponse struct {
	PaymentID     int32                `json:"payment_id"`
	OrderID       int32                `json:"order_id"`
	Amount        string               `json:"amount"`
	Currency      string               `json:"currency"`
	Status        domainpayment.Status `json:"status"`
	PaymentMethod string               `json:"payment_method"`
	TransactionID string               `json:"transaction_id,omitempty"`
	PaidAt        *time.Time           `json:"paid_at,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

func (h *Handler) handleListPayments(w http.ResponseWriter, r *http.Request) {
	var (
		payments []*domainpayment.Payment
		err      error
	)
	if r.URL.Query().Has("order_id") {
		var orderID int32
		orderID, err = int32Query(r, "order_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		payments, err = h.paymentService.ListByOrder(r.Context(), orderID)
	} else {
		payments, err = h.paymentService.ListAll(r.Context())
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, lo.Map(payments, func(p *domainpayment.Payment, _ int) paymentResponse {
		return paymentResponse{
			PaymentID:     p.ID,
			OrderID:       p.OrderID,
			Amount:        p.Amount.StringFixed(2),
			Currency:      p.Currency,
			Status:        p.Status,
			PaymentMethod: p.PaymentMethod,
			TransactionID: p.TransactionID,
			PaidAt:        p.PaidAt,
			CreatedAt:     p.CreatedAt,
		}
	}))
}

type menuEntryResponse struct {
	NoodleID int32  `json:"noodle_id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
}

func (h *Handler) handleMenu(w http.ResponseWriter, r *http.Request) {
	noodles, err := h.orderService.Menu(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, lo.Map(noodles, func(n *domainmenu.Noodle, _ int) menuEntryResponse {
		return menuEntryResponse{
			NoodleID: n.ID,
			Name:     n.Name,
			Price:    n.BasePrice.StringFixed(2),
		}
	}))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func toOrderResponse(o *domainorder.Order) orderResponse {
	return orderResponse{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Status:      o.Status,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Items:       itemResponses(o.Items),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func itemResponses(items []domainorder.Item) []orderItemResponse {
	return lo.Map(items, func(it domainorder.Item, _ int) orderItemResponse {
		return orderItemResponse{
			NoodleID: it.NoodleID,
			Name:     it.Name,
			Quantity: it.Quantity,
			Subtotal: it.Subtotal.StringFixed(2),
		}
	})
}

func int32Query(r *http.Request, key string) (int32, error) {
	raw := r.URL.Query().Get(key)
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, errors.New(key + " must be a 32-bit integer")
	}
	return int32(v), nil
}

// withRequestLogger extracts W3C trace context, fills in a request id, and
// injects a request-scoped logger with dynamic fields only.
func (h *Handler) withRequestLogger(next http.Handler) http.Handler {
	prop := otel.GetTextMapPropagator()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		sc := trace.SpanContextFromContext(ctx)

		rid := r.Header.Get(headerRequestID)
		if rid == "" && h.idGen != nil {
			rid = h.idGen.NewID()
		}
		w.Header().Set(headerRequestID, rid)

		fields := []observability.Field{observability.F("request_id", rid)}
		if sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		ctx = logctx.With(ctx, h.log.With(fields...))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withAccessLog writes a single access log line after the handler completes,
// through the request-scoped logger injected upstream.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withTrace opens a server span with W3C propagation from inbound headers.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		spanName := r.Method + " " + route
		if route == "unknown" {
			spanName = r.Method + " " + r.URL.Path
			route = r.URL.Path
		}

		ctx, span := otel.Tracer("orderflow.http").Start(parentCtx,
			spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withHTTPMetrics records request count and latency with injected vectors;
// metrics are never constructed inside the middleware.
func (h *Handler) withHTTPMetrics(next http.Handler) http.Handler {
	requests := h.tel.Metrics().Counter(observability.MHTTPRequests)
	duration := h.tel.Metrics().Histogram(observability.MHTTPRequestDuration)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		route := routeFromContext(r.Context())
		statusLabel := strconv.Itoa(lrw.status)
		requests.Add(1,
			observability.L("method", r.Method),
			observability.L("route", route),
			observability.L("status", statusLabel),
		)
		duration.Observe(time.Since(start).Seconds(),
			observability.L("method", r.Method),
			observability.L("route", route),
			observability.L("status", statusLabel),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domainorder.ErrNotFound),
		errors.Is(err, domainpayment.ErrNotFound),
		errors.Is(err, domainmenu.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domainorder.ErrInvalidQuantity),
		errors.Is(err, domainorder.ErrInvalidUser),
		errors.Is(err, domainorder.ErrNegativeAmount),
		errors.Is(err, domainpayment.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type routeKey struct{}

func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
