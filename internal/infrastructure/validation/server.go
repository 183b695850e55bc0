// Package validation carries the synchronous cross-service order check: the
// order side serves it, the payment side calls it before settling. Amounts
// cross this boundary as float64; callers re-apply a decimal comparison on
// receipt.
package validation

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	domain "github.com/noodleworks/orderflow/internal/domain/order"
	"github.com/noodleworks/orderflow/internal/observability"
)

const RoutePath = "/rpc/order/validate"

type ValidateRequest struct {
	OrderID int32 `json:"order_id"`
}

type ValidateResponse struct {
	Exists  bool       `json:"exists"`
	Message string     `json:"message"`
	Order   *OrderInfo `json:"order,omitempty"`
}

type OrderInfo struct {
	OrderID     int32   `json:"order_id"`
	UserID      int32   `json:"user_id"`
	Status      string  `json:"status"`
	TotalAmount float64 `json:"total_amount"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// Server answers "does order X exist, and what is its total?". Pure read, no
// side effects. Unknown ids are a normal exists=false response; only store
// faults are reported as errors.
type Server struct {
	repo domain.Repository
	log  observability.Logger
}

func NewServer(repo domain.Repository, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Server{
		repo: repo,
		log:  logger.With(observability.F("component", "order_validation_server")),
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(RoutePath, s.handleValidate)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ValidateResponse{Message: "invalid request body"})
		return
	}

	o, err := s.repo.Get(r.Context(), req.OrderID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusOK, ValidateResponse{
			Exists:  false,
			Message: "order not found",
		})
	case err != nil:
		s.log.Error("order_lookup_failed",
			observability.F("order_id", req.OrderID),
			observability.F("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, ValidateResponse{Message: "internal error"})
	default:
		amount, _ := o.TotalAmount.Float64()
		writeJSON(w, http.StatusOK, ValidateResponse{
			Exists:  true,
			Message: "order found",
			Order: &OrderInfo{
				OrderID:     o.ID,
				UserID:      o.UserID,
				Status:      string(o.Status),
				TotalAmount: amount,
				CreatedAt:   o.CreatedAt.Format(time.RFC3339Nano),
				UpdatedAt:   o.UpdatedAt.Format(time.RFC3339Nano),
			},
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
