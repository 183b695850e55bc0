package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apppayment "github.com/noodleworks/orderflow/internal/application/payment"
	"github.com/noodleworks/orderflow/internal/observability"
	"github.com/noodleworks/orderflow/internal/observability/logctx"
	"github.com/shopspring/decimal"
)

// Client calls the order validation RPC with bounded retry: up to maxAttempts
// attempts, linear backoff attempt×backoffStep. Only transport errors are
// retried; a definitive exists=false is returned immediately. The HTTP
// timeout here is the call's own budget, separate from the broker's
// redelivery timeout, so this retry loop never nests inside broker retries.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	backoffStep time.Duration
	log         observability.Logger
	extRequests observability.Counter
	extDuration observability.Histogram
}

const (
	defaultMaxAttempts = 3
	defaultBackoffStep = 200 * time.Millisecond
	defaultCallTimeout = 2 * time.Second
	peerOrderService   = "order-validation"
)

func NewClient(baseURL string, logger observability.Logger, tel observability.Observability) *Client {
	if logger == nil {
		logger = observability.NopLogger()
	}
	metrics := observability.NopMetrics()
	if tel != nil {
		metrics = tel.Metrics()
	}
	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: defaultCallTimeout},
		maxAttempts: defaultMaxAttempts,
		backoffStep: defaultBackoffStep,
		log:         logger.With(observability.F("component", "order_validation_client")),
		extRequests: metrics.Counter(observability.MExternalRequests),
		extDuration: metrics.Histogram(observability.MExternalRequestDuration),
	}
}

// ValidateOrderExists reports whether the order exists.
// ErrOrderServiceUnavailable after retry exhaustion.
func (c *Client) ValidateOrderExists(ctx context.Context, orderID int32) (bool, error) {
	resp, err := c.callWithRetry(ctx, orderID)
	if err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// GetOrderDetails returns the validated order, ErrOrderNotFound when the
// service definitively reports it missing, or ErrOrderServiceUnavailable on
// exhaustion. The wire float64 amount is re-normalized to a decimal.
func (c *Client) GetOrderDetails(ctx context.Context, orderID int32) (*apppayment.OrderDetails, error) {
	resp, err := c.callWithRetry(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !resp.Exists || resp.Order == nil {
		return nil, apppayment.ErrOrderNotFound
	}

	// malformed timestamps are logged and zeroed; settlement only depends on
	// the amount, which stays exact.
	created := c.parseWireTime(ctx, orderID, "created_at", resp.Order.CreatedAt)
	updated := c.parseWireTime(ctx, orderID, "updated_at", resp.Order.UpdatedAt)
	return &apppayment.OrderDetails{
		OrderID:     resp.Order.OrderID,
		UserID:      resp.Order.UserID,
		Status:      resp.Order.Status,
		TotalAmount: decimal.NewFromFloat(resp.Order.TotalAmount).Round(2),
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}

func (c *Client) parseWireTime(ctx context.Context, orderID int32, field, raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		logctx.FromOr(ctx, c.log).Warn("order_timestamp_malformed",
			observability.F("order_id", orderID),
			observability.F("field", field),
			observability.F("value", raw),
			observability.F("error", err.Error()),
		)
		return time.Time{}
	}
	return t
}

func (c *Client) callWithRetry(ctx context.Context, orderID int32) (*ValidateResponse, error) {
	logger := logctx.FromOr(ctx, c.log)

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.call(ctx, orderID)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		logger.Warn("order_validation_attempt_failed",
			observability.F("order_id", orderID),
			observability.F("attempt", attempt),
			observability.F("error", err.Error()),
		)

		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * c.backoffStep):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", apppayment.ErrOrderServiceUnavailable, ctx.Err())
		}
	}
	return nil, fmt.Errorf("%w: %w", apppayment.ErrOrderServiceUnavailable, lastErr)
}

func (c *Client) call(ctx context.Context, orderID int32) (*ValidateResponse, error) {
	body, err := json.Marshal(ValidateRequest{OrderID: orderID})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+RoutePath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.extRequests.Add(1,
		observability.L("peer", peerOrderService),
		observability.L("endpoint", RoutePath),
		observability.L("outcome", outcome),
	)
	c.extDuration.Observe(time.Since(start).Seconds(),
		observability.L("peer", peerOrderService),
		observability.L("endpoint", RoutePath),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("validation: unexpected status %d", httpResp.StatusCode)
	}

	var resp ValidateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("validation: decode response: %w", err)
	}
	return &resp, nil
}
