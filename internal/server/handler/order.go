package handler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/mahrens917/common-sub001/internal/domain"
	"github.com/mahrens917/common-sub001/internal/executor"
)

// OrderService is the part of the executor the order endpoints use.
type OrderService interface {
	SubmitAndTrack(ctx context.Context, req domain.OrderRequest, timeout time.Duration) (*domain.OrderExecutionState, error)
	SubmitBatch(ctx context.Context, reqs []domain.OrderRequest, timeout time.Duration) ([]executor.BatchItemResult, error)
	GetOrder(ctx context.Context, orderID string) (*domain.OrderExecutionState, error)
	CalculateFee(contracts, priceCents int64, ticker string) (int64, error)
}

// OrderHandler serves order execution and fee endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logHandler(logger, "orders")}
}

// orderBody is the JSON form of an order request.
type orderBody struct {
	Ticker        string     `json:"ticker"`
	Action        string     `json:"action"`
	Side          string     `json:"side"`
	Count         int64      `json:"count"`
	ClientOrderID string     `json:"client_order_id"`
	TradeRule     string     `json:"trade_rule"`
	TradeReason   string     `json:"trade_reason"`
	OrderType     string     `json:"order_type"`
	PriceCents    int64      `json:"price_cents"`
	TimeInForce   string     `json:"time_in_force"`
	ExpirationTS  *time.Time `json:"expiration_ts,omitempty"`
}

func (b orderBody) request() domain.OrderRequest {
	return domain.OrderRequest{
		Ticker:        b.Ticker,
		Action:        domain.OrderAction(b.Action),
		Side:          domain.OrderSide(b.Side),
		Count:         b.Count,
		ClientOrderID: b.ClientOrderID,
		TradeRule:     b.TradeRule,
		TradeReason:   b.TradeReason,
		Type:          domain.OrderType(b.OrderType),
		PriceCents:    b.PriceCents,
		TimeInForce:   domain.TimeInForce(b.TimeInForce),
		ExpirationTS:  b.ExpirationTS,
	}
}

type submitBody struct {
	orderBody
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

type batchBody struct {
	Orders         []orderBody `json:"orders"`
	TimeoutSeconds float64     `json:"timeout_seconds"`
}

type batchItem struct {
	Index        int            `json:"index"`
	Order        map[string]any `json:"order,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// maxDuration saturates timeouts too large for time.Duration so the executor
// rejects them as above its maximum.
const maxDuration = time.Duration(math.MaxInt64)

func seconds(s float64) time.Duration {
	if s >= maxDuration.Seconds() {
		return maxDuration
	}
	return time.Duration(s * float64(time.Second))
}

// SubmitOrder executes one order to a terminal state.
// POST /api/orders
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	state, err := h.orders.SubmitAndTrack(r.Context(), body.request(), seconds(body.TimeoutSeconds))
	var notification *domain.TradeNotificationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"order": executor.ResponseData(state)})
	case errors.As(err, &notification) && state != nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"order":   executor.ResponseData(state),
			"warning": err.Error(),
		})
	default:
		h.logger.WarnContext(r.Context(), "submit order failed",
			slog.String("client_order_id", body.ClientOrderID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
	}
}

// SubmitBatch executes up to 20 orders concurrently. Per-item failures are
// reported in the response body.
// POST /api/orders/batch
func (h *OrderHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var body batchBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	reqs := make([]domain.OrderRequest, len(body.Orders))
	for i, o := range body.Orders {
		reqs[i] = o.request()
	}

	results, err := h.orders.SubmitBatch(r.Context(), reqs, seconds(body.TimeoutSeconds))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items := make([]batchItem, len(results))
	for i, res := range results {
		items[i] = batchItem{Index: res.Index, ErrorCode: res.ErrorCode, ErrorMessage: res.ErrorMessage}
		if res.State != nil {
			items[i].Order = executor.ResponseData(res.State)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

// GetOrder returns the current exchange view of an order.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}
	state, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		h.logger.WarnContext(r.Context(), "get order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	resp := executor.ResponseData(state)
	resp["trade_rule"] = state.TradeRule
	resp["trade_reason"] = state.TradeReason
	writeJSON(w, http.StatusOK, map[string]any{"order": resp})
}

// CalculateFee returns the fee for a hypothetical fill.
// GET /api/fees?contracts=10&price=45&ticker=KXHIGHNY-25MAR14-B60
func (h *OrderHandler) CalculateFee(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	contracts, err := strconv.ParseInt(q.Get("contracts"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "contracts must be an integer")
		return
	}
	price, err := strconv.ParseInt(q.Get("price"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "price must be an integer")
		return
	}
	ticker := q.Get("ticker")

	fee, err := h.orders.CalculateFee(contracts, price, ticker)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contracts":   contracts,
		"price_cents": price,
		"ticker":      ticker,
		"fee_cents":   fee,
	})
}
