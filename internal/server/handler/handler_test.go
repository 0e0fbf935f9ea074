package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mahrens917/common-sub001/internal/domain"
	"github.com/mahrens917/common-sub001/internal/executor"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testTS = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

func filledState() *domain.OrderExecutionState {
	avg, fees := int64(45), int64(7)
	return &domain.OrderExecutionState{
		OrderID:               "ord-1",
		ClientOrderID:         "6f1c2a8e-6d8c-4b0a-9a8e-1f2b3c4d5e6f",
		Status:                domain.OrderStatusFilled,
		Ticker:                "KXHIGHNY-25MAR14-B60",
		Side:                  domain.OrderSideYes,
		Action:                domain.OrderActionBuy,
		Type:                  domain.OrderTypeLimit,
		FilledCount:           10,
		AverageFillPriceCents: &avg,
		FeesCents:             &fees,
		TradeRule:             "weather_edge",
		TradeReason:           "forecast high above strike",
		Timestamp:             testTS,
	}
}

type fakeOrders struct {
	gotReq     domain.OrderRequest
	gotTimeout time.Duration
	state      *domain.OrderExecutionState
	err        error
	batch      []executor.BatchItemResult
}

func (f *fakeOrders) SubmitAndTrack(_ context.Context, req domain.OrderRequest, timeout time.Duration) (*domain.OrderExecutionState, error) {
	f.gotReq, f.gotTimeout = req, timeout
	return f.state, f.err
}

func (f *fakeOrders) SubmitBatch(_ context.Context, reqs []domain.OrderRequest, _ time.Duration) ([]executor.BatchItemResult, error) {
	if len(reqs) == 0 {
		return nil, &domain.ValidationError{Field: "orders", Message: "batch must contain at least one order"}
	}
	return f.batch, nil
}

func (f *fakeOrders) GetOrder(_ context.Context, id string) (*domain.OrderExecutionState, error) {
	if f.state == nil || f.state.OrderID != id {
		return nil, domain.ErrNotFound
	}
	return f.state, nil
}

func (f *fakeOrders) CalculateFee(contracts, priceCents int64, _ string) (int64, error) {
	if contracts < 0 {
		return 0, &domain.ValidationError{Field: "contracts", Message: "must not be negative"}
	}
	return contracts * priceCents / 100, nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

const orderJSON = `{
	"ticker": "KXHIGHNY-25MAR14-B60",
	"action": "buy",
	"side": "yes",
	"count": 10,
	"client_order_id": "6f1c2a8e-6d8c-4b0a-9a8e-1f2b3c4d5e6f",
	"trade_rule": "weather_edge",
	"trade_reason": "forecast high above strike",
	"order_type": "limit",
	"price_cents": 45,
	"time_in_force": "good_till_cancelled",
	"timeout_seconds": 2.5
}`

func TestSubmitOrder(t *testing.T) {
	orders := &fakeOrders{state: filledState()}
	h := NewOrderHandler(orders, discardLogger())

	rec := httptest.NewRecorder()
	h.SubmitOrder(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(orderJSON)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if orders.gotReq.PriceCents != 45 || orders.gotReq.Type != domain.OrderTypeLimit || orders.gotTimeout != 2500*time.Millisecond {
		t.Fatalf("request: %+v timeout %v", orders.gotReq, orders.gotTimeout)
	}
	order := decode(t, rec)["order"].(map[string]any)
	if order["status"] != "FILLED" || order["order_id"] != "ord-1" {
		t.Fatalf("order: %v", order)
	}
}

func TestSubmitOrderHugeTimeoutSaturates(t *testing.T) {
	orders := &fakeOrders{state: filledState()}
	h := NewOrderHandler(orders, discardLogger())
	body := strings.Replace(orderJSON, `"timeout_seconds": 2.5`, `"timeout_seconds": 1e20`, 1)

	h.SubmitOrder(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body)))

	if orders.gotTimeout != maxDuration {
		t.Fatalf("timeout: got %v want %v", orders.gotTimeout, maxDuration)
	}
	if got := seconds(2); got != 2*time.Second {
		t.Fatalf("seconds(2): got %v", got)
	}
}

func TestSubmitOrderErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		state  *domain.OrderExecutionState
		status int
		code   string
	}{
		{"validation", &domain.ValidationError{Field: "count", Message: "must be positive"}, nil, http.StatusBadRequest, domain.CodeValidation},
		{"rate limited", domain.ErrRateLimited, nil, http.StatusTooManyRequests, domain.CodeRateLimited},
		{"duplicate", domain.ErrDuplicateOrder, nil, http.StatusConflict, domain.CodeDuplicate},
		{"persistence", &domain.TradePersistenceError{OrderID: "ord-1", Err: errors.New("db down")}, nil, http.StatusInternalServerError, domain.CodeTradePersistence},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewOrderHandler(&fakeOrders{err: tc.err, state: tc.state}, discardLogger())
			rec := httptest.NewRecorder()
			h.SubmitOrder(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(orderJSON)))
			if rec.Code != tc.status {
				t.Fatalf("status %d want %d", rec.Code, tc.status)
			}
			if got := decode(t, rec)["code"]; got != tc.code {
				t.Fatalf("code %v want %s", got, tc.code)
			}
		})
	}
}

func TestSubmitOrderNotificationFailureStillReturnsOrder(t *testing.T) {
	h := NewOrderHandler(&fakeOrders{
		state: filledState(),
		err:   &domain.TradeNotificationError{OrderID: "ord-1", Err: errors.New("telegram down")},
	}, discardLogger())
	rec := httptest.NewRecorder()
	h.SubmitOrder(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(orderJSON)))

	body := decode(t, rec)
	if rec.Code != http.StatusOK || body["warning"] == nil || body["order"] == nil {
		t.Fatalf("status %d body %v", rec.Code, body)
	}
}

func TestSubmitOrderRejectsUnknownFields(t *testing.T) {
	h := NewOrderHandler(&fakeOrders{}, discardLogger())
	rec := httptest.NewRecorder()
	h.SubmitOrder(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"yes_price":45}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestSubmitBatch(t *testing.T) {
	orders := &fakeOrders{batch: []executor.BatchItemResult{
		{Index: 0, State: filledState()},
		{Index: 1, ErrorCode: domain.CodeValidation, ErrorMessage: "count: must be positive"},
	}}
	h := NewOrderHandler(orders, discardLogger())

	body := `{"orders":[` + orderJSONNoTimeout() + `,` + orderJSONNoTimeout() + `]}`
	rec := httptest.NewRecorder()
	h.SubmitBatch(rec, httptest.NewRequest(http.MethodPost, "/api/orders/batch", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	results := decode(t, rec)["results"].([]any)
	second := results[1].(map[string]any)
	if len(results) != 2 || second["error_code"] != domain.CodeValidation || second["order"] != nil {
		t.Fatalf("results: %v", results)
	}

	rec = httptest.NewRecorder()
	h.SubmitBatch(rec, httptest.NewRequest(http.MethodPost, "/api/orders/batch", strings.NewReader(`{"orders":[]}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty batch status %d", rec.Code)
	}
}

func orderJSONNoTimeout() string {
	return strings.Replace(orderJSON, `,
	"timeout_seconds": 2.5`, "", 1)
}

func TestGetOrderRoute(t *testing.T) {
	h := NewOrderHandler(&fakeOrders{state: filledState()}, discardLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/ord-1", nil))
	order := decode(t, rec)["order"].(map[string]any)
	if rec.Code != http.StatusOK || order["trade_rule"] != "weather_edge" {
		t.Fatalf("status %d order %v", rec.Code, order)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing order status %d", rec.Code)
	}
}

func TestCalculateFee(t *testing.T) {
	h := NewOrderHandler(&fakeOrders{}, discardLogger())

	rec := httptest.NewRecorder()
	h.CalculateFee(rec, httptest.NewRequest(http.MethodGet, "/api/fees?contracts=10&price=50&ticker=KXHIGHNY", nil))
	if rec.Code != http.StatusOK || decode(t, rec)["fee_cents"] != float64(5) {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.CalculateFee(rec, httptest.NewRequest(http.MethodGet, "/api/fees?contracts=ten&price=50", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

type fakeTrades struct {
	opts domain.ListOpts
}

func (f *fakeTrades) GetByOrderID(_ context.Context, id string) (domain.TradeRecord, error) {
	if id != "ord-1" {
		return domain.TradeRecord{}, domain.ErrNotFound
	}
	return domain.TradeRecord{OrderID: "ord-1", Side: domain.TradeSideYes, TradeTimestamp: testTS}, nil
}

func (f *fakeTrades) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	f.opts = opts
	return []domain.TradeRecord{{OrderID: "ord-1", Side: domain.TradeSideYes, TradeTimestamp: testTS}}, nil
}

func TestListTrades(t *testing.T) {
	trades := &fakeTrades{}
	h := NewTradeHandler(trades, discardLogger())

	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?limit=9999&since=2025-01-01T00:00:00Z", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if trades.opts.Limit != maxListLimit || trades.opts.Since == nil {
		t.Fatalf("opts: %+v", trades.opts)
	}
	list := decode(t, rec)["trades"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["trade_timestamp"] != "2025-03-14T15:09:26Z" {
		t.Fatalf("trades: %v", list)
	}

	rec = httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?since=yesterday", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since status %d", rec.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, discardLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	body := decode(t, rec)
	if rec.Code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("status %d body %v", rec.Code, body)
	}
	deps := body["dependencies"].(map[string]any)
	if deps["postgres"] != "ok" || deps["redis"] != "connection refused" {
		t.Fatalf("deps: %v", deps)
	}
}

type fakeAudit struct {
	opts    domain.ListOpts
	orderID string
}

func (f *fakeAudit) ListForOrder(_ context.Context, orderID string) ([]domain.AuditEntry, error) {
	f.orderID = orderID
	return []domain.AuditEntry{
		{ID: 1, Event: "order.submitted", CreatedAt: testTS},
		{ID: 2, Event: "order.filled", CreatedAt: testTS},
	}, nil
}

func (f *fakeAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	f.opts = opts
	return []domain.AuditEntry{{
		ID:        7,
		Event:     "order.cancelled",
		Detail:    map[string]any{"order_id": "ord-1"},
		CreatedAt: testTS,
	}}, nil
}

func TestListAudit(t *testing.T) {
	audit := &fakeAudit{}
	h := NewAuditHandler(audit, discardLogger())

	rec := httptest.NewRecorder()
	h.ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit?limit=5&offset=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if audit.opts.Limit != 5 || audit.opts.Offset != 10 {
		t.Fatalf("opts: %+v", audit.opts)
	}
	entries := decode(t, rec)["entries"].([]any)
	entry := entries[0].(map[string]any)
	if entry["event"] != "order.cancelled" || entry["created_at"] != "2025-03-14T15:09:26Z" {
		t.Fatalf("entry: %v", entry)
	}

	rec = httptest.NewRecorder()
	h.ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit?order_id=ord-1", nil))
	entries = decode(t, rec)["entries"].([]any)
	if audit.orderID != "ord-1" || len(entries) != 2 {
		t.Fatalf("order audit: %q %v", audit.orderID, entries)
	}
}

type fakeStream struct{}

func (fakeStream) StreamRead(_ context.Context, _ string, lastID string, _ int) ([]domain.StreamMessage, error) {
	if lastID != "0" {
		return nil, nil
	}
	return []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"type":"order_executed"}`)},
		{ID: "2-0", Payload: []byte(`not json`)},
	}, nil
}

func TestListEvents(t *testing.T) {
	h := NewEventHandler(fakeStream{}, "events", discardLogger())
	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	body := decode(t, rec)
	events := body["events"].([]any)
	if len(events) != 1 || body["next"] != "2-0" {
		t.Fatalf("body: %v", body)
	}
}

type fakeQuoter struct{}

func (fakeQuoter) Fee(contracts, price int64, _ string) (int64, error) { return contracts, nil }

func (fakeQuoter) MakerFee(int64, int64, string) (int64, error) { return 1, nil }

func (fakeQuoter) Category(string) string { return "general" }

func (fakeQuoter) IsProfitableAfterFees(contracts, trade, theoretical int64, _ string, action domain.OrderAction, _ bool) (bool, error) {
	if action != domain.OrderActionBuy {
		return false, errors.New("fees: action must be buy or sell")
	}
	return (theoretical-trade)*contracts-contracts > 0, nil
}

func TestProfitability(t *testing.T) {
	h := NewFeeHandler(fakeQuoter{}, discardLogger())

	rec := httptest.NewRecorder()
	h.Profitability(rec, httptest.NewRequest(http.MethodGet, "/api/fees/profitability?contracts=10&price=40&theoretical=50&ticker=ABC&action=buy", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	body := decode(t, rec)
	if body["profitable"] != true || body["taker_fee_cents"] != float64(10) || body["category"] != "general" {
		t.Fatalf("body: %v", body)
	}

	for _, q := range []string{
		"contracts=x&price=40&theoretical=50&action=buy",
		"contracts=1&price=40&theoretical=50&action=buy&maker=maybe",
		"contracts=1&price=40&theoretical=50&action=hold",
	} {
		rec = httptest.NewRecorder()
		h.Profitability(rec, httptest.NewRequest(http.MethodGet, "/api/fees/profitability?"+q, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", q, rec.Code)
		}
	}
}
