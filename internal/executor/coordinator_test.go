package executor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mahrens917/common-sub001/internal/domain"
)

func TestSubmitAndTrackImmediateFillUsesMakerCost(t *testing.T) {
	h := newHarness()
	h.exchange.submit = func(req domain.OrderRequest) (map[string]any, error) {
		return orderPayload(req, "ord-a", "executed", 10, map[string]any{
			"maker_fill_cost": 450,
			"maker_fees":      7,
		}), nil
	}

	state, err := h.coord.SubmitAndTrack(context.Background(), validRequest(), time.Second)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state.Status != domain.OrderStatusFilled {
		t.Fatalf("status: got %s want filled", state.Status)
	}
	if h.exchange.fillCalls != 0 {
		t.Fatalf("fills fetched %d times, want 0", h.exchange.fillCalls)
	}
	rec, err := h.trades.GetByOrderID(context.Background(), "ord-a")
	if err != nil {
		t.Fatalf("trade not stored: %v", err)
	}
	if rec.PriceCents != 45 || rec.Quantity != 10 || rec.FeeCents != 7 || rec.CostCents != 457 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.MarketCategory != "weather" || rec.DomainTag != "KNYC" {
		t.Fatalf("unexpected category/tag %q/%q", rec.MarketCategory, rec.DomainTag)
	}
	if executed, _ := h.notifier.counts(); executed != 1 {
		t.Fatalf("executed notifications: got %d want 1", executed)
	}
}

func TestSubmitAndTrackImmediateFillReconcilesFromFills(t *testing.T) {
	h := newHarness()
	h.exchange.submit = func(req domain.OrderRequest) (map[string]any, error) {
		return orderPayload(req, "ord-a2", "executed", 10, nil), nil
	}
	h.exchange.fills["ord-a2"] = []map[string]any{fillEntry(6, 40), fillEntry(4, 45)}

	state, err := h.coord.SubmitAndTrack(context.Background(), validRequest(), time.Second)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state.AverageFillPriceCents == nil || *state.AverageFillPriceCents != 42 {
		t.Fatalf("average: got %v want 42", state.AverageFillPriceCents)
	}
	if state.Status != domain.OrderStatusFilled {
		t.Fatalf("status: got %s", state.Status)
	}
	if len(state.Fills) != 2 {
		t.Fatalf("fills: got %d want 2", len(state.Fills))
	}
	rec, err := h.trades.GetByOrderID(context.Background(), "ord-a2")
	if err != nil {
		t.Fatalf("trade not stored: %v", err)
	}
	if rec.PriceCents != 42 {
		t.Fatalf("price: got %d want 42", rec.PriceCents)
	}
}

func TestSubmitAndTrackPartialFillAfterWait(t *testing.T) {
	h := newHarness()
	h.exchange.submit = func(req domain.OrderRequest) (map[string]any, error) {
		return orderPayload(req, "ord-b", "resting", 0, nil), nil
	}
	h.exchange.fills["ord-b"] = []map[string]any{fillEntry(4, 50)}

	state, err := h.coord.SubmitAndTrack(context.Background(), validRequest(), time.Second)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state.Status != domain.OrderStatusPartiallyFilled {
		t.Fatalf("status: got %s want partially_filled", state.Status)
	}
	if state.FilledCount != 4 || state.RemainingCount != 6 {
		t.Fatalf("counts: filled=%d remaining=%d", state.FilledCount, state.RemainingCount)
	}
	if h.exchange.cancelCalls != 0 {
		t.Fatal("cancel must not be requested when fills exist")
	}
	rec, err := h.trades.GetByOrderID(context.Background(), "ord-b")
	if err != nil {
		t.Fatalf("trade not stored: %v", err)
	}
	if rec.Quantity != 4 || rec.PriceCents != 50 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestSubmitAndTrackCancelsWhenNothingFills(t *testing.T) {
	h := newHarness()
	req := validRequest()
	h.exchange.submit = func(req domain.OrderRequest) (map[string]any, error) {
		return orderPayload(req, "ord-c", "resting", 0, nil), nil
	}
	h.exchange.orders["ord-c"] = orderPayload(req, "ord-c", "canceled", 0, nil)

	state, err := h.coord.SubmitAndTrack(context.Background(), req, time.Second)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state.Status != domain.OrderStatusCancelled {
		t.Fatalf("status: got %s want cancelled", state.Status)
	}
	if h.trades.count() != 0 {
		t.Fatal("no trade should be stored for a cancelled order")
	}
	if state.TradeRule != req.TradeRule {
		t.Fatalf("trade rule lost: %q", state.TradeRule)
	}
	if !slices.Contains(h.audit.events, "order.cancelled") {
		t.Fatalf("audit events %v missing order.cancelled", h.audit.events)
	}
}

func TestSubmitAndTrackCancelRaceRecordsLateFills(t *testing.T) {
	h := newHarness()
	req := validRequest()
	h.exchange.submit = func(req domain.OrderRequest) (map[string]any, error) {
		return orderPayload(req, "ord-r", "resting", 0, nil), nil
	}
	// Fills are empty at the check but appear on the cancelled order.
	h.exchange.orders["ord-r"] = orderPayload(req, "ord-r", "canceled", 3, nil)
	fetches := 0
	h.coord.exchange = &lateFillExchange{fakeExchange: h.exchange, fetches: &fetches, late: []map[string]any{fillEntry(3, 30)}}
	h.coord.gate = NewCancellationGate(h.coord.exchange, h.coord.parser, discardLogger())

	state, err := h.coord.SubmitAndTrack(context.Background(), req, time.Second)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state.FilledCount != 3 || state.Status != domain.OrderStatusPartiallyFilled {
		t.Fatalf("unexpected state: filled=%d status=%s", state.FilledCount, state.Status)
	}
	if h.trades.count() != 1 {
		t.Fatal("late fills should produce a trade record")
	}
}

// lateFillExchange reports no fills on the first fetch and late fills after.
type lateFillExchange struct {
	*fakeExchange
	fetches *int
	late    []map[string]any
}

func (e *lateFillExchange) GetFills(_ context.Context, _ string) ([]map[string]any, error) {
	*e.fetches++
	if *e.fetches == 1 {
		return nil, nil
	}
	return e.late, nil
}

func TestSubmitAndTrackCancelRefused(t *testing.T) {
	h := newHarness()
	h.exchange.submit = func(req domain.OrderRequest) (map[string]any, error) {
		return orderPayload(req, "ord-d", "resting", 0, nil), nil
	}
	h.exchange.cancelOK = false

	_, err := h.coord.SubmitAndTrack(context.Background(), validRequest(), time.Second)
	var polling *domain.OrderPollingError
	if !errors.As(err, &polling) || polling.Stage != "cancel" {
		t.Fatalf("expected cancel OrderPollingError, got %v", err)
	}
	if _, failed := h.notifier.counts(); failed != 1 {
		t.Fatalf("error notifications: got %d want 1", failed)
	}
	if !slices.Contains(h.audit.events, "order.failed") {
		t.Fatalf("audit events %v missing order.failed", h.audit.events)
	}
}

func TestSubmitAndTrackCancelledAtSubmitSkipsWait(t *testing.T) {
	h := newHarness()
	h.exchange.submit = func(req domain.OrderRequest) (map[string]any, error) {
		return orderPayload(req, "ord-k", "canceled", 0, nil), nil
	}
	slept := false
	h.coord.WithSleeper(func(context.Context, time.Duration) error {
		slept = true
		return nil
	})

	state, err := h.coord.SubmitAndTrack(context.Background(), validRequest(), time.Second)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if slept || h.exchange.fillCalls != 0 {
		t.Fatal("cancelled-at-submit order must not wait or fetch fills")
	}
	if state.Status != domain.OrderStatusCancelled {
		t.Fatalf("status: got %s", state.Status)
	}
}

func TestSubmitAndTrackRejected(t *testing.T) {
	h := newHarness()
	h.exchange.submit = func(req domain.OrderRequest) (map[string]any, error) {
		return orderPayload(req, "ord-x", "rejected", 0, map[string]any{"rejection_reason": "insufficient balance"}), nil
	}

	_, err := h.coord.SubmitAndTrack(context.Background(), validRequest(), time.Second)
	var rejected *domain.OrderRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected OrderRejectedError, got %v", err)
	}
	if rejected.Reason != "insufficient balance" {
		t.Fatalf("reason: %q", rejected.Reason)
	}
	if _, err := h.metadata.GetOrderMetadata(context.Background(), "ord-x"); err != nil {
		t.Fatalf("metadata should be stored for rejected orders: %v", err)
	}
}

func TestSubmitAndTrackWaitInterrupted(t *testing.T) {
	h := newHarness()
	h.exchange.submit = func(req domain.OrderRequest) (map[string]any, error) {
		return orderPayload(req, "ord-w", "resting", 0, nil), nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.coord.SubmitAndTrack(ctx, validRequest(), time.Second)
	var polling *domain.OrderPollingError
	if !errors.As(err, &polling) || polling.Stage != "wait" {
		t.Fatalf("expected wait OrderPollingError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
}

func TestSubmitAndTrackReportsFailureAfterCallerCancels(t *testing.T) {
	h := newHarness()
	h.exchange.submit = func(req domain.OrderRequest) (map[string]any, error) {
		return orderPayload(req, "ord-wc", "resting", 0, nil), nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.coord.WithSleeper(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})

	_, err := h.coord.SubmitAndTrack(ctx, validRequest(), time.Second)
	var polling *domain.OrderPollingError
	if !errors.As(err, &polling) || polling.Stage != "wait" {
		t.Fatalf("expected wait OrderPollingError, got %v", err)
	}
	if _, failed := h.notifier.counts(); failed != 1 {
		t.Fatalf("order error notifications: got %d want 1", failed)
	}
	if !slices.Contains(h.audit.events, "order.failed") {
		t.Fatalf("audit events %v missing order.failed", h.audit.events)
	}
}

func TestSubmitAndTrackMarketOrderAveragesFills(t *testing.T) {
	h := newHarness()
	req := validRequest()
	req.Type = domain.OrderTypeMarket
	req.PriceCents = 0
	h.exchange.submit = func(req domain.OrderRequest) (map[string]any, error) {
		return orderPayload(req, "ord-mkt", "executed", 10, nil), nil
	}
	h.exchange.fills["ord-mkt"] = []map[string]any{fillEntry(4, 48), fillEntry(6, 52)}

	state, err := h.coord.SubmitAndTrack(context.Background(), req, time.Second)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state.Status != domain.OrderStatusFilled {
		t.Fatalf("status: got %s want filled", state.Status)
	}
	if state.AverageFillPriceCents == nil || *state.AverageFillPriceCents != 50 {
		t.Fatalf("average: got %v want 50", state.AverageFillPriceCents)
	}
	if state.FilledCount != 10 || state.RemainingCount != 0 {
		t.Fatalf("counts: filled=%d remaining=%d", state.FilledCount, state.RemainingCount)
	}
	if h.exchange.cancelCalls != 0 {
		t.Fatal("cancel must not be requested for a filled order")
	}
	rec, err := h.trades.GetByOrderID(context.Background(), "ord-mkt")
	if err != nil {
		t.Fatalf("trade not stored: %v", err)
	}
	if rec.PriceCents != 50 || rec.Quantity != 10 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestSubmitAndTrackValidationStopsBeforeExchange(t *testing.T) {
	h := newHarness()
	req := validRequest()
	req.ClientOrderID = "not-a-uuid"

	_, err := h.coord.SubmitAndTrack(context.Background(), req, time.Second)
	var validation *domain.ValidationError
	if !errors.As(err, &validation) || validation.Field != "client_order_id" {
		t.Fatalf("expected client_order_id ValidationError, got %v", err)
	}
	if h.exchange.submitCalls != 0 {
		t.Fatal("exchange must not be called for invalid requests")
	}
}

func TestSubmitAndTrackTimeoutAboveMax(t *testing.T) {
	h := newHarness()
	for _, timeout := range []time.Duration{time.Hour, time.Duration(1<<63 - 1)} {
		_, err := h.coord.SubmitAndTrack(context.Background(), validRequest(), timeout)
		var validation *domain.ValidationError
		if !errors.As(err, &validation) || validation.Field != "timeout" {
			t.Fatalf("timeout %v: expected timeout ValidationError, got %v", timeout, err)
		}
	}
}

func TestSubmitAndTrackPersistenceFailure(t *testing.T) {
	h := newHarness()
	h.exchange.submit = func(req domain.OrderRequest) (map[string]any, error) {
		return orderPayload(req, "ord-p", "executed", 10, map[string]any{"maker_fill_cost": 450}), nil
	}
	h.trades.err = errors.New("connection refused")

	_, err := h.coord.SubmitAndTrack(context.Background(), validRequest(), time.Second)
	var persistence *domain.TradePersistenceError
	if !errors.As(err, &persistence) {
		t.Fatalf("expected TradePersistenceError, got %v", err)
	}
	if executed, failed := h.notifier.counts(); executed != 0 || failed != 1 {
		t.Fatalf("notifications: executed=%d failed=%d", executed, failed)
	}
}

func TestSubmitAndTrackNotificationFailureKeepsTrade(t *testing.T) {
	h := newHarness()
	h.exchange.submit = func(req domain.OrderRequest) (map[string]any, error) {
		return orderPayload(req, "ord-n", "executed", 10, map[string]any{"maker_fill_cost": 450}), nil
	}
	h.notifier.executedErr = errors.New("telegram down")

	state, err := h.coord.SubmitAndTrack(context.Background(), validRequest(), time.Second)
	var notification *domain.TradeNotificationError
	if !errors.As(err, &notification) {
		t.Fatalf("expected TradeNotificationError, got %v", err)
	}
	if state == nil || state.Status != domain.OrderStatusFilled {
		t.Fatalf("state should be returned with the notification error, got %+v", state)
	}
	if h.trades.count() != 1 {
		t.Fatal("trade should be persisted before notification")
	}
}

func TestSubmitAndTrackMetadataFailureIsFatal(t *testing.T) {
	h := newHarness()
	h.exchange.submit = func(req domain.OrderRequest) (map[string]any, error) {
		return orderPayload(req, "ord-m", "resting", 0, nil), nil
	}
	h.metadata.err = errors.New("redis timeout")

	_, err := h.coord.SubmitAndTrack(context.Background(), validRequest(), time.Second)
	var persistence *domain.TradePersistenceError
	if !errors.As(err, &persistence) {
		t.Fatalf("expected TradePersistenceError, got %v", err)
	}
	if h.exchange.fillCalls != 0 {
		t.Fatal("workflow must not run when metadata was not stored")
	}
}

func TestSubmitAndTrackDedup(t *testing.T) {
	h := newHarness()
	h.coord.WithDedup(NewDedup(time.Minute))
	h.exchange.submit = func(req domain.OrderRequest) (map[string]any, error) {
		return orderPayload(req, "ord-dup", "canceled", 0, nil), nil
	}

	if _, err := h.coord.SubmitAndTrack(context.Background(), validRequest(), time.Second); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := h.coord.SubmitAndTrack(context.Background(), validRequest(), time.Second)
	if !errors.Is(err, domain.ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
	if h.exchange.submitCalls != 1 {
		t.Fatalf("submit calls: got %d want 1", h.exchange.submitCalls)
	}
}

func TestSubmitAndTrackRateLimited(t *testing.T) {
	h := newHarness()
	dedup := NewDedup(time.Minute)
	h.coord.WithRateLimit(fakeLimiter{allow: false}, 5, time.Second).WithDedup(dedup)

	_, err := h.coord.SubmitAndTrack(context.Background(), validRequest(), time.Second)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if dedup.Len() != 0 {
		t.Fatal("rate-limited request should release its dedup claim")
	}
}

func TestGetOrderMergesMetadata(t *testing.T) {
	h := newHarness()
	req := validRequest()
	h.exchange.orders["ord-g"] = orderPayload(req, "ord-g", "resting", 0, nil)
	h.metadata.meta["ord-g"] = domain.OrderMetadata{OrderID: "ord-g", TradeRule: "rule_x", TradeReason: "stored reason text"}

	state, err := h.coord.GetOrder(context.Background(), "ord-g")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if state.TradeRule != "rule_x" || state.TradeReason != "stored reason text" {
		t.Fatalf("metadata not merged: %+v", state)
	}

	if _, err := h.coord.GetOrder(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitBatchSize(t *testing.T) {
	h := newHarness()
	for _, n := range []int{0, MaxBatchSize + 1} {
		reqs := make([]domain.OrderRequest, n)
		_, err := h.coord.SubmitBatch(context.Background(), reqs, time.Second)
		var validation *domain.ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("n=%d: expected ValidationError, got %v", n, err)
		}
	}
}

func TestSubmitBatchIsolatesFailures(t *testing.T) {
	h := newHarness()
	h.exchange.submit = func(req domain.OrderRequest) (map[string]any, error) {
		id := "ord-" + req.ClientOrderID
		return orderPayload(req, id, "executed", req.Count, map[string]any{"maker_fill_cost": req.Count * 40}), nil
	}

	reqs := make([]domain.OrderRequest, 5)
	for i := range reqs {
		reqs[i] = validRequest()
		reqs[i].ClientOrderID = uuid.NewString()
	}
	reqs[2].TradeReason = "short"

	results, err := h.coord.SubmitBatch(context.Background(), reqs, time.Second)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(results) != len(reqs) {
		t.Fatalf("results: got %d want %d", len(results), len(reqs))
	}
	for i, r := range results {
		if r.Index != i {
			t.Fatalf("result %d has index %d", i, r.Index)
		}
		if i == 2 {
			if r.ErrorCode != domain.CodeValidation || r.State != nil {
				t.Fatalf("item 2: got code %q state %v", r.ErrorCode, r.State)
			}
			continue
		}
		if r.Err != nil || r.State == nil || r.State.Status != domain.OrderStatusFilled {
			t.Fatalf("item %d: %+v", i, r)
		}
	}
	if got := h.trades.count(); got != 4 {
		t.Fatalf("trades: got %d want 4", got)
	}
}

func TestCalculateFeeDelegates(t *testing.T) {
	h := newHarness()
	fee, err := h.coord.CalculateFee(12, 50, testTicker)
	if err != nil || fee != 12 {
		t.Fatalf("fee: got %d, %v", fee, err)
	}
	if _, err := h.coord.CalculateFee(-1, 50, testTicker); err == nil {
		t.Fatal("expected error for negative contracts")
	}
}

func TestSubmitAndTrackSubmitError(t *testing.T) {
	h := newHarness()
	h.exchange.submit = func(domain.OrderRequest) (map[string]any, error) {
		return nil, fmt.Errorf("kalshi: status 503")
	}
	state, err := h.coord.SubmitAndTrack(context.Background(), validRequest(), time.Second)
	if err == nil || state != nil {
		t.Fatalf("expected error and nil state, got %v %v", state, err)
	}
	if domain.ErrorCode(err) != domain.CodeUnknown {
		t.Fatalf("code: %s", domain.ErrorCode(err))
	}
}
