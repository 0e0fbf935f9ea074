package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// TradeNotifier tells listeners about executed and failed orders.
type TradeNotifier interface {
	SendOrderExecuted(ctx context.Context, orderData, responseData map[string]any) error
	SendOrderError(ctx context.Context, orderData map[string]any, err error) error
}

// MetadataResolver classifies a ticker into a market category and an optional
// domain tag such as a weather station.
type MetadataResolver interface {
	ResolveTradeContext(ctx context.Context, ticker string) (category, tag string, err error)
}

// Finalizer persists the trade record for an executed order and then
// notifies listeners. Persistence always happens first.
type Finalizer struct {
	trades   domain.TradeStore
	notifier TradeNotifier
	resolver MetadataResolver
	logger   *slog.Logger
}

// NewFinalizer creates a Finalizer.
func NewFinalizer(trades domain.TradeStore, notifier TradeNotifier, resolver MetadataResolver, logger *slog.Logger) *Finalizer {
	return &Finalizer{
		trades:   trades,
		notifier: notifier,
		resolver: resolver,
		logger:   logger.With(slog.String("component", "trade_finalizer")),
	}
}

// Finalize stores the trade for state at priceCents and sends the executed
// notification. A notification failure is returned as a
// *domain.TradeNotificationError alongside the stored record; any failure
// before the record is stored is a *domain.TradePersistenceError.
func (f *Finalizer) Finalize(ctx context.Context, req domain.OrderRequest, state *domain.OrderExecutionState, priceCents int64) (*domain.TradeRecord, error) {
	persistErr := func(msg string, err error) error {
		return &domain.TradePersistenceError{OrderID: state.OrderID, Ticker: state.Ticker, Message: msg, Err: err}
	}

	if strings.TrimSpace(state.TradeRule) == "" {
		return nil, persistErr("trade rule missing from order state", nil)
	}
	if strings.TrimSpace(state.TradeReason) == "" {
		return nil, persistErr("trade reason missing from order state", nil)
	}
	if state.FeesCents == nil {
		return nil, persistErr("fees unknown for executed order", nil)
	}

	category, tag, err := f.resolver.ResolveTradeContext(ctx, state.Ticker)
	if err != nil {
		return nil, persistErr("market category lookup failed", err)
	}

	record, err := domain.NewTradeRecord(domain.TradeRecordParams{
		OrderID:        state.OrderID,
		Ticker:         state.Ticker,
		Side:           state.Side,
		Action:         state.Action,
		Quantity:       state.FilledCount,
		PriceCents:     priceCents,
		FeeCents:       *state.FeesCents,
		MarketCategory: category,
		TradeRule:      state.TradeRule,
		TradeReason:    state.TradeReason,
		DomainTag:      tag,
		TradeTimestamp: state.Timestamp,
	})
	if err != nil {
		return nil, persistErr("trade record rejected", err)
	}

	if err := f.trades.StoreTrade(ctx, record); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, persistErr("trade already recorded for order", err)
		}
		return nil, persistErr("store trade", err)
	}
	f.logger.InfoContext(ctx, "trade stored",
		slog.String("order_id", record.OrderID),
		slog.String("ticker", record.Ticker),
		slog.Int64("quantity", record.Quantity),
		slog.Int64("price_cents", record.PriceCents),
		slog.Int64("fee_cents", record.FeeCents),
		slog.String("category", record.MarketCategory),
	)

	if err := f.notifier.SendOrderExecuted(ctx, OrderData(req, state), ResponseData(state)); err != nil {
		f.logger.ErrorContext(ctx, "trade notification failed",
			slog.String("order_id", record.OrderID),
			slog.String("error", err.Error()),
		)
		return &record, &domain.TradeNotificationError{
			OrderID: state.OrderID,
			Message: fmt.Sprintf("trade %s stored but notification failed", record.OrderID),
			Err:     err,
		}
	}
	return &record, nil
}

// OrderData is the notification view of the caller's request. state may be
// nil when the order never reached the exchange.
func OrderData(req domain.OrderRequest, state *domain.OrderExecutionState) map[string]any {
	data := map[string]any{
		"ticker":          req.Ticker,
		"action":          string(req.Action),
		"side":            string(req.Side),
		"order_type":      string(req.Type),
		"count":           req.Count,
		"client_order_id": req.ClientOrderID,
		"trade_rule":      req.TradeRule,
		"trade_reason":    req.TradeReason,
		"yes_price_cents": req.PriceCents,
		"time_in_force":   string(req.TimeInForce),
	}
	if state != nil {
		data["order_id"] = state.OrderID
		if state.FeesCents != nil {
			data["fees_cents"] = *state.FeesCents
		}
	}
	return data
}

// ResponseData is the notification view of the resolved order.
func ResponseData(state *domain.OrderExecutionState) map[string]any {
	fills := make([]map[string]any, 0, len(state.Fills))
	for _, fl := range state.Fills {
		fills = append(fills, map[string]any{
			"price_cents": fl.PriceCents,
			"count":       fl.Count,
			"timestamp":   fl.Timestamp.Format(time.RFC3339),
		})
	}
	data := map[string]any{
		"order_id":        state.OrderID,
		"status":          state.Status.Upper(),
		"filled_count":    state.FilledCount,
		"remaining_count": state.RemainingCount,
		"timestamp":       state.Timestamp.Format(time.RFC3339),
		"fills":           fills,
	}
	if state.AverageFillPriceCents != nil {
		data["average_fill_price_cents"] = *state.AverageFillPriceCents
	}
	if state.FeesCents != nil {
		data["fees_cents"] = *state.FeesCents
	}
	return data
}
