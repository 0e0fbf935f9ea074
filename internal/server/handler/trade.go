package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// TradeReader is the read side of domain.TradeStore.
type TradeReader interface {
	GetByOrderID(ctx context.Context, orderID string) (domain.TradeRecord, error)
	ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error)
}

// TradeHandler serves persisted trade records.
type TradeHandler struct {
	trades TradeReader
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeReader, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logHandler(logger, "trades")}
}

type tradeView struct {
	OrderID        string `json:"order_id"`
	Ticker         string `json:"ticker"`
	Side           string `json:"side"`
	Action         string `json:"action"`
	Quantity       int64  `json:"quantity"`
	PriceCents     int64  `json:"price_cents"`
	FeeCents       int64  `json:"fee_cents"`
	CostCents      int64  `json:"cost_cents"`
	MarketCategory string `json:"market_category"`
	TradeRule      string `json:"trade_rule"`
	TradeReason    string `json:"trade_reason"`
	DomainTag      string `json:"domain_tag,omitempty"`
	TradeTimestamp string `json:"trade_timestamp"`
}

func toTradeView(t domain.TradeRecord) tradeView {
	return tradeView{
		OrderID:        t.OrderID,
		Ticker:         t.Ticker,
		Side:           string(t.Side),
		Action:         string(t.Action),
		Quantity:       t.Quantity,
		PriceCents:     t.PriceCents,
		FeeCents:       t.FeeCents,
		CostCents:      t.CostCents,
		MarketCategory: t.MarketCategory,
		TradeRule:      t.TradeRule,
		TradeReason:    t.TradeReason,
		DomainTag:      t.DomainTag,
		TradeTimestamp: t.TradeTimestamp.UTC().Format(time.RFC3339),
	}
}

// ListTrades returns recent trades, newest first.
// GET /api/trades?limit=50&offset=0&since=2025-01-01T00:00:00Z
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		opts.Since = &since
	}

	trades, err := h.trades.ListRecent(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	views := make([]tradeView, len(trades))
	for i, t := range trades {
		views[i] = toTradeView(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": views})
}

// GetTrade returns the trade recorded for an order.
// GET /api/trades/{order_id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("order_id")
	t, err := h.trades.GetByOrderID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeView(t))
}
