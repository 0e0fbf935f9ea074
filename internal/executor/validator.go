package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// MinTickerLength is the shortest ticker the exchange issues.
const MinTickerLength = 3

// Validator rejects malformed order requests before any network call. It has
// no side effects and is safe for concurrent use.
type Validator struct {
	now func() time.Time
}

// NewValidator creates a Validator. A nil clock uses time.Now.
func NewValidator(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{now: now}
}

func invalid(field, format string, args ...any) error {
	return &domain.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate returns a *domain.ValidationError describing the first problem
// found in req.
func (v *Validator) Validate(req domain.OrderRequest) error {
	ticker := strings.TrimSpace(req.Ticker)
	if ticker == "" {
		return invalid("ticker", "must not be empty")
	}
	if len(ticker) < MinTickerLength {
		return invalid("ticker", "must be at least %d characters, got %q", MinTickerLength, req.Ticker)
	}
	if _, err := uuid.Parse(req.ClientOrderID); err != nil {
		return invalid("client_order_id", "must be a UUID, got %q", req.ClientOrderID)
	}
	if !req.Action.Valid() {
		return invalid("action", "must be buy or sell, got %q", req.Action)
	}
	if !req.Side.Valid() {
		return invalid("side", "must be yes or no, got %q", req.Side)
	}
	if !req.Type.Valid() {
		return invalid("type", "must be limit or market, got %q", req.Type)
	}
	if req.Count <= 0 {
		return invalid("count", "must be positive, got %d", req.Count)
	}

	switch req.Type {
	case domain.OrderTypeLimit:
		if req.PriceCents < domain.MinPriceCents || req.PriceCents > domain.MaxPriceCents {
			return invalid("price_cents", "limit orders need a price of 1-99 cents, got %d", req.PriceCents)
		}
	case domain.OrderTypeMarket:
		if req.PriceCents < 0 || req.PriceCents > domain.MaxPriceCents {
			return invalid("price_cents", "market orders need a price of 0-99 cents, got %d", req.PriceCents)
		}
	}

	if !req.TimeInForce.Valid() {
		return invalid("time_in_force", "unknown policy %q", req.TimeInForce)
	}
	if strings.TrimSpace(req.TradeRule) == "" {
		return invalid("trade_rule", "must not be empty")
	}
	if len(strings.TrimSpace(req.TradeReason)) < domain.MinTradeReasonLength {
		return invalid("trade_reason", "must be at least %d characters", domain.MinTradeReasonLength)
	}
	if req.ExpirationTS != nil && !req.ExpirationTS.After(v.now()) {
		return invalid("expiration_ts", "must be in the future")
	}
	return nil
}
