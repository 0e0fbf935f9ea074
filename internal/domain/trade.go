package domain

import (
	"fmt"
	"strings"
	"time"
)

// TradeSide is the persisted side of an executed trade.
type TradeSide string

const (
	TradeSideYes TradeSide = "YES"
	TradeSideNo  TradeSide = "NO"
)

// TradeSideFor maps an order side onto the trade record side.
func TradeSideFor(side OrderSide) (TradeSide, error) {
	switch side {
	case OrderSideYes:
		return TradeSideYes, nil
	case OrderSideNo:
		return TradeSideNo, nil
	}
	return "", fmt.Errorf("domain: unknown order side %q", side)
}

// TradeRecord is the durable artifact of a completed execution. It is created
// once per executed order and never updated.
type TradeRecord struct {
	OrderID        string
	Ticker         string
	Side           TradeSide
	Action         OrderAction
	Quantity       int64
	PriceCents     int64
	FeeCents       int64
	CostCents      int64 // PriceCents*Quantity + FeeCents
	MarketCategory string
	TradeRule      string
	TradeReason    string
	DomainTag      string // e.g. weather station; empty when not applicable
	TradeTimestamp time.Time
}

// TradeRecordParams carries the inputs for NewTradeRecord.
type TradeRecordParams struct {
	OrderID        string
	Ticker         string
	Side           OrderSide
	Action         OrderAction
	Quantity       int64
	PriceCents     int64
	FeeCents       int64
	MarketCategory string
	TradeRule      string
	TradeReason    string
	DomainTag      string
	TradeTimestamp time.Time
}

// NewTradeRecord validates p and derives the cost.
func NewTradeRecord(p TradeRecordParams) (TradeRecord, error) {
	side, err := TradeSideFor(p.Side)
	if err != nil {
		return TradeRecord{}, err
	}
	switch {
	case strings.TrimSpace(p.OrderID) == "":
		return TradeRecord{}, fmt.Errorf("domain: trade record: order id must not be empty")
	case strings.TrimSpace(p.Ticker) == "":
		return TradeRecord{}, fmt.Errorf("domain: trade record: ticker must not be empty")
	case p.Quantity <= 0:
		return TradeRecord{}, fmt.Errorf("domain: trade record: quantity must be positive, got %d", p.Quantity)
	case p.PriceCents < MinPriceCents || p.PriceCents > MaxPriceCents:
		return TradeRecord{}, fmt.Errorf("domain: trade record: price must be 1-99 cents, got %d", p.PriceCents)
	case p.FeeCents < 0:
		return TradeRecord{}, fmt.Errorf("domain: trade record: fee must not be negative, got %d", p.FeeCents)
	case strings.TrimSpace(p.MarketCategory) == "":
		return TradeRecord{}, fmt.Errorf("domain: trade record: market category must not be empty")
	case strings.TrimSpace(p.TradeRule) == "" || strings.TrimSpace(p.TradeReason) == "":
		return TradeRecord{}, fmt.Errorf("domain: trade record: trade rule and reason are required")
	case p.TradeTimestamp.IsZero():
		return TradeRecord{}, fmt.Errorf("domain: trade record: timestamp must be set")
	}
	return TradeRecord{
		OrderID:        p.OrderID,
		Ticker:         p.Ticker,
		Side:           side,
		Action:         p.Action,
		Quantity:       p.Quantity,
		PriceCents:     p.PriceCents,
		FeeCents:       p.FeeCents,
		CostCents:      p.PriceCents*p.Quantity + p.FeeCents,
		MarketCategory: p.MarketCategory,
		TradeRule:      p.TradeRule,
		TradeReason:    p.TradeReason,
		DomainTag:      p.DomainTag,
		TradeTimestamp: p.TradeTimestamp.UTC(),
	}, nil
}

// OrderMetadata is written as soon as the exchange acknowledges an order so
// that the rule and reason survive even if execution never completes.
type OrderMetadata struct {
	OrderID        string
	TradeRule      string
	TradeReason    string
	MarketCategory string
	DomainTag      string
	CreatedAt      time.Time
}
