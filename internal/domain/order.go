package domain

import (
	"strings"
	"time"
)

// OrderAction indicates whether contracts are bought or sold.
type OrderAction string

const (
	OrderActionBuy  OrderAction = "buy"
	OrderActionSell OrderAction = "sell"
)

// OrderSide is the outcome a contract pays out on.
type OrderSide string

const (
	OrderSideYes OrderSide = "yes"
	OrderSideNo  OrderSide = "no"
)

// OrderType is the pricing model of an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// TimeInForce controls how long an order may rest on the book.
type TimeInForce string

const (
	TimeInForceFillOrKill        TimeInForce = "fill_or_kill"
	TimeInForceImmediateOrCancel TimeInForce = "immediate_or_cancel"
	TimeInForceGoodTillCancelled TimeInForce = "good_till_cancelled"
)

// OrderStatus tracks the order lifecycle as seen by this service.
type OrderStatus string

const (
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusExecuted        OrderStatus = "executed" // accepted by the exchange, not a fill
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusResting         OrderStatus = "resting"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Price bounds for a single binary contract, in cents.
const (
	MinPriceCents int64 = 1
	MaxPriceCents int64 = 99
)

// MinTradeReasonLength is the shortest accepted audit reason.
const MinTradeReasonLength = 10

// Valid reports whether a is a known action.
func (a OrderAction) Valid() bool {
	return a == OrderActionBuy || a == OrderActionSell
}

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool {
	return s == OrderSideYes || s == OrderSideNo
}

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	return t == OrderTypeLimit || t == OrderTypeMarket
}

// Valid reports whether t is a known time-in-force policy.
func (t TimeInForce) Valid() bool {
	switch t {
	case TimeInForceFillOrKill, TimeInForceImmediateOrCancel, TimeInForceGoodTillCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusFilled, OrderStatusExecuted, OrderStatusPartiallyFilled,
		OrderStatusCancelled, OrderStatusPending, OrderStatusResting, OrderStatusRejected:
		return true
	}
	return false
}

// Upper returns the status in the upper-case form used by API responses.
func (s OrderStatus) Upper() string {
	return strings.ToUpper(string(s))
}

// OrderRequest is a caller's order intent. It is treated as immutable once
// validated.
type OrderRequest struct {
	Ticker        string
	Action        OrderAction
	Side          OrderSide
	Count         int64
	ClientOrderID string // idempotency key, must be a UUID
	TradeRule     string
	TradeReason   string
	Type          OrderType
	PriceCents    int64 // 0 on a market order accepts the exchange default
	TimeInForce   TimeInForce
	ExpirationTS  *time.Time
}
