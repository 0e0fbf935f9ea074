package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Fill is a single execution of part of an order.
type Fill struct {
	PriceCents int64
	Count      int64
	Timestamp  time.Time
}

// Validate checks the price and count bounds of f.
func (f Fill) Validate() error {
	if f.PriceCents < MinPriceCents || f.PriceCents > MaxPriceCents {
		return &DataIntegrityError{Field: "fill.price", Message: "must be between 1 and 99 cents", Value: f.PriceCents}
	}
	if f.Count <= 0 {
		return &DataIntegrityError{Field: "fill.count", Message: "must be positive", Value: f.Count}
	}
	return nil
}

// ExecutionOutcome is the aggregate of the fills fetched for an order in one
// poll cycle.
type ExecutionOutcome struct {
	Fills             []Fill
	TotalFilled       int64
	AveragePriceCents int64
}

// OrderExecutionState is the canonical view of an order after the exchange
// acknowledged it. Construct it with OrderStateBuilder; the execution
// workflow is the only code that mutates it afterwards.
type OrderExecutionState struct {
	OrderID               string
	ClientOrderID         string
	Status                OrderStatus
	Ticker                string
	Side                  OrderSide
	Action                OrderAction
	Type                  OrderType
	FilledCount           int64
	RemainingCount        int64
	AverageFillPriceCents *int64
	FeesCents             *int64
	Fills                 []Fill
	TradeRule             string
	TradeReason           string
	RejectionReason       string
	Timestamp             time.Time
}

// TotalCount is filled plus remaining contracts.
func (s *OrderExecutionState) TotalCount() int64 {
	return s.FilledCount + s.RemainingCount
}

// Validate enforces the state invariants. Every failure is a
// DataIntegrityError naming the offending field.
func (s *OrderExecutionState) Validate() error {
	switch {
	case strings.TrimSpace(s.OrderID) == "":
		return &DataIntegrityError{Field: "order_id", Message: "must not be empty"}
	case strings.TrimSpace(s.ClientOrderID) == "":
		return &DataIntegrityError{Field: "client_order_id", Message: "must not be empty"}
	case strings.TrimSpace(s.Ticker) == "":
		return &DataIntegrityError{Field: "ticker", Message: "must not be empty"}
	case !s.Status.Valid():
		return &DataIntegrityError{Field: "status", Message: "unknown status", Value: s.Status}
	case !s.Side.Valid():
		return &DataIntegrityError{Field: "side", Message: "unknown side", Value: s.Side}
	case !s.Action.Valid():
		return &DataIntegrityError{Field: "action", Message: "unknown action", Value: s.Action}
	case !s.Type.Valid():
		return &DataIntegrityError{Field: "type", Message: "unknown order type", Value: s.Type}
	case s.FilledCount < 0:
		return &DataIntegrityError{Field: "filled_count", Message: "must not be negative", Value: s.FilledCount}
	case s.RemainingCount < 0:
		return &DataIntegrityError{Field: "remaining_count", Message: "must not be negative", Value: s.RemainingCount}
	case s.Timestamp.IsZero():
		return &DataIntegrityError{Field: "timestamp", Message: "must be set"}
	case strings.TrimSpace(s.TradeRule) == "":
		return &DataIntegrityError{Field: "trade_rule", Message: "must not be empty"}
	case strings.TrimSpace(s.TradeReason) == "":
		return &DataIntegrityError{Field: "trade_reason", Message: "must not be empty"}
	}

	if s.FilledCount == 0 && (s.Status == OrderStatusFilled || s.Status == OrderStatusPartiallyFilled) {
		return &DataIntegrityError{Field: "filled_count", Message: fmt.Sprintf("zero fills incompatible with status %s", s.Status), Value: s.FilledCount}
	}
	if s.AverageFillPriceCents != nil {
		avg := *s.AverageFillPriceCents
		if avg < MinPriceCents || avg > MaxPriceCents {
			return &DataIntegrityError{Field: "average_fill_price_cents", Message: "must be between 1 and 99 cents", Value: avg}
		}
	}
	if s.FeesCents != nil && *s.FeesCents < 0 {
		return &DataIntegrityError{Field: "fees_cents", Message: "must not be negative", Value: *s.FeesCents}
	}

	rejected := s.Status == OrderStatusRejected
	hasReason := strings.TrimSpace(s.RejectionReason) != ""
	if rejected && !hasReason {
		return &DataIntegrityError{Field: "rejection_reason", Message: "required when status is rejected"}
	}
	if !rejected && s.RejectionReason != "" {
		return &DataIntegrityError{Field: "rejection_reason", Message: "only allowed when status is rejected", Value: s.RejectionReason}
	}

	return validateFillSum(s.Fills, s.FilledCount)
}

func validateFillSum(fills []Fill, filled int64) error {
	if len(fills) == 0 {
		return nil
	}
	var sum int64
	for _, f := range fills {
		if err := f.Validate(); err != nil {
			return err
		}
		sum += f.Count
	}
	if sum != filled {
		return &DataIntegrityError{
			Field:   "fills",
			Message: fmt.Sprintf("fill counts sum to %d but filled_count is %d", sum, filled),
		}
	}
	return nil
}

// ApplyOutcome folds a fill aggregation into s. originalTotal is the order
// size known at submission. Fills without their own timestamp take the order
// timestamp. s is left untouched when the result would violate an invariant.
func (s *OrderExecutionState) ApplyOutcome(outcome ExecutionOutcome, originalTotal int64) error {
	next := *s
	next.FilledCount = outcome.TotalFilled
	next.RemainingCount = max(0, originalTotal-outcome.TotalFilled)
	avg := outcome.AveragePriceCents
	next.AverageFillPriceCents = &avg
	if next.RemainingCount > 0 {
		next.Status = OrderStatusPartiallyFilled
	} else {
		next.Status = OrderStatusFilled
	}
	next.Fills = make([]Fill, len(outcome.Fills))
	for i, f := range outcome.Fills {
		if f.Timestamp.IsZero() {
			f.Timestamp = s.Timestamp
		}
		next.Fills[i] = f
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*s = next
	return nil
}

// stateField is a bit per builder setter.
type stateField uint32

const (
	fieldOrderID stateField = 1 << iota
	fieldClientOrderID
	fieldStatus
	fieldTicker
	fieldSide
	fieldAction
	fieldType
	fieldFilledCount
	fieldRemainingCount
	fieldAverageFillPrice
	fieldFees
	fieldFills
	fieldTradeRule
	fieldTradeReason
	fieldRejectionReason
	fieldTimestamp

	allStateFields = fieldTimestamp<<1 - 1
)

var stateFieldNames = map[stateField]string{
	fieldOrderID:          "order_id",
	fieldClientOrderID:    "client_order_id",
	fieldStatus:           "status",
	fieldTicker:           "ticker",
	fieldSide:             "side",
	fieldAction:           "action",
	fieldType:             "type",
	fieldFilledCount:      "filled_count",
	fieldRemainingCount:   "remaining_count",
	fieldAverageFillPrice: "average_fill_price_cents",
	fieldFees:             "fees_cents",
	fieldFills:            "fills",
	fieldTradeRule:        "trade_rule",
	fieldTradeReason:      "trade_reason",
	fieldRejectionReason:  "rejection_reason",
	fieldTimestamp:        "timestamp",
}

// OrderStateBuilder assembles an OrderExecutionState. Every setter must be
// called, including those for optional values, or Build fails.
type OrderStateBuilder struct {
	s   OrderExecutionState
	set stateField
}

// NewOrderStateBuilder returns an empty builder.
func NewOrderStateBuilder() *OrderStateBuilder {
	return &OrderStateBuilder{}
}

func (b *OrderStateBuilder) OrderID(id string) *OrderStateBuilder {
	b.s.OrderID = id
	b.set |= fieldOrderID
	return b
}

func (b *OrderStateBuilder) ClientOrderID(id string) *OrderStateBuilder {
	b.s.ClientOrderID = id
	b.set |= fieldClientOrderID
	return b
}

func (b *OrderStateBuilder) Status(status OrderStatus) *OrderStateBuilder {
	b.s.Status = status
	b.set |= fieldStatus
	return b
}

func (b *OrderStateBuilder) Ticker(ticker string) *OrderStateBuilder {
	b.s.Ticker = ticker
	b.set |= fieldTicker
	return b
}

func (b *OrderStateBuilder) Side(side OrderSide) *OrderStateBuilder {
	b.s.Side = side
	b.set |= fieldSide
	return b
}

func (b *OrderStateBuilder) Action(action OrderAction) *OrderStateBuilder {
	b.s.Action = action
	b.set |= fieldAction
	return b
}

func (b *OrderStateBuilder) Type(t OrderType) *OrderStateBuilder {
	b.s.Type = t
	b.set |= fieldType
	return b
}

func (b *OrderStateBuilder) FilledCount(n int64) *OrderStateBuilder {
	b.s.FilledCount = n
	b.set |= fieldFilledCount
	return b
}

func (b *OrderStateBuilder) RemainingCount(n int64) *OrderStateBuilder {
	b.s.RemainingCount = n
	b.set |= fieldRemainingCount
	return b
}

// AverageFillPriceCents records the average price; nil means unknown.
func (b *OrderStateBuilder) AverageFillPriceCents(avg *int64) *OrderStateBuilder {
	b.s.AverageFillPriceCents = avg
	b.set |= fieldAverageFillPrice
	return b
}

// FeesCents records the fees charged; nil means unknown.
func (b *OrderStateBuilder) FeesCents(fees *int64) *OrderStateBuilder {
	b.s.FeesCents = fees
	b.set |= fieldFees
	return b
}

func (b *OrderStateBuilder) Fills(fills []Fill) *OrderStateBuilder {
	b.s.Fills = fills
	b.set |= fieldFills
	return b
}

func (b *OrderStateBuilder) TradeRule(rule string) *OrderStateBuilder {
	b.s.TradeRule = rule
	b.set |= fieldTradeRule
	return b
}

func (b *OrderStateBuilder) TradeReason(reason string) *OrderStateBuilder {
	b.s.TradeReason = reason
	b.set |= fieldTradeReason
	return b
}

// RejectionReason must be empty unless the status is rejected.
func (b *OrderStateBuilder) RejectionReason(reason string) *OrderStateBuilder {
	b.s.RejectionReason = reason
	b.set |= fieldRejectionReason
	return b
}

func (b *OrderStateBuilder) Timestamp(ts time.Time) *OrderStateBuilder {
	b.s.Timestamp = ts
	b.set |= fieldTimestamp
	return b
}

// Build returns the state once every field was set and all invariants hold.
func (b *OrderStateBuilder) Build() (*OrderExecutionState, error) {
	if missing := allStateFields &^ b.set; missing != 0 {
		for bit := stateField(1); bit <= fieldTimestamp; bit <<= 1 {
			if missing&bit != 0 {
				return nil, &DataIntegrityError{Field: stateFieldNames[bit], Message: "not set on order state"}
			}
		}
	}
	out := b.s
	if out.Fills == nil {
		out.Fills = []Fill{}
	} else {
		out.Fills = slices.Clone(out.Fills)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}
