package executor

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// statusTable maps exchange status strings onto order statuses. Anything
// else is rejected.
var statusTable = map[string]domain.OrderStatus{
	"filled":   domain.OrderStatusFilled,
	"executed": domain.OrderStatusExecuted,
	"resting":  domain.OrderStatusPending,
	"canceled": domain.OrderStatusCancelled,
	"rejected": domain.OrderStatusRejected,
}

var requiredOrderFields = []string{
	"order_id",
	"client_order_id",
	"status",
	"ticker",
	"side",
	"action",
	"type",
}

// totalCountFields are checked in order; the first present one wins.
var totalCountFields = []string{"initial_count", "count", "quantity"}

// Parser turns raw exchange order payloads into OrderExecutionState values.
// It never fills in missing data. Parser is stateless and safe for concurrent
// use.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a Parser.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With(slog.String("component", "response_parser"))}
}

func integrityErr(field, msg string, value any) error {
	return &domain.DataIntegrityError{Field: field, Message: msg, Value: value}
}

// UnwrapOrder extracts the order object from a response of the form
// {"order": {...}}.
func UnwrapOrder(response map[string]any) (map[string]any, error) {
	if len(response) == 0 {
		return nil, integrityErr("response", "empty response", nil)
	}
	raw, ok := response["order"]
	if !ok {
		return nil, integrityErr("order", fmt.Sprintf("missing order wrapper, got keys %v", sortedKeys(response)), nil)
	}
	order, ok := raw.(map[string]any)
	if !ok {
		return nil, integrityErr("order", fmt.Sprintf("expected object, got %T", raw), nil)
	}
	return order, nil
}

// Parse validates payload and builds the order state, carrying the caller's
// rule and reason through unchanged.
func (p *Parser) Parse(payload map[string]any, tradeRule, tradeReason string) (*domain.OrderExecutionState, error) {
	if len(payload) == 0 {
		return nil, integrityErr("order", "empty order data", nil)
	}
	var missing []string
	for _, f := range requiredOrderFields {
		if _, ok := payload[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, integrityErr(missing[0], fmt.Sprintf("missing required fields %v", missing), nil)
	}

	status, err := parseStatus(payload["status"])
	if err != nil {
		return nil, err
	}
	filled, err := parseFilledCount(payload)
	if err != nil {
		return nil, err
	}
	remaining, err := deriveRemaining(payload, filled)
	if err != nil {
		return nil, err
	}
	ts, err := parseCreatedTime(payload)
	if err != nil {
		return nil, err
	}
	avg := p.averageFillPrice(payload, filled)
	fees, err := parseMakerFees(payload)
	if err != nil {
		return nil, err
	}
	rejection, err := parseRejectionReason(payload, status)
	if err != nil {
		return nil, err
	}
	fills, err := parseOrderFills(payload, ts, filled)
	if err != nil {
		return nil, err
	}
	orderID, err := requireNonEmpty(payload, "order_id")
	if err != nil {
		return nil, err
	}
	clientOrderID, err := requireNonEmpty(payload, "client_order_id")
	if err != nil {
		return nil, err
	}
	ticker, err := requireNonEmpty(payload, "ticker")
	if err != nil {
		return nil, err
	}
	side := domain.OrderSide(lowerString(payload["side"]))
	if !side.Valid() {
		return nil, integrityErr("side", "invalid order side", payload["side"])
	}
	action := domain.OrderAction(lowerString(payload["action"]))
	if !action.Valid() {
		return nil, integrityErr("action", "invalid order action", payload["action"])
	}
	orderType := domain.OrderType(lowerString(payload["type"]))
	if !orderType.Valid() {
		return nil, integrityErr("type", "invalid order type", payload["type"])
	}

	return domain.NewOrderStateBuilder().
		OrderID(orderID).
		ClientOrderID(clientOrderID).
		Status(status).
		Ticker(ticker).
		Side(side).
		Action(action).
		Type(orderType).
		FilledCount(filled).
		RemainingCount(remaining).
		AverageFillPriceCents(avg).
		FeesCents(&fees).
		Fills(fills).
		TradeRule(tradeRule).
		TradeReason(tradeReason).
		RejectionReason(rejection).
		Timestamp(ts).
		Build()
}

func lowerString(v any) string {
	return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
}

func parseStatus(v any) (domain.OrderStatus, error) {
	raw := lowerString(v)
	status, ok := statusTable[raw]
	if !ok {
		return "", integrityErr("status", "unrecognized order status", raw)
	}
	return status, nil
}

func parseFilledCount(payload map[string]any) (int64, error) {
	v, ok := payload["fill_count"]
	if !ok {
		return 0, integrityErr("fill_count", "missing required field", nil)
	}
	n, ok := asInt(v)
	if !ok {
		return 0, integrityErr("fill_count", "not an integer", v)
	}
	return n, nil
}

// deriveRemaining prefers an explicit total, then an explicit remaining
// count, and otherwise assumes a single-contract order.
func deriveRemaining(payload map[string]any, filled int64) (int64, error) {
	for _, f := range totalCountFields {
		v, ok := payload[f]
		if !ok {
			continue
		}
		total, ok := asInt(v)
		if !ok {
			return 0, integrityErr(f, "not an integer", v)
		}
		return total - filled, nil
	}
	if v, ok := payload["remaining_count"]; ok {
		remaining, ok := asInt(v)
		if !ok {
			return 0, integrityErr("remaining_count", "not an integer", v)
		}
		return remaining, nil
	}
	return 1 - filled, nil
}

func parseCreatedTime(payload map[string]any) (time.Time, error) {
	v, ok := payload["created_time"]
	if !ok {
		return time.Time{}, integrityErr("created_time", "missing required field", nil)
	}
	s, ok := asString(v)
	if !ok {
		return time.Time{}, integrityErr("created_time", "not a string", v)
	}
	ts, ok := parseISOTime(s)
	if !ok {
		return time.Time{}, integrityErr("created_time", "not an ISO-8601 timestamp", s)
	}
	return ts, nil
}

// averageFillPrice trusts only a positive maker_fill_cost. The yes_price and
// no_price fields on an order reflect the live market and are ignored; the
// fills endpoint is the authority when no cost is reported.
func (p *Parser) averageFillPrice(payload map[string]any, filled int64) *int64 {
	if filled <= 0 {
		return nil
	}
	cost, ok := asNumber(payload["maker_fill_cost"])
	if !ok || cost <= 0 {
		p.logger.Debug("no reliable fill cost on order payload, deferring to fills",
			slog.Any("order_id", payload["order_id"]),
			slog.Int64("filled_count", filled),
		)
		return nil
	}
	avg := int64(cost) / filled
	return &avg
}

// parseMakerFees treats an absent maker_fees field as no fee charged.
func parseMakerFees(payload map[string]any) (int64, error) {
	v, ok := payload["maker_fees"]
	if !ok {
		return 0, nil
	}
	n, ok := asInt(v)
	if !ok {
		return 0, integrityErr("maker_fees", "not an integer", v)
	}
	return n, nil
}

func parseRejectionReason(payload map[string]any, status domain.OrderStatus) (string, error) {
	if status != domain.OrderStatusRejected {
		return "", nil
	}
	v, ok := payload["rejection_reason"]
	if !ok {
		return "", integrityErr("rejection_reason", "required when status is rejected", nil)
	}
	reason, ok := asString(v)
	if !ok || strings.TrimSpace(reason) == "" {
		return "", integrityErr("rejection_reason", "must be a non-empty string", v)
	}
	return reason, nil
}

func parseOrderFills(payload map[string]any, orderTS time.Time, filled int64) ([]domain.Fill, error) {
	raw, ok := payload["fills"]
	if !ok || raw == nil {
		return nil, nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, integrityErr("fills", fmt.Sprintf("expected list, got %T", raw), nil)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	fills := make([]domain.Fill, 0, len(entries))
	var sum int64
	for i, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			return nil, integrityErr(fmt.Sprintf("fills[%d]", i), "expected object", e)
		}
		priceRaw, ok := entry["price"]
		if !ok {
			return nil, integrityErr(fmt.Sprintf("fills[%d].price", i), "missing required field", nil)
		}
		price, ok := asInt(priceRaw)
		if !ok {
			return nil, integrityErr(fmt.Sprintf("fills[%d].price", i), "not an integer", priceRaw)
		}
		countRaw, ok := entry["count"]
		if !ok {
			return nil, integrityErr(fmt.Sprintf("fills[%d].count", i), "missing required field", nil)
		}
		count, ok := asInt(countRaw)
		if !ok {
			return nil, integrityErr(fmt.Sprintf("fills[%d].count", i), "not an integer", countRaw)
		}
		ts := orderTS
		if tsRaw, ok := entry["timestamp"]; ok {
			s, _ := asString(tsRaw)
			parsed, ok := parseISOTime(s)
			if !ok {
				return nil, integrityErr(fmt.Sprintf("fills[%d].timestamp", i), "not an ISO-8601 timestamp", tsRaw)
			}
			ts = parsed
		}
		fills = append(fills, domain.Fill{PriceCents: price, Count: count, Timestamp: ts})
		sum += count
	}
	if sum != filled {
		return nil, integrityErr("fills", fmt.Sprintf("fill counts sum to %d but fill_count is %d", sum, filled), nil)
	}
	return fills, nil
}

func requireNonEmpty(payload map[string]any, field string) (string, error) {
	v := payload[field]
	if v == nil {
		return "", integrityErr(field, "must not be empty", nil)
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return "", integrityErr(field, "must not be empty", nil)
	}
	return s, nil
}
