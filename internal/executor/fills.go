package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// FillFetcher returns the raw fill entries recorded for an order.
type FillFetcher func(ctx context.Context, orderID string) ([]map[string]any, error)

// Aggregator validates raw fills and computes the volume-weighted average
// price. It fetches exactly once per call and keeps no state.
type Aggregator struct {
	logger *slog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	return &Aggregator{logger: logger.With(slog.String("component", "fill_aggregator"))}
}

// Aggregate fetches the fills for orderID. It returns (nil, nil) when the
// exchange reports no fills. Any fetch or validation failure is an
// *domain.OrderPollingError.
func (a *Aggregator) Aggregate(ctx context.Context, orderID string, fetch FillFetcher) (*domain.ExecutionOutcome, error) {
	raw, err := fetch(ctx, orderID)
	if err != nil {
		return nil, &domain.OrderPollingError{OrderID: orderID, Stage: "fetch_fills", Message: "fill fetch failed", Err: err}
	}
	if len(raw) == 0 {
		a.logger.DebugContext(ctx, "no fills reported", slog.String("order_id", orderID))
		return nil, nil
	}

	fills := make([]domain.Fill, 0, len(raw))
	var totalFilled, totalCost int64
	for i, entry := range raw {
		fill, err := validateFillEntry(entry)
		if err != nil {
			return nil, &domain.OrderPollingError{
				OrderID: orderID,
				Stage:   "aggregate",
				Message: fmt.Sprintf("invalid fill entry %d", i),
				Err:     err,
			}
		}
		fills = append(fills, fill)
		totalFilled += fill.Count
		totalCost += fill.Count * fill.PriceCents
	}
	if totalFilled <= 0 {
		return nil, &domain.OrderPollingError{OrderID: orderID, Stage: "aggregate", Message: "fills total zero contracts"}
	}

	outcome := &domain.ExecutionOutcome{
		Fills:             fills,
		TotalFilled:       totalFilled,
		AveragePriceCents: totalCost / totalFilled,
	}
	a.logger.InfoContext(ctx, "fills aggregated",
		slog.String("order_id", orderID),
		slog.Int("fills", len(fills)),
		slog.Int64("total_filled", outcome.TotalFilled),
		slog.Int64("average_price_cents", outcome.AveragePriceCents),
	)
	return outcome, nil
}

// validateFillEntry checks one raw fill: a positive integer count, a side of
// exactly "yes" or "no", and the price field for that side.
func validateFillEntry(entry map[string]any) (domain.Fill, error) {
	countRaw, ok := entry["count"]
	if !ok {
		return domain.Fill{}, integrityErr("count", "missing required field", nil)
	}
	count, ok := asNumericInt(countRaw)
	if !ok || count <= 0 {
		return domain.Fill{}, integrityErr("count", "must be a positive integer", countRaw)
	}

	side, _ := asString(entry["side"])
	var priceField string
	switch side {
	case "yes":
		priceField = "yes_price"
	case "no":
		priceField = "no_price"
	default:
		return domain.Fill{}, integrityErr("side", `must be "yes" or "no"`, entry["side"])
	}

	priceRaw, ok := entry[priceField]
	if !ok {
		return domain.Fill{}, integrityErr(priceField, "missing required field", nil)
	}
	price, ok := asInt(priceRaw)
	if !ok {
		return domain.Fill{}, integrityErr(priceField, "not an integer", priceRaw)
	}

	fill := domain.Fill{PriceCents: price, Count: count}
	if tsRaw, ok := entry["created_time"]; ok {
		s, _ := asString(tsRaw)
		ts, ok := parseISOTime(s)
		if !ok {
			return domain.Fill{}, integrityErr("created_time", "not an ISO-8601 timestamp", tsRaw)
		}
		fill.Timestamp = ts
	}
	if err := fill.Validate(); err != nil {
		return domain.Fill{}, err
	}
	return fill, nil
}

// asNumericInt is asInt without string coercion.
func asNumericInt(v any) (int64, bool) {
	if _, isString := v.(string); isString {
		return 0, false
	}
	return asInt(v)
}
