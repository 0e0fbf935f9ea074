package executor

import (
	"context"
	"log/slog"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// CancellationGate asks the exchange to cancel an order and then re-reads the
// order to confirm the cancellation took effect.
type CancellationGate struct {
	exchange domain.Exchange
	parser   *Parser
	logger   *slog.Logger
}

// NewCancellationGate creates a CancellationGate.
func NewCancellationGate(exchange domain.Exchange, parser *Parser, logger *slog.Logger) *CancellationGate {
	return &CancellationGate{
		exchange: exchange,
		parser:   parser,
		logger:   logger.With(slog.String("component", "cancellation_gate")),
	}
}

// CancelAndConfirm cancels orderID and returns the refetched, cancelled
// state. A refused cancel, a failed refetch, or a refetched status other than
// cancelled is an *domain.OrderPollingError.
func (g *CancellationGate) CancelAndConfirm(ctx context.Context, orderID, tradeRule, tradeReason string) (*domain.OrderExecutionState, error) {
	ok, err := g.exchange.CancelOrder(ctx, orderID)
	if err != nil {
		return nil, &domain.OrderPollingError{OrderID: orderID, Stage: "cancel", Message: "cancel request failed", Err: err}
	}
	if !ok {
		return nil, &domain.OrderPollingError{OrderID: orderID, Stage: "cancel", Message: "exchange did not acknowledge cancellation"}
	}

	raw, err := g.exchange.GetOrder(ctx, orderID)
	if err != nil {
		return nil, &domain.OrderPollingError{OrderID: orderID, Stage: "confirm_cancel", Message: "order refetch failed", Err: err}
	}
	state, err := g.parser.Parse(raw, tradeRule, tradeReason)
	if err != nil {
		return nil, &domain.OrderPollingError{OrderID: orderID, Stage: "confirm_cancel", Message: "refetched order is malformed", Err: err}
	}
	if state.Status != domain.OrderStatusCancelled {
		return nil, &domain.OrderPollingError{
			OrderID: orderID,
			Stage:   "confirm_cancel",
			Message: "order status is " + string(state.Status) + " after cancel was acknowledged",
		}
	}

	g.logger.InfoContext(ctx, "cancellation confirmed",
		slog.String("order_id", orderID),
		slog.Int64("filled_count", state.FilledCount),
	)
	return state, nil
}
