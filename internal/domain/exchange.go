package domain

import "context"

// Exchange is the transport to the prediction-market exchange. Payloads are
// returned undecoded so that the executor can parse them strictly.
type Exchange interface {
	// SubmitOrder places the order and returns the acknowledged order object.
	SubmitOrder(ctx context.Context, req OrderRequest) (map[string]any, error)
	// GetOrder returns the current order object.
	GetOrder(ctx context.Context, orderID string) (map[string]any, error)
	// GetFills returns every fill the exchange recorded for the order.
	GetFills(ctx context.Context, orderID string) ([]map[string]any, error)
	// CancelOrder reports whether the exchange accepted the cancellation.
	CancelOrder(ctx context.Context, orderID string) (bool, error)
}
