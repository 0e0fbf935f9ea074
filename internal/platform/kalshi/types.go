package kalshi

// orderRequest is the body of POST /portfolio/orders.
type orderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Action        string `json:"action"` // "buy" or "sell"
	Side          string `json:"side"`   // "yes" or "no"
	Type          string `json:"type"`   // "market" or "limit"
	Count         int64  `json:"count"`
	YesPrice      *int64 `json:"yes_price,omitempty"` // cents, 1-99
	NoPrice       *int64 `json:"no_price,omitempty"`  // cents, 1-99
	TimeInForce   string `json:"time_in_force,omitempty"`
	Expiration    *int64 `json:"expiration_ts,omitempty"` // unix seconds
}

// errorResponse is the body of a non-2xx API response.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e errorResponse) code() string {
	if e.Error.Code != "" {
		return e.Error.Code
	}
	return e.Code
}

func (e errorResponse) message() string {
	if e.Error.Message != "" {
		return e.Error.Message
	}
	return e.Message
}
