// Package kalshi is the REST transport to the Kalshi exchange. Order payloads
// are returned as decoded JSON objects so that callers can validate them
// strictly.
package kalshi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mahrens917/common-sub001/internal/crypto"
	"github.com/mahrens917/common-sub001/internal/domain"
	"github.com/mahrens917/common-sub001/internal/executor"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

// maxFillPages bounds cursor pagination on the fills endpoint.
const maxFillPages = 50

// APIError is a non-2xx response from the exchange. It unwraps to a domain
// sentinel where one applies.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	sentinel   error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kalshi: HTTP %d: %s (%s)", e.StatusCode, e.Message, e.Code)
}

func (e *APIError) Unwrap() error { return e.sentinel }

// Client is the REST client for the Kalshi exchange API. It implements
// domain.Exchange.
type Client struct {
	baseURL    string
	basePath   string
	signer     *crypto.Signer
	httpClient *http.Client
	logger     *slog.Logger
}

var _ domain.Exchange = (*Client)(nil)

// NewClient creates a Kalshi REST client. baseURL is the API root, e.g.
// DefaultBaseURL.
func NewClient(baseURL string, signer *crypto.Signer, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("kalshi: parse base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		basePath: strings.TrimRight(u.Path, "/"),
		signer:   signer,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With(slog.String("component", "kalshi_client")),
	}, nil
}

// SubmitOrder places req and returns the acknowledged order object.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (map[string]any, error) {
	body := orderRequest{
		Ticker:        req.Ticker,
		ClientOrderID: req.ClientOrderID,
		Action:        string(req.Action),
		Side:          string(req.Side),
		Type:          string(req.Type),
		Count:         req.Count,
		TimeInForce:   string(req.TimeInForce),
	}
	if req.PriceCents > 0 {
		price := req.PriceCents
		if req.Side == domain.OrderSideYes {
			body.YesPrice = &price
		} else {
			body.NoPrice = &price
		}
	}
	if req.ExpirationTS != nil {
		ts := req.ExpirationTS.Unix()
		body.Expiration = &ts
	}

	resp, err := c.doSignedRequest(ctx, http.MethodPost, "/portfolio/orders", body)
	if err != nil {
		return nil, fmt.Errorf("kalshi: submit order: %w", err)
	}
	order, err := executor.UnwrapOrder(resp)
	if err != nil {
		return nil, fmt.Errorf("kalshi: submit order: %w", err)
	}
	c.logger.InfoContext(ctx, "order submitted",
		slog.String("ticker", req.Ticker),
		slog.String("client_order_id", req.ClientOrderID),
		slog.Any("order_id", order["order_id"]),
	)
	return order, nil
}

// GetOrder returns the current order object.
func (c *Client) GetOrder(ctx context.Context, orderID string) (map[string]any, error) {
	resp, err := c.doSignedRequest(ctx, http.MethodGet, "/portfolio/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, fmt.Errorf("kalshi: get order %s: %w", orderID, err)
	}
	order, err := executor.UnwrapOrder(resp)
	if err != nil {
		return nil, fmt.Errorf("kalshi: get order %s: %w", orderID, err)
	}
	return order, nil
}

// GetFills returns every fill recorded for orderID, following the cursor.
func (c *Client) GetFills(ctx context.Context, orderID string) ([]map[string]any, error) {
	var fills []map[string]any
	cursor := ""
	for page := 0; page < maxFillPages; page++ {
		params := url.Values{}
		params.Set("order_id", orderID)
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		resp, err := c.doSignedRequest(ctx, http.MethodGet, "/portfolio/fills?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("kalshi: get fills %s: %w", orderID, err)
		}
		raw, ok := resp["fills"].([]any)
		if !ok && resp["fills"] != nil {
			return nil, fmt.Errorf("kalshi: get fills %s: fills is %T, not a list", orderID, resp["fills"])
		}
		for i, item := range raw {
			entry, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("kalshi: get fills %s: entry %d is %T, not an object", orderID, i, item)
			}
			fills = append(fills, entry)
		}
		next, _ := resp["cursor"].(string)
		if next == "" {
			return fills, nil
		}
		cursor = next
	}
	return nil, fmt.Errorf("kalshi: get fills %s: more than %d pages", orderID, maxFillPages)
}

// CancelOrder cancels orderID. It reports false when the exchange no longer
// knows the order as open.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	_, err := c.doSignedRequest(ctx, http.MethodDelete, "/portfolio/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.logger.WarnContext(ctx, "cancel of unknown order", slog.String("order_id", orderID))
			return false, nil
		}
		return false, fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}
	return true, nil
}

// doSignedRequest builds, signs, sends and decodes a request against the
// API. Numbers are decoded as json.Number.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) (map[string]any, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if err := c.signer.SignRequest(req, c.basePath+path); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	out := map[string]any{}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// checkStatus maps non-2xx HTTP status codes to an *APIError.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)

	e := &APIError{StatusCode: statusCode, Code: apiErr.code(), Message: apiErr.message()}
	switch statusCode {
	case http.StatusNotFound:
		e.sentinel = domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		e.sentinel = domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		e.sentinel = domain.ErrRateLimited
	case http.StatusConflict:
		e.sentinel = domain.ErrAlreadyExists
	}
	return e
}
