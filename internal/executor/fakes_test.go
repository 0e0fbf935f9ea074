package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mahrens917/common-sub001/internal/domain"
)

const (
	testClientOrderID = "6f1c2a8e-6d8c-4b0a-9a8e-1f2b3c4d5e6f"
	testTicker        = "KXHIGHNY-25MAR14-B60"
	testCreatedTime   = "2025-03-14T15:09:26Z"
)

var testTS = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func int64Ptr(v int64) *int64 { return &v }

func instantSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func validRequest() domain.OrderRequest {
	return domain.OrderRequest{
		Ticker:        testTicker,
		Action:        domain.OrderActionBuy,
		Side:          domain.OrderSideYes,
		Count:         10,
		ClientOrderID: testClientOrderID,
		TradeRule:     "weather_edge",
		TradeReason:   "forecast high above strike",
		Type:          domain.OrderTypeLimit,
		PriceCents:    45,
		TimeInForce:   domain.TimeInForceGoodTillCancelled,
	}
}

// orderPayload is an exchange order object for req with the given status
// and fill count. extra entries are merged on top.
func orderPayload(req domain.OrderRequest, orderID, status string, filled int64, extra map[string]any) map[string]any {
	p := map[string]any{
		"order_id":        orderID,
		"client_order_id": req.ClientOrderID,
		"status":          status,
		"ticker":          req.Ticker,
		"side":            string(req.Side),
		"action":          string(req.Action),
		"type":            string(req.Type),
		"fill_count":      filled,
		"initial_count":   req.Count,
		"created_time":    testCreatedTime,
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

func fillEntry(count, price int64) map[string]any {
	return map[string]any{"count": count, "side": "yes", "yes_price": price}
}

type fakeExchange struct {
	mu sync.Mutex

	submit    func(req domain.OrderRequest) (map[string]any, error)
	orders    map[string]map[string]any
	fills     map[string][]map[string]any
	fillsErr  error
	cancelOK  bool
	cancelErr error

	submitCalls int
	fillCalls   int
	cancelCalls int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		orders:   make(map[string]map[string]any),
		fills:    make(map[string][]map[string]any),
		cancelOK: true,
	}
}

func (f *fakeExchange) SubmitOrder(_ context.Context, req domain.OrderRequest) (map[string]any, error) {
	f.mu.Lock()
	f.submitCalls++
	submit := f.submit
	f.mu.Unlock()
	return submit(req)
}

func (f *fakeExchange) GetOrder(_ context.Context, orderID string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o, nil
}

func (f *fakeExchange) GetFills(_ context.Context, orderID string) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fillCalls++
	if f.fillsErr != nil {
		return nil, f.fillsErr
	}
	return f.fills[orderID], nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return f.cancelOK, f.cancelErr
}

type fakeTradeStore struct {
	mu     sync.Mutex
	trades map[string]domain.TradeRecord
	err    error
}

func newFakeTradeStore() *fakeTradeStore {
	return &fakeTradeStore{trades: make(map[string]domain.TradeRecord)}
}

func (s *fakeTradeStore) StoreTrade(_ context.Context, t domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, ok := s.trades[t.OrderID]; ok {
		return domain.ErrAlreadyExists
	}
	s.trades[t.OrderID] = t
	return nil
}

func (s *fakeTradeStore) GetByOrderID(_ context.Context, orderID string) (domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[orderID]
	if !ok {
		return domain.TradeRecord{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *fakeTradeStore) ListRecent(context.Context, domain.ListOpts) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (s *fakeTradeStore) ListBefore(context.Context, time.Time, int) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (s *fakeTradeStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeTradeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

type fakeMetadataStore struct {
	mu   sync.Mutex
	meta map[string]domain.OrderMetadata
	err  error
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{meta: make(map[string]domain.OrderMetadata)}
}

func (s *fakeMetadataStore) StoreOrderMetadata(_ context.Context, m domain.OrderMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.meta[m.OrderID] = m
	return nil
}

func (s *fakeMetadataStore) GetOrderMetadata(_ context.Context, orderID string) (domain.OrderMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meta[orderID]
	if !ok {
		return domain.OrderMetadata{}, domain.ErrNotFound
	}
	return m, nil
}

type fakeNotifier struct {
	mu          sync.Mutex
	executedErr error
	executed    []map[string]any
	failures    []error
}

func (n *fakeNotifier) SendOrderExecuted(_ context.Context, _, response map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.executedErr != nil {
		return n.executedErr
	}
	n.executed = append(n.executed, response)
	return nil
}

func (n *fakeNotifier) SendOrderError(ctx context.Context, _ map[string]any, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, err)
	return nil
}

func (n *fakeNotifier) counts() (executed, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.executed), len(n.failures)
}

type fakeResolver struct{ err error }

func (r fakeResolver) ResolveTradeContext(context.Context, string) (string, string, error) {
	if r.err != nil {
		return "", "", r.err
	}
	return "weather", "KNYC", nil
}

type flatFees struct{}

func (flatFees) Fee(contracts, _ int64, _ string) (int64, error) {
	if contracts < 0 {
		return 0, errors.New("negative contracts")
	}
	return contracts, nil
}

type fakeLimiter struct{ allow bool }

func (l fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allow, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAudit) Log(ctx context.Context, event string, _ map[string]any) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type harness struct {
	exchange *fakeExchange
	trades   *fakeTradeStore
	metadata *fakeMetadataStore
	notifier *fakeNotifier
	audit    *fakeAudit
	coord    *Coordinator
}

func newHarness() *harness {
	h := &harness{
		exchange: newFakeExchange(),
		trades:   newFakeTradeStore(),
		metadata: newFakeMetadataStore(),
		notifier: &fakeNotifier{},
		audit:    &fakeAudit{},
	}
	h.coord = NewCoordinator(Deps{
		Exchange: h.exchange,
		Trades:   h.trades,
		Metadata: h.metadata,
		Notifier: h.notifier,
		Resolver: fakeResolver{},
		Fees:     flatFees{},
		Logger:   discardLogger(),
	}, Options{}).
		WithSleeper(instantSleep).
		WithAudit(h.audit).
		WithClock(func() time.Time { return testTS })
	return h
}
