package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// FeeCalculator computes the exchange fee for a fill.
type FeeCalculator interface {
	Fee(contracts, priceCents int64, ticker string) (int64, error)
}

// Options tunes a Coordinator. Zero values fall back to the defaults below.
type Options struct {
	DefaultTimeout   time.Duration
	MaxTimeout       time.Duration
	BatchConcurrency int
}

const (
	defaultFillTimeout      = 10 * time.Second
	defaultMaxFillTimeout   = 5 * time.Minute
	defaultBatchConcurrency = 4

	// reportTimeout bounds failure notifications and audit writes, which
	// run detached from the caller's context.
	reportTimeout = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = defaultFillTimeout
	}
	if o.MaxTimeout <= 0 {
		o.MaxTimeout = defaultMaxFillTimeout
	}
	if o.BatchConcurrency <= 0 {
		o.BatchConcurrency = defaultBatchConcurrency
	}
	return o
}

// Deps are the required collaborators of a Coordinator.
type Deps struct {
	Exchange domain.Exchange
	Trades   domain.TradeStore
	Metadata domain.OrderMetadataStore
	Notifier TradeNotifier
	Resolver MetadataResolver
	Fees     FeeCalculator
	Logger   *slog.Logger
}

// Coordinator runs an order from validation through submission, fill
// resolution and trade persistence. It is safe for concurrent use; each call
// builds its own Workflow.
type Coordinator struct {
	exchange   domain.Exchange
	metadata   domain.OrderMetadataStore
	notifier   TradeNotifier
	resolver   MetadataResolver
	fees       FeeCalculator
	validator  *Validator
	parser     *Parser
	aggregator *Aggregator
	gate       *CancellationGate
	finalizer  *Finalizer
	opts       Options
	sleep      Sleeper
	logger     *slog.Logger

	// optional
	locks      domain.LockManager
	lockTTL    time.Duration
	limiter    domain.RateLimiter
	rateLimit  int
	rateWindow time.Duration
	dedup      *Dedup
	audit      domain.AuditStore
}

// NewCoordinator wires the execution pipeline from deps.
func NewCoordinator(deps Deps, opts Options) *Coordinator {
	parser := NewParser(deps.Logger)
	return &Coordinator{
		exchange:   deps.Exchange,
		metadata:   deps.Metadata,
		notifier:   deps.Notifier,
		resolver:   deps.Resolver,
		fees:       deps.Fees,
		validator:  NewValidator(nil),
		parser:     parser,
		aggregator: NewAggregator(deps.Logger),
		gate:       NewCancellationGate(deps.Exchange, parser, deps.Logger),
		finalizer:  NewFinalizer(deps.Trades, deps.Notifier, deps.Resolver, deps.Logger),
		opts:       opts.withDefaults(),
		sleep:      SleepContext,
		logger:     deps.Logger.With(slog.String("component", "coordinator")),
	}
}

// WithLocks serialises executions per client order id across processes.
func (c *Coordinator) WithLocks(locks domain.LockManager, ttl time.Duration) *Coordinator {
	c.locks = locks
	c.lockTTL = ttl
	return c
}

// WithRateLimit caps submissions to limit per window.
func (c *Coordinator) WithRateLimit(limiter domain.RateLimiter, limit int, window time.Duration) *Coordinator {
	c.limiter = limiter
	c.rateLimit = limit
	c.rateWindow = window
	return c
}

// WithDedup rejects client order ids this process has already submitted.
func (c *Coordinator) WithDedup(d *Dedup) *Coordinator {
	c.dedup = d
	return c
}

// WithAudit records order lifecycle events.
func (c *Coordinator) WithAudit(audit domain.AuditStore) *Coordinator {
	c.audit = audit
	return c
}

// WithSleeper replaces the fill wait, mainly for tests.
func (c *Coordinator) WithSleeper(s Sleeper) *Coordinator {
	c.sleep = s
	return c
}

// WithClock replaces the validator clock.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.validator = NewValidator(now)
	return c
}

// CalculateFee returns the fee in cents for contracts at priceCents.
func (c *Coordinator) CalculateFee(contracts, priceCents int64, ticker string) (int64, error) {
	return c.fees.Fee(contracts, priceCents, ticker)
}

// GetOrder fetches an order from the exchange and attaches the rule and
// reason stored when it was submitted.
func (c *Coordinator) GetOrder(ctx context.Context, orderID string) (*domain.OrderExecutionState, error) {
	meta, err := c.metadata.GetOrderMetadata(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("executor: get order %s: metadata: %w", orderID, err)
	}
	raw, err := c.exchange.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("executor: get order %s: %w", orderID, err)
	}
	return c.parser.Parse(raw, meta.TradeRule, meta.TradeReason)
}

func (c *Coordinator) resolveTimeout(timeout time.Duration) (time.Duration, error) {
	if timeout <= 0 {
		return c.opts.DefaultTimeout, nil
	}
	if timeout > c.opts.MaxTimeout {
		return 0, &domain.ValidationError{Field: "timeout", Message: fmt.Sprintf("must not exceed %s", c.opts.MaxTimeout)}
	}
	return timeout, nil
}

// SubmitAndTrack validates req, submits it, waits at most timeout for fills
// and records the trade. The returned state is FILLED, PARTIALLY_FILLED or
// CANCELLED. When the trade was stored but the notification failed, the
// state is returned together with a *domain.TradeNotificationError.
func (c *Coordinator) SubmitAndTrack(ctx context.Context, req domain.OrderRequest, timeout time.Duration) (*domain.OrderExecutionState, error) {
	if err := c.validator.Validate(req); err != nil {
		return nil, err
	}
	timeout, err := c.resolveTimeout(timeout)
	if err != nil {
		return nil, err
	}

	log := c.logger.With(
		slog.String("ticker", req.Ticker),
		slog.String("client_order_id", req.ClientOrderID),
	)

	if c.dedup != nil && !c.dedup.Claim(req.ClientOrderID) {
		return nil, fmt.Errorf("executor: client order id %s: %w", req.ClientOrderID, domain.ErrDuplicateOrder)
	}
	if err := c.checkRate(ctx); err != nil {
		c.releaseDedup(req.ClientOrderID)
		return nil, err
	}
	if c.locks != nil {
		unlock, err := c.locks.Acquire(ctx, "order:"+req.ClientOrderID, c.lockTTL)
		if err != nil {
			c.releaseDedup(req.ClientOrderID)
			return nil, fmt.Errorf("executor: lock client order id %s: %w", req.ClientOrderID, err)
		}
		defer unlock()
	}

	state, err := c.execute(ctx, log, req, timeout)
	if err != nil {
		var notifyErr *domain.TradeNotificationError
		if !errors.As(err, &notifyErr) {
			c.reportFailure(ctx, log, req, state, err)
		}
		return state, err
	}
	return state, nil
}

func (c *Coordinator) checkRate(ctx context.Context) error {
	if c.limiter == nil || c.rateLimit <= 0 {
		return nil
	}
	ok, err := c.limiter.Allow(ctx, "submit", c.rateLimit, c.rateWindow)
	if err != nil {
		return fmt.Errorf("executor: rate limiter: %w", err)
	}
	if !ok {
		return fmt.Errorf("executor: order submission: %w", domain.ErrRateLimited)
	}
	return nil
}

func (c *Coordinator) releaseDedup(id string) {
	if c.dedup != nil {
		c.dedup.Release(id)
	}
}

// execute runs everything after the pre-flight checks. The returned state is
// nil until the exchange acknowledgment parsed.
func (c *Coordinator) execute(ctx context.Context, log *slog.Logger, req domain.OrderRequest, timeout time.Duration) (*domain.OrderExecutionState, error) {
	raw, err := c.exchange.SubmitOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("executor: submit order: %w", err)
	}
	state, err := c.parser.Parse(raw, req.TradeRule, req.TradeReason)
	if err != nil {
		return nil, err
	}
	log = log.With(slog.String("order_id", state.OrderID))
	log.InfoContext(ctx, "order acknowledged",
		slog.String("status", string(state.Status)),
		slog.Int64("filled_count", state.FilledCount),
	)

	if err := c.storeMetadata(ctx, state); err != nil {
		return state, err
	}
	c.auditLog(ctx, "order.submitted", map[string]any{
		"order_id":        state.OrderID,
		"client_order_id": state.ClientOrderID,
		"ticker":          state.Ticker,
		"count":           req.Count,
		"price_cents":     req.PriceCents,
	})

	if state.Status == domain.OrderStatusRejected {
		return state, &domain.OrderRejectedError{OrderID: state.OrderID, Reason: state.RejectionReason}
	}

	wf := NewWorkflow(state.OrderID, WorkflowDeps{
		Aggregator: c.aggregator,
		Gate:       c.gate,
		FetchFills: c.exchange.GetFills,
		Sleep:      c.sleep,
		Logger:     c.logger,
	})
	res, err := wf.Run(ctx, state, timeout)
	if err != nil {
		return state, err
	}

	var price int64
	switch res.Terminal {
	case TerminalCancelledAtSubmit:
		c.auditCancelled(ctx, state)
		return state, nil
	case TerminalCancelConfirmed:
		if state.FilledCount == 0 {
			c.auditCancelled(ctx, state)
			return state, nil
		}
		// Fills landed between the wait and the cancel.
		if price, err = c.reconcile(ctx, state); err != nil {
			return state, err
		}
	case TerminalFilledAtSubmit:
		if state.AverageFillPriceCents == nil {
			if price, err = c.reconcile(ctx, state); err != nil {
				return state, err
			}
		} else {
			price = *state.AverageFillPriceCents
			if err := settleFilled(state); err != nil {
				return state, err
			}
		}
	case TerminalFillsResolved:
		price = res.Outcome.AveragePriceCents
	}

	record, err := c.finalizer.Finalize(ctx, req, state, price)
	if record != nil {
		c.auditLog(ctx, "order.filled", map[string]any{
			"order_id":    record.OrderID,
			"ticker":      record.Ticker,
			"quantity":    record.Quantity,
			"price_cents": record.PriceCents,
			"fee_cents":   record.FeeCents,
			"status":      string(state.Status),
		})
	}
	return state, err
}

// reconcile fetches fills once and folds them into state. It is used when
// the order reports fills without a trustworthy average price.
func (c *Coordinator) reconcile(ctx context.Context, state *domain.OrderExecutionState) (int64, error) {
	outcome, err := c.aggregator.Aggregate(ctx, state.OrderID, c.exchange.GetFills)
	if err != nil {
		return 0, err
	}
	if outcome == nil {
		return 0, &domain.OrderPollingError{
			OrderID: state.OrderID,
			Stage:   "reconcile",
			Message: fmt.Sprintf("order reports %d filled but the exchange returned no fills", state.FilledCount),
		}
	}
	if err := state.ApplyOutcome(*outcome, state.TotalCount()); err != nil {
		return 0, &domain.OrderPollingError{OrderID: state.OrderID, Stage: "reconcile", Message: "fill outcome rejected", Err: err}
	}
	return outcome.AveragePriceCents, nil
}

// settleFilled moves an order that filled at submission to its filled
// status. The acknowledgment may report it as executed or resting.
func settleFilled(state *domain.OrderExecutionState) error {
	next := *state
	if next.RemainingCount > 0 {
		next.Status = domain.OrderStatusPartiallyFilled
	} else {
		next.Status = domain.OrderStatusFilled
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*state = next
	return nil
}

func (c *Coordinator) storeMetadata(ctx context.Context, state *domain.OrderExecutionState) error {
	category, tag, err := c.resolver.ResolveTradeContext(ctx, state.Ticker)
	if err != nil {
		return &domain.TradePersistenceError{OrderID: state.OrderID, Ticker: state.Ticker, Message: "market category lookup failed", Err: err}
	}
	meta := domain.OrderMetadata{
		OrderID:        state.OrderID,
		TradeRule:      state.TradeRule,
		TradeReason:    state.TradeReason,
		MarketCategory: category,
		DomainTag:      tag,
		CreatedAt:      state.Timestamp,
	}
	if err := c.metadata.StoreOrderMetadata(ctx, meta); err != nil {
		return &domain.TradePersistenceError{OrderID: state.OrderID, Ticker: state.Ticker, Message: "store order metadata", Err: err}
	}
	return nil
}

func (c *Coordinator) auditCancelled(ctx context.Context, state *domain.OrderExecutionState) {
	c.logger.InfoContext(ctx, "order cancelled without fills", slog.String("order_id", state.OrderID))
	c.auditLog(ctx, "order.cancelled", map[string]any{
		"order_id": state.OrderID,
		"ticker":   state.Ticker,
	})
}

// reportFailure audits and announces a failed execution on a context
// detached from the caller's cancellation.
func (c *Coordinator) reportFailure(ctx context.Context, log *slog.Logger, req domain.OrderRequest, state *domain.OrderExecutionState, cause error) {
	ctx, cancel := detach(ctx)
	defer cancel()
	log.ErrorContext(ctx, "order execution failed",
		slog.String("code", domain.ErrorCode(cause)),
		slog.String("error", cause.Error()),
	)
	detail := map[string]any{
		"client_order_id": req.ClientOrderID,
		"ticker":          req.Ticker,
		"code":            domain.ErrorCode(cause),
		"error":           cause.Error(),
	}
	if state != nil {
		detail["order_id"] = state.OrderID
	}
	c.auditLog(ctx, "order.failed", detail)

	if err := c.notifier.SendOrderError(ctx, OrderData(req, state), cause); err != nil {
		log.WarnContext(ctx, "order error notification failed", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) auditLog(ctx context.Context, event string, detail map[string]any) {
	if c.audit == nil {
		return
	}
	ctx, cancel := detach(ctx)
	defer cancel()
	if err := c.audit.Log(ctx, event, detail); err != nil {
		c.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
}
