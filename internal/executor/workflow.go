package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// Terminal identifies how an execution workflow finished.
type Terminal int

const (
	// TerminalFilledAtSubmit means the acknowledgment already carried fills.
	TerminalFilledAtSubmit Terminal = iota + 1
	// TerminalCancelledAtSubmit means the exchange cancelled the order
	// before any wait.
	TerminalCancelledAtSubmit
	// TerminalFillsResolved means fills were found after the wait.
	TerminalFillsResolved
	// TerminalCancelConfirmed means nothing filled and the cancel stuck.
	TerminalCancelConfirmed
)

func (t Terminal) String() string {
	switch t {
	case TerminalFilledAtSubmit:
		return "FILLED_AT_SUBMIT"
	case TerminalCancelledAtSubmit:
		return "CANCELLED_AT_SUBMIT"
	case TerminalFillsResolved:
		return "FILLS_RESOLVED"
	case TerminalCancelConfirmed:
		return "CANCEL_CONFIRMED"
	}
	return fmt.Sprintf("Terminal(%d)", int(t))
}

// Phase is a step the workflow passed through.
type Phase string

const (
	PhaseSubmitted         Phase = "SUBMITTED"
	PhaseFilledAtSubmit    Phase = "FILLED_AT_SUBMIT"
	PhaseCancelledAtSubmit Phase = "CANCELLED_AT_SUBMIT"
	PhaseWaiting           Phase = "WAITING"
	PhaseFillsResolved     Phase = "FILLS_RESOLVED"
	PhaseTimedOut          Phase = "TIMED_OUT"
	PhaseCancelRequested   Phase = "CANCEL_REQUESTED"
	PhaseCancelConfirmed   Phase = "CANCEL_CONFIRMED"
	PhaseCancelFailed      Phase = "CANCEL_FAILED"
	PhaseFailed            Phase = "FAILED"
)

// WorkflowResult is the terminal state of a workflow run. Outcome is set only
// for TerminalFillsResolved.
type WorkflowResult struct {
	Terminal Terminal
	State    *domain.OrderExecutionState
	Outcome  *domain.ExecutionOutcome
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WorkflowDeps are the collaborators a Workflow composes.
type WorkflowDeps struct {
	Aggregator *Aggregator
	Gate       *CancellationGate
	FetchFills FillFetcher
	Sleep      Sleeper
	Logger     *slog.Logger
}

var errWorkflowUsed = errors.New("executor: workflow already ran")

// Workflow resolves a single submitted order: short-circuit on an immediate
// fill or cancel, otherwise wait once, look for fills, and cancel when there
// are none. A Workflow is bound to one order id and runs at most once.
type Workflow struct {
	orderID string
	deps    WorkflowDeps
	logger  *slog.Logger

	mu     sync.Mutex
	used   bool
	phases []Phase
}

// NewWorkflow binds a new workflow to orderID.
func NewWorkflow(orderID string, deps WorkflowDeps) *Workflow {
	if deps.Sleep == nil {
		deps.Sleep = SleepContext
	}
	return &Workflow{
		orderID: orderID,
		deps:    deps,
		logger:  deps.Logger.With(slog.String("component", "workflow"), slog.String("order_id", orderID)),
	}
}

// Phases returns the phases visited so far.
func (w *Workflow) Phases() []Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Phase(nil), w.phases...)
}

func (w *Workflow) enter(p Phase) {
	w.mu.Lock()
	w.phases = append(w.phases, p)
	w.mu.Unlock()
	w.logger.Debug("workflow phase", slog.String("phase", string(p)))
}

// Run drives state to a terminal result. state is updated in place when
// fills are resolved or a cancellation is confirmed. Cancellation of ctx
// during the wait is fatal: the order's true status is then unknown.
func (w *Workflow) Run(ctx context.Context, state *domain.OrderExecutionState, timeout time.Duration) (WorkflowResult, error) {
	w.mu.Lock()
	if w.used {
		w.mu.Unlock()
		return WorkflowResult{}, errWorkflowUsed
	}
	w.used = true
	w.mu.Unlock()

	if state == nil || state.OrderID != w.orderID {
		return WorkflowResult{}, fmt.Errorf("executor: workflow for order %s given a different order", w.orderID)
	}
	w.enter(PhaseSubmitted)

	if state.FilledCount > 0 {
		w.enter(PhaseFilledAtSubmit)
		return WorkflowResult{Terminal: TerminalFilledAtSubmit, State: state}, nil
	}
	if state.Status == domain.OrderStatusCancelled {
		w.enter(PhaseCancelledAtSubmit)
		return WorkflowResult{Terminal: TerminalCancelledAtSubmit, State: state}, nil
	}

	originalTotal := state.TotalCount()

	w.enter(PhaseWaiting)
	if err := w.deps.Sleep(ctx, timeout); err != nil {
		w.enter(PhaseFailed)
		return WorkflowResult{}, &domain.OrderPollingError{
			OrderID: w.orderID,
			Stage:   "wait",
			Message: "interrupted while waiting for fills, order status unknown",
			Err:     err,
		}
	}

	outcome, err := w.deps.Aggregator.Aggregate(ctx, w.orderID, w.deps.FetchFills)
	if err != nil {
		w.enter(PhaseFailed)
		return WorkflowResult{}, err
	}
	if outcome != nil {
		if err := state.ApplyOutcome(*outcome, originalTotal); err != nil {
			w.enter(PhaseFailed)
			return WorkflowResult{}, &domain.OrderPollingError{OrderID: w.orderID, Stage: "apply_outcome", Message: "fill outcome rejected", Err: err}
		}
		w.enter(PhaseFillsResolved)
		return WorkflowResult{Terminal: TerminalFillsResolved, State: state, Outcome: outcome}, nil
	}

	w.enter(PhaseTimedOut)
	w.enter(PhaseCancelRequested)
	cancelled, err := w.deps.Gate.CancelAndConfirm(ctx, w.orderID, state.TradeRule, state.TradeReason)
	if err != nil {
		w.enter(PhaseCancelFailed)
		return WorkflowResult{}, err
	}
	*state = *cancelled
	w.enter(PhaseCancelConfirmed)
	return WorkflowResult{Terminal: TerminalCancelConfirmed, State: state}, nil
}
