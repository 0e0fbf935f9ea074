// Package notify fans trade execution events out to operator channels
// (Telegram, Discord) and to the event bus. Events can be filtered by type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mahrens917/common-sub001/internal/executor"
)

// Event types.
const (
	EventOrderExecuted = "order_executed"
	EventOrderError    = "order_error"
)

// Event is one notification. Data carries the structured order and response
// payloads; chat senders render Title and Text.
type Event struct {
	Type      string
	Title     string
	Text      string
	Data      map[string]any
	Timestamp time.Time
}

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, ev Event) error
	Name() string
}

// Notifier dispatches events to every sender. It implements
// executor.TradeNotifier.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	now     func() time.Time
	logger  *slog.Logger
}

var _ executor.TradeNotifier = (*Notifier)(nil)

// NewNotifier creates a Notifier. Only event types listed in events are
// forwarded; an empty list forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// AddSender registers another channel. It is not safe to call while events
// are being dispatched.
func (n *Notifier) AddSender(s Sender) {
	n.senders = append(n.senders, s)
}

// SendOrderExecuted reports a finalized trade.
func (n *Notifier) SendOrderExecuted(ctx context.Context, orderData, responseData map[string]any) error {
	return n.Notify(ctx, Event{
		Type:  EventOrderExecuted,
		Title: "Order executed",
		Text:  executedText(orderData, responseData),
		Data: map[string]any{
			"order":    orderData,
			"response": responseData,
		},
	})
}

// SendOrderError reports a failed execution.
func (n *Notifier) SendOrderError(ctx context.Context, orderData map[string]any, err error) error {
	return n.Notify(ctx, Event{
		Type:  EventOrderError,
		Title: "Order failed",
		Text:  errorText(orderData, err),
		Data: map[string]any{
			"order": orderData,
			"error": err.Error(),
		},
	})
}

// Notify sends ev to all senders if its type passes the filter.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	if len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", ev.Type))
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = n.now().UTC()
	}
	return n.dispatch(ctx, ev)
}

// dispatch delivers to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, ev Event) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, ev); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", ev.Type),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", ev.Type),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func executedText(order, resp map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %v %s %v", upper(order["action"]), resp["filled_count"], upper(order["side"]), order["ticker"])
	if avg, ok := resp["average_fill_price_cents"]; ok {
		fmt.Fprintf(&b, " @ %v¢", avg)
	}
	fmt.Fprintf(&b, "\nstatus %v", resp["status"])
	if fees, ok := resp["fees_cents"]; ok {
		fmt.Fprintf(&b, ", fees %v¢", fees)
	}
	fmt.Fprintf(&b, "\norder %v", resp["order_id"])
	if rule, ok := order["trade_rule"]; ok {
		fmt.Fprintf(&b, "\nrule %v: %v", rule, order["trade_reason"])
	}
	return b.String()
}

func errorText(order map[string]any, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %v %s %v", upper(order["action"]), order["count"], upper(order["side"]), order["ticker"])
	if id, ok := order["order_id"]; ok {
		fmt.Fprintf(&b, "\norder %v", id)
	}
	fmt.Fprintf(&b, "\nclient order %v\nerror: %v", order["client_order_id"], err)
	return b.String()
}

func upper(v any) string {
	return strings.ToUpper(fmt.Sprint(v))
}
