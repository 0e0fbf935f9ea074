package domain

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

var testTS = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

func int64Ptr(v int64) *int64 { return &v }

func baseBuilder() *OrderStateBuilder {
	return NewOrderStateBuilder().
		OrderID("ord-1").
		ClientOrderID("6f1c2a8e-6d8c-4b0a-9a8e-1f2b3c4d5e6f").
		Status(OrderStatusResting).
		Ticker("KXHIGHNY-25MAR14-B60").
		Side(OrderSideYes).
		Action(OrderActionBuy).
		Type(OrderTypeLimit).
		FilledCount(0).
		RemainingCount(10).
		AverageFillPriceCents(nil).
		FeesCents(int64Ptr(0)).
		Fills(nil).
		TradeRule("weather_edge").
		TradeReason("forecast above strike").
		RejectionReason("").
		Timestamp(testTS)
}

func requireIntegrityField(t *testing.T, err error, field string) {
	t.Helper()
	var integrity *DataIntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("expected DataIntegrityError, got %v", err)
	}
	if integrity.Field != field {
		t.Fatalf("expected field %q, got %q (%v)", field, integrity.Field, err)
	}
}

func TestBuilderBuildsValidState(t *testing.T) {
	st, err := baseBuilder().Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if st.TotalCount() != 10 {
		t.Fatalf("total: got %d want 10", st.TotalCount())
	}
	if st.Fills == nil {
		t.Fatal("fills should be an empty slice, not nil")
	}
}

func TestBuilderRequiresEveryField(t *testing.T) {
	b := NewOrderStateBuilder().
		OrderID("ord-1").
		ClientOrderID("c").
		Status(OrderStatusResting).
		Ticker("ABC").
		Side(OrderSideYes).
		Action(OrderActionBuy).
		Type(OrderTypeLimit).
		FilledCount(0).
		RemainingCount(1).
		AverageFillPriceCents(nil).
		Fills(nil).
		TradeRule("r").
		TradeReason("reason").
		RejectionReason("").
		Timestamp(testTS)
	_, err := b.Build()
	requireIntegrityField(t, err, "fees_cents")
}

func TestStateInvariants(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(b *OrderStateBuilder)
		field string
	}{
		{"filled status with zero fills", func(b *OrderStateBuilder) { b.Status(OrderStatusFilled) }, "filled_count"},
		{"partial status with zero fills", func(b *OrderStateBuilder) { b.Status(OrderStatusPartiallyFilled) }, "filled_count"},
		{"rejected without reason", func(b *OrderStateBuilder) { b.Status(OrderStatusRejected) }, "rejection_reason"},
		{"rejected with blank reason", func(b *OrderStateBuilder) { b.Status(OrderStatusRejected).RejectionReason("   ") }, "rejection_reason"},
		{"reason on non-rejected", func(b *OrderStateBuilder) { b.RejectionReason("nope") }, "rejection_reason"},
		{"average out of range", func(b *OrderStateBuilder) { b.AverageFillPriceCents(int64Ptr(100)) }, "average_fill_price_cents"},
		{"negative fees", func(b *OrderStateBuilder) { b.FeesCents(int64Ptr(-1)) }, "fees_cents"},
		{"negative remaining", func(b *OrderStateBuilder) { b.RemainingCount(-1) }, "remaining_count"},
		{"unknown status", func(b *OrderStateBuilder) { b.Status("open") }, "status"},
		{"missing order id", func(b *OrderStateBuilder) { b.OrderID("") }, "order_id"},
		{"missing timestamp", func(b *OrderStateBuilder) { b.Timestamp(time.Time{}) }, "timestamp"},
		{"fill sum mismatch", func(b *OrderStateBuilder) {
			b.Status(OrderStatusPartiallyFilled).FilledCount(5).Fills([]Fill{{PriceCents: 50, Count: 4, Timestamp: testTS}})
		}, "fills"},
		{"fill price out of range", func(b *OrderStateBuilder) {
			b.Status(OrderStatusPartiallyFilled).FilledCount(5).Fills([]Fill{{PriceCents: 0, Count: 5, Timestamp: testTS}})
		}, "fill.price"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := baseBuilder()
			tc.edit(b)
			_, err := b.Build()
			requireIntegrityField(t, err, tc.field)
		})
	}
}

func TestRejectedStateWithReason(t *testing.T) {
	st, err := baseBuilder().Status(OrderStatusRejected).RejectionReason("insufficient balance").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if st.RejectionReason != "insufficient balance" {
		t.Fatalf("reason: %q", st.RejectionReason)
	}
}

func TestApplyOutcome(t *testing.T) {
	st, err := baseBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	outcome := ExecutionOutcome{
		Fills:             []Fill{{PriceCents: 48, Count: 4}, {PriceCents: 52, Count: 2, Timestamp: testTS.Add(time.Second)}},
		TotalFilled:       6,
		AveragePriceCents: 49,
	}
	if err := st.ApplyOutcome(outcome, 10); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if st.Status != OrderStatusPartiallyFilled {
		t.Fatalf("status: %s", st.Status)
	}
	if st.FilledCount != 6 || st.RemainingCount != 4 {
		t.Fatalf("counts: filled=%d remaining=%d", st.FilledCount, st.RemainingCount)
	}
	if st.AverageFillPriceCents == nil || *st.AverageFillPriceCents != 49 {
		t.Fatalf("average: %v", st.AverageFillPriceCents)
	}
	if !st.Fills[0].Timestamp.Equal(testTS) {
		t.Fatalf("fill without timestamp should inherit order timestamp, got %v", st.Fills[0].Timestamp)
	}
}

func TestApplyOutcomeOverfillClampsRemaining(t *testing.T) {
	st, err := baseBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	outcome := ExecutionOutcome{Fills: []Fill{{PriceCents: 30, Count: 12}}, TotalFilled: 12, AveragePriceCents: 30}
	if err := st.ApplyOutcome(outcome, 10); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if st.RemainingCount != 0 || st.Status != OrderStatusFilled {
		t.Fatalf("got remaining=%d status=%s", st.RemainingCount, st.Status)
	}
}

func TestApplyOutcomeLeavesStateOnInvalidOutcome(t *testing.T) {
	st, err := baseBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	before := *st
	bad := ExecutionOutcome{Fills: []Fill{{PriceCents: 50, Count: 3}}, TotalFilled: 4, AveragePriceCents: 50}
	if err := st.ApplyOutcome(bad, 10); err == nil {
		t.Fatal("expected error for mismatched fill sum")
	}
	if st.Status != before.Status || st.FilledCount != before.FilledCount {
		t.Fatal("state mutated despite invalid outcome")
	}
}

func TestFillSumProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "fills")
		fills := make([]Fill, n)
		var sum int64
		for i := range fills {
			c := rapid.Int64Range(1, 500).Draw(t, "count")
			fills[i] = Fill{PriceCents: rapid.Int64Range(1, 99).Draw(t, "price"), Count: c, Timestamp: testTS}
			sum += c
		}
		delta := rapid.Int64Range(-3, 3).Draw(t, "delta")
		filled := sum + delta
		if filled <= 0 {
			filled = sum
			delta = 0
		}
		_, err := baseBuilder().
			Status(OrderStatusPartiallyFilled).
			FilledCount(filled).
			Fills(fills).
			Build()
		if delta == 0 && err != nil {
			t.Fatalf("matching sums rejected: %v", err)
		}
		if delta != 0 && err == nil {
			t.Fatalf("mismatched sums accepted: sum=%d filled=%d", sum, filled)
		}
	})
}
