package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists executed trade records. StoreTrade returns
// ErrAlreadyExists when a record for the order id is already stored.
type TradeStore interface {
	StoreTrade(ctx context.Context, trade TradeRecord) error
	GetByOrderID(ctx context.Context, orderID string) (TradeRecord, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]TradeRecord, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OrderMetadataStore persists the per-order rule and reason written at
// submission time.
type OrderMetadataStore interface {
	StoreOrderMetadata(ctx context.Context, meta OrderMetadata) error
	GetOrderMetadata(ctx context.Context, orderID string) (OrderMetadata, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
