package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// OrderMetadataStore implements domain.OrderMetadataStore using PostgreSQL.
type OrderMetadataStore struct {
	pool *pgxpool.Pool
}

// NewOrderMetadataStore creates a new OrderMetadataStore.
func NewOrderMetadataStore(pool *pgxpool.Pool) *OrderMetadataStore {
	return &OrderMetadataStore{pool: pool}
}

// StoreOrderMetadata upserts the metadata for an order.
func (s *OrderMetadataStore) StoreOrderMetadata(ctx context.Context, m domain.OrderMetadata) error {
	const query = `
		INSERT INTO order_metadata (order_id, trade_rule, trade_reason, market_category, domain_tag, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id) DO UPDATE SET
			trade_rule = EXCLUDED.trade_rule,
			trade_reason = EXCLUDED.trade_reason,
			market_category = EXCLUDED.market_category,
			domain_tag = EXCLUDED.domain_tag`
	_, err := s.pool.Exec(ctx, query, m.OrderID, m.TradeRule, m.TradeReason, m.MarketCategory, m.DomainTag, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: store order metadata %s: %w", m.OrderID, err)
	}
	return nil
}

// GetOrderMetadata returns the metadata stored for orderID.
func (s *OrderMetadataStore) GetOrderMetadata(ctx context.Context, orderID string) (domain.OrderMetadata, error) {
	const query = `
		SELECT order_id, trade_rule, trade_reason, market_category, domain_tag, created_at
		FROM order_metadata WHERE order_id = $1`
	var m domain.OrderMetadata
	err := s.pool.QueryRow(ctx, query, orderID).Scan(
		&m.OrderID, &m.TradeRule, &m.TradeReason, &m.MarketCategory, &m.DomainTag, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OrderMetadata{}, fmt.Errorf("postgres: order metadata %s: %w", orderID, domain.ErrNotFound)
		}
		return domain.OrderMetadata{}, fmt.Errorf("postgres: get order metadata %s: %w", orderID, err)
	}
	return m, nil
}
