package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `order_id, ticker, side, action, quantity, price_cents,
	fee_cents, cost_cents, market_category, trade_rule, trade_reason,
	domain_tag, trade_timestamp`

func scanTrade(row pgx.Row) (domain.TradeRecord, error) {
	var t domain.TradeRecord
	err := row.Scan(
		&t.OrderID, &t.Ticker, &t.Side, &t.Action, &t.Quantity, &t.PriceCents,
		&t.FeeCents, &t.CostCents, &t.MarketCategory, &t.TradeRule, &t.TradeReason,
		&t.DomainTag, &t.TradeTimestamp,
	)
	return t, err
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	defer rows.Close()
	var trades []domain.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// StoreTrade inserts a trade record. A second record for the same order id
// returns domain.ErrAlreadyExists.
func (s *TradeStore) StoreTrade(ctx context.Context, t domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			order_id, ticker, side, action, quantity, price_cents,
			fee_cents, cost_cents, market_category, trade_rule, trade_reason,
			domain_tag, trade_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		t.OrderID, t.Ticker, string(t.Side), string(t.Action), t.Quantity, t.PriceCents,
		t.FeeCents, t.CostCents, t.MarketCategory, t.TradeRule, t.TradeReason,
		t.DomainTag, t.TradeTimestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: store trade %s: %w", t.OrderID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: store trade %s: %w", t.OrderID, err)
	}
	return nil
}

// GetByOrderID returns the trade recorded for orderID.
func (s *TradeStore) GetByOrderID(ctx context.Context, orderID string) (domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE order_id = $1`
	t, err := scanTrade(s.pool.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeRecord{}, fmt.Errorf("postgres: trade %s: %w", orderID, domain.ErrNotFound)
		}
		return domain.TradeRecord{}, fmt.Errorf("postgres: get trade %s: %w", orderID, err)
	}
	return t, nil
}

// ListRecent returns trades newest first.
func (s *TradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query, args := listQuery(`SELECT `+tradeSelectCols+` FROM trades WHERE TRUE`, "trade_timestamp", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns up to limit trades older than before, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE trade_timestamp < $1 ORDER BY trade_timestamp ASC, order_id ASC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before.Format(time.RFC3339), err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// DeleteBefore removes trades older than before and returns the count.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE trade_timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}
