package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// MetadataStore implements domain.OrderMetadataStore as a Redis hash per
// order with a TTL. When a backing store is set, writes go to both and reads
// fall through to it on a cache miss.
type MetadataStore struct {
	rdb     *redis.Client
	ttl     time.Duration
	backing domain.OrderMetadataStore
	logger  *slog.Logger
}

var _ domain.OrderMetadataStore = (*MetadataStore)(nil)

// NewMetadataStore creates a MetadataStore. backing may be nil.
func NewMetadataStore(c *Client, ttl time.Duration, backing domain.OrderMetadataStore, logger *slog.Logger) *MetadataStore {
	return &MetadataStore{
		rdb:     c.Underlying(),
		ttl:     ttl,
		backing: backing,
		logger:  logger.With(slog.String("component", "metadata_cache")),
	}
}

func metadataKey(orderID string) string {
	return keyPrefix + "order_metadata:" + orderID
}

func encodeMetadata(m domain.OrderMetadata) map[string]any {
	return map[string]any{
		"order_id":        m.OrderID,
		"trade_rule":      m.TradeRule,
		"trade_reason":    m.TradeReason,
		"market_category": m.MarketCategory,
		"domain_tag":      m.DomainTag,
		"created_at":      m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeMetadata(fields map[string]string) (domain.OrderMetadata, error) {
	created, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return domain.OrderMetadata{}, fmt.Errorf("created_at: %w", err)
	}
	m := domain.OrderMetadata{
		OrderID:        fields["order_id"],
		TradeRule:      fields["trade_rule"],
		TradeReason:    fields["trade_reason"],
		MarketCategory: fields["market_category"],
		DomainTag:      fields["domain_tag"],
		CreatedAt:      created,
	}
	if m.OrderID == "" || m.TradeRule == "" || m.TradeReason == "" {
		return domain.OrderMetadata{}, errors.New("missing required field")
	}
	return m, nil
}

// StoreOrderMetadata writes m to the backing store first, then the cache.
func (s *MetadataStore) StoreOrderMetadata(ctx context.Context, m domain.OrderMetadata) error {
	if s.backing != nil {
		if err := s.backing.StoreOrderMetadata(ctx, m); err != nil {
			return err
		}
	}
	if err := s.cache(ctx, m); err != nil {
		if s.backing == nil {
			return err
		}
		s.logger.WarnContext(ctx, "metadata cache write failed",
			slog.String("order_id", m.OrderID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (s *MetadataStore) cache(ctx context.Context, m domain.OrderMetadata) error {
	key := metadataKey(m.OrderID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, encodeMetadata(m))
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: store order metadata %s: %w", m.OrderID, err)
	}
	return nil
}

// GetOrderMetadata reads the cache, falling back to the backing store and
// repopulating the cache from it.
func (s *MetadataStore) GetOrderMetadata(ctx context.Context, orderID string) (domain.OrderMetadata, error) {
	fields, err := s.rdb.HGetAll(ctx, metadataKey(orderID)).Result()
	if err != nil && s.backing == nil {
		return domain.OrderMetadata{}, fmt.Errorf("redis: get order metadata %s: %w", orderID, err)
	}
	if err == nil && len(fields) > 0 {
		m, decodeErr := decodeMetadata(fields)
		if decodeErr == nil {
			return m, nil
		}
		if s.backing == nil {
			return domain.OrderMetadata{}, fmt.Errorf("redis: decode order metadata %s: %w", orderID, decodeErr)
		}
	}
	if s.backing == nil {
		return domain.OrderMetadata{}, fmt.Errorf("redis: order metadata %s: %w", orderID, domain.ErrNotFound)
	}

	m, err := s.backing.GetOrderMetadata(ctx, orderID)
	if err != nil {
		return domain.OrderMetadata{}, err
	}
	if cacheErr := s.cache(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "metadata cache refill failed",
			slog.String("order_id", orderID),
			slog.String("error", cacheErr.Error()),
		)
	}
	return m, nil
}
