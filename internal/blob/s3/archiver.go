package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// DefaultBatchSize is the number of trades read per archive object.
const DefaultBatchSize = 5000

// TradeArchiveStore is the part of domain.TradeStore the archiver needs.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// archivedTrade is the JSONL row written for each trade.
type archivedTrade struct {
	OrderID        string    `json:"order_id"`
	Ticker         string    `json:"ticker"`
	Side           string    `json:"side"`
	Action         string    `json:"action"`
	Quantity       int64     `json:"quantity"`
	PriceCents     int64     `json:"price_cents"`
	FeeCents       int64     `json:"fee_cents"`
	CostCents      int64     `json:"cost_cents"`
	MarketCategory string    `json:"market_category"`
	TradeRule      string    `json:"trade_rule"`
	TradeReason    string    `json:"trade_reason"`
	DomainTag      string    `json:"domain_tag,omitempty"`
	TradeTimestamp time.Time `json:"trade_timestamp"`
}

func toArchived(t domain.TradeRecord) archivedTrade {
	return archivedTrade{
		OrderID:        t.OrderID,
		Ticker:         t.Ticker,
		Side:           string(t.Side),
		Action:         string(t.Action),
		Quantity:       t.Quantity,
		PriceCents:     t.PriceCents,
		FeeCents:       t.FeeCents,
		CostCents:      t.CostCents,
		MarketCategory: t.MarketCategory,
		TradeRule:      t.TradeRule,
		TradeReason:    t.TradeReason,
		DomainTag:      t.DomainTag,
		TradeTimestamp: t.TradeTimestamp.UTC(),
	}
}

// ArchiveImpl implements domain.Archiver. Trades older than the cutoff are
// uploaded as JSONL and deleted from the primary store only after the
// upload succeeds.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	trades    TradeArchiveStore
	audit     domain.AuditStore
	batchSize int
	logger    *slog.Logger
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates an archiver. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	trades TradeArchiveStore,
	audit domain.AuditStore,
	batchSize int,
	logger *slog.Logger,
) *ArchiveImpl {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ArchiveImpl{
		writer:    writer,
		reader:    reader,
		trades:    trades,
		audit:     audit,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades moves every trade older than before to object storage and
// returns the number archived.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		n, done, err := a.archiveBatch(ctx, before)
		total += n
		if err != nil {
			return total, err
		}
		if done {
			break
		}
	}
	if total > 0 {
		a.logger.InfoContext(ctx, "trades archived",
			slog.Int64("count", total),
			slog.Time("before", before),
		)
	}
	return total, nil
}

// archiveBatch handles one batch. A full batch is cut at its newest
// timestamp so that trades sharing that timestamp stay together in the next
// batch; the store deletes by timestamp, not by id. Postgres keeps
// microsecond precision.
func (a *ArchiveImpl) archiveBatch(ctx context.Context, before time.Time) (int64, bool, error) {
	trades, err := a.trades.ListBefore(ctx, before, a.batchSize)
	if err != nil {
		return 0, true, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, true, nil
	}

	cutoff := before
	done := len(trades) < a.batchSize
	if !done {
		cutoff = trades[len(trades)-1].TradeTimestamp
		trades = trimAtCutoff(trades, cutoff)
		if len(trades) == 0 {
			// The whole batch shares one timestamp: take all of them.
			cutoff = cutoff.Add(time.Microsecond)
			if cutoff.After(before) {
				cutoff = before
			}
			trades, err = a.trades.ListBefore(ctx, cutoff, math.MaxInt32)
			if err != nil {
				return 0, true, fmt.Errorf("s3blob: archive trades query: %w", err)
			}
		}
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, true, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}
	path, err := a.objectPath(ctx, trades[0].TradeTimestamp, cutoff)
	if err != nil {
		return 0, true, err
	}
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, true, err
	}

	deleted, err := a.trades.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, true, fmt.Errorf("s3blob: archive trades delete: %w", err)
	}
	if deleted != int64(len(trades)) {
		a.logger.WarnContext(ctx, "archived and deleted counts differ",
			slog.Int("archived", len(trades)),
			slog.Int64("deleted", deleted),
			slog.String("path", path),
		)
	}

	count := int64(len(trades))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.trades", map[string]any{
			"path":   path,
			"count":  count,
			"before": cutoff.Format(time.RFC3339Nano),
		}); err != nil {
			return count, true, fmt.Errorf("s3blob: archive trades audit log: %w", err)
		}
	}
	return count, done, nil
}

func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	var err error
	if int64(len(buf)) >= minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	return nil
}

// objectPath returns the key for a batch spanning [from, to). An existing
// object at that key (an earlier run that uploaded but failed to delete)
// is never overwritten.
func (a *ArchiveImpl) objectPath(ctx context.Context, from, to time.Time) (string, error) {
	path := archivePath(from, to, "")
	if a.reader == nil {
		return path, nil
	}
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive trades: %w", err)
	}
	if exists {
		return archivePath(from, to, uuid.NewString()), nil
	}
	return path, nil
}

func trimAtCutoff(trades []domain.TradeRecord, cutoff time.Time) []domain.TradeRecord {
	end := len(trades)
	for end > 0 && !trades[end-1].TradeTimestamp.Before(cutoff) {
		end--
	}
	return trades[:end]
}

// archivePath builds keys partitioned by month:
//
//	archive/trades/2025-01/20250101T000000Z_20250115T120000Z.jsonl
func archivePath(from, to time.Time, suffix string) string {
	const stamp = "20060102T150405Z"
	name := from.UTC().Format(stamp) + "_" + to.UTC().Format(stamp)
	if suffix != "" {
		name += "_" + suffix
	}
	return fmt.Sprintf("archive/trades/%s/%s.jsonl", from.UTC().Format("2006-01"), name)
}

// marshalJSONL encodes one compact JSON object per line.
func marshalJSONL(trades []domain.TradeRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, t := range trades {
		if err := enc.Encode(toArchived(t)); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
