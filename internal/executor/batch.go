package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// MaxBatchSize is the largest number of orders accepted by SubmitBatch.
const MaxBatchSize = 20

// BatchItemResult is the outcome of one order in a batch. State is set
// whenever the order was acknowledged by the exchange, even if a later step
// failed.
type BatchItemResult struct {
	Index        int
	State        *domain.OrderExecutionState
	ErrorCode    string
	ErrorMessage string
	Err          error
}

// SubmitBatch runs SubmitAndTrack for every request concurrently. A failing
// item never aborts the others; results are returned in request order.
func (c *Coordinator) SubmitBatch(ctx context.Context, reqs []domain.OrderRequest, timeout time.Duration) ([]BatchItemResult, error) {
	if len(reqs) == 0 || len(reqs) > MaxBatchSize {
		return nil, &domain.ValidationError{
			Field:   "orders",
			Message: fmt.Sprintf("batch must contain 1-%d orders, got %d", MaxBatchSize, len(reqs)),
		}
	}

	results := make([]BatchItemResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.BatchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			state, err := c.SubmitAndTrack(gctx, req, timeout)
			res := BatchItemResult{Index: i, State: state}
			if err != nil {
				res.Err = err
				res.ErrorCode = domain.ErrorCode(err)
				res.ErrorMessage = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	c.logger.InfoContext(ctx, "batch complete",
		slog.Int("orders", len(reqs)),
		slog.Int("failed", failed),
	)
	return results, nil
}
