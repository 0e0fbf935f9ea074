package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mahrens917/common-sub001/internal/executor"
	"github.com/mahrens917/common-sub001/internal/notify"
	"github.com/mahrens917/common-sub001/internal/server"
	"github.com/mahrens917/common-sub001/internal/server/handler"
	"github.com/mahrens917/common-sub001/internal/server/ws"
)

// dedupSweepInterval is how often expired client order ids are dropped.
const dedupSweepInterval = time.Minute

// ServerMode serves the order API and the websocket hub until ctx is done.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// ArchiveMode moves trades past the retention window to object storage once
// and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return errors.New("app: archive mode without an archiver")
	}
	_, err := a.archiveOnce(ctx, deps)
	return err
}

// FullMode runs the server plus, when enabled, the periodic archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)

	if deps.Archiver != nil {
		interval := a.cfg.Archive.Interval.Duration
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if _, err := a.archiveOnce(ctx, deps); err != nil && ctx.Err() == nil {
					// A failed run leaves the rows in place; the next tick retries.
					a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	} else {
		a.logger.InfoContext(ctx, "archive disabled; trades stay in postgres")
	}

	return ignoreCanceled(g.Wait())
}

// buildCoordinator assembles the execution pipeline with its optional
// guards.
func (a *App) buildCoordinator(deps *Dependencies, notifier executor.TradeNotifier) (*executor.Coordinator, *executor.Dedup) {
	exec := a.cfg.Execution
	coord := executor.NewCoordinator(executor.Deps{
		Exchange: deps.Exchange,
		Trades:   deps.TradeStore,
		Metadata: deps.MetadataStore,
		Notifier: notifier,
		Resolver: deps.Resolver,
		Fees:     deps.Fees,
		Logger:   a.logger,
	}, executor.Options{
		DefaultTimeout:   exec.DefaultTimeout.Duration,
		MaxTimeout:       exec.MaxTimeout.Duration,
		BatchConcurrency: exec.BatchConcurrency,
	}).WithAudit(deps.AuditStore)

	if exec.LockTTL.Duration > 0 {
		coord.WithLocks(deps.LockManager, exec.LockTTL.Duration)
	}
	if exec.SubmitRateLimit > 0 {
		coord.WithRateLimit(deps.RateLimiter, exec.SubmitRateLimit, exec.SubmitRateWindow.Duration)
	}
	var dedup *executor.Dedup
	if exec.DedupTTL.Duration > 0 {
		dedup = executor.NewDedup(exec.DedupTTL.Duration)
		coord.WithDedup(dedup)
	}
	return coord, dedup
}

// startServer launches the websocket hub, the dedup sweeper and the HTTP
// server on g. The server shuts down when ctx is done.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	// With event streaming on, the hub follows the bus; otherwise it is a
	// direct notification sender.
	var hub *ws.Hub
	if a.cfg.Notify.StreamEvents {
		hub = ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
	} else {
		hub = ws.NewHub(nil, a.cfg.Mode, a.logger)
		deps.Notifier.AddSender(hub)
	}
	g.Go(func() error {
		return hub.Run(ctx)
	})

	coord, dedup := a.buildCoordinator(deps, deps.Notifier)
	if dedup != nil {
		g.Go(func() error {
			return dedup.Run(ctx, dedupSweepInterval)
		})
	}

	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled")
		return
	}

	checks := make(map[string]handler.Check, len(deps.Checks))
	for name, fn := range deps.Checks {
		checks[name] = fn
	}
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(checks, a.logger),
		Orders: handler.NewOrderHandler(coord, a.logger),
		Trades: handler.NewTradeHandler(deps.TradeStore, a.logger),
		Fees:   handler.NewFeeHandler(deps.Fees, a.logger),
		Audit:  handler.NewAuditHandler(deps.AuditStore, a.logger),
	}
	if a.cfg.Notify.StreamEvents {
		handlers.Events = handler.NewEventHandler(deps.SignalBus, notify.EventsStream, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// archiveOnce archives every trade older than the retention window.
func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) (int64, error) {
	before := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	start := time.Now()
	n, err := deps.Archiver.ArchiveTrades(ctx, before)
	if err != nil {
		return n, fmt.Errorf("app: archive trades before %s: %w", before.Format(time.RFC3339), err)
	}
	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("archived", n),
		slog.Time("before", before),
		slog.Duration("took", time.Since(start)),
	)
	return n, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
