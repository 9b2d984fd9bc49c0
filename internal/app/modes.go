package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ScanMode runs detection only. Opportunities are logged and counted but
// never executed.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "scan mode: detecting without execution")
	return a.runLoops(ctx, deps)
}

// TradeMode runs the full pipeline: detection, sizing, bidding and bundle
// submission through the relay.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "trade mode: live execution enabled")
	return a.runLoops(ctx, deps)
}

// runLoops starts the engine plus the optional reserve feed and metrics
// listener, and blocks until the context is cancelled or a loop fails.
func (a *App) runLoops(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Engine.Run(ctx) })

	if deps.Stream != nil {
		g.Go(func() error { return deps.Stream.Run(ctx) })
	}
	if deps.Metrics != nil {
		addr := a.cfg.Metrics.Addr
		a.logger.InfoContext(ctx, "metrics listener starting", slog.String("addr", addr))
		g.Go(func() error { return deps.Metrics.Serve(ctx, addr, a.logger) })
	}

	return g.Wait()
}
