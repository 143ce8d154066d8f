package app

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// EngineMode runs the listing feed and the match engine. Every listing event
// the feed parses is handed to the engine, which matches it against open
// intents and drives the purchase pipeline. Attempt outcomes are settled by a
// separate reconcile process.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer deps.Feed.Close()
		return deps.Feed.Run(ctx)
	})
	return g.Wait()
}

// ReconcileMode runs only the reconciliation and status-sweep loops. It is
// the deployment shape for settling attempts left behind by engine processes.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")
	return deps.Reconciler.Run(ctx)
}

// FullMode runs the feed, the engine, and the reconciler in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer deps.Feed.Close()
		return deps.Feed.Run(ctx)
	})
	g.Go(func() error {
		return deps.Reconciler.Run(ctx)
	})
	return g.Wait()
}
