package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/levyprotocol/levyd/internal/notify"
	"github.com/levyprotocol/levyd/internal/server"
	"github.com/levyprotocol/levyd/internal/server/handler"
	"github.com/levyprotocol/levyd/internal/server/ws"
)

// archiveLockKey guards the retention sweep so only one replica runs it.
const archiveLockKey = "archive:sweep"

// ServerMode serves the HTTP and WebSocket API backed by the in-memory
// ledger and the Postgres history stores. No exchange transactions are
// signed in this mode; taxed transfers inside the window fail at the
// conversion step and revert.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// MonitorMode consumes levy signals from Redis, forwards them to the
// configured notification channels, and serves the read-only API surface.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	watcher := notify.NewWatcher(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		return watcher.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// FullMode starts every subsystem: the API server, the notification watcher,
// the tax window closure announcer, and the archive sweeper.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	watcher := notify.NewWatcher(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		return watcher.Run(ctx)
	})

	// Announce the tax window closure once, then keep running.
	g.Go(func() error {
		return a.announceWindowClose(ctx, deps)
	})

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveSweeper(ctx, deps)
		})
	}

	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// announceWindowClose sleeps until the levy window ends and sends a single
// window_closed notification. If the window already ended before startup it
// returns without notifying.
func (a *App) announceWindowClose(ctx context.Context, deps *Dependencies) error {
	remaining := deps.Engine.RemainingTaxWindow(time.Now().UTC())
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	a.logger.InfoContext(ctx, "tax window closed",
		slog.Time("tax_end_time", deps.Engine.TaxEndTime()),
	)
	if err := deps.Notifier.Notify(ctx, "window_closed",
		"Tax window closed",
		fmt.Sprintf("The transfer levy window ended at %s; transfers are now untaxed.",
			deps.Engine.TaxEndTime().Format(time.RFC3339)),
	); err != nil {
		a.logger.WarnContext(ctx, "window_closed notification failed",
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// runArchiveSweeper periodically moves history older than the retention
// window from Postgres to blob storage. A distributed lock keeps concurrent
// replicas from sweeping the same rows twice.
func (a *App) runArchiveSweeper(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.sweepArchives(ctx, deps)
		}
	}
}

func (a *App) sweepArchives(ctx context.Context, deps *Dependencies) {
	release, err := deps.LockManager.Acquire(ctx, archiveLockKey, 10*time.Minute)
	if err != nil {
		a.logger.DebugContext(ctx, "archive sweep skipped, lock held elsewhere",
			slog.String("error", err.Error()),
		)
		return
	}
	defer release()

	before := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)

	transfers, err := deps.Archiver.ArchiveTransfers(ctx, before)
	if err != nil {
		a.logger.ErrorContext(ctx, "transfer archive sweep failed",
			slog.String("error", err.Error()),
		)
	}
	events, err := deps.Archiver.ArchiveEvents(ctx, before)
	if err != nil {
		a.logger.ErrorContext(ctx, "event archive sweep failed",
			slog.String("error", err.Error()),
		)
	}

	if transfers > 0 || events > 0 {
		a.logger.InfoContext(ctx, "archive sweep complete",
			slog.Int64("transfers", transfers),
			slog.Int64("events", events),
			slog.Time("before", before),
		)
	}
}

// startHTTPServer builds the handler set, registers the WebSocket hub, and
// runs the HTTP server with graceful shutdown on context cancellation.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled by configuration")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, time.Now().UTC()),
		Token:     handler.NewTokenHandler(deps.Service, a.logger),
		Balances:  handler.NewBalanceHandler(deps.Service, a.logger),
		Transfers: handler.NewTransferHandler(deps.Service, deps.TransferStore, a.logger),
		Events:    handler.NewEventsHandler(deps.EventStore, a.logger),
		Admin:     handler.NewAdminHandler(deps.Service, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
