package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/alert-feed/internal/config"
	"github.com/rickgao/alert-feed/internal/connection"
	"github.com/rickgao/alert-feed/internal/database"
	"github.com/rickgao/alert-feed/internal/feed"
	"github.com/rickgao/alert-feed/internal/journal"
	"github.com/rickgao/alert-feed/internal/logging"
	"github.com/rickgao/alert-feed/internal/poller"
	"github.com/rickgao/alert-feed/internal/toast"
)

const shutdownTimeout = 15 * time.Second

func cmdRun(opts *globalOptions) *cli.Command {
	var (
		statsInterval time.Duration
		quiet         bool
	)
	return &cli.Command{
		Name:  "run",
		Usage: "Stream alerts for the configured identity until interrupted",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:        "stats-interval",
				Usage:       "How often to log feed diagnostics (0 disables)",
				Value:       time.Minute,
				Destination: &statsInterval,
			},
			&cli.BoolFlag{
				Name:        "no-toasts",
				Usage:       "Do not print toasts to stdout",
				Destination: &quiet,
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}

			var notifier toast.Notifier = toast.NewConsoleNotifier(os.Stdout)
			if quiet {
				notifier = toast.NopNotifier{}
			}
			return runFeed(ctx, cfg, notifier, statsInterval, logger)
		},
	}
}

func runFeed(ctx context.Context, cfg *config.Config, notifier toast.Notifier, statsInterval time.Duration, logger *slog.Logger) error {
	var pool *pgxpool.Pool
	if cfg.Database.Enabled() {
		logger.Info("connecting to journal database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		p, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer p.Close()
		if err := journal.EnsureSchema(ctx, p); err != nil {
			return err
		}
		pool = p
	}

	transport := connection.NewManager(managerConfig(cfg), logger)

	f, err := feed.New(feedConfig(cfg), feed.Deps{
		Transport: transport,
		API:       newAPIClient(cfg, logger),
		Notifier:  notifier,
	}, logger)
	if err != nil {
		return goerr.Wrap(err, "create feed")
	}
	if err := f.Start(ctx); err != nil {
		return goerr.Wrap(err, "start feed")
	}

	resync := poller.New(pollerConfig(cfg), f, logger)
	if err := resync.Start(ctx); err != nil {
		return goerr.Wrap(err, "start poller")
	}

	var writer *journal.Writer
	if pool != nil {
		writer = journal.NewWriter(journalConfig(cfg), f.JournalQueue(), pool, logger)
		if err := writer.Start(ctx); err != nil {
			return goerr.Wrap(err, "start journal writer")
		}
	}

	logger.Info("alertfeed running",
		"identity", cfg.Identity.ID,
		"broker", cfg.Broker.URL,
		"journal", writer != nil,
	)

	reportStats(ctx, f, resync, writer, statsInterval, logger)

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := resync.Stop(shutdownCtx); err != nil {
		logger.Warn("poller stop failed", logging.ErrAttr(err))
	}
	if err := f.Stop(shutdownCtx); err != nil {
		logger.Warn("feed stop failed", logging.ErrAttr(err))
	}

	// The feed closed the journal queue; the writer drains it while the
	// transport shuts down.
	var g errgroup.Group
	if writer != nil {
		g.Go(func() error { return writer.Stop(shutdownCtx) })
	}
	g.Go(func() error { return transport.Close(shutdownCtx) })
	if err := g.Wait(); err != nil {
		logger.Warn("shutdown incomplete", logging.ErrAttr(err))
	}

	logger.Info("alertfeed stopped")
	return nil
}

// reportStats logs diagnostics every interval until ctx is done.
func reportStats(ctx context.Context, f *feed.Feed, resync *poller.Poller, writer *journal.Writer, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d := f.Diagnostics()
		ps := resync.Stats()
		attrs := []any{
			"state", d.Connection.State,
			"alerts", d.Alerts.Total,
			"unread", d.Alerts.Unread,
			"toasts", d.Toasts,
			"received", d.Router.Received,
			"duplicates", d.Router.Duplicates,
			"parse_errors", d.Router.ParseErrors,
			"degraded", d.Degraded,
			"refreshes", d.Refreshes,
			"resync_failures", ps.Failures,
		}
		if writer != nil {
			js := writer.Stats()
			attrs = append(attrs, "journaled", js.Inserted, "journal_errors", js.Errors)
		}
		logger.Info("feed stats", attrs...)
	}
}
