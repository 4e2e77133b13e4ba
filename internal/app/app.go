// Package app provides the top-level application lifecycle for the trading
// agent. It wires all dependencies and runs the long-lived tasks (control
// loop, metrics endpoint, tools server) under one errgroup.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/n3-n2-n1/kalmann/internal/config"
	"github.com/n3-n2-n1/kalmann/internal/metrics"
	"github.com/n3-n2-n1/kalmann/internal/tools"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the long-lived tasks, and blocks until
// the context is cancelled. The wiring cleanup is registered with the App and
// runs when Close is called.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("event", "SYSTEM_APP_START"),
		slog.String("symbol", a.cfg.Trading.Symbol),
		slog.String("interval", a.cfg.Trading.Interval),
		slog.Bool("paper", a.cfg.Trading.PaperTrading),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Engine.Run(ctx)
	})

	if a.cfg.Metrics.Enabled {
		metricsSrv := metrics.NewServer(a.cfg.Metrics.Port, deps.Collector, a.logger)
		g.Go(func() error {
			return metricsSrv.Run(ctx)
		})
	}

	if a.cfg.Tools.Enabled {
		toolsSrv := tools.NewServer(a.cfg.Tools.Port, tools.Registry(tools.Deps{
			Venue:     deps.Venue,
			Predictor: deps.Predictor,
			Reasoner:  deps.Reasoner,
			History:   deps.History,
			Gate:      deps.Gate,
			Symbol:    a.cfg.Trading.Symbol,
			Interval:  a.cfg.Trading.Interval,
		}), a.logger)
		g.Go(func() error {
			return toolsSrv.Run(ctx)
		})
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application", slog.String("event", "SYSTEM_APP_STOP"))
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
