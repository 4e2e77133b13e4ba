// Package engine contains the strategy orchestrator: the per-symbol control
// loop that combines the candle buffer, indicators, Kalman predictor,
// reasoning verdicts, risk gate, and venue adapter into open/manage/close
// decisions.
//
// Per symbol the state machine is Idle → Opening → Open → Closing → Idle.
// Opening and Closing are transient within a single tick; in Open each tick
// is an independent management step, so a single positions snapshot at the
// top of the tick is enough to enforce the one-position invariant.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/n3-n2-n1/kalmann/internal/candles"
	"github.com/n3-n2-n1/kalmann/internal/domain"
	"github.com/n3-n2-n1/kalmann/internal/metrics"
	"github.com/n3-n2-n1/kalmann/internal/reasoning"
	"github.com/n3-n2-n1/kalmann/internal/risk"
)

const (
	// analysisWindow is how many candles feed the per-tick analysis.
	analysisWindow = 100

	// warmupMin is the candle count the buffer must reach before the loop
	// starts.
	warmupMin = 50

	// errorDelay postpones the next tick after a transport failure.
	errorDelay = 30 * time.Second
)

// Reasoner is the slice of the reasoning client the engine needs.
type Reasoner interface {
	AnalyzeEntry(ctx context.Context, in reasoning.EntryInput) domain.EntryVerdict
	AnalyzePosition(ctx context.Context, in reasoning.PositionInput) domain.PositionVerdict
	Health(ctx context.Context) bool
}

// Predictor is the slice of the Kalman predictor the engine needs.
type Predictor interface {
	Predict(candles []domain.Candle, lookAhead int) domain.KalmanPrediction
}

// Archiver receives closed trades for long-term persistence. Optional and
// best-effort.
type Archiver interface {
	ArchiveTrade(ctx context.Context, record domain.TradeRecord) error
}

// Notifier fans trade events out to operator channels. Optional.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the orchestrator parameters.
type Config struct {
	Symbol        string
	Interval      string
	Period        time.Duration
	AutoTrade     bool
	LeverageCap   int
	StopLossPct   float64
	WarmupTimeout time.Duration
}

// Engine is the per-symbol orchestrator. Exactly one Run loop executes at a
// time; the tracking map is owned by that loop and never touched elsewhere.
type Engine struct {
	cfg       Config
	venue     domain.Venue
	buffer    *candles.Buffer
	predictor Predictor
	reasoner  Reasoner
	history   domain.HistoryStore
	gate      *risk.Gate
	collector *metrics.Collector
	archiver  Archiver
	notifier  Notifier
	logger    *slog.Logger

	// tracking is keyed by symbol|side. Invariant: at most one entry per
	// symbol at any time.
	tracking map[string]*tracking
}

// tracking extends the per-position bookkeeping with the last stop-loss the
// engine pushed, needed to keep trailing updates monotonic.
type tracking struct {
	domain.Tracking
	lastStopLoss float64
}

// New creates an Engine. archiver and notifier may be nil.
func New(
	cfg Config,
	venue domain.Venue,
	buffer *candles.Buffer,
	predictor Predictor,
	reasoner Reasoner,
	historyStore domain.HistoryStore,
	gate *risk.Gate,
	collector *metrics.Collector,
	archiver Archiver,
	notifier Notifier,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		venue:     venue,
		buffer:    buffer,
		predictor: predictor,
		reasoner:  reasoner,
		history:   historyStore,
		gate:      gate,
		collector: collector,
		archiver:  archiver,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "engine"), slog.String("symbol", cfg.Symbol)),
		tracking:  make(map[string]*tracking),
	}
}

// Run starts the control loop and blocks until the context is cancelled. It
// health-checks dependencies, warms up the candle buffer, then ticks at the
// candle interval.
func (e *Engine) Run(ctx context.Context) error {
	venueUp := e.venue.Health(ctx)
	reasoningUp := e.reasoner.Health(ctx)
	e.collector.SetHealth(venueUp, reasoningUp)
	if !venueUp {
		return fmt.Errorf("engine: venue health check failed")
	}
	if !reasoningUp {
		return fmt.Errorf("engine: reasoning engine health check failed")
	}

	if err := e.buffer.Start(ctx, e.cfg.Period); err != nil {
		return fmt.Errorf("engine: start candle buffer: %w", err)
	}
	defer e.buffer.Stop()

	if err := e.awaitWarmup(ctx); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "control loop starting",
		slog.String("event", "SYSTEM_ENGINE_START"),
		slog.String("interval", e.cfg.Interval),
		slog.Bool("auto_trade", e.cfg.AutoTrade),
	)
	defer e.logger.Info("control loop stopped", slog.String("event", "SYSTEM_ENGINE_STOP"))

	ticker := time.NewTicker(e.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.tick(ctx); err != nil {
				e.collector.Errors.WithLabelValues("engine").Inc()
				e.logger.ErrorContext(ctx, "tick failed",
					slog.String("event", "SYSTEM_ENGINE_ERROR"),
					slog.String("error", err.Error()),
				)
				if e.notifier != nil {
					_ = e.notifier.Notify(ctx, "error", "Engine error", err.Error())
				}
				// Transport trouble: back off before the next tick.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(errorDelay):
				}
			}
		}
	}
}

// awaitWarmup polls the buffer until it holds enough candles, bounded by the
// configured warmup timeout.
func (e *Engine) awaitWarmup(ctx context.Context) error {
	timeout := e.cfg.WarmupTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for !e.buffer.HasEnough(warmupMin) {
		if time.Now().After(deadline) {
			return fmt.Errorf("engine: candle warmup timed out after %s (%d candles)",
				timeout, e.buffer.Stats().Count)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil
}

// tick runs one full decision cycle: analysis, position management, and the
// new-entry path when flat.
func (e *Engine) tick(ctx context.Context) error {
	analysis, err := e.analyze(ctx)
	if err != nil {
		return err
	}

	positions, err := e.venue.Positions(ctx, e.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("engine: fetch positions: %w", err)
	}
	e.collector.OpenPositions.Set(float64(len(positions)))

	if len(positions) > 0 {
		// One position per symbol. More than one entry here means the venue
		// is in hedge mode contrary to expectations; manage the first and
		// complain.
		if len(positions) > 1 {
			e.logger.Warn("multiple positions reported for symbol, managing first",
				slog.Int("count", len(positions)),
			)
		}
		e.managePosition(ctx, positions[0], analysis)
		return nil
	}

	// Flat: positions disappeared while tracking thinks otherwise means an
	// exit happened outside this loop (TP/SL fill, manual close). Settle the
	// records before considering a new entry.
	e.reconcileStaleTracking(ctx, analysis)

	if !e.cfg.AutoTrade {
		return nil
	}
	e.openPosition(ctx, analysis)
	return nil
}

// trackingKey is the map key for a position's bookkeeping record.
func trackingKey(symbol string, side domain.OrderSide) string {
	return symbol + "|" + string(side)
}

// reconcileStaleTracking settles tracking records whose venue position is
// gone: the exit is attributed via the order-history scan when possible and
// recorded as manual otherwise.
func (e *Engine) reconcileStaleTracking(ctx context.Context, analysis tickAnalysis) {
	for key, tr := range e.tracking {
		check, err := e.venue.CheckTPSL(ctx, tr.Symbol, tr.LastOrderCheckTime)
		exitType := domain.ExitManual
		price := analysis.Snapshot.Price
		if err == nil {
			switch {
			case check.TPExecuted:
				exitType = domain.ExitTakeProfit
				price = check.Price
			case check.SLExecuted:
				exitType = domain.ExitStopLoss
				price = check.Price
			}
		}

		e.recordExit(ctx, tr, exitType, price, "venue")
		delete(e.tracking, key)
	}
}
