package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/n3-n2-n1/kalmann/internal/analysis/technical"
	"github.com/n3-n2-n1/kalmann/internal/domain"
	"github.com/n3-n2-n1/kalmann/internal/reasoning"
)

// tickAnalysis is the composite view computed once per tick and shared by the
// management and entry paths.
type tickAnalysis struct {
	Candles    []domain.Candle
	Snapshot   domain.MarketSnapshot
	Indicators domain.TechnicalIndicators
	Kalman     domain.KalmanPrediction
	Context    domain.HistoryContext
	Verdict    domain.EntryVerdict
	Volatility float64
}

// analyze performs step A of the tick: indicators, Kalman forecast, market
// snapshot, history enrichment, and the entry verdict.
func (e *Engine) analyze(ctx context.Context) (tickAnalysis, error) {
	started := time.Now()

	window := e.buffer.Get(analysisWindow)
	if len(window) < warmupMin {
		return tickAnalysis{}, fmt.Errorf("engine: analysis window too short (%d candles)", len(window))
	}

	snapshot, err := e.venue.MarketData(ctx, e.cfg.Symbol)
	if err != nil {
		return tickAnalysis{}, fmt.Errorf("engine: market data: %w", err)
	}

	analysis := tickAnalysis{
		Candles:    window,
		Snapshot:   snapshot,
		Indicators: technical.Analyze(window),
		Kalman:     e.predictor.Predict(window, 0),
		Volatility: technical.Volatility(window, 20),
	}

	// History enrichment is best-effort: a dead store must not stop the tick.
	if hctx, err := e.history.Context(ctx, e.cfg.Symbol); err == nil {
		analysis.Context = hctx
	} else {
		e.logger.WarnContext(ctx, "history context unavailable",
			slog.String("error", err.Error()),
		)
	}

	analysis.Verdict = e.reasoner.AnalyzeEntry(ctx, reasoning.EntryInput{
		Snapshot:   snapshot,
		Indicators: analysis.Indicators,
		Kalman:     analysis.Kalman,
		Context:    analysis.Context,
	})

	e.collector.ObserveIndicators(analysis.Indicators, analysis.Kalman, analysis.Verdict)
	e.collector.AnalysisDuration.Observe(time.Since(started).Seconds())
	if analysis.Context.Global.Trades > 0 {
		e.collector.WinRate.Set(analysis.Context.Global.WinRate())
	}

	e.logger.InfoContext(ctx, "analysis complete",
		slog.String("event", "AI_ANALYSIS"),
		slog.String("decision", string(analysis.Verdict.Decision)),
		slog.Float64("confidence", analysis.Verdict.Confidence),
		slog.Float64("price", snapshot.Price),
		slog.Float64("rsi", analysis.Indicators.RSI),
		slog.String("kalman_trend", string(analysis.Kalman.Trend)),
		slog.Duration("took", time.Since(started)),
	)

	return analysis, nil
}
