// Package metrics holds the Prometheus collector for the trading engine and
// the HTTP server that exposes it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// Collector bundles every metric family the engine updates during operation.
// A single Collector is created at startup and shared by reference.
type Collector struct {
	registry *prometheus.Registry

	RealizedPnL    prometheus.Gauge
	UnrealizedPnL  prometheus.Gauge
	Balance        prometheus.Gauge
	WinRate        prometheus.Gauge
	OpenPositions  prometheus.Gauge
	PositionPnLPct prometheus.Gauge

	Trades *prometheus.CounterVec // result: open|win|loss|liquidation
	Errors *prometheus.CounterVec // component

	AIConfidence     prometheus.Gauge
	KalmanConfidence prometheus.Gauge
	RSI              prometheus.Gauge
	MACDLine         prometheus.Gauge
	MACDHistogram    prometheus.Gauge

	VenueUp     prometheus.Gauge
	ReasoningUp prometheus.Gauge

	AnalysisDuration  prometheus.Histogram
	ExecutionDuration prometheus.Histogram
}

// NewCollector creates and registers all metric families on a fresh
// registry.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.RealizedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kalmann_realized_pnl_usd",
		Help: "Cumulative realised PnL in quote currency.",
	})
	c.UnrealizedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kalmann_unrealized_pnl_usd",
		Help: "Unrealised PnL of the open position.",
	})
	c.Balance = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kalmann_balance_usd",
		Help: "Total wallet balance.",
	})
	c.WinRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kalmann_win_rate",
		Help: "Global win rate in [0,1].",
	})
	c.OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kalmann_open_positions",
		Help: "Number of open positions on the configured symbol.",
	})
	c.PositionPnLPct = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kalmann_position_pnl_pct",
		Help: "PnL percent of the open position (not leverage-adjusted).",
	})

	c.Trades = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kalmann_trades_total",
		Help: "Trades counted by result (open|win|loss|liquidation).",
	}, []string{"result"})
	c.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kalmann_errors_total",
		Help: "Errors counted by originating component.",
	}, []string{"component"})

	c.AIConfidence = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kalmann_ai_confidence",
		Help: "Confidence of the latest entry verdict.",
	})
	c.KalmanConfidence = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kalmann_kalman_confidence",
		Help: "Confidence of the latest Kalman prediction.",
	})
	c.RSI = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kalmann_rsi",
		Help: "Latest RSI(14).",
	})
	c.MACDLine = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kalmann_macd_line",
		Help: "Latest MACD line value.",
	})
	c.MACDHistogram = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kalmann_macd_histogram",
		Help: "Latest MACD histogram value.",
	})

	c.VenueUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kalmann_venue_up",
		Help: "1 when the venue health probe succeeds.",
	})
	c.ReasoningUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kalmann_reasoning_up",
		Help: "1 when the reasoning engine health probe succeeds.",
	})

	c.AnalysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kalmann_analysis_duration_seconds",
		Help:    "Duration of the per-tick analysis step.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	c.ExecutionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kalmann_execution_duration_seconds",
		Help:    "Duration of order submission round-trips.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	c.registry.MustRegister(
		c.RealizedPnL, c.UnrealizedPnL, c.Balance, c.WinRate,
		c.OpenPositions, c.PositionPnLPct,
		c.Trades, c.Errors,
		c.AIConfidence, c.KalmanConfidence, c.RSI, c.MACDLine, c.MACDHistogram,
		c.VenueUp, c.ReasoningUp,
		c.AnalysisDuration, c.ExecutionDuration,
	)

	return c
}

// Registry exposes the underlying registry for the HTTP handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveIndicators updates the per-tick indicator gauges.
func (c *Collector) ObserveIndicators(ind domain.TechnicalIndicators, kalman domain.KalmanPrediction, verdict domain.EntryVerdict) {
	c.RSI.Set(ind.RSI)
	c.MACDLine.Set(ind.MACD.Line)
	c.MACDHistogram.Set(ind.MACD.Histogram)
	c.KalmanConfidence.Set(kalman.Confidence)
	c.AIConfidence.Set(verdict.Confidence)
}

// SetHealth flips the dependency health bits.
func (c *Collector) SetHealth(venueUp, reasoningUp bool) {
	c.VenueUp.Set(boolBit(venueUp))
	c.ReasoningUp.Set(boolBit(reasoningUp))
}

func boolBit(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
