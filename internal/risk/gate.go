// Package risk validates trade proposals against leverage, exposure, and
// sizing limits before they reach the venue.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

const (
	// balanceCapFraction is the share of total balance a single order's
	// notional may occupy before the gate shrinks it.
	balanceCapFraction = 0.30

	// slTolerance lets a stop-loss sit slightly past the configured distance
	// before rejecting, absorbing rounding on the venue's tick grid.
	slTolerance = 1.05

	// maxRiskScore is the composite score above which a proposal is rejected
	// outright.
	maxRiskScore = 0.8
)

// Config holds the gate's tunable limits.
type Config struct {
	MaxLeverage     int
	MaxPositionSize float64
	StopLossPct     float64
	MaxDailyTrades  int
}

// Snapshot carries the account and market state a validation runs against.
type Snapshot struct {
	Price            float64
	Balance          domain.Balance
	ExistingExposure float64
	Volatility       float64
}

// Gate performs pre-trade checks and owns the daily trade counter. The
// counter resets when the local calendar date changes.
type Gate struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	dailyTrades int
	counterDay  string
}

// NewGate creates a Gate with the given limits.
func NewGate(cfg Config, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "risk_gate")),
		counterDay: time.Now().Format("2006-01-02"),
	}
}

// Validate checks the proposal against the configured limits. Hard failures
// short-circuit with Approved=false and a reason; an oversized notional
// returns an adjusted proposal the caller may re-validate and submit.
func (g *Gate) Validate(proposal domain.Proposal, snap Snapshot) domain.RiskVerdict {
	// Check 1: daily trade cap (resets on date change).
	g.mu.Lock()
	g.rollDayLocked()
	daily := g.dailyTrades
	g.mu.Unlock()

	if daily >= g.cfg.MaxDailyTrades {
		return g.reject("daily trade limit reached (%d/%d)", daily, g.cfg.MaxDailyTrades)
	}

	// Check 2: quantity sanity.
	if proposal.Quantity <= 0 || math.IsNaN(proposal.Quantity) || math.IsInf(proposal.Quantity, 0) {
		return g.reject("invalid quantity %g", proposal.Quantity)
	}

	// Check 3: balance-relative size. Oversized proposals come back adjusted
	// rather than rejected so the caller can retry within the same tick.
	notional := proposal.Quantity * snap.Price
	maxNotional := balanceCapFraction * snap.Balance.Total
	if notional > maxNotional && snap.Price > 0 {
		adjusted := proposal
		adjusted.Quantity = maxNotional / snap.Price
		g.logger.Warn("proposal oversized, adjusting",
			slog.Float64("notional", notional),
			slog.Float64("max_notional", maxNotional),
			slog.Float64("adjusted_qty", adjusted.Quantity),
		)
		return domain.RiskVerdict{
			Approved: false,
			Reason:   fmt.Sprintf("notional %.2f exceeds %.0f%% of balance", notional, balanceCapFraction*100),
			Adjusted: &adjusted,
		}
	}

	// Check 4: leverage cap.
	if proposal.Leverage > g.cfg.MaxLeverage {
		return g.reject("leverage %d exceeds cap %d", proposal.Leverage, g.cfg.MaxLeverage)
	}

	// Check 5: total exposure cap.
	if notional+snap.ExistingExposure > g.cfg.MaxPositionSize {
		return g.reject("exposure %.2f would exceed max position size %.2f",
			notional+snap.ExistingExposure, g.cfg.MaxPositionSize)
	}

	// Check 6: stop-loss distance.
	if proposal.StopLoss > 0 && snap.Price > 0 {
		slDistancePct := math.Abs(snap.Price-proposal.StopLoss) / snap.Price * 100
		if slDistancePct > g.cfg.StopLossPct*slTolerance {
			return g.reject("stop-loss distance %.2f%% exceeds %.2f%%",
				slDistancePct, g.cfg.StopLossPct*slTolerance)
		}
	}

	// Check 7: composite risk score.
	score := g.riskScore(proposal, snap, notional)
	if score > maxRiskScore {
		return g.reject("risk score %.2f exceeds %.2f", score, maxRiskScore)
	}

	return domain.RiskVerdict{Approved: true, RiskScore: score}
}

// riskScore is the weighted soft-check aggregate in [0,1].
func (g *Gate) riskScore(proposal domain.Proposal, snap Snapshot, notional float64) float64 {
	var score float64

	if g.cfg.MaxLeverage > 0 {
		score += float64(proposal.Leverage) / float64(g.cfg.MaxLeverage) * 0.3
	}
	if snap.Balance.Total > 0 {
		score += clip01(notional/snap.Balance.Total) * 0.2
		score += clip01(snap.ExistingExposure/snap.Balance.Total) * 0.2
	}
	score += clip01(snap.Volatility) * 0.3

	return clip01(score)
}

// IncrementDaily bumps the daily counter after a confirmed open.
func (g *Gate) IncrementDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	g.dailyTrades++
}

// DailyTrades returns the current counter value.
func (g *Gate) DailyTrades() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	return g.dailyTrades
}

// rollDayLocked zeroes the counter when the local calendar date changed.
// Caller holds the mutex.
func (g *Gate) rollDayLocked() {
	today := time.Now().Format("2006-01-02")
	if today != g.counterDay {
		g.counterDay = today
		g.dailyTrades = 0
	}
}

func (g *Gate) reject(format string, args ...any) domain.RiskVerdict {
	reason := fmt.Sprintf(format, args...)
	g.logger.Warn("proposal rejected", slog.String("reason", reason))
	return domain.RiskVerdict{Approved: false, Reason: reason}
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
