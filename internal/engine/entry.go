package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/n3-n2-n1/kalmann/internal/domain"
	"github.com/n3-n2-n1/kalmann/internal/risk"
)

const (
	// baseLeverage is the starting point of the leverage ladder before
	// signal bonuses.
	baseLeverage = 5

	// maxRiskPct caps the share of available balance put at risk per trade.
	maxRiskPct = 10.0
)

// openPosition runs step C of the tick: leverage and size computation, risk
// validation (with one adjusted retry), and submission. Only called when the
// positions snapshot showed the symbol flat, which is what enforces the
// single-position invariant.
func (e *Engine) openPosition(ctx context.Context, analysis tickAnalysis) {
	verdict := analysis.Verdict
	if verdict.Decision == domain.DecisionHold {
		return
	}

	side := domain.SideBuy
	if verdict.Decision == domain.DecisionSell {
		side = domain.SideSell
	}

	balance, err := e.venue.Balance(ctx)
	if err != nil {
		e.collector.Errors.WithLabelValues("venue").Inc()
		e.logger.ErrorContext(ctx, "balance fetch failed, skipping entry",
			slog.String("error", err.Error()),
		)
		return
	}
	e.collector.Balance.Set(balance.Total)

	instrument, err := e.venue.Instrument(ctx, e.cfg.Symbol)
	if err != nil {
		e.collector.Errors.WithLabelValues("venue").Inc()
		e.logger.ErrorContext(ctx, "instrument fetch failed, skipping entry",
			slog.String("error", err.Error()),
		)
		return
	}

	price := analysis.Snapshot.Price
	leverage := e.computeLeverage(analysis)
	quantity := computeQuantity(balance.Available, price, leverage, instrument)
	stopLoss, takeProfit := exitLevels(price, side, verdict.Confidence, e.cfg.StopLossPct)

	proposal := domain.Proposal{
		Symbol:     e.cfg.Symbol,
		Side:       side,
		Quantity:   quantity,
		Leverage:   leverage,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}

	snap := risk.Snapshot{
		Price:      price,
		Balance:    balance,
		Volatility: analysis.Volatility,
	}

	result := e.gate.Validate(proposal, snap)
	if !result.Approved && result.Adjusted != nil {
		// The gate shrank the order to fit the balance cap; re-check and
		// proceed with the adjusted size. Step-grid flooring happens in the
		// venue adapter on exact decimals.
		proposal = *result.Adjusted
		result = e.gate.Validate(proposal, snap)
	}
	if !result.Approved {
		e.logger.WarnContext(ctx, "entry blocked by risk gate",
			slog.String("event", "RISK_REJECT"),
			slog.String("reason", result.Reason),
		)
		return
	}

	if err := e.venue.SetLeverage(ctx, e.cfg.Symbol, proposal.Leverage); err != nil {
		e.collector.Errors.WithLabelValues("venue").Inc()
		e.logger.ErrorContext(ctx, "set leverage failed, skipping entry",
			slog.String("error", err.Error()),
		)
		return
	}

	started := time.Now()
	order, err := e.venue.SubmitOrder(ctx, proposal)
	e.collector.ExecutionDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		e.collector.Errors.WithLabelValues("venue").Inc()
		e.logger.ErrorContext(ctx, "order submission failed",
			slog.String("event", "SYSTEM_ORDER_ERROR"),
			slog.String("error", err.Error()),
		)
		return
	}

	entryPrice := order.AvgPrice
	if entryPrice <= 0 {
		entryPrice = price
	}

	now := time.Now()
	tr := &tracking{
		Tracking: domain.Tracking{
			Symbol:             e.cfg.Symbol,
			Side:               side,
			EntryPrice:         entryPrice,
			EntryTime:          now,
			MaxPriceSeen:       entryPrice,
			MinPriceSeen:       entryPrice,
			ProfitLadderFired:  make(map[int]bool),
			LastOrderCheckTime: now,
		},
		lastStopLoss: stopLoss,
	}

	tradeID, err := e.history.RecordOpen(ctx, domain.TradeRecord{
		Symbol:     e.cfg.Symbol,
		OpenTime:   now,
		Side:       side,
		Confidence: verdict.Confidence,
		Entry: domain.TradeEntry{
			Price:       entryPrice,
			RSI:         analysis.Indicators.RSI,
			MACDHist:    analysis.Indicators.MACD.Histogram,
			KalmanTrend: analysis.Kalman.Trend,
			Leverage:    proposal.Leverage,
			Quantity:    proposal.Quantity,
		},
	})
	if err != nil {
		e.collector.Errors.WithLabelValues("history").Inc()
		e.logger.WarnContext(ctx, "record open failed",
			slog.String("error", err.Error()),
		)
	}
	tr.TradeID = tradeID
	e.tracking[trackingKey(e.cfg.Symbol, side)] = tr

	e.gate.IncrementDaily()
	e.collector.Trades.WithLabelValues("open").Inc()

	e.logger.InfoContext(ctx, "position opened",
		slog.String("event", "TRADE_OPEN"),
		slog.String("side", string(side)),
		slog.Float64("qty", proposal.Quantity),
		slog.Float64("entry", entryPrice),
		slog.Int("leverage", proposal.Leverage),
		slog.Float64("stop_loss", stopLoss),
		slog.Float64("take_profit", takeProfit),
		slog.String("order_id", order.OrderID),
	)
	if e.notifier != nil {
		_ = e.notifier.Notify(ctx, "trade_open", "Trade opened",
			fmt.Sprintf("%s %s qty=%g entry=%.2f lev=%dx sl=%.2f tp=%.2f",
				e.cfg.Symbol, side, proposal.Quantity, entryPrice, proposal.Leverage, stopLoss, takeProfit))
	}
}

// computeLeverage builds the leverage from the base plus signal bonuses and
// clips it to the configured cap.
//
// Bonuses: the model's suggested leverage weighted by its confidence band,
// Kalman confidence, RSI extremes, MACD histogram magnitude relative to
// price, and elevated volume.
func (e *Engine) computeLeverage(analysis tickAnalysis) int {
	verdict := analysis.Verdict
	leverage := baseLeverage

	switch {
	case verdict.Confidence >= 0.8:
		leverage += verdict.SuggestedLeverage
	case verdict.Confidence >= 0.6:
		leverage += verdict.SuggestedLeverage / 2
	}

	switch {
	case analysis.Kalman.Confidence > 0.8:
		leverage += 5
	case analysis.Kalman.Confidence > 0.6:
		leverage += 2
	}

	if analysis.Indicators.RSI < 25 || analysis.Indicators.RSI > 75 {
		leverage += 3
	}

	if analysis.Snapshot.Price > 0 &&
		math.Abs(analysis.Indicators.MACD.Histogram)/analysis.Snapshot.Price > 0.0005 {
		leverage += 2
	}

	if analysis.Indicators.Volume.Ratio > 2 {
		leverage += 2
	}

	if leverage > e.cfg.LeverageCap {
		leverage = e.cfg.LeverageCap
	}
	if leverage < 1 {
		leverage = 1
	}
	return leverage
}

// computeQuantity sizes the order: risk a leverage-scaled slice of available
// balance, convert the levered notional into contracts, floor to the step
// grid, and raise to the instrument minimum when under it.
func computeQuantity(available, price float64, leverage int, inst domain.Instrument) float64 {
	if price <= 0 {
		return 0
	}

	riskPct := math.Min(maxRiskPct, float64(leverage)/3)
	capitalAtRisk := available * riskPct / 100
	notional := capitalAtRisk * float64(leverage)

	qty := notional / price
	if inst.StepSize > 0 {
		qty = math.Floor(qty/inst.StepSize) * inst.StepSize
	}
	if qty < inst.MinQty {
		qty = inst.MinQty
	}
	return qty
}

// exitLevels derives the entry-relative stop-loss from the configured
// percentage and the confidence-scaled take-profit.
func exitLevels(price float64, side domain.OrderSide, confidence, slPct float64) (stopLoss, takeProfit float64) {
	if slPct <= 0 {
		slPct = 0.6
	}
	fraction := slPct / 100
	rr := 1.5 + 0.5*confidence
	if side == domain.SideBuy {
		stopLoss = price * (1 - fraction)
		takeProfit = price + (price-stopLoss)*rr
	} else {
		stopLoss = price * (1 + fraction)
		takeProfit = price - (stopLoss-price)*rr
	}
	return stopLoss, takeProfit
}
