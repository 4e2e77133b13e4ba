package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/n3-n2-n1/kalmann/internal/domain"
	"github.com/n3-n2-n1/kalmann/internal/reasoning"
)

const (
	// trailingActivatePct is the PnL percent at which the trailing stop
	// arms.
	trailingActivatePct = 0.5

	// trailingDistance is the fractional gap kept between the best-seen
	// price and the trailing stop.
	trailingDistance = 0.003

	// stalenessAge and stalenessMaxPnL define the dead-position exit: older
	// than the age with less than the PnL is cut.
	stalenessAge    = 2 * time.Hour
	stalenessMaxPnL = 0.3

	// reversalConfidence is the opposite-verdict confidence that forces a
	// full exit.
	reversalConfidence = 0.7

	// volumeSpikeExitRatio is the volume ratio that triggers a defensive
	// half exit.
	volumeSpikeExitRatio = 5.0
)

// profit ladder rungs: first crossing of each PnL percent fires the paired
// close percentage once.
var ladderRungs = []struct {
	Level    int // identifier recorded in ProfitLadderFired
	PnLPct   float64
	ClosePct int
	Score    float64
}{
	{Level: 100, PnLPct: 1.0, ClosePct: 100, Score: 0.9},
	{Level: 60, PnLPct: 0.6, ClosePct: 50, Score: 0.65},
	{Level: 30, PnLPct: 0.3, ClosePct: 25, Score: 0.55},
}

// backupExit is one triggered backup rule; the highest score wins the tick.
type backupExit struct {
	Rule     string
	ClosePct int
	Score    float64
}

// managePosition runs step B for the one open position: TP/SL detection,
// trailing stop maintenance, the model's position verdict, and the backup
// exit rules.
func (e *Engine) managePosition(ctx context.Context, pos domain.Position, analysis tickAnalysis) {
	key := trackingKey(pos.Symbol, pos.Side)
	tr, ok := e.tracking[key]
	if !ok {
		// Position predates this process (restart) or was opened manually;
		// adopt it so the management policy applies.
		e.logger.Info("adopting untracked position",
			slog.String("side", string(pos.Side)),
			slog.Float64("entry", pos.EntryPrice),
		)
		tr = &tracking{
			Tracking: domain.Tracking{
				Symbol:             pos.Symbol,
				Side:               pos.Side,
				EntryPrice:         pos.EntryPrice,
				EntryTime:          pos.Timestamp,
				MaxPriceSeen:       pos.CurrentPrice,
				MinPriceSeen:       pos.CurrentPrice,
				ProfitLadderFired:  make(map[int]bool),
				LastOrderCheckTime: time.Now(),
			},
		}
		if tr.EntryTime.IsZero() {
			tr.EntryTime = time.Now()
		}
		e.tracking[key] = tr
	}

	// Advisory only: an opposite entry verdict never opens a hedge. The
	// management policy owns the exit.
	if opposes(analysis.Verdict.Decision, pos.Side) {
		e.logger.Info("entry verdict opposes open position, not hedging",
			slog.String("verdict", string(analysis.Verdict.Decision)),
			slog.String("position_side", string(pos.Side)),
		)
	}

	if pos.Side == domain.SideBuy && pos.CurrentPrice > tr.MaxPriceSeen {
		tr.MaxPriceSeen = pos.CurrentPrice
	}
	if pos.Side == domain.SideSell && (tr.MinPriceSeen == 0 || pos.CurrentPrice < tr.MinPriceSeen) {
		tr.MinPriceSeen = pos.CurrentPrice
	}

	e.collector.UnrealizedPnL.Set(pos.UnrealizedPnL)
	e.collector.PositionPnLPct.Set(pos.PnLPct)

	// Detect conditional orders that fired since the last look.
	if closed := e.pollTPSL(ctx, pos, tr, key); closed {
		return
	}

	e.updateTrailingStop(ctx, pos, tr)

	// The model's position verdict takes precedence over the backup rules.
	hours := time.Since(tr.EntryTime).Hours()
	verdict := e.reasoner.AnalyzePosition(ctx, reasoning.PositionInput{
		Position:        pos,
		Snapshot:        analysis.Snapshot,
		Indicators:      analysis.Indicators,
		Kalman:          analysis.Kalman,
		HoursInPosition: hours,
	})

	if verdict.Action != domain.ActionHold {
		e.executeClose(ctx, pos, tr, key, verdict.Action.ClosePercent(),
			"ai_verdict: "+verdict.Reasoning)
		return
	}

	if exit, ok := e.evaluateBackupExits(pos, tr, analysis, hours); ok {
		e.executeClose(ctx, pos, tr, key, exit.ClosePct, exit.Rule)
	}
}

// pollTPSL scans recent order history for a fired TP or SL. Returns true
// when the position was closed by a conditional order.
func (e *Engine) pollTPSL(ctx context.Context, pos domain.Position, tr *tracking, key string) bool {
	check, err := e.venue.CheckTPSL(ctx, pos.Symbol, tr.LastOrderCheckTime)
	tr.LastOrderCheckTime = time.Now()
	if err != nil {
		e.logger.WarnContext(ctx, "tp/sl check failed",
			slog.String("error", err.Error()),
		)
		return false
	}

	switch {
	case check.TPExecuted:
		e.recordExit(ctx, tr, domain.ExitTakeProfit, check.Price, "venue")
		delete(e.tracking, key)
		return true
	case check.SLExecuted:
		e.recordExit(ctx, tr, domain.ExitStopLoss, check.Price, "venue")
		delete(e.tracking, key)
		return true
	}
	return false
}

// updateTrailingStop arms the trail once the position is in profit and then
// ratchets the stop behind the best-seen price. The stop only ever moves in
// the favourable direction.
func (e *Engine) updateTrailingStop(ctx context.Context, pos domain.Position, tr *tracking) {
	if !tr.TrailingActive {
		if pos.PnLPct < trailingActivatePct {
			return
		}
		tr.TrailingActive = true
		e.logger.Info("trailing stop armed",
			slog.Float64("pnl_pct", pos.PnLPct),
		)
	}

	var newStop float64
	var improves bool
	if pos.Side == domain.SideBuy {
		newStop = tr.MaxPriceSeen * (1 - trailingDistance)
		improves = newStop > tr.lastStopLoss
	} else {
		newStop = tr.MinPriceSeen * (1 + trailingDistance)
		improves = tr.lastStopLoss == 0 || newStop < tr.lastStopLoss
	}
	if !improves {
		return
	}

	if err := e.venue.UpdateStopLoss(ctx, pos.Symbol, newStop, 0); err != nil {
		e.collector.Errors.WithLabelValues("venue").Inc()
		e.logger.WarnContext(ctx, "trailing stop update failed",
			slog.String("error", err.Error()),
		)
		return
	}

	tr.lastStopLoss = newStop
	e.logger.Info("trailing stop moved",
		slog.Float64("stop", newStop),
		slog.Float64("best_seen", bestSeen(pos.Side, tr)),
	)
}

// evaluateBackupExits checks the rule set and returns the highest-scoring
// triggered exit.
func (e *Engine) evaluateBackupExits(pos domain.Position, tr *tracking, analysis tickAnalysis, hours float64) (backupExit, bool) {
	var candidates []backupExit

	// (a) AI reversal: a confident opposite entry verdict.
	if opposes(analysis.Verdict.Decision, pos.Side) && analysis.Verdict.Confidence > reversalConfidence {
		candidates = append(candidates, backupExit{
			Rule:     "AI_REVERSAL",
			ClosePct: 100,
			Score:    analysis.Verdict.Confidence,
		})
	}

	// (b) Staleness: old position going nowhere.
	if hours > stalenessAge.Hours() && pos.PnLPct < stalenessMaxPnL {
		candidates = append(candidates, backupExit{Rule: "STALE_POSITION", ClosePct: 100, Score: 0.6})
	}

	// (c) Volatility spike: de-risk half into abnormal volume.
	if analysis.Indicators.Volume.Ratio > volumeSpikeExitRatio {
		candidates = append(candidates, backupExit{Rule: "VOLUME_SPIKE", ClosePct: 50, Score: 0.5})
	}

	// (d) Profit ladder: first crossing of each rung fires once.
	for _, rung := range ladderRungs {
		if pos.PnLPct >= rung.PnLPct && !tr.ProfitLadderFired[rung.Level] {
			candidates = append(candidates, backupExit{
				Rule:     fmt.Sprintf("PROFIT_LADDER_%d", rung.Level),
				ClosePct: rung.ClosePct,
				Score:    rung.Score,
			})
			break
		}
	}

	// (e) Technical reversal: side-conditional RSI extreme with the MACD
	// histogram leaning the other way.
	ind := analysis.Indicators
	technicalReversal := (pos.Side == domain.SideBuy && ind.RSI > 70 && ind.MACD.Histogram < 0) ||
		(pos.Side == domain.SideSell && ind.RSI < 30 && ind.MACD.Histogram > 0)
	if technicalReversal {
		candidates = append(candidates, backupExit{Rule: "TECHNICAL_REVERSAL", ClosePct: 50, Score: 0.5})
	}

	if len(candidates) == 0 {
		return backupExit{}, false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best, true
}

// executeClose reduces or flattens the position. Full closes settle the
// history record and drop the tracking entry; partial closes mark fired
// ladder rungs so they never re-fire.
func (e *Engine) executeClose(ctx context.Context, pos domain.Position, tr *tracking, key string, pct int, reason string) {
	started := time.Now()
	order, err := e.venue.Close(ctx, pos.Symbol, pos.Side, pct)
	e.collector.ExecutionDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		e.collector.Errors.WithLabelValues("venue").Inc()
		e.logger.ErrorContext(ctx, "close failed",
			slog.Int("pct", pct),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}

	e.markLadderRung(tr, reason)

	e.logger.Info("position reduced",
		slog.Int("pct", pct),
		slog.String("reason", reason),
		slog.Float64("price", order.AvgPrice),
		slog.Float64("pnl_pct", pos.PnLPct),
	)

	if pct >= 100 {
		e.recordExit(ctx, tr, domain.ExitManual, order.AvgPrice, reason)
		delete(e.tracking, key)
	}
}

// markLadderRung records a fired profit-ladder level so the rung cannot fire
// again on a later tick at the same PnL.
func (e *Engine) markLadderRung(tr *tracking, reason string) {
	for _, rung := range ladderRungs {
		if reason == fmt.Sprintf("PROFIT_LADDER_%d", rung.Level) {
			tr.ProfitLadderFired[rung.Level] = true
		}
	}
}

// recordExit settles the trade in the history store, archives it, bumps
// metrics, and emits the TRADE_CLOSE event.
func (e *Engine) recordExit(ctx context.Context, tr *tracking, exitType domain.ExitType, price float64, executedBy string) {
	pnl := exitPnL(tr, price)
	pnlPct := 0.0
	if tr.EntryPrice > 0 {
		pnlPct = pnl / tr.EntryPrice * 100
	}

	exit := domain.TradeExit{
		Type:        exitType,
		Price:       price,
		PnL:         pnl,
		PnLPct:      pnlPct,
		DurationMin: time.Since(tr.EntryTime).Minutes(),
		Time:        time.Now(),
	}

	result := "loss"
	eventType := closeEventType(exitType)
	if pnl > 0 {
		result = "win"
	}
	if exitType == domain.ExitLiquidation {
		result = "liquidation"
	}
	e.collector.Trades.WithLabelValues(result).Inc()
	e.collector.RealizedPnL.Add(pnl)

	e.logger.Info("position closed",
		slog.String("event", "TRADE_CLOSE"),
		slog.String("type", eventType),
		slog.String("executedBy", executedBy),
		slog.Float64("pnl", pnl),
		slog.Float64("pnl_pct", pnlPct),
		slog.Float64("price", price),
		slog.Float64("duration_min", exit.DurationMin),
	)

	if tr.TradeID != "" {
		if err := e.history.RecordClose(ctx, tr.Symbol, tr.TradeID, exit); err != nil {
			e.collector.Errors.WithLabelValues("history").Inc()
			e.logger.WarnContext(ctx, "record close failed",
				slog.String("error", err.Error()),
			)
		}
	}

	if e.archiver != nil {
		record := domain.TradeRecord{
			ID:       tr.TradeID,
			Symbol:   tr.Symbol,
			OpenTime: tr.EntryTime,
			Side:     tr.Side,
			Entry: domain.TradeEntry{
				Price: tr.EntryPrice,
			},
			Exit:   &exit,
			Result: archiveResult(exitType, pnl),
		}
		if err := e.archiver.ArchiveTrade(ctx, record); err != nil {
			e.logger.WarnContext(ctx, "trade archive failed",
				slog.String("error", err.Error()),
			)
		}
	}

	if e.notifier != nil {
		_ = e.notifier.Notify(ctx, "trade_close", "Trade closed",
			fmt.Sprintf("%s %s %s pnl=%.2f (%.2f%%)", tr.Symbol, tr.Side, eventType, pnl, pnlPct))
	}
}

// exitPnL computes per-unit PnL of the tracked position. It deliberately
// ignores size (the venue reports realised PnL authoritatively); the per-unit
// figure is what the history aggregates key on.
func exitPnL(tr *tracking, price float64) float64 {
	if tr.Side == domain.SideBuy {
		return price - tr.EntryPrice
	}
	return tr.EntryPrice - price
}

func closeEventType(t domain.ExitType) string {
	switch t {
	case domain.ExitTakeProfit:
		return "TAKE_PROFIT"
	case domain.ExitStopLoss:
		return "STOP_LOSS"
	case domain.ExitLiquidation:
		return "LIQUIDATION"
	default:
		return "MANUAL_CLOSE"
	}
}

func archiveResult(t domain.ExitType, pnl float64) domain.TradeResult {
	if t == domain.ExitLiquidation {
		return domain.ResultLiquidation
	}
	if pnl > 0 {
		return domain.ResultWin
	}
	return domain.ResultLoss
}

// opposes reports whether an entry decision is directionally opposite to an
// open position's side.
func opposes(decision domain.Decision, side domain.OrderSide) bool {
	return (decision == domain.DecisionSell && side == domain.SideBuy) ||
		(decision == domain.DecisionBuy && side == domain.SideSell)
}

func bestSeen(side domain.OrderSide, tr *tracking) float64 {
	if side == domain.SideBuy {
		return tr.MaxPriceSeen
	}
	return tr.MinPriceSeen
}
