package reasoning

import (
	"fmt"
	"strings"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// EntryInput bundles everything the entry prompt needs. Prompt assembly is a
// pure function of this value.
type EntryInput struct {
	Snapshot   domain.MarketSnapshot
	Indicators domain.TechnicalIndicators
	Kalman     domain.KalmanPrediction
	Context    domain.HistoryContext
}

// PositionInput bundles everything the position prompt needs.
type PositionInput struct {
	Position        domain.Position
	Snapshot        domain.MarketSnapshot
	Indicators      domain.TechnicalIndicators
	Kalman          domain.KalmanPrediction
	HoursInPosition float64
}

// BuildEntryPrompt renders the entry analysis prompt. The decision rules are
// stated symmetrically for both directions; nothing in the wording favours
// going long.
func BuildEntryPrompt(in EntryInput) string {
	var sb strings.Builder

	sb.WriteString("You are a disciplined derivatives scalper analysing a perpetual-futures instrument.\n")
	sb.WriteString("Evaluate the data below and answer with a single JSON object.\n\n")

	s := in.Snapshot
	sb.WriteString("## Market\n")
	fmt.Fprintf(&sb, "symbol=%s price=%.2f bid=%.2f ask=%.2f\n", s.Symbol, s.Price, s.Bid, s.Ask)
	fmt.Fprintf(&sb, "24h: change=%.2f%% high=%.2f low=%.2f volume=%.0f\n\n", s.Change24hPct, s.High24h, s.Low24h, s.Volume24h)

	ind := in.Indicators
	sb.WriteString("## Technical indicators\n")
	fmt.Fprintf(&sb, "RSI(14)=%.1f%s\n", ind.RSI, rsiTag(ind.RSI))
	fmt.Fprintf(&sb, "MACD: line=%.4f signal=%.4f histogram=%.4f%s\n",
		ind.MACD.Line, ind.MACD.Signal, ind.MACD.Histogram, macdTag(ind.MACD.Histogram))
	fmt.Fprintf(&sb, "Bollinger: upper=%.2f middle=%.2f lower=%.2f\n",
		ind.Bollinger.Upper, ind.Bollinger.Middle, ind.Bollinger.Lower)
	fmt.Fprintf(&sb, "EMA: 9=%.2f 21=%.2f 50=%.2f\n", ind.EMA.E9, ind.EMA.E21, ind.EMA.E50)
	fmt.Fprintf(&sb, "Volume ratio=%.2f%s\n\n", ind.Volume.Ratio, volumeTag(ind.Volume.Ratio))

	k := in.Kalman
	sb.WriteString("## Kalman forecast\n")
	fmt.Fprintf(&sb, "predicted=%.2f confidence=%.2f trend=%s accuracy=%.2f timeframe=%s\n\n",
		k.PredictedPrice, k.Confidence, k.Trend, k.Accuracy, k.Timeframe)

	if ctxBlock := FormatContext(in.Context); ctxBlock != "" {
		sb.WriteString("## Trading history\n")
		sb.WriteString(ctxBlock)
		sb.WriteString("\n")
	}

	sb.WriteString("## Decision rules\n")
	sb.WriteString("- BUY when oversold conditions, bullish Kalman trend, and rising volume align.\n")
	sb.WriteString("- SELL when overbought conditions, bearish Kalman trend, and rising volume align.\n")
	sb.WriteString("- Treat long and short setups with equal weight; shorting a weak market is as valid as buying a strong one.\n")
	sb.WriteString("- HOLD when signals conflict or conviction is low.\n\n")

	sb.WriteString("Respond ONLY with JSON in this exact schema:\n")
	sb.WriteString(`{"decision":"BUY|SELL|HOLD","confidence":0.0,"reasoning":"...","suggested_leverage":5,"risk_level":"low|medium|high","market_sentiment":"bullish|bearish|neutral"}`)
	sb.WriteString("\n")

	return sb.String()
}

// BuildPositionPrompt renders the position-management prompt, with reversal
// signals conditioned on the current side and the scalping exit thresholds
// spelled out.
func BuildPositionPrompt(in PositionInput) string {
	var sb strings.Builder

	p := in.Position
	sb.WriteString("You are managing an open perpetual-futures position for a scalping strategy.\n\n")

	sb.WriteString("## Position\n")
	fmt.Fprintf(&sb, "symbol=%s side=%s size=%g entry=%.2f mark=%.2f\n",
		p.Symbol, p.Side, p.Size, p.EntryPrice, p.CurrentPrice)
	fmt.Fprintf(&sb, "unrealised_pnl=%.2f pnl_pct=%.3f%% leverage=%dx time_in_position=%.1fh\n\n",
		p.UnrealizedPnL, p.PnLPct, p.Leverage, in.HoursInPosition)

	ind := in.Indicators
	sb.WriteString("## Indicators\n")
	fmt.Fprintf(&sb, "RSI(14)=%.1f%s\n", ind.RSI, rsiTag(ind.RSI))
	fmt.Fprintf(&sb, "MACD histogram=%.4f%s\n", ind.MACD.Histogram, macdTag(ind.MACD.Histogram))
	fmt.Fprintf(&sb, "Volume ratio=%.2f%s\n", ind.Volume.Ratio, volumeTag(ind.Volume.Ratio))

	k := in.Kalman
	fmt.Fprintf(&sb, "Kalman: predicted=%.2f trend=%s confidence=%.2f\n\n",
		k.PredictedPrice, k.Trend, k.Confidence)

	sb.WriteString("## Reversal signals against this position\n")
	for _, sig := range reversalSignals(p.Side, ind, k) {
		sb.WriteString("- " + sig + "\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Exit rules (scalping)\n")
	sb.WriteString("- CLOSE_100 when pnl_pct >= 1.0% or a strong reversal is underway.\n")
	sb.WriteString("- CLOSE_50 when pnl_pct >= 0.6% with weakening momentum.\n")
	sb.WriteString("- CLOSE_25 when pnl_pct >= 0.3% and you want to bank partial profit.\n")
	sb.WriteString("- HOLD when the position thesis is intact and no reversal signal fires.\n\n")

	sb.WriteString("Respond ONLY with JSON in this exact schema:\n")
	sb.WriteString(`{"action":"HOLD|CLOSE_25|CLOSE_50|CLOSE_100","confidence":0.0,"reasoning":"...","risk_level":"low|medium|high"}`)
	sb.WriteString("\n")

	return sb.String()
}

// FormatContext renders a HistoryContext as the deterministic prose block
// embedded in entry prompts. A zero-value context renders empty.
func FormatContext(ctx domain.HistoryContext) string {
	if len(ctx.Recent) == 0 && ctx.Daily.Trades == 0 && ctx.Global.Trades == 0 && len(ctx.Patterns) == 0 {
		return ""
	}

	var sb strings.Builder

	if ctx.Daily.Trades > 0 {
		fmt.Fprintf(&sb, "Today: %d trades, %d wins, %d losses, win_rate=%.0f%%, pnl=%.2f\n",
			ctx.Daily.Trades, ctx.Daily.Wins, ctx.Daily.Losses, ctx.Daily.WinRate()*100, ctx.Daily.PnL)
	}
	if ctx.Global.Trades > 0 {
		fmt.Fprintf(&sb, "All-time: %d trades, win_rate=%.0f%%, pnl=%.2f, liquidations=%d\n",
			ctx.Global.Trades, ctx.Global.WinRate()*100, ctx.Global.PnL, ctx.Global.Liquidations)
	}
	if len(ctx.Recent) > 0 {
		sb.WriteString("Recent closed trades:\n")
		for _, t := range ctx.Recent {
			if t.Exit == nil {
				continue
			}
			fmt.Fprintf(&sb, "  %s %s pnl=%.2f (%.2f%%) exit=%s\n",
				t.Side, t.Result, t.Exit.PnL, t.Exit.PnLPct, t.Exit.Type)
		}
	}
	for _, p := range ctx.Patterns {
		sb.WriteString("Note: " + p + "\n")
	}

	return sb.String()
}

// reversalSignals lists the indicator readings currently working against the
// position's side.
func reversalSignals(side domain.OrderSide, ind domain.TechnicalIndicators, k domain.KalmanPrediction) []string {
	var out []string

	if side == domain.SideBuy {
		if ind.RSI > 70 {
			out = append(out, fmt.Sprintf("RSI %.1f is overbought", ind.RSI))
		}
		if ind.MACD.Histogram < 0 {
			out = append(out, "MACD histogram turned negative")
		}
		if k.Trend == domain.TrendBearish {
			out = append(out, "Kalman trend flipped bearish")
		}
	} else {
		if ind.RSI < 30 {
			out = append(out, fmt.Sprintf("RSI %.1f is oversold", ind.RSI))
		}
		if ind.MACD.Histogram > 0 {
			out = append(out, "MACD histogram turned positive")
		}
		if k.Trend == domain.TrendBullish {
			out = append(out, "Kalman trend flipped bullish")
		}
	}
	if ind.Volume.Ratio > 3 {
		out = append(out, fmt.Sprintf("volume spike %.1fx average", ind.Volume.Ratio))
	}

	if len(out) == 0 {
		out = append(out, "none")
	}
	return out
}

func rsiTag(rsi float64) string {
	switch {
	case rsi < 30:
		return " [OVERSOLD]"
	case rsi > 70:
		return " [OVERBOUGHT]"
	default:
		return ""
	}
}

func macdTag(hist float64) string {
	switch {
	case hist > 0:
		return " [BULLISH]"
	case hist < 0:
		return " [BEARISH]"
	default:
		return ""
	}
}

func volumeTag(ratio float64) string {
	if ratio > 2 {
		return " [ELEVATED]"
	}
	return ""
}
