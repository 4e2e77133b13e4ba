package technical

import (
	"github.com/n3-n2-n1/kalmann/internal/domain"
)

const (
	macroWindow    = 20
	microWindow    = 10
	macroThreshold = 0.002 // ±0.2% fractional change over the macro window
	microThreshold = 0.001 // ±0.1% over the micro window
)

// CompareTimeframes contrasts the macro trend on coarse candles against the
// micro trend on fine candles. Divergence between the two is the scalping
// signal the tools surface exposes.
func CompareTimeframes(coarse, fine []domain.Candle) domain.TimeframeComparison {
	macro := windowTrend(coarse, macroWindow, macroThreshold)
	micro := windowTrend(fine, microWindow, microThreshold)

	out := domain.TimeframeComparison{
		MacroTrend: macro,
		MicroTrend: micro,
	}

	out.Divergence = (macro == domain.TrendBullish && micro == domain.TrendBearish) ||
		(macro == domain.TrendBearish && micro == domain.TrendBullish)

	switch {
	case out.Divergence && macro == domain.TrendBullish:
		out.Suggestion = "PULLBACK_LONG"
	case out.Divergence && macro == domain.TrendBearish:
		out.Suggestion = "PULLBACK_SHORT"
	case macro == domain.TrendBullish && micro == domain.TrendBullish:
		out.Suggestion = "TREND_LONG"
	case macro == domain.TrendBearish && micro == domain.TrendBearish:
		out.Suggestion = "TREND_SHORT"
	default:
		out.Suggestion = "WAIT"
	}

	return out
}

// windowTrend maps the fractional close change over the last window candles
// to a trend label using the given threshold.
func windowTrend(candles []domain.Candle, window int, threshold float64) domain.Trend {
	if len(candles) < 2 {
		return domain.TrendNeutral
	}
	if len(candles) > window {
		candles = candles[len(candles)-window:]
	}

	first := candles[0].Close
	last := candles[len(candles)-1].Close
	if first == 0 {
		return domain.TrendNeutral
	}

	change := (last - first) / first
	switch {
	case change > threshold:
		return domain.TrendBullish
	case change < -threshold:
		return domain.TrendBearish
	default:
		return domain.TrendNeutral
	}
}
