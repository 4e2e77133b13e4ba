package technical

import (
	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// dojiBodyRatio is the body/range threshold below which a candle counts as a
// doji.
const dojiBodyRatio = 0.1

// volumeSpikeFactor is the multiple of trailing mean volume that counts as a
// spike.
const volumeSpikeFactor = 3.0

// AnalyzePatterns inspects the tail of a candle window for short-horizon
// reversal and exhaustion patterns. It needs at least 4 candles to evaluate
// everything; shorter input returns the zero record.
func AnalyzePatterns(candles []domain.Candle) domain.CandlePattern {
	var p domain.CandlePattern
	n := len(candles)
	if n < 4 {
		return p
	}

	last3 := candles[n-3:]

	p.ThreeGreenSoldiers = last3[0].Bullish() && last3[1].Bullish() && last3[2].Bullish()
	p.ThreeRedSoldiers = !last3[0].Bullish() && !last3[1].Bullish() && !last3[2].Bullish() &&
		last3[0].Body() != 0 && last3[1].Body() != 0 && last3[2].Body() != 0

	// Momentum weakening: body sizes strictly shrinking across the last 3.
	b0, b1, b2 := abs(last3[0].Body()), abs(last3[1].Body()), abs(last3[2].Body())
	p.MomentumWeakening = b0 > b1 && b1 > b2

	// Volume spike: last volume above volumeSpikeFactor times the trailing mean.
	var trailing float64
	for _, c := range candles[:n-1] {
		trailing += c.Volume
	}
	trailing /= float64(n - 1)
	p.VolumeSpike = trailing > 0 && candles[n-1].Volume > volumeSpikeFactor*trailing

	// Doji: tiny body relative to the full range.
	lastCandle := candles[n-1]
	if r := lastCandle.Range(); r > 0 {
		p.Doji = abs(lastCandle.Body())/r < dojiBodyRatio
	}

	return p
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
