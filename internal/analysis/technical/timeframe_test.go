package technical

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

func trendingCandles(n int, start, stepPct float64) []domain.Candle {
	out := make([]domain.Candle, n)
	price := start
	for i := range out {
		out[i] = candle(i, price, price*1.001, price*0.999, price, 10)
		price *= 1 + stepPct
	}
	return out
}

func TestCompareTimeframesAligned(t *testing.T) {
	coarse := trendingCandles(20, 50_000, 0.001)
	fine := trendingCandles(10, 50_000, 0.001)

	cmp := CompareTimeframes(coarse, fine)
	assert.Equal(t, domain.TrendBullish, cmp.MacroTrend)
	assert.Equal(t, domain.TrendBullish, cmp.MicroTrend)
	assert.False(t, cmp.Divergence)
	assert.Equal(t, "TREND_LONG", cmp.Suggestion)
}

func TestCompareTimeframesDivergence(t *testing.T) {
	coarse := trendingCandles(20, 50_000, 0.001)
	fine := trendingCandles(10, 50_000, -0.001)

	cmp := CompareTimeframes(coarse, fine)
	assert.True(t, cmp.Divergence)
	assert.Equal(t, "PULLBACK_LONG", cmp.Suggestion)
}

func TestCompareTimeframesFlat(t *testing.T) {
	coarse := trendingCandles(20, 50_000, 0)
	fine := trendingCandles(10, 50_000, 0)

	cmp := CompareTimeframes(coarse, fine)
	assert.Equal(t, domain.TrendNeutral, cmp.MacroTrend)
	assert.Equal(t, domain.TrendNeutral, cmp.MicroTrend)
	assert.Equal(t, "WAIT", cmp.Suggestion)
}

func TestCompareTimeframesShortInput(t *testing.T) {
	cmp := CompareTimeframes(nil, nil)
	assert.Equal(t, domain.TrendNeutral, cmp.MacroTrend)
	assert.False(t, cmp.Divergence)
}
