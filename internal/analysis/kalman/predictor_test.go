package kalman

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

func mkCandles(closes ...float64) []domain.Candle {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{
			OpenTime: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:     c, High: c, Low: c, Close: c,
			Volume: 100,
		}
	}
	return out
}

func TestPredictShortSeriesFallback(t *testing.T) {
	p := New("5m")

	pred := p.Predict(mkCandles(100, 101, 102), 5)
	assert.Equal(t, 102.0, pred.PredictedPrice)
	assert.Equal(t, 0.1, pred.Confidence)
	assert.Equal(t, domain.TrendNeutral, pred.Trend)
	assert.Equal(t, 0.1, pred.Accuracy)
	assert.Equal(t, "5m", pred.Timeframe)
}

func TestPredictEmptySeriesFallback(t *testing.T) {
	pred := New("5m").Predict(nil, 5)
	assert.Zero(t, pred.PredictedPrice)
	assert.Equal(t, domain.TrendNeutral, pred.Trend)
}

func TestPredictConstantSeries(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 50_000
	}

	pred := New("5m").Predict(mkCandles(closes...), 5)
	assert.InDelta(t, 50_000, pred.PredictedPrice, 1.0)
	// Zero price range: the filter tracks perfectly.
	assert.Equal(t, 1.0, pred.Confidence)
	assert.Equal(t, domain.TrendNeutral, pred.Trend)
}

func TestPredictTrendingSeries(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 50_000 + float64(i)*50
	}

	pred := New("5m").Predict(mkCandles(closes...), 5)
	assert.Equal(t, domain.TrendBullish, pred.Trend)
	// The forecast extrapolates the rise well past the middle of the series.
	assert.Greater(t, pred.PredictedPrice, closes[len(closes)-20])
}

func TestPredictBoundsAlwaysHold(t *testing.T) {
	closes := []float64{
		100, 150, 90, 160, 80, 170, 70, 180, 60, 190,
		55, 195, 50, 200, 45, 205, 40, 210, 35, 215,
	}

	pred := New("5m").Predict(mkCandles(closes...), 5)
	assert.GreaterOrEqual(t, pred.Confidence, 0.0)
	assert.LessOrEqual(t, pred.Confidence, 1.0)
	assert.GreaterOrEqual(t, pred.Accuracy, 0.0)
	assert.LessOrEqual(t, pred.Accuracy, 1.0)
}

func TestSetParamsAndReset(t *testing.T) {
	p := New("5m")
	p.SetParams(0.05, 0.5)

	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i%3)
	}
	fixed := p.Predict(mkCandles(closes...), 5)

	p.Reset()
	adaptive := p.Predict(mkCandles(closes...), 5)

	// Pinned and adaptive noise parameters produce different filters on a
	// noisy series.
	require.NotEqual(t, fixed, adaptive)
}

func TestPredictDefaultLookAhead(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	a := New("5m").Predict(mkCandles(closes...), 0)
	b := New("5m").Predict(mkCandles(closes...), 5)
	assert.Equal(t, b.PredictedPrice, a.PredictedPrice)
}
