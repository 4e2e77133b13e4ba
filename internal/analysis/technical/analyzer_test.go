package technical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// mkCandles builds a candle series from close prices with constant volume.
func mkCandles(closes ...float64) []domain.Candle {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{
			OpenTime:  base.Add(time.Duration(i) * 5 * time.Minute),
			CloseTime: base.Add(time.Duration(i+1) * 5 * time.Minute),
			Open:      c,
			High:      c * 1.001,
			Low:       c * 0.999,
			Close:     c,
			Volume:    100,
		}
	}
	return out
}

func constantSeries(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestRSIShortInputIsNeutral(t *testing.T) {
	assert.Equal(t, 50.0, RSI([]float64{1, 2, 3}, 14))
	assert.Equal(t, 50.0, RSI(nil, 14))
}

func TestRSIConstantSeriesClampsTo100(t *testing.T) {
	// No losses observed: the zero-average-loss clamp path returns 100.
	assert.Equal(t, 100.0, RSI(constantSeries(30, 50_000), 14))
}

func TestRSIStaysInRange(t *testing.T) {
	closes := []float64{10, 12, 11, 13, 9, 14, 8, 15, 7, 16, 6, 17, 5, 18, 4, 19}
	rsi := RSI(closes, 14)
	assert.GreaterOrEqual(t, rsi, 0.0)
	assert.LessOrEqual(t, rsi, 100.0)
}

func TestRSIAllLossesApproachesZero(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 - float64(i)
	}
	assert.InDelta(t, 0.0, RSI(closes, 14), 1e-9)
}

func TestMACDSignalApproximation(t *testing.T) {
	closes := []float64{100, 101, 103, 102, 105, 107, 106, 109, 111, 110}
	m := MACD(closes)

	// The signal line is 0.9 of the MACD line by construction, and the
	// histogram is the remaining tenth.
	assert.InDelta(t, 0.9*m.Line, m.Signal, 1e-12)
	assert.InDelta(t, 0.1*m.Line, m.Histogram, 1e-12)
}

func TestMACDEmptyInput(t *testing.T) {
	assert.Equal(t, domain.MACD{}, MACD(nil))
}

func TestEMASeededAtFirstSample(t *testing.T) {
	assert.Equal(t, 42.0, EMA([]float64{42}, 9))
	assert.Equal(t, 0.0, EMA(nil, 9))
}

func TestEMAConvergesTowardConstant(t *testing.T) {
	series := append([]float64{100}, constantSeries(100, 200)...)
	ema := EMA(series, 9)
	assert.InDelta(t, 200, ema, 0.01)
}

func TestBollingerConstantSeriesCollapses(t *testing.T) {
	b := BollingerBands(constantSeries(25, 50), 20, 2)
	assert.Equal(t, 50.0, b.Middle)
	assert.Equal(t, 50.0, b.Upper)
	assert.Equal(t, 50.0, b.Lower)
}

func TestBollingerBandsOrdered(t *testing.T) {
	closes := []float64{10, 12, 14, 11, 13, 15, 12, 14, 16, 13, 15, 17, 14, 16, 18, 15, 17, 19, 16, 18, 20}
	b := BollingerBands(closes, 20, 2)
	assert.Greater(t, b.Upper, b.Middle)
	assert.Less(t, b.Lower, b.Middle)
}

func TestVolumeProfile(t *testing.T) {
	candles := mkCandles(1, 2, 3, 4)
	candles[3].Volume = 400

	v := VolumeProfile(candles)
	assert.Equal(t, 400.0, v.Current)
	assert.InDelta(t, 175.0, v.Average, 1e-9)
	assert.InDelta(t, 400.0/175.0, v.Ratio, 1e-9)
}

func TestVolumeProfileEmptyInput(t *testing.T) {
	v := VolumeProfile(nil)
	assert.Equal(t, 1.0, v.Ratio)
}

func TestAnalyzeFixedShapeOnShortInput(t *testing.T) {
	ind := Analyze(mkCandles(100, 101))
	assert.Equal(t, 50.0, ind.RSI)
	assert.NotZero(t, ind.EMA.E9)
}

func TestSupportResistanceShortInput(t *testing.T) {
	sr := SupportResistance(mkCandles(100, 101, 102))
	assert.Equal(t, 102.0, sr.Support)
	assert.Equal(t, 102.0, sr.Resistance)
	assert.Zero(t, sr.Strength)
}

func TestSupportResistanceFindsExtrema(t *testing.T) {
	// A valley at 90 and a peak at 120 inside a 21-candle window.
	closes := []float64{
		100, 99, 97, 95, 92, 90, 92, 95, 100, 105,
		110, 115, 120, 115, 110, 105, 100, 100, 100, 100, 100,
	}
	sr := SupportResistance(mkCandles(closes...))
	require.Greater(t, sr.Strength, 0.0)
	assert.Less(t, sr.Support, 100.0)
	assert.Greater(t, sr.Resistance, 100.0)
}

func TestVolatilityZeroForConstantSeries(t *testing.T) {
	assert.Equal(t, 0.0, Volatility(mkCandles(constantSeries(30, 100)...), 20))
	assert.Equal(t, 0.0, Volatility(nil, 20))
}

func TestVolatilityPositiveForNoisySeries(t *testing.T) {
	closes := []float64{100, 105, 95, 110, 90, 108, 92, 111, 89, 112, 95, 104, 99, 106, 94, 103, 97, 105, 96, 102, 98}
	assert.Greater(t, Volatility(mkCandles(closes...), 20), 0.0)
}

func TestReturnsStdDevGuardsDivByZero(t *testing.T) {
	assert.Equal(t, 0.0, ReturnsStdDev([]float64{0, 0, 0}))
	assert.Equal(t, 0.0, ReturnsStdDev([]float64{5}))
}
