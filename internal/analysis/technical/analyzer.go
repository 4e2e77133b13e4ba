// Package technical computes classical technical indicators over candle
// slices. All functions are pure: they return fixed-shape records even on
// short or degenerate input, substituting neutral sentinel values instead of
// returning errors.
package technical

import (
	"math"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

const (
	rsiPeriod       = 14
	bollingerPeriod = 20
	bollingerK      = 2.0
	// periodsPerYear is the number of 5-minute buckets in a year, used to
	// annualise per-candle volatility.
	periodsPerYear = 365 * 24 * 12
)

// Analyze computes the full indicator record for a candle window.
func Analyze(candles []domain.Candle) domain.TechnicalIndicators {
	closes := Closes(candles)
	return domain.TechnicalIndicators{
		RSI:       RSI(closes, rsiPeriod),
		MACD:      MACD(closes),
		Bollinger: BollingerBands(closes, bollingerPeriod, bollingerK),
		EMA: domain.EMALadder{
			E9:  EMA(closes, 9),
			E21: EMA(closes, 21),
			E50: EMA(closes, 50),
		},
		Volume: VolumeProfile(candles),
	}
}

// Closes extracts the close-price series from a candle slice.
func Closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// RSI computes the relative strength index over close-to-close differences.
// It returns the neutral value 50 when fewer than period+1 samples are
// available, and 100 when the average loss is zero.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}

	var gains, losses float64
	start := len(closes) - period
	for i := start; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD computes EMA(12) - EMA(26) on closes. The signal line is approximated
// as 0.9 * macd_line rather than an EMA of the MACD series; this matches the
// behaviour the rest of the decision thresholds were tuned against.
// MACDExact switches to the EMA-based signal for callers that want it.
func MACD(closes []float64) domain.MACD {
	if len(closes) == 0 {
		return domain.MACD{}
	}
	line := EMA(closes, 12) - EMA(closes, 26)
	signal := 0.9 * line
	return domain.MACD{
		Line:      line,
		Signal:    signal,
		Histogram: line - signal,
	}
}

// MACDExact computes MACD with a true EMA(9) signal line over the MACD
// series. Not used by the default decision path.
func MACDExact(closes []float64) domain.MACD {
	if len(closes) < 26 {
		return MACD(closes)
	}

	macdSeries := make([]float64, 0, len(closes)-25)
	for i := 26; i <= len(closes); i++ {
		window := closes[:i]
		macdSeries = append(macdSeries, EMA(window, 12)-EMA(window, 26))
	}

	line := macdSeries[len(macdSeries)-1]
	signal := EMA(macdSeries, 9)
	return domain.MACD{
		Line:      line,
		Signal:    signal,
		Histogram: line - signal,
	}
}

// EMA computes the exponential moving average with the standard recursion
// seeded at the first sample. An empty series yields 0.
func EMA(values []float64, period int) float64 {
	if len(values) == 0 || period <= 0 {
		return 0
	}
	k := 2.0 / (float64(period) + 1)
	ema := values[0]
	for _, v := range values[1:] {
		ema = v*k + ema*(1-k)
	}
	return ema
}

// SMA computes the simple moving average of the last period values. Shorter
// input averages whatever is available; empty input yields 0.
func SMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if period > len(values) {
		period = len(values)
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// BollingerBands computes SMA ± k·σ over the last period closes. With fewer
// samples than the period all three bands collapse onto the short-window SMA.
func BollingerBands(closes []float64, period int, k float64) domain.Bollinger {
	if len(closes) == 0 {
		return domain.Bollinger{}
	}
	middle := SMA(closes, period)
	if len(closes) < period {
		return domain.Bollinger{Upper: middle, Middle: middle, Lower: middle}
	}

	window := closes[len(closes)-period:]
	var variance float64
	for _, v := range window {
		d := v - middle
		variance += d * d
	}
	sigma := math.Sqrt(variance / float64(period))

	return domain.Bollinger{
		Upper:  middle + k*sigma,
		Middle: middle,
		Lower:  middle - k*sigma,
	}
}

// VolumeProfile compares the latest candle volume to the window average.
func VolumeProfile(candles []domain.Candle) domain.VolumeProfile {
	if len(candles) == 0 {
		return domain.VolumeProfile{Ratio: 1}
	}

	var sum float64
	for _, c := range candles {
		sum += c.Volume
	}
	avg := sum / float64(len(candles))
	current := candles[len(candles)-1].Volume

	ratio := 1.0
	if avg > 0 {
		ratio = current / avg
	}
	return domain.VolumeProfile{Average: avg, Current: current, Ratio: ratio}
}

// extremumWindow is the half-width of the local-extremum scan used for
// support/resistance detection.
const extremumWindow = 5

// SupportResistance scans for local extrema with a ±extremumWindow window and
// returns the nearest support below and resistance above the last close.
// Strength grows with the number of extrema found, capped at 1.
func SupportResistance(candles []domain.Candle) domain.SupportResistance {
	if len(candles) < 2*extremumWindow+1 {
		var last float64
		if len(candles) > 0 {
			last = candles[len(candles)-1].Close
		}
		return domain.SupportResistance{Support: last, Resistance: last}
	}

	lastClose := candles[len(candles)-1].Close
	var maxima, minima []float64

	for i := extremumWindow; i < len(candles)-extremumWindow; i++ {
		isMax, isMin := true, true
		for j := i - extremumWindow; j <= i+extremumWindow; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isMax = false
			}
			if candles[j].Low <= candles[i].Low {
				isMin = false
			}
		}
		if isMax {
			maxima = append(maxima, candles[i].High)
		}
		if isMin {
			minima = append(minima, candles[i].Low)
		}
	}

	support := lastClose
	for _, m := range minima {
		if m < lastClose && (support == lastClose || m > support) {
			support = m
		}
	}
	resistance := lastClose
	for _, m := range maxima {
		if m > lastClose && (resistance == lastClose || m < resistance) {
			resistance = m
		}
	}

	strength := float64(len(maxima)+len(minima)) / 10
	if strength > 1 {
		strength = 1
	}

	return domain.SupportResistance{
		Support:    support,
		Resistance: resistance,
		Strength:   strength,
	}
}

// Volatility computes the annualised volatility from simple returns over the
// last period candles, scaled by the number of 5-minute buckets per year.
func Volatility(candles []domain.Candle, period int) float64 {
	closes := Closes(candles)
	if len(closes) < 2 {
		return 0
	}
	if period > 0 && len(closes) > period+1 {
		closes = closes[len(closes)-period-1:]
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	if len(returns) == 0 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance) * math.Sqrt(periodsPerYear)
}

// ReturnsStdDev computes the plain (non-annualised) standard deviation of
// simple returns. The Kalman predictor uses this for its process-noise
// adaptation.
func ReturnsStdDev(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	if len(returns) == 0 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(returns)))
}
