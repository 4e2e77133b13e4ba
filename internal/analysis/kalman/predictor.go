// Package kalman implements a one-dimensional local-level Kalman filter over
// close prices with volatility-adaptive process noise and volume-adaptive
// measurement noise.
package kalman

import (
	"math"
	"sync"

	"github.com/n3-n2-n1/kalmann/internal/analysis/technical"
	"github.com/n3-n2-n1/kalmann/internal/domain"
)

const (
	// minSamples is the series length below which Predict returns the
	// fallback prediction.
	minSamples = 10

	// defaultLookAhead is the forecast horizon in candle periods.
	defaultLookAhead = 5

	// neutralSlope is the absolute OLS slope below which the trend label is
	// neutral.
	neutralSlope = 1e-3

	fallbackConfidence = 0.1
	fallbackAccuracy   = 0.1
)

// Predictor runs the scalar filter. The filter reseeds from the first sample
// on every Predict call, so the component is functionally stateless across
// calls; SetParams pins Q/R for tests and Reset restores adaptive behaviour.
type Predictor struct {
	mu        sync.Mutex
	timeframe string

	fixedQ, fixedR float64
	paramsFixed    bool
}

// New creates a Predictor. timeframe is a display label carried into the
// prediction record (e.g. "5m").
func New(timeframe string) *Predictor {
	return &Predictor{timeframe: timeframe}
}

// SetParams pins the process and measurement noise to fixed values,
// disabling per-call adaptation. Intended for tests.
func (p *Predictor) SetParams(q, r float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fixedQ, p.fixedR = q, r
	p.paramsFixed = true
}

// Reset restores adaptive noise parameters.
func (p *Predictor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paramsFixed = false
	p.fixedQ, p.fixedR = 0, 0
}

// Predict runs the filter over the candle series and extrapolates lookAhead
// periods forward. lookAhead <= 0 selects the default horizon. Fewer than
// minSamples candles yields the fallback prediction anchored at the last
// close.
func (p *Predictor) Predict(candles []domain.Candle, lookAhead int) domain.KalmanPrediction {
	if lookAhead <= 0 {
		lookAhead = defaultLookAhead
	}

	if len(candles) < minSamples {
		var last float64
		if len(candles) > 0 {
			last = candles[len(candles)-1].Close
		}
		return domain.KalmanPrediction{
			PredictedPrice: last,
			Confidence:     fallbackConfidence,
			Trend:          domain.TrendNeutral,
			Accuracy:       fallbackAccuracy,
			Timeframe:      p.timeframe,
		}
	}

	closes := technical.Closes(candles)
	q, r := p.noiseParams(candles, closes)

	filtered := runFilter(closes, q, r)

	predicted := extrapolate(filtered, lookAhead)
	confidence := seriesConfidence(closes, filtered)
	trend := slopeTrend(filtered)
	accuracy := directionAccuracy(closes, filtered)

	return domain.KalmanPrediction{
		PredictedPrice: predicted,
		Confidence:     confidence,
		Trend:          trend,
		Accuracy:       accuracy,
		Timeframe:      p.timeframe,
	}
}

// noiseParams recomputes Q from return volatility and R from the volume
// trend, unless SetParams pinned them.
func (p *Predictor) noiseParams(candles []domain.Candle, closes []float64) (q, r float64) {
	p.mu.Lock()
	if p.paramsFixed {
		q, r = p.fixedQ, p.fixedR
		p.mu.Unlock()
		return q, r
	}
	p.mu.Unlock()

	volatility := technical.ReturnsStdDev(closes)
	q = clip(volatility*0.1, 0.001, 0.1)

	volumeTrend := recentVolumeTrend(candles)
	r = clip(0.1*(1+volumeTrend), 0.01, 1.0)
	return q, r
}

// recentVolumeTrend compares the mean of the last 5 volumes against the mean
// of the whole window: positive values mean rising participation.
func recentVolumeTrend(candles []domain.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var total float64
	for _, c := range candles {
		total += c.Volume
	}
	mean := total / float64(len(candles))
	if mean == 0 {
		return 0
	}

	n := 5
	if len(candles) < n {
		n = len(candles)
	}
	var recent float64
	for _, c := range candles[len(candles)-n:] {
		recent += c.Volume
	}
	recent /= float64(n)

	return (recent - mean) / mean
}

// runFilter executes the standard local-level recursion (Φ = H = 1), seeded
// at the first measurement with unit covariance.
func runFilter(series []float64, q, r float64) []float64 {
	filtered := make([]float64, len(series))
	x := series[0]
	p := 1.0

	for i, z := range series {
		xPred := x
		pPred := p + q

		k := pPred / (pPred + r)
		x = xPred + k*(z-xPred)
		p = (1 - k) * pPred

		filtered[i] = x
	}
	return filtered
}

// extrapolate fits an OLS line to the last 5 filtered values and projects the
// slope lookAhead periods past the final estimate.
func extrapolate(filtered []float64, lookAhead int) float64 {
	n := 5
	if len(filtered) < n {
		n = len(filtered)
	}
	tail := filtered[len(filtered)-n:]
	slope := olsSlope(tail)
	return filtered[len(filtered)-1] + slope*float64(lookAhead)
}

// seriesConfidence maps the RMS error of the filter against the input,
// normalised by the input range, into [0,1].
func seriesConfidence(input, filtered []float64) float64 {
	var mse float64
	minV, maxV := input[0], input[0]
	for i := range input {
		d := filtered[i] - input[i]
		mse += d * d
		if input[i] < minV {
			minV = input[i]
		}
		if input[i] > maxV {
			maxV = input[i]
		}
	}
	mse /= float64(len(input))

	priceRange := maxV - minV
	if priceRange == 0 {
		return 1
	}
	return clip(1-math.Sqrt(mse)/priceRange, 0, 1)
}

// slopeTrend labels the direction of the last 3 filtered values.
func slopeTrend(filtered []float64) domain.Trend {
	n := 3
	if len(filtered) < n {
		n = len(filtered)
	}
	slope := olsSlope(filtered[len(filtered)-n:])
	switch {
	case slope > neutralSlope:
		return domain.TrendBullish
	case slope < -neutralSlope:
		return domain.TrendBearish
	default:
		return domain.TrendNeutral
	}
}

// directionAccuracy is the fraction of adjacent pairs whose filtered delta
// sign matches the input delta sign.
func directionAccuracy(input, filtered []float64) float64 {
	if len(input) < 2 {
		return 0
	}
	var matches int
	for i := 1; i < len(input); i++ {
		di := input[i] - input[i-1]
		df := filtered[i] - filtered[i-1]
		if (di >= 0 && df >= 0) || (di < 0 && df < 0) {
			matches++
		}
	}
	return clip(float64(matches)/float64(len(input)-1), 0, 1)
}

// olsSlope computes the ordinary-least-squares slope of values against their
// indices.
func olsSlope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
