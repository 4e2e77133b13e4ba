package domain

// MACD holds the MACD line, its signal line, and the histogram (line - signal).
type MACD struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// Bollinger holds the three Bollinger band values.
type Bollinger struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// EMALadder holds the short/medium/long exponential moving averages.
type EMALadder struct {
	E9  float64
	E21 float64
	E50 float64
}

// VolumeProfile compares the latest volume against the window average.
type VolumeProfile struct {
	Average float64
	Current float64
	Ratio   float64
}

// TechnicalIndicators is the fixed-shape indicator record computed each tick.
// Short or degenerate input yields neutral sentinel values, never an error.
type TechnicalIndicators struct {
	RSI       float64
	MACD      MACD
	Bollinger Bollinger
	EMA       EMALadder
	Volume    VolumeProfile
}

// SupportResistance holds the local-extremum scan result. Strength is the
// extremum count scaled into [0,1].
type SupportResistance struct {
	Support    float64
	Resistance float64
	Strength   float64
}

// CandlePattern is the short-window pattern summary used by the tools surface.
type CandlePattern struct {
	ThreeGreenSoldiers bool
	ThreeRedSoldiers   bool
	MomentumWeakening  bool
	VolumeSpike        bool
	Doji               bool
}

// BookPressure labels the bid/ask imbalance of an order book snapshot.
type BookPressure string

const (
	PressureBullish BookPressure = "BULLISH"
	PressureBearish BookPressure = "BEARISH"
	PressureNeutral BookPressure = "NEUTRAL"
)

// OrderBookAnalysis summarises spread, imbalance, and liquidity walls.
type OrderBookAnalysis struct {
	Spread    float64
	SpreadPct float64
	Imbalance float64
	BidWalls  []OrderBookLevel
	AskWalls  []OrderBookLevel
	Pressure  BookPressure
}

// Trend is a directional label shared by the Kalman predictor, the reasoning
// verdicts, and the timeframe comparison.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// TimeframeComparison contrasts a macro (coarse-candle) trend against a micro
// (fine-candle) trend. Divergence is set when their signs disagree.
type TimeframeComparison struct {
	MacroTrend Trend
	MicroTrend Trend
	Divergence bool
	Suggestion string
}
