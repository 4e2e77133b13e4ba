package domain

import "time"

// ExitType labels how a position was closed.
type ExitType string

const (
	ExitTakeProfit  ExitType = "TP"
	ExitStopLoss    ExitType = "SL"
	ExitLiquidation ExitType = "LIQUIDATION"
	ExitManual      ExitType = "MANUAL"
)

// TradeResult is the terminal outcome recorded for a trade.
type TradeResult string

const (
	ResultPending     TradeResult = "PENDING"
	ResultWin         TradeResult = "WIN"
	ResultLoss        TradeResult = "LOSS"
	ResultLiquidation TradeResult = "LIQUIDATION"
)

// TradeEntry captures the market state at open time.
type TradeEntry struct {
	Price       float64
	RSI         float64
	MACDHist    float64
	KalmanTrend Trend
	Leverage    int
	Quantity    float64
}

// TradeExit captures the close of a trade.
type TradeExit struct {
	Type        ExitType
	Price       float64
	PnL         float64
	PnLPct      float64
	DurationMin float64
	Time        time.Time
}

// TradeRecord is the persisted envelope for one trade. Exit is nil while the
// trade is open; Result transitions from PENDING to a terminal value exactly
// once.
type TradeRecord struct {
	ID         string
	Symbol     string
	OpenTime   time.Time
	Side       OrderSide
	Confidence float64
	Entry      TradeEntry
	Exit       *TradeExit
	Result     TradeResult
}

// TradeAggregate is a rolled-up counter set, kept per-day and globally.
type TradeAggregate struct {
	Trades       int
	Wins         int
	Losses       int
	Liquidations int
	PnL          float64
	PnLFromWins  float64
	PnLFromLoss  float64
}

// WinRate returns wins/trades in [0,1], or 0 when no trades are recorded.
func (a TradeAggregate) WinRate() float64 {
	if a.Trades == 0 {
		return 0
	}
	return float64(a.Wins) / float64(a.Trades)
}

// HistoryContext is the enrichment block handed to the reasoning client. All
// fields are best-effort; a zero value is valid when the store is unreachable.
type HistoryContext struct {
	Recent   []TradeRecord
	Daily    TradeAggregate
	Global   TradeAggregate
	Patterns []string
}
