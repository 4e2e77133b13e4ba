package domain

import (
	"context"
	"time"
)

// Venue is the typed interface over the exchange REST API. Implementations
// are pure transport: they never make trading decisions.
type Venue interface {
	// MarketData returns the latest ticker with bid/ask and 24h statistics.
	MarketData(ctx context.Context, symbol string) (MarketSnapshot, error)

	// Candles returns up to limit candles, oldest first.
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// OrderBook returns a depth snapshot: bids descending, asks ascending.
	OrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)

	// SubmitOrder places a market IOC order described by the proposal.
	SubmitOrder(ctx context.Context, proposal Proposal) (OrderResult, error)

	// SetLeverage sets position leverage. Idempotent: "not modified" venue
	// responses are not errors.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// Positions returns open positions (size > 0) for the symbol, or all
	// symbols when symbol is empty.
	Positions(ctx context.Context, symbol string) ([]Position, error)

	// Balance returns the account wallet state.
	Balance(ctx context.Context) (Balance, error)

	// UpdateStopLoss modifies the conditional orders attached to the live
	// position. takeProfit <= 0 leaves the take-profit untouched.
	UpdateStopLoss(ctx context.Context, symbol string, stopLoss, takeProfit float64) error

	// Close reduces the position by pct percent with a reduce-only market
	// order. The rounded quantity must be positive.
	Close(ctx context.Context, symbol string, side OrderSide, pct int) (OrderResult, error)

	// OrderHistory returns filled orders, newest first.
	OrderHistory(ctx context.Context, symbol string, limit int) ([]HistoricalOrder, error)

	// CheckTPSL scans recent order history and reports whether a TP-typed or
	// SL-typed order filled after since.
	CheckTPSL(ctx context.Context, symbol string, since time.Time) (TPSLCheck, error)

	// Instrument returns contract metadata for the symbol.
	Instrument(ctx context.Context, symbol string) (Instrument, error)

	// Health probes the venue.
	Health(ctx context.Context) bool
}
