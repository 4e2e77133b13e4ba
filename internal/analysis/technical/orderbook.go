package technical

import (
	"github.com/n3-n2-n1/kalmann/internal/domain"
)

const (
	// wallFactor marks a level as a wall when its quantity exceeds this
	// multiple of its side's average level quantity.
	wallFactor = 3.0

	pressureBullishAbove = 1.5
	pressureBearishBelow = 0.67
)

// AnalyzeOrderBook derives spread, imbalance, liquidity walls, and a pressure
// label from a depth snapshot. An empty book returns a neutral record.
func AnalyzeOrderBook(book domain.OrderBook) domain.OrderBookAnalysis {
	out := domain.OrderBookAnalysis{Pressure: domain.PressureNeutral, Imbalance: 1}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return out
	}

	bestBid := book.Bids[0].Price
	bestAsk := book.Asks[0].Price
	out.Spread = bestAsk - bestBid
	mid := (bestAsk + bestBid) / 2
	if mid > 0 {
		out.SpreadPct = out.Spread / mid * 100
	}

	var bidQty, askQty float64
	for _, l := range book.Bids {
		bidQty += l.Quantity
	}
	for _, l := range book.Asks {
		askQty += l.Quantity
	}

	if askQty > 0 {
		out.Imbalance = bidQty / askQty
	}

	bidAvg := bidQty / float64(len(book.Bids))
	askAvg := askQty / float64(len(book.Asks))
	for _, l := range book.Bids {
		if l.Quantity > wallFactor*bidAvg {
			out.BidWalls = append(out.BidWalls, l)
		}
	}
	for _, l := range book.Asks {
		if l.Quantity > wallFactor*askAvg {
			out.AskWalls = append(out.AskWalls, l)
		}
	}

	switch {
	case out.Imbalance > pressureBullishAbove:
		out.Pressure = domain.PressureBullish
	case out.Imbalance < pressureBearishBelow:
		out.Pressure = domain.PressureBearish
	}

	return out
}
