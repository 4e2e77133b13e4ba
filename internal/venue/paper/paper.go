// Package paper wraps a live venue adapter with simulated execution. Market
// reads pass through to the real venue; writes fill instantly against the
// live ticker without touching the account.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

const startingBalance = 10_000

// Venue simulates order execution over a real market-data source.
type Venue struct {
	live   domain.Venue
	logger *slog.Logger

	mu        sync.Mutex
	balance   float64
	positions map[string]*paperPosition // keyed by symbol
}

type paperPosition struct {
	side       domain.OrderSide
	size       float64
	entryPrice float64
	leverage   int
	stopLoss   float64
	takeProfit float64
	openedAt   time.Time
}

// New wraps the live venue in a simulator.
func New(live domain.Venue, logger *slog.Logger) *Venue {
	return &Venue{
		live:      live,
		logger:    logger.With(slog.String("component", "paper_venue")),
		balance:   startingBalance,
		positions: make(map[string]*paperPosition),
	}
}

// --- reads: pass through -------------------------------------------------

func (v *Venue) MarketData(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	return v.live.MarketData(ctx, symbol)
}

func (v *Venue) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	return v.live.Candles(ctx, symbol, interval, limit)
}

func (v *Venue) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	return v.live.OrderBook(ctx, symbol, depth)
}

func (v *Venue) Instrument(ctx context.Context, symbol string) (domain.Instrument, error) {
	return v.live.Instrument(ctx, symbol)
}

func (v *Venue) Health(ctx context.Context) bool {
	return v.live.Health(ctx)
}

// --- writes: simulate ----------------------------------------------------

// SubmitOrder fills the proposal instantly at the live price.
func (v *Venue) SubmitOrder(ctx context.Context, proposal domain.Proposal) (domain.OrderResult, error) {
	snap, err := v.live.MarketData(ctx, proposal.Symbol)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("paper: submit order: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if existing, ok := v.positions[proposal.Symbol]; ok && existing.side != proposal.Side {
		return domain.OrderResult{}, fmt.Errorf("paper: submit order %s: %w: opposite position open",
			proposal.Symbol, domain.ErrInvalidOrder)
	}

	leverage := proposal.Leverage
	if leverage < 1 {
		leverage = 1
	}

	v.positions[proposal.Symbol] = &paperPosition{
		side:       proposal.Side,
		size:       proposal.Quantity,
		entryPrice: snap.Price,
		leverage:   leverage,
		stopLoss:   proposal.StopLoss,
		takeProfit: proposal.TakeProfit,
		openedAt:   time.Now(),
	}

	v.logger.InfoContext(ctx, "paper fill",
		slog.String("symbol", proposal.Symbol),
		slog.String("side", string(proposal.Side)),
		slog.Float64("qty", proposal.Quantity),
		slog.Float64("price", snap.Price),
	)

	return domain.OrderResult{OrderID: uuid.NewString(), AvgPrice: snap.Price}, nil
}

// SetLeverage records the leverage on the simulated position, if any.
func (v *Venue) SetLeverage(_ context.Context, symbol string, leverage int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if pos, ok := v.positions[symbol]; ok {
		pos.leverage = leverage
	}
	return nil
}

// Positions marks the simulated position to the live price.
func (v *Venue) Positions(ctx context.Context, symbol string) ([]domain.Position, error) {
	v.mu.Lock()
	var symbols []string
	for s := range v.positions {
		if symbol == "" || s == symbol {
			symbols = append(symbols, s)
		}
	}
	v.mu.Unlock()

	out := make([]domain.Position, 0, len(symbols))
	for _, s := range symbols {
		snap, err := v.live.MarketData(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("paper: positions: %w", err)
		}

		v.mu.Lock()
		pos, ok := v.positions[s]
		if !ok {
			v.mu.Unlock()
			continue
		}
		upnl := pnl(pos, snap.Price)
		p := domain.Position{
			Symbol:        s,
			Side:          pos.side,
			Size:          pos.size,
			EntryPrice:    pos.entryPrice,
			CurrentPrice:  snap.Price,
			UnrealizedPnL: upnl,
			Leverage:      pos.leverage,
			Timestamp:     time.Now(),
		}
		if pos.entryPrice > 0 && pos.size > 0 {
			p.PnLPct = upnl / (pos.entryPrice * pos.size) * 100
		}
		v.mu.Unlock()
		out = append(out, p)
	}
	return out, nil
}

// Balance reports the simulated wallet: the starting balance plus realised
// PnL. Unrealised PnL of open positions is not included.
func (v *Venue) Balance(_ context.Context) (domain.Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return domain.Balance{
		Total:     v.balance,
		Available: v.balance * 0.95,
	}, nil
}

// UpdateStopLoss records the new conditional prices on the simulated
// position.
func (v *Venue) UpdateStopLoss(_ context.Context, symbol string, stopLoss, takeProfit float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	pos, ok := v.positions[symbol]
	if !ok {
		return fmt.Errorf("paper: update stop loss %s: %w", symbol, domain.ErrNoPosition)
	}
	pos.stopLoss = stopLoss
	if takeProfit > 0 {
		pos.takeProfit = takeProfit
	}
	return nil
}

// Close reduces the simulated position and realises PnL into the balance.
func (v *Venue) Close(ctx context.Context, symbol string, side domain.OrderSide, pct int) (domain.OrderResult, error) {
	if pct <= 0 || pct > 100 {
		return domain.OrderResult{}, fmt.Errorf("paper: close %s: %w: pct %d", symbol, domain.ErrInvalidOrder, pct)
	}

	snap, err := v.live.MarketData(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("paper: close: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	pos, ok := v.positions[symbol]
	if !ok || pos.side != side {
		return domain.OrderResult{}, fmt.Errorf("paper: close %s %s: %w", symbol, side, domain.ErrNoPosition)
	}

	closedSize := pos.size * float64(pct) / 100
	realised := pnl(pos, snap.Price) * float64(pct) / 100
	v.balance += realised

	if pct == 100 {
		delete(v.positions, symbol)
	} else {
		pos.size -= closedSize
	}

	v.logger.InfoContext(ctx, "paper close",
		slog.String("symbol", symbol),
		slog.Int("pct", pct),
		slog.Float64("realised", realised),
	)

	return domain.OrderResult{OrderID: uuid.NewString(), AvgPrice: snap.Price}, nil
}

// OrderHistory returns nothing: simulated fills are not recorded as venue
// orders.
func (v *Venue) OrderHistory(_ context.Context, _ string, _ int) ([]domain.HistoricalOrder, error) {
	return nil, nil
}

// CheckTPSL reports whether the live price crossed the simulated SL/TP since
// the reference time.
func (v *Venue) CheckTPSL(ctx context.Context, symbol string, _ time.Time) (domain.TPSLCheck, error) {
	snap, err := v.live.MarketData(ctx, symbol)
	if err != nil {
		return domain.TPSLCheck{}, fmt.Errorf("paper: check tp/sl: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	pos, ok := v.positions[symbol]
	if !ok {
		return domain.TPSLCheck{}, nil
	}

	var check domain.TPSLCheck
	price := snap.Price
	if pos.side == domain.SideBuy {
		if pos.takeProfit > 0 && price >= pos.takeProfit {
			check.TPExecuted = true
		}
		if pos.stopLoss > 0 && price <= pos.stopLoss {
			check.SLExecuted = true
		}
	} else {
		if pos.takeProfit > 0 && price <= pos.takeProfit {
			check.TPExecuted = true
		}
		if pos.stopLoss > 0 && price >= pos.stopLoss {
			check.SLExecuted = true
		}
	}

	if check.TPExecuted || check.SLExecuted {
		check.Price = price
		check.ExecutedAt = time.Now()
		// The conditional order fired: flatten the simulated position.
		v.balance += pnl(pos, price)
		delete(v.positions, symbol)
	}
	return check, nil
}

func pnl(pos *paperPosition, price float64) float64 {
	if pos.side == domain.SideBuy {
		return (price - pos.entryPrice) * pos.size
	}
	return (pos.entryPrice - price) * pos.size
}

// Compile-time interface check.
var _ domain.Venue = (*Venue)(nil)
