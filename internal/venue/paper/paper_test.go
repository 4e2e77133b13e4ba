package paper

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

// tickerVenue is a minimal live venue serving only market data at a settable
// price.
type tickerVenue struct {
	price float64
}

func (f *tickerVenue) MarketData(context.Context, string) (domain.MarketSnapshot, error) {
	return domain.MarketSnapshot{Symbol: "BTCUSDT", Price: f.price, Timestamp: time.Now()}, nil
}
func (f *tickerVenue) Candles(context.Context, string, string, int) ([]domain.Candle, error) {
	return nil, nil
}
func (f *tickerVenue) OrderBook(context.Context, string, int) (domain.OrderBook, error) {
	return domain.OrderBook{}, nil
}
func (f *tickerVenue) SubmitOrder(context.Context, domain.Proposal) (domain.OrderResult, error) {
	return domain.OrderResult{}, nil
}
func (f *tickerVenue) SetLeverage(context.Context, string, int) error { return nil }
func (f *tickerVenue) Positions(context.Context, string) ([]domain.Position, error) {
	return nil, nil
}
func (f *tickerVenue) Balance(context.Context) (domain.Balance, error) {
	return domain.Balance{}, nil
}
func (f *tickerVenue) UpdateStopLoss(context.Context, string, float64, float64) error { return nil }
func (f *tickerVenue) Close(context.Context, string, domain.OrderSide, int) (domain.OrderResult, error) {
	return domain.OrderResult{}, nil
}
func (f *tickerVenue) OrderHistory(context.Context, string, int) ([]domain.HistoricalOrder, error) {
	return nil, nil
}
func (f *tickerVenue) CheckTPSL(context.Context, string, time.Time) (domain.TPSLCheck, error) {
	return domain.TPSLCheck{}, nil
}
func (f *tickerVenue) Instrument(context.Context, string) (domain.Instrument, error) {
	return domain.Instrument{Symbol: "BTCUSDT", StepSize: 0.001, MinQty: 0.001}, nil
}
func (f *tickerVenue) Health(context.Context) bool { return true }

var _ domain.Venue = (*tickerVenue)(nil)

func TestSubmitAndMarkPosition(t *testing.T) {
	live := &tickerVenue{price: 50_000}
	v := New(live, testLogger)
	ctx := context.Background()

	_, err := v.SubmitOrder(ctx, domain.Proposal{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Quantity: 0.1, Leverage: 10,
	})
	require.NoError(t, err)

	live.price = 50_500
	positions, err := v.Positions(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, positions, 1)

	p := positions[0]
	assert.Equal(t, domain.SideBuy, p.Side)
	assert.Equal(t, 50_000.0, p.EntryPrice)
	assert.InDelta(t, 50.0, p.UnrealizedPnL, 1e-9) // (50500-50000)*0.1
	assert.InDelta(t, 1.0, p.PnLPct, 1e-9)
}

func TestOppositeSideOrderRejected(t *testing.T) {
	v := New(&tickerVenue{price: 50_000}, testLogger)
	ctx := context.Background()

	_, err := v.SubmitOrder(ctx, domain.Proposal{Symbol: "BTCUSDT", Side: domain.SideBuy, Quantity: 0.1})
	require.NoError(t, err)

	_, err = v.SubmitOrder(ctx, domain.Proposal{Symbol: "BTCUSDT", Side: domain.SideSell, Quantity: 0.1})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestCloseRealisesPnL(t *testing.T) {
	live := &tickerVenue{price: 50_000}
	v := New(live, testLogger)
	ctx := context.Background()

	_, err := v.SubmitOrder(ctx, domain.Proposal{Symbol: "BTCUSDT", Side: domain.SideBuy, Quantity: 0.1})
	require.NoError(t, err)

	live.price = 51_000
	_, err = v.Close(ctx, "BTCUSDT", domain.SideBuy, 100)
	require.NoError(t, err)

	balance, err := v.Balance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10_100, balance.Total, 1e-9)

	positions, err := v.Positions(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestCloseRejectsBadPercentAndDoubleClose(t *testing.T) {
	live := &tickerVenue{price: 50_000}
	v := New(live, testLogger)
	ctx := context.Background()

	_, err := v.SubmitOrder(ctx, domain.Proposal{Symbol: "BTCUSDT", Side: domain.SideBuy, Quantity: 0.1})
	require.NoError(t, err)

	_, err = v.Close(ctx, "BTCUSDT", domain.SideBuy, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = v.Close(ctx, "BTCUSDT", domain.SideBuy, 100)
	require.NoError(t, err)

	// A second full close has nothing to act on.
	_, err = v.Close(ctx, "BTCUSDT", domain.SideBuy, 100)
	assert.ErrorIs(t, err, domain.ErrNoPosition)
}

func TestPartialCloseKeepsRemainder(t *testing.T) {
	live := &tickerVenue{price: 50_000}
	v := New(live, testLogger)
	ctx := context.Background()

	_, err := v.SubmitOrder(ctx, domain.Proposal{Symbol: "BTCUSDT", Side: domain.SideBuy, Quantity: 0.2})
	require.NoError(t, err)

	_, err = v.Close(ctx, "BTCUSDT", domain.SideBuy, 25)
	require.NoError(t, err)

	positions, err := v.Positions(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 0.15, positions[0].Size, 1e-9)
}

func TestCheckTPSLFlattensOnCross(t *testing.T) {
	live := &tickerVenue{price: 50_000}
	v := New(live, testLogger)
	ctx := context.Background()

	_, err := v.SubmitOrder(ctx, domain.Proposal{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Quantity: 0.1,
		StopLoss: 49_700, TakeProfit: 50_570,
	})
	require.NoError(t, err)

	// Below TP: nothing fires.
	check, err := v.CheckTPSL(ctx, "BTCUSDT", time.Time{})
	require.NoError(t, err)
	assert.False(t, check.TPExecuted)

	live.price = 50_600
	check, err = v.CheckTPSL(ctx, "BTCUSDT", time.Time{})
	require.NoError(t, err)
	assert.True(t, check.TPExecuted)

	positions, err := v.Positions(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, positions)
}
