package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3-n2-n1/kalmann/internal/domain"
	"github.com/n3-n2-n1/kalmann/internal/history"
	"github.com/n3-n2-n1/kalmann/internal/metrics"
	"github.com/n3-n2-n1/kalmann/internal/reasoning"
	"github.com/n3-n2-n1/kalmann/internal/risk"
)

var testLogger = slog.New(slog.DiscardHandler)

// fakeVenue records write calls and serves canned market state.
type fakeVenue struct {
	balance    domain.Balance
	instrument domain.Instrument
	price      float64
	positions  []domain.Position
	tpslCheck  domain.TPSLCheck
	tpslErr    error

	submitted   []domain.Proposal
	closes      []int
	slUpdates   []float64
	leverageSet []int
}

func (f *fakeVenue) MarketData(context.Context, string) (domain.MarketSnapshot, error) {
	return domain.MarketSnapshot{Symbol: "BTCUSDT", Price: f.price, Timestamp: time.Now()}, nil
}

func (f *fakeVenue) Candles(context.Context, string, string, int) ([]domain.Candle, error) {
	return nil, nil
}

func (f *fakeVenue) OrderBook(context.Context, string, int) (domain.OrderBook, error) {
	return domain.OrderBook{}, nil
}

func (f *fakeVenue) SubmitOrder(_ context.Context, p domain.Proposal) (domain.OrderResult, error) {
	f.submitted = append(f.submitted, p)
	return domain.OrderResult{OrderID: "ord-1", AvgPrice: f.price}, nil
}

func (f *fakeVenue) SetLeverage(_ context.Context, _ string, leverage int) error {
	f.leverageSet = append(f.leverageSet, leverage)
	return nil
}

func (f *fakeVenue) Positions(context.Context, string) ([]domain.Position, error) {
	return f.positions, nil
}

func (f *fakeVenue) Balance(context.Context) (domain.Balance, error) {
	return f.balance, nil
}

func (f *fakeVenue) UpdateStopLoss(_ context.Context, _ string, stopLoss, _ float64) error {
	f.slUpdates = append(f.slUpdates, stopLoss)
	return nil
}

func (f *fakeVenue) Close(_ context.Context, _ string, _ domain.OrderSide, pct int) (domain.OrderResult, error) {
	f.closes = append(f.closes, pct)
	return domain.OrderResult{OrderID: "close-1", AvgPrice: f.price}, nil
}

func (f *fakeVenue) OrderHistory(context.Context, string, int) ([]domain.HistoricalOrder, error) {
	return nil, nil
}

func (f *fakeVenue) CheckTPSL(context.Context, string, time.Time) (domain.TPSLCheck, error) {
	return f.tpslCheck, f.tpslErr
}

func (f *fakeVenue) Instrument(context.Context, string) (domain.Instrument, error) {
	return f.instrument, nil
}

func (f *fakeVenue) Health(context.Context) bool { return true }

var _ domain.Venue = (*fakeVenue)(nil)

// fakeReasoner serves canned verdicts.
type fakeReasoner struct {
	entry    domain.EntryVerdict
	position domain.PositionVerdict
}

func (f *fakeReasoner) AnalyzeEntry(context.Context, reasoning.EntryInput) domain.EntryVerdict {
	return f.entry
}

func (f *fakeReasoner) AnalyzePosition(context.Context, reasoning.PositionInput) domain.PositionVerdict {
	return f.position
}

func (f *fakeReasoner) Health(context.Context) bool { return true }

// fakePredictor returns a fixed prediction.
type fakePredictor struct {
	pred domain.KalmanPrediction
}

func (f *fakePredictor) Predict([]domain.Candle, int) domain.KalmanPrediction { return f.pred }

// harness bundles the engine with its fakes.
type harness struct {
	engine   *Engine
	venue    *fakeVenue
	reasoner *fakeReasoner
	history  *history.MemoryStore
	gate     *risk.Gate
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	venue := &fakeVenue{
		balance:    domain.Balance{Total: 10_000, Available: 10_000},
		instrument: domain.Instrument{Symbol: "BTCUSDT", MinQty: 0.001, StepSize: 0.001, TickSize: 0.1},
		price:      50_000,
	}
	reasoner := &fakeReasoner{
		entry:    domain.EntryVerdict{Decision: domain.DecisionHold, Confidence: 0.5},
		position: domain.PositionVerdict{Action: domain.ActionHold, Confidence: 0.5},
	}
	store := history.NewMemoryStore()
	gate := risk.NewGate(risk.Config{
		MaxLeverage:     50,
		MaxPositionSize: 10_000,
		StopLossPct:     0.6,
		MaxDailyTrades:  20,
	}, testLogger)

	eng := New(
		Config{
			Symbol:      "BTCUSDT",
			Interval:    "5m",
			Period:      5 * time.Minute,
			AutoTrade:   true,
			LeverageCap: 20,
			StopLossPct: 0.6,
		},
		venue, nil, &fakePredictor{}, reasoner, store, gate,
		metrics.NewCollector(), nil, nil, testLogger,
	)

	return &harness{engine: eng, venue: venue, reasoner: reasoner, history: store, gate: gate}
}

// buyAnalysis is the seed scenario: BUY 0.8 confidence, suggested leverage
// 15, Kalman confidence 0.82.
func buyAnalysis() tickAnalysis {
	return tickAnalysis{
		Snapshot: domain.MarketSnapshot{Symbol: "BTCUSDT", Price: 50_000},
		Indicators: domain.TechnicalIndicators{
			RSI:    50,
			Volume: domain.VolumeProfile{Ratio: 1},
		},
		Kalman: domain.KalmanPrediction{
			PredictedPrice: 50_400, Confidence: 0.82, Trend: domain.TrendBullish,
		},
		Verdict: domain.EntryVerdict{
			Decision:          domain.DecisionBuy,
			Confidence:        0.8,
			SuggestedLeverage: 15,
			RiskLevel:         domain.RiskMedium,
		},
	}
}

func TestComputeLeverageSeedScenario(t *testing.T) {
	h := newHarness(t)
	// 5 base + 15 suggested (conf >= 0.8) + 5 kalman (conf > 0.8) = 25,
	// clipped to the 20x scalping cap.
	assert.Equal(t, 20, h.engine.computeLeverage(buyAnalysis()))
}

func TestComputeLeverageLowConfidence(t *testing.T) {
	h := newHarness(t)
	a := buyAnalysis()
	a.Verdict.Confidence = 0.5
	a.Kalman.Confidence = 0.5
	assert.Equal(t, baseLeverage, h.engine.computeLeverage(a))
}

func TestComputeQuantitySeedScenario(t *testing.T) {
	inst := domain.Instrument{MinQty: 0.001, StepSize: 0.001}
	// risk_pct = min(10, 20/3) = 6.67; capital = 666.7; notional = 13,334;
	// qty = floor(13334/50000/0.001)*0.001 = 0.266.
	qty := computeQuantity(10_000, 50_000, 20, inst)
	assert.InDelta(t, 0.266, qty, 1e-9)
}

func TestComputeQuantityRaisedToMinimum(t *testing.T) {
	inst := domain.Instrument{MinQty: 0.01, StepSize: 0.001}
	qty := computeQuantity(10, 50_000, 1, inst)
	assert.Equal(t, 0.01, qty)
}

func TestExitLevelsSeedScenario(t *testing.T) {
	sl, tp := exitLevels(50_000, domain.SideBuy, 0.8, 0.6)
	assert.InDelta(t, 49_700, sl, 1e-9)
	assert.InDelta(t, 50_570, tp, 1e-6)

	sl, tp = exitLevels(50_000, domain.SideSell, 0.8, 0.6)
	assert.InDelta(t, 50_300, sl, 1e-9)
	assert.InDelta(t, 49_430, tp, 1e-6)
}

func TestOpenPositionSubmitsGateAdjustedProposal(t *testing.T) {
	h := newHarness(t)

	h.engine.openPosition(context.Background(), buyAnalysis())

	require.Len(t, h.venue.submitted, 1)
	p := h.venue.submitted[0]

	// The raw sizing (0.266 @ 50k = 13,300 notional) exceeds 30% of the
	// balance; the gate shrinks it to 3,000 notional.
	assert.InDelta(t, 0.06, p.Quantity, 1e-9)
	assert.Equal(t, 20, p.Leverage)
	assert.Equal(t, domain.SideBuy, p.Side)
	assert.InDelta(t, 49_700, p.StopLoss, 1e-9)
	assert.InDelta(t, 50_570, p.TakeProfit, 1e-6)

	require.Len(t, h.venue.leverageSet, 1)
	assert.Equal(t, 20, h.venue.leverageSet[0])

	// Tracking and bookkeeping followed the open.
	require.Len(t, h.engine.tracking, 1)
	tr := h.engine.tracking[trackingKey("BTCUSDT", domain.SideBuy)]
	require.NotNil(t, tr)
	assert.Equal(t, 50_000.0, tr.EntryPrice)
	assert.NotEmpty(t, tr.TradeID)
	assert.Equal(t, 1, h.gate.DailyTrades())
}

func TestOpenPositionHoldDoesNothing(t *testing.T) {
	h := newHarness(t)
	a := buyAnalysis()
	a.Verdict.Decision = domain.DecisionHold

	h.engine.openPosition(context.Background(), a)
	assert.Empty(t, h.venue.submitted)
	assert.Empty(t, h.engine.tracking)
	assert.Zero(t, h.gate.DailyTrades())
}

// openPosition for a position the tests manage afterwards.
func openTestPosition(t *testing.T, h *harness) *tracking {
	t.Helper()
	h.engine.openPosition(context.Background(), buyAnalysis())
	tr := h.engine.tracking[trackingKey("BTCUSDT", domain.SideBuy)]
	require.NotNil(t, tr)
	return tr
}

func position(pnlPct, price float64) domain.Position {
	return domain.Position{
		Symbol:       "BTCUSDT",
		Side:         domain.SideBuy,
		Size:         0.06,
		EntryPrice:   50_000,
		CurrentPrice: price,
		PnLPct:       pnlPct,
		Leverage:     20,
		Timestamp:    time.Now(),
	}
}

func TestProfitLadderFirstRungFiresOnce(t *testing.T) {
	h := newHarness(t)
	tr := openTestPosition(t, h)

	pos := position(0.30, 50_150)
	h.engine.managePosition(context.Background(), pos, buyAnalysis())

	require.Equal(t, []int{25}, h.venue.closes)
	assert.True(t, tr.ProfitLadderFired[30])

	// Same PnL on the next tick: the rung must not re-fire.
	h.engine.managePosition(context.Background(), pos, buyAnalysis())
	assert.Equal(t, []int{25}, h.venue.closes)
}

func TestProfitLadderTopRungFlattens(t *testing.T) {
	h := newHarness(t)
	openTestPosition(t, h)

	pos := position(1.1, 50_550)
	// Keep the trailing stop quiet by pre-arming it past the current price.
	h.engine.tracking[trackingKey("BTCUSDT", domain.SideBuy)].lastStopLoss = 50_600

	h.engine.managePosition(context.Background(), pos, buyAnalysis())

	require.Equal(t, []int{100}, h.venue.closes)
	// Full close settles the trade and drops tracking.
	assert.Empty(t, h.engine.tracking)
}

func TestTrailingStopRatchetsOnce(t *testing.T) {
	h := newHarness(t)
	tr := openTestPosition(t, h)
	// Isolate the trailing logic from the profit ladder.
	tr.ProfitLadderFired[30] = true
	tr.ProfitLadderFired[60] = true
	tr.ProfitLadderFired[100] = true

	pos := position(1.2, 50_600)
	h.engine.managePosition(context.Background(), pos, buyAnalysis())

	require.Len(t, h.venue.slUpdates, 1)
	assert.InDelta(t, 50_600*(1-0.003), h.venue.slUpdates[0], 1e-6)
	assert.True(t, tr.TrailingActive)
	assert.Equal(t, 50_600.0, tr.MaxPriceSeen)

	// No new high: the stop must not move again.
	h.engine.managePosition(context.Background(), pos, buyAnalysis())
	assert.Len(t, h.venue.slUpdates, 1)

	// A new high ratchets it upward.
	pos2 := position(1.6, 50_800)
	h.engine.managePosition(context.Background(), pos2, buyAnalysis())
	require.Len(t, h.venue.slUpdates, 2)
	assert.Greater(t, h.venue.slUpdates[1], h.venue.slUpdates[0])
}

func TestTrailingStopNotArmedBelowThreshold(t *testing.T) {
	h := newHarness(t)
	tr := openTestPosition(t, h)
	tr.ProfitLadderFired[30] = true

	pos := position(0.4, 50_200)
	h.engine.managePosition(context.Background(), pos, buyAnalysis())

	assert.False(t, tr.TrailingActive)
	assert.Empty(t, h.venue.slUpdates)
}

func TestTPDetectionSettlesTrade(t *testing.T) {
	h := newHarness(t)
	tr := openTestPosition(t, h)
	tradeID := tr.TradeID

	h.venue.tpslCheck = domain.TPSLCheck{
		TPExecuted: true,
		Price:      50_570,
		ExecutedAt: time.Now(),
	}

	h.engine.managePosition(context.Background(), position(1.1, 50_570), buyAnalysis())

	assert.Empty(t, h.engine.tracking)
	assert.Empty(t, h.venue.closes, "conditional order already closed the position")

	hctx, err := h.history.Context(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, hctx.Recent, 1)
	assert.Equal(t, tradeID, hctx.Recent[0].ID)
	assert.Equal(t, domain.ResultWin, hctx.Recent[0].Result)
	assert.Equal(t, domain.ExitTakeProfit, hctx.Recent[0].Exit.Type)
}

func TestStalenessExit(t *testing.T) {
	h := newHarness(t)
	tr := openTestPosition(t, h)
	tr.EntryTime = time.Now().Add(-3 * time.Hour)

	h.engine.managePosition(context.Background(), position(0.1, 50_050), buyAnalysis())

	require.Equal(t, []int{100}, h.venue.closes)
	assert.Empty(t, h.engine.tracking)
}

func TestAIReversalExit(t *testing.T) {
	h := newHarness(t)
	openTestPosition(t, h)

	a := buyAnalysis()
	a.Verdict.Decision = domain.DecisionSell
	a.Verdict.Confidence = 0.9

	h.engine.managePosition(context.Background(), position(0.1, 50_050), a)

	require.Equal(t, []int{100}, h.venue.closes)
	// The reversal closed the long; it never opened a short.
	assert.Len(t, h.venue.submitted, 1, "only the original open")
}

func TestNoHedgeOnLowConfidenceOpposite(t *testing.T) {
	h := newHarness(t)
	openTestPosition(t, h)

	a := buyAnalysis()
	a.Verdict.Decision = domain.DecisionSell
	a.Verdict.Confidence = 0.5

	h.engine.managePosition(context.Background(), position(0.1, 50_050), a)

	assert.Empty(t, h.venue.closes)
	assert.Len(t, h.venue.submitted, 1, "no hedge order was placed")
	assert.Len(t, h.engine.tracking, 1)
}

func TestPositionVerdictPartialClose(t *testing.T) {
	h := newHarness(t)
	openTestPosition(t, h)
	h.reasoner.position = domain.PositionVerdict{Action: domain.ActionClose50, Confidence: 0.8}

	h.engine.managePosition(context.Background(), position(0.1, 50_050), buyAnalysis())

	require.Equal(t, []int{50}, h.venue.closes)
	// Partial close keeps the tracking record alive.
	assert.Len(t, h.engine.tracking, 1)
}

func TestVolumeSpikeExit(t *testing.T) {
	h := newHarness(t)
	openTestPosition(t, h)

	a := buyAnalysis()
	a.Indicators.Volume.Ratio = 6

	h.engine.managePosition(context.Background(), position(0.1, 50_050), a)
	require.Equal(t, []int{50}, h.venue.closes)
}

func TestTechnicalReversalExit(t *testing.T) {
	h := newHarness(t)
	openTestPosition(t, h)

	a := buyAnalysis()
	a.Indicators.RSI = 75
	a.Indicators.MACD.Histogram = -2

	h.engine.managePosition(context.Background(), position(0.2, 50_100), a)
	require.Equal(t, []int{50}, h.venue.closes)
}

func TestManagePositionAdoptsUntracked(t *testing.T) {
	h := newHarness(t)

	h.engine.managePosition(context.Background(), position(0.1, 50_050), buyAnalysis())

	require.Len(t, h.engine.tracking, 1)
	tr := h.engine.tracking[trackingKey("BTCUSDT", domain.SideBuy)]
	assert.Equal(t, 50_000.0, tr.EntryPrice)
}
