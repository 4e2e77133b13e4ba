package bybit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

// venueStub serves canned v5 envelopes keyed by path.
type venueStub struct {
	t         *testing.T
	responses map[string]string
	calls     map[string]int
	onRequest func(r *http.Request)
}

func newVenueStub(t *testing.T) *venueStub {
	return &venueStub{t: t, responses: map[string]string{}, calls: map[string]int{}}
}

func (s *venueStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.calls[r.URL.Path]++
	if s.onRequest != nil {
		s.onRequest(r)
	}
	body, ok := s.responses[r.URL.Path]
	if !ok {
		body = `{"retCode":0,"retMsg":"OK","result":{}}`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func newTestClient(t *testing.T, stub *venueStub) *Client {
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:    srv.URL,
		ApiKey:     "k",
		ApiSecret:  "s",
		RecvWindow: 5000,
		Timeout:    5 * time.Second,
	}, testLogger)
}

func TestRequestsCarryAuthHeaders(t *testing.T) {
	stub := newVenueStub(t)
	stub.onRequest = func(r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("X-BAPI-API-KEY"))
		assert.NotEmpty(t, r.Header.Get("X-BAPI-TIMESTAMP"))
		assert.Equal(t, "5000", r.Header.Get("X-BAPI-RECV-WINDOW"))
		assert.NotEmpty(t, r.Header.Get("X-BAPI-SIGN"))
	}
	c := newTestClient(t, stub)

	assert.True(t, c.Health(context.Background()))
}

func TestMarketDataDecoding(t *testing.T) {
	stub := newVenueStub(t)
	stub.responses["/v5/market/tickers"] = `{"retCode":0,"retMsg":"OK","result":{"list":[{
		"symbol":"BTCUSDT","lastPrice":"50000.5","bid1Price":"49999","ask1Price":"50001",
		"volume24h":"12345","price24hPcnt":"-0.018","highPrice24h":"51000","lowPrice24h":"49200"}]}}`
	c := newTestClient(t, stub)

	snap, err := c.MarketData(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50_000.5, snap.Price)
	assert.InDelta(t, -1.8, snap.Change24hPct, 1e-9)
	assert.Equal(t, 49_999.0, snap.Bid)
}

func TestCandlesReversedToChronological(t *testing.T) {
	stub := newVenueStub(t)
	// The venue returns newest first.
	stub.responses["/v5/market/kline"] = `{"retCode":0,"retMsg":"OK","result":{"symbol":"BTCUSDT","list":[
		["1700000600000","101","102","100","101.5","10","0"],
		["1700000300000","100","101","99","100.5","12","0"]]}}`
	c := newTestClient(t, stub)

	candles, err := c.Candles(context.Background(), "BTCUSDT", "5m", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, candles[0].OpenTime.Before(candles[1].OpenTime))
	assert.Equal(t, 100.5, candles[0].Close)
	assert.Equal(t, candles[0].OpenTime.Add(5*time.Minute), candles[0].CloseTime)
}

func TestSetLeverageIdempotent(t *testing.T) {
	stub := newVenueStub(t)
	c := newTestClient(t, stub)
	ctx := context.Background()

	require.NoError(t, c.SetLeverage(ctx, "BTCUSDT", 10))

	// The venue reports "leverage not modified" on the repeat call; the
	// client treats it as success.
	stub.responses["/v5/position/set-leverage"] = `{"retCode":110043,"retMsg":"leverage not modified","result":{}}`
	require.NoError(t, c.SetLeverage(ctx, "BTCUSDT", 10))
	assert.Equal(t, 2, stub.calls["/v5/position/set-leverage"])
}

func TestVenueErrorCodeSurfaces(t *testing.T) {
	stub := newVenueStub(t)
	stub.responses["/v5/position/set-leverage"] = `{"retCode":10001,"retMsg":"params error","result":{}}`
	c := newTestClient(t, stub)

	err := c.SetLeverage(context.Background(), "BTCUSDT", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10001")
}

func TestPositionsFiltersZeroSize(t *testing.T) {
	stub := newVenueStub(t)
	stub.responses["/v5/position/list"] = `{"retCode":0,"retMsg":"OK","result":{"list":[
		{"symbol":"BTCUSDT","side":"Buy","size":"0","avgPrice":"0","markPrice":"50000","unrealisedPnl":"0","leverage":"10","updatedTime":"1700000000000"},
		{"symbol":"BTCUSDT","side":"Buy","size":"0.1","avgPrice":"50000","markPrice":"50500","unrealisedPnl":"50","leverage":"10","updatedTime":"1700000000000"}]}}`
	c := newTestClient(t, stub)

	positions, err := c.Positions(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, positions, 1)

	p := positions[0]
	assert.Equal(t, 0.1, p.Size)
	// pnl_pct = 50 / (50000*0.1) * 100 = 1.0, not leverage-adjusted.
	assert.InDelta(t, 1.0, p.PnLPct, 1e-9)
}

func TestBalanceFallsBackToNinetyFivePercent(t *testing.T) {
	stub := newVenueStub(t)
	stub.responses["/v5/account/wallet-balance"] = `{"retCode":0,"retMsg":"OK","result":{"list":[
		{"totalEquity":"10000","totalAvailableBalance":"","totalInitialMargin":"120"}]}}`
	c := newTestClient(t, stub)

	balance, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10_000.0, balance.Total)
	assert.InDelta(t, 9_500.0, balance.Available, 1e-9)
}

func TestCloseRejectsZeroQuantity(t *testing.T) {
	stub := newVenueStub(t)
	stub.responses["/v5/position/list"] = `{"retCode":0,"retMsg":"OK","result":{"list":[
		{"symbol":"BTCUSDT","side":"Buy","size":"0.002","avgPrice":"50000","markPrice":"50000","unrealisedPnl":"0","leverage":"10","updatedTime":"1700000000000"}]}}`
	stub.responses["/v5/market/instruments-info"] = `{"retCode":0,"retMsg":"OK","result":{"list":[
		{"symbol":"BTCUSDT","baseCoin":"BTC","quoteCoin":"USDT",
		"lotSizeFilter":{"minOrderQty":"0.001","qtyStep":"0.001"},"priceFilter":{"tickSize":"0.1"}}]}}`
	c := newTestClient(t, stub)
	ctx := context.Background()

	// 25% of 0.002 floors to zero on the 0.001 step grid.
	_, err := c.Close(ctx, "BTCUSDT", domain.SideBuy, 25)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = c.Close(ctx, "BTCUSDT", domain.SideBuy, 0)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestCloseSendsReduceOnlyOppositeSide(t *testing.T) {
	stub := newVenueStub(t)
	stub.responses["/v5/position/list"] = `{"retCode":0,"retMsg":"OK","result":{"list":[
		{"symbol":"BTCUSDT","side":"Buy","size":"0.1","avgPrice":"50000","markPrice":"50200","unrealisedPnl":"20","leverage":"10","updatedTime":"1700000000000"}]}}`
	stub.responses["/v5/market/instruments-info"] = `{"retCode":0,"retMsg":"OK","result":{"list":[
		{"symbol":"BTCUSDT","baseCoin":"BTC","quoteCoin":"USDT",
		"lotSizeFilter":{"minOrderQty":"0.001","qtyStep":"0.001"},"priceFilter":{"tickSize":"0.1"}}]}}`
	stub.responses["/v5/order/create"] = `{"retCode":0,"retMsg":"OK","result":{"orderId":"o-1"}}`

	var captured map[string]any
	stub.onRequest = func(r *http.Request) {
		if r.URL.Path == "/v5/order/create" {
			_ = json.NewDecoder(r.Body).Decode(&captured)
		}
	}
	c := newTestClient(t, stub)

	_, err := c.Close(context.Background(), "BTCUSDT", domain.SideBuy, 50)
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Equal(t, "Sell", captured["side"])
	assert.Equal(t, true, captured["reduceOnly"])
	assert.Equal(t, "0.05", captured["qty"])
}

func TestCheckTPSLScansHistory(t *testing.T) {
	stub := newVenueStub(t)
	stub.responses["/v5/order/history"] = `{"retCode":0,"retMsg":"OK","result":{"list":[
		{"orderId":"o-2","symbol":"BTCUSDT","side":"Sell","qty":"0.1","avgPrice":"50570",
		 "orderType":"Market","stopOrderType":"TakeProfit","orderStatus":"Filled",
		 "reduceOnly":true,"updatedTime":"1700000900000"},
		{"orderId":"o-1","symbol":"BTCUSDT","side":"Buy","qty":"0.1","avgPrice":"50000",
		 "orderType":"Market","stopOrderType":"","orderStatus":"Filled",
		 "reduceOnly":false,"updatedTime":"1700000000000"}]}}`
	c := newTestClient(t, stub)

	check, err := c.CheckTPSL(context.Background(), "BTCUSDT", time.UnixMilli(1_700_000_100_000))
	require.NoError(t, err)
	assert.True(t, check.TPExecuted)
	assert.False(t, check.SLExecuted)
	assert.Equal(t, 50_570.0, check.Price)

	// Nothing after a later reference point.
	check, err = c.CheckTPSL(context.Background(), "BTCUSDT", time.UnixMilli(1_700_001_000_000))
	require.NoError(t, err)
	assert.False(t, check.TPExecuted)
}
