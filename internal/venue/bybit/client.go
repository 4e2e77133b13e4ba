// Package bybit is the REST adapter for the perpetual-futures venue. It is
// pure transport: request signing, wire decoding, and quantity/price
// normalisation live here, trading decisions do not.
package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

const category = "linear"

// Client is the signed REST client for the venue's v5 API.
type Client struct {
	baseURL    string
	auth       Auth
	httpClient *http.Client
	logger     *slog.Logger
}

// Config holds the client construction parameters.
type Config struct {
	BaseURL    string
	ApiKey     string
	ApiSecret  string
	RecvWindow int
	Timeout    time.Duration
}

// NewClient creates a new venue REST client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	recv := cfg.RecvWindow
	if recv <= 0 {
		recv = 5000
	}
	return &Client{
		baseURL: cfg.BaseURL,
		auth: Auth{
			Key:        cfg.ApiKey,
			Secret:     cfg.ApiSecret,
			RecvWindow: recv,
		},
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "venue")),
	}
}

// MarketData returns the latest ticker for the symbol.
func (c *Client) MarketData(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)

	var res tickerResult
	if err := c.get(ctx, "/v5/market/tickers", params, &res); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("bybit: market data %s: %w", symbol, err)
	}
	if len(res.List) == 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("bybit: market data %s: %w", symbol, domain.ErrNotFound)
	}

	t := res.List[0]
	return domain.MarketSnapshot{
		Symbol:       t.Symbol,
		Price:        parseFloat(t.LastPrice),
		Bid:          parseFloat(t.Bid1Price),
		Ask:          parseFloat(t.Ask1Price),
		Volume24h:    parseFloat(t.Volume24h),
		Change24hPct: parseFloat(t.Price24hPcnt) * 100,
		High24h:      parseFloat(t.HighPrice24h),
		Low24h:       parseFloat(t.LowPrice24h),
		Timestamp:    time.Now(),
	}, nil
}

// Candles returns up to limit candles, oldest first. The venue responds
// newest first, so the list is reversed before conversion.
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)
	params.Set("interval", intervalCode(interval))
	params.Set("limit", strconv.Itoa(limit))

	var res klineResult
	if err := c.get(ctx, "/v5/market/kline", params, &res); err != nil {
		return nil, fmt.Errorf("bybit: candles %s %s: %w", symbol, interval, err)
	}

	span := intervalSpan(interval)
	out := make([]domain.Candle, 0, len(res.List))
	for i := len(res.List) - 1; i >= 0; i-- {
		row := res.List[i]
		if len(row) < 6 {
			continue
		}
		openMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		openTime := time.UnixMilli(openMs)
		out = append(out, domain.Candle{
			OpenTime:  openTime,
			CloseTime: openTime.Add(span),
			Open:      parseFloat(row[1]),
			High:      parseFloat(row[2]),
			Low:       parseFloat(row[3]),
			Close:     parseFloat(row[4]),
			Volume:    parseFloat(row[5]),
		})
	}
	return out, nil
}

// OrderBook returns a depth snapshot: bids descending, asks ascending.
func (c *Client) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(depth))

	var res orderbookResult
	if err := c.get(ctx, "/v5/market/orderbook", params, &res); err != nil {
		return domain.OrderBook{}, fmt.Errorf("bybit: order book %s: %w", symbol, err)
	}

	book := domain.OrderBook{
		Symbol:    symbol,
		Timestamp: time.UnixMilli(res.Ts),
	}
	for _, lvl := range res.Bids {
		if len(lvl) >= 2 {
			book.Bids = append(book.Bids, domain.OrderBookLevel{
				Price:    parseFloat(lvl[0]),
				Quantity: parseFloat(lvl[1]),
			})
		}
	}
	for _, lvl := range res.Asks {
		if len(lvl) >= 2 {
			book.Asks = append(book.Asks, domain.OrderBookLevel{
				Price:    parseFloat(lvl[0]),
				Quantity: parseFloat(lvl[1]),
			})
		}
	}
	return book, nil
}

// SubmitOrder places a market IOC order. Quantity and conditional prices are
// normalised to the instrument's step and tick sizes before encoding.
func (c *Client) SubmitOrder(ctx context.Context, proposal domain.Proposal) (domain.OrderResult, error) {
	inst, err := c.Instrument(ctx, proposal.Symbol)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("bybit: submit order: %w", err)
	}

	qty := FlooredQty(proposal.Quantity, inst.StepSize)
	if qty <= 0 {
		return domain.OrderResult{}, fmt.Errorf("bybit: submit order %s: %w: quantity %g floors to zero",
			proposal.Symbol, domain.ErrInvalidOrder, proposal.Quantity)
	}

	body := map[string]any{
		"category":    category,
		"symbol":      proposal.Symbol,
		"side":        string(proposal.Side),
		"orderType":   "Market",
		"qty":         NormalizeQty(qty, inst.StepSize),
		"timeInForce": "IOC",
	}
	if proposal.StopLoss > 0 {
		body["stopLoss"] = NormalizePrice(proposal.StopLoss, inst.TickSize)
	}
	if proposal.TakeProfit > 0 {
		body["takeProfit"] = NormalizePrice(proposal.TakeProfit, inst.TickSize)
	}

	var res orderCreateResult
	if err := c.post(ctx, "/v5/order/create", body, &res); err != nil {
		return domain.OrderResult{}, fmt.Errorf("bybit: submit order %s: %w", proposal.Symbol, err)
	}

	// The create response carries no fill price; read it back from the
	// ticker so callers get a usable average.
	avgPrice := 0.0
	if snap, mdErr := c.MarketData(ctx, proposal.Symbol); mdErr == nil {
		avgPrice = snap.Price
	}

	return domain.OrderResult{OrderID: res.OrderID, AvgPrice: avgPrice}, nil
}

// SetLeverage sets both buy and sell leverage. The venue's "leverage not
// modified" response is demoted to a no-op, making the call idempotent.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	body := map[string]any{
		"category":     category,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}

	err := c.post(ctx, "/v5/position/set-leverage", body, nil)
	if err != nil {
		var benign *benignError
		if errors.As(err, &benign) {
			c.logger.DebugContext(ctx, "leverage unchanged",
				slog.String("symbol", symbol),
				slog.Int("leverage", leverage),
			)
			return nil
		}
		return fmt.Errorf("bybit: set leverage %s x%d: %w", symbol, leverage, err)
	}
	return nil
}

// Positions returns open positions with size > 0.
func (c *Client) Positions(ctx context.Context, symbol string) ([]domain.Position, error) {
	params := url.Values{}
	params.Set("category", category)
	if symbol != "" {
		params.Set("symbol", symbol)
	} else {
		params.Set("settleCoin", "USDT")
	}

	var res positionResult
	if err := c.get(ctx, "/v5/position/list", params, &res); err != nil {
		return nil, fmt.Errorf("bybit: positions %s: %w", symbol, err)
	}

	out := make([]domain.Position, 0, len(res.List))
	for _, p := range res.List {
		size := parseFloat(p.Size)
		if size <= 0 {
			continue
		}
		entry := parseFloat(p.AvgPrice)
		mark := parseFloat(p.MarkPrice)
		upnl := parseFloat(p.UnrealisedPnl)

		pnlPct := 0.0
		if entry > 0 && size > 0 {
			pnlPct = upnl / (entry * size) * 100
		}

		out = append(out, domain.Position{
			Symbol:        p.Symbol,
			Side:          sideFromVenue(p.Side),
			Size:          size,
			EntryPrice:    entry,
			CurrentPrice:  mark,
			UnrealizedPnL: upnl,
			PnLPct:        pnlPct,
			Leverage:      int(parseFloat(p.Leverage)),
			Timestamp:     parseMs(p.UpdatedTime),
		})
	}
	return out, nil
}

// Balance returns the unified account wallet state. A missing available
// field falls back to 95% of total.
func (c *Client) Balance(ctx context.Context) (domain.Balance, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")

	var res walletResult
	if err := c.get(ctx, "/v5/account/wallet-balance", params, &res); err != nil {
		return domain.Balance{}, fmt.Errorf("bybit: balance: %w", err)
	}
	if len(res.List) == 0 {
		return domain.Balance{}, fmt.Errorf("bybit: balance: %w", domain.ErrNotFound)
	}

	w := res.List[0]
	total := parseFloat(w.TotalEquity)
	available := parseFloat(w.TotalAvailable)
	if available == 0 && total > 0 {
		available = total * 0.95
	}

	return domain.Balance{
		Total:      total,
		Available:  available,
		UsedMargin: parseFloat(w.TotalMarginUsed),
	}, nil
}

// UpdateStopLoss modifies the live position's conditional orders.
func (c *Client) UpdateStopLoss(ctx context.Context, symbol string, stopLoss, takeProfit float64) error {
	inst, err := c.Instrument(ctx, symbol)
	if err != nil {
		return fmt.Errorf("bybit: update stop loss: %w", err)
	}

	body := map[string]any{
		"category":    category,
		"symbol":      symbol,
		"stopLoss":    NormalizePrice(stopLoss, inst.TickSize),
		"positionIdx": 0,
	}
	if takeProfit > 0 {
		body["takeProfit"] = NormalizePrice(takeProfit, inst.TickSize)
	}

	if err := c.post(ctx, "/v5/position/trading-stop", body, nil); err != nil {
		var benign *benignError
		if errors.As(err, &benign) {
			return nil
		}
		return fmt.Errorf("bybit: update stop loss %s: %w", symbol, err)
	}
	return nil
}

// Close reduces the position by pct percent with a reduce-only market order
// on the opposite side. The floored quantity must be positive.
func (c *Client) Close(ctx context.Context, symbol string, side domain.OrderSide, pct int) (domain.OrderResult, error) {
	if pct <= 0 || pct > 100 {
		return domain.OrderResult{}, fmt.Errorf("bybit: close %s: %w: pct %d", symbol, domain.ErrInvalidOrder, pct)
	}

	positions, err := c.Positions(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("bybit: close %s: %w", symbol, err)
	}
	var pos *domain.Position
	for i := range positions {
		if positions[i].Side == side {
			pos = &positions[i]
			break
		}
	}
	if pos == nil {
		return domain.OrderResult{}, fmt.Errorf("bybit: close %s %s: %w", symbol, side, domain.ErrNoPosition)
	}

	inst, err := c.Instrument(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("bybit: close %s: %w", symbol, err)
	}

	qty := FlooredQty(pos.Size*float64(pct)/100, inst.StepSize)
	if qty <= 0 {
		return domain.OrderResult{}, fmt.Errorf("bybit: close %s: %w: %d%% of %g floors to zero",
			symbol, domain.ErrInvalidOrder, pct, pos.Size)
	}

	body := map[string]any{
		"category":    category,
		"symbol":      symbol,
		"side":        string(side.Opposite()),
		"orderType":   "Market",
		"qty":         NormalizeQty(qty, inst.StepSize),
		"timeInForce": "IOC",
		"reduceOnly":  true,
	}

	var res orderCreateResult
	if err := c.post(ctx, "/v5/order/create", body, &res); err != nil {
		return domain.OrderResult{}, fmt.Errorf("bybit: close %s: %w", symbol, err)
	}

	return domain.OrderResult{OrderID: res.OrderID, AvgPrice: pos.CurrentPrice}, nil
}

// OrderHistory returns filled orders, newest first.
func (c *Client) OrderHistory(ctx context.Context, symbol string, limit int) ([]domain.HistoricalOrder, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)
	params.Set("orderStatus", "Filled")
	params.Set("limit", strconv.Itoa(limit))

	var res orderHistoryResult
	if err := c.get(ctx, "/v5/order/history", params, &res); err != nil {
		return nil, fmt.Errorf("bybit: order history %s: %w", symbol, err)
	}

	out := make([]domain.HistoricalOrder, 0, len(res.List))
	for _, o := range res.List {
		out = append(out, domain.HistoricalOrder{
			OrderID:    o.OrderID,
			Symbol:     o.Symbol,
			Side:       sideFromVenue(o.Side),
			Quantity:   parseFloat(o.Qty),
			AvgPrice:   parseFloat(o.AvgPrice),
			OrderType:  o.OrderType,
			StopType:   o.StopType,
			ReduceOnly: o.ReduceOnly,
			UpdatedAt:  parseMs(o.UpdatedTime),
		})
	}
	return out, nil
}

// CheckTPSL scans recent filled orders and reports whether a take-profit or
// stop-loss typed order executed after since.
func (c *Client) CheckTPSL(ctx context.Context, symbol string, since time.Time) (domain.TPSLCheck, error) {
	orders, err := c.OrderHistory(ctx, symbol, 20)
	if err != nil {
		return domain.TPSLCheck{}, fmt.Errorf("bybit: check tp/sl %s: %w", symbol, err)
	}

	var check domain.TPSLCheck
	for _, o := range orders {
		if !o.UpdatedAt.After(since) {
			continue
		}
		switch o.StopType {
		case "TakeProfit", "PartialTakeProfit":
			check.TPExecuted = true
		case "StopLoss", "PartialStopLoss":
			check.SLExecuted = true
		default:
			continue
		}
		if o.UpdatedAt.After(check.ExecutedAt) {
			check.ExecutedAt = o.UpdatedAt
			check.Price = o.AvgPrice
		}
	}
	return check, nil
}

// Instrument returns contract metadata for the symbol.
func (c *Client) Instrument(ctx context.Context, symbol string) (domain.Instrument, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)

	var res instrumentResult
	if err := c.get(ctx, "/v5/market/instruments-info", params, &res); err != nil {
		return domain.Instrument{}, fmt.Errorf("bybit: instrument %s: %w", symbol, err)
	}
	if len(res.List) == 0 {
		return domain.Instrument{}, fmt.Errorf("bybit: instrument %s: %w", symbol, domain.ErrNotFound)
	}

	i := res.List[0]
	return domain.Instrument{
		Symbol:   i.Symbol,
		Base:     i.BaseCoin,
		Quote:    i.QuoteCoin,
		MinQty:   parseFloat(i.LotSizeFilter.MinOrderQty),
		StepSize: parseFloat(i.LotSizeFilter.QtyStep),
		TickSize: parseFloat(i.PriceFilter.TickSize),
	}, nil
}

// Health probes the venue's server-time endpoint.
func (c *Client) Health(ctx context.Context) bool {
	err := c.get(ctx, "/v5/market/time", url.Values{}, nil)
	return err == nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// benignError wraps a venue error code from the allow-list so callers can
// demote it.
type benignError struct {
	code int
	msg  string
}

func (e *benignError) Error() string {
	return fmt.Sprintf("retCode %d: %s", e.code, e.msg)
}

// get performs a signed GET. The signature payload is the sorted query
// string.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	query := SortedQuery(params)
	fullURL := c.baseURL + path
	if query != "" {
		fullURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.auth.Headers(query) {
		req.Header.Set(k, v)
	}

	return c.do(req, out)
}

// post performs a signed POST. The signature payload is the raw JSON body.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.auth.Headers(string(jsonBody)) {
		req.Header.Set(k, v)
	}

	return c.do(req, out)
}

// do sends the request, checks the HTTP status and the venue envelope, and
// decodes the result payload into out when non-nil.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	if env.RetCode != 0 {
		if msg, ok := benignRetCodes[env.RetCode]; ok {
			return &benignError{code: env.RetCode, msg: msg}
		}
		return fmt.Errorf("retCode %d: %s", env.RetCode, env.RetMsg)
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// checkStatus maps non-2xx HTTP status codes to appropriate errors.
func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrUnauthorized, statusCode, string(body))
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", domain.ErrRateLimited, statusCode)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, string(body))
	}
}

// Compile-time interface check.
var _ domain.Venue = (*Client)(nil)
