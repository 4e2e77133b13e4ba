package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/n3-n2-n1/kalmann/internal/analysis/kalman"
	"github.com/n3-n2-n1/kalmann/internal/analysis/technical"
	"github.com/n3-n2-n1/kalmann/internal/domain"
	"github.com/n3-n2-n1/kalmann/internal/reasoning"
	"github.com/n3-n2-n1/kalmann/internal/risk"
)

// Deps are the capabilities the tool registry wraps.
type Deps struct {
	Venue     domain.Venue
	Predictor *kalman.Predictor
	Reasoner  *reasoning.Client
	History   domain.HistoryStore
	Gate      *risk.Gate
	Symbol    string
	Interval  string
}

// symbolArgs is the common argument shape; a missing symbol falls back to the
// configured instrument.
type symbolArgs struct {
	Symbol string `json:"symbol"`
}

func (d Deps) symbolOf(raw json.RawMessage) string {
	var args symbolArgs
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &args)
	}
	if args.Symbol == "" {
		return d.Symbol
	}
	return args.Symbol
}

// symbolSchema is the input schema shared by the market-data style tools.
func symbolSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"symbol": map[string]any{"type": "string", "description": "instrument symbol, defaults to the configured one"},
		},
	}
}

// Registry assembles the full tool set over the given dependencies.
func Registry(d Deps) []Tool {
	return []Tool{
		{
			Name:        "get_market_data",
			Description: "Latest ticker with bid/ask and 24h statistics plus recent candles on the trading interval.",
			InputSchema: symbolSchema(),
			Handler:     d.getMarketData(d.Interval, 50),
		},
		{
			Name:        "get_market_data_1m",
			Description: "Latest ticker plus recent 1-minute candles for micro-structure analysis.",
			InputSchema: symbolSchema(),
			Handler:     d.getMarketData("1m", 30),
		},
		{
			Name:        "analyze_technical",
			Description: "RSI, MACD, Bollinger bands, EMA ladder, volume profile, and support/resistance.",
			InputSchema: symbolSchema(),
			Handler:     d.analyzeTechnical,
		},
		{
			Name:        "kalman_predict",
			Description: "Kalman filter price forecast with confidence, trend, and accuracy.",
			InputSchema: symbolSchema(),
			Handler:     d.kalmanPredict,
		},
		{
			Name:        "ai_analysis",
			Description: "Full entry analysis by the reasoning engine over indicators, forecast, and history.",
			InputSchema: symbolSchema(),
			Handler:     d.aiAnalysis,
		},
		{
			Name:        "execute_trade",
			Description: "Submit a market order after risk validation.",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"side", "quantity"},
				"properties": map[string]any{
					"symbol":      map[string]any{"type": "string"},
					"side":        map[string]any{"type": "string", "enum": []string{"Buy", "Sell"}},
					"quantity":    map[string]any{"type": "number"},
					"leverage":    map[string]any{"type": "integer"},
					"stop_loss":   map[string]any{"type": "number"},
					"take_profit": map[string]any{"type": "number"},
				},
			},
			Handler: d.executeTrade,
		},
		{
			Name:        "get_positions",
			Description: "Open positions with entry, mark, and unrealised PnL.",
			InputSchema: symbolSchema(),
			Handler:     d.getPositions,
		},
		{
			Name:        "close_position",
			Description: "Close an open position partially or fully.",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"side"},
				"properties": map[string]any{
					"symbol":     map[string]any{"type": "string"},
					"side":       map[string]any{"type": "string", "enum": []string{"Buy", "Sell"}},
					"percentage": map[string]any{"type": "integer", "enum": []int{25, 50, 100}},
				},
			},
			Handler: d.closePosition,
		},
		{
			Name:        "analyze_candle_pattern",
			Description: "Short-window candle patterns: soldiers, momentum weakening, volume spike, doji.",
			InputSchema: symbolSchema(),
			Handler:     d.analyzeCandlePattern,
		},
		{
			Name:        "detect_micro_trend",
			Description: "Macro vs micro timeframe trend comparison with divergence flag.",
			InputSchema: symbolSchema(),
			Handler:     d.detectMicroTrend,
		},
		{
			Name:        "analyze_order_book",
			Description: "Order book spread, imbalance, liquidity walls, and pressure label.",
			InputSchema: symbolSchema(),
			Handler:     d.analyzeOrderBook,
		},
	}
}

func (d Deps) getMarketData(interval string, limit int) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		symbol := d.symbolOf(raw)
		snap, err := d.Venue.MarketData(ctx, symbol)
		if err != nil {
			return nil, err
		}
		window, err := d.Venue.Candles(ctx, symbol, interval, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"market":  snap,
			"candles": window,
		}, nil
	}
}

func (d Deps) analyzeTechnical(ctx context.Context, raw json.RawMessage) (any, error) {
	window, err := d.candles(ctx, raw, d.Interval, 100)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"indicators":         technical.Analyze(window),
		"support_resistance": technical.SupportResistance(window),
		"volatility":         technical.Volatility(window, 20),
	}, nil
}

func (d Deps) kalmanPredict(ctx context.Context, raw json.RawMessage) (any, error) {
	window, err := d.candles(ctx, raw, d.Interval, 100)
	if err != nil {
		return nil, err
	}
	return d.Predictor.Predict(window, 0), nil
}

func (d Deps) aiAnalysis(ctx context.Context, raw json.RawMessage) (any, error) {
	symbol := d.symbolOf(raw)
	snap, err := d.Venue.MarketData(ctx, symbol)
	if err != nil {
		return nil, err
	}
	window, err := d.Venue.Candles(ctx, symbol, d.Interval, 100)
	if err != nil {
		return nil, err
	}

	hctx, err := d.History.Context(ctx, symbol)
	if err != nil {
		hctx = domain.HistoryContext{}
	}

	verdict := d.Reasoner.AnalyzeEntry(ctx, reasoning.EntryInput{
		Snapshot:   snap,
		Indicators: technical.Analyze(window),
		Kalman:     d.Predictor.Predict(window, 0),
		Context:    hctx,
	})
	return verdict, nil
}

func (d Deps) executeTrade(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Symbol     string  `json:"symbol"`
		Side       string  `json:"side"`
		Quantity   float64 `json:"quantity"`
		Leverage   int     `json:"leverage"`
		StopLoss   float64 `json:"stop_loss"`
		TakeProfit float64 `json:"take_profit"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("tools: execute_trade: %w", err)
	}
	if args.Symbol == "" {
		args.Symbol = d.Symbol
	}
	if args.Side != string(domain.SideBuy) && args.Side != string(domain.SideSell) {
		return nil, fmt.Errorf("tools: execute_trade: %w: side %q", domain.ErrInvalidOrder, args.Side)
	}
	if args.Leverage < 1 {
		args.Leverage = 1
	}

	proposal := domain.Proposal{
		Symbol:     args.Symbol,
		Side:       domain.OrderSide(args.Side),
		Quantity:   args.Quantity,
		Leverage:   args.Leverage,
		StopLoss:   args.StopLoss,
		TakeProfit: args.TakeProfit,
	}

	snap, err := d.Venue.MarketData(ctx, args.Symbol)
	if err != nil {
		return nil, err
	}
	balance, err := d.Venue.Balance(ctx)
	if err != nil {
		return nil, err
	}

	verdict := d.Gate.Validate(proposal, risk.Snapshot{Price: snap.Price, Balance: balance})
	if !verdict.Approved {
		return nil, fmt.Errorf("tools: execute_trade: %w: %s", domain.ErrRejected, verdict.Reason)
	}

	if err := d.Venue.SetLeverage(ctx, args.Symbol, args.Leverage); err != nil {
		return nil, err
	}
	order, err := d.Venue.SubmitOrder(ctx, proposal)
	if err != nil {
		return nil, err
	}
	d.Gate.IncrementDaily()
	return order, nil
}

func (d Deps) getPositions(ctx context.Context, raw json.RawMessage) (any, error) {
	positions, err := d.Venue.Positions(ctx, d.symbolOf(raw))
	if err != nil {
		return nil, err
	}
	return map[string]any{"positions": positions}, nil
}

func (d Deps) closePosition(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Symbol     string `json:"symbol"`
		Side       string `json:"side"`
		Percentage int    `json:"percentage"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("tools: close_position: %w", err)
	}
	if args.Symbol == "" {
		args.Symbol = d.Symbol
	}
	if args.Percentage == 0 {
		args.Percentage = 100
	}
	switch args.Percentage {
	case 25, 50, 100:
	default:
		return nil, fmt.Errorf("tools: close_position: %w: percentage %d", domain.ErrInvalidOrder, args.Percentage)
	}

	return d.Venue.Close(ctx, args.Symbol, domain.OrderSide(args.Side), args.Percentage)
}

func (d Deps) analyzeCandlePattern(ctx context.Context, raw json.RawMessage) (any, error) {
	window, err := d.candles(ctx, raw, "1m", 30)
	if err != nil {
		return nil, err
	}
	return technical.AnalyzePatterns(window), nil
}

func (d Deps) detectMicroTrend(ctx context.Context, raw json.RawMessage) (any, error) {
	symbol := d.symbolOf(raw)
	coarse, err := d.Venue.Candles(ctx, symbol, d.Interval, 20)
	if err != nil {
		return nil, err
	}
	fine, err := d.Venue.Candles(ctx, symbol, "1m", 10)
	if err != nil {
		return nil, err
	}
	return technical.CompareTimeframes(coarse, fine), nil
}

func (d Deps) analyzeOrderBook(ctx context.Context, raw json.RawMessage) (any, error) {
	book, err := d.Venue.OrderBook(ctx, d.symbolOf(raw), 25)
	if err != nil {
		return nil, err
	}
	return technical.AnalyzeOrderBook(book), nil
}

// candles is the shared fetch used by the analysis tools.
func (d Deps) candles(ctx context.Context, raw json.RawMessage, interval string, limit int) ([]domain.Candle, error) {
	return d.Venue.Candles(ctx, d.symbolOf(raw), interval, limit)
}
