package bybit

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// envelope is the venue's uniform response wrapper.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// benignRetCodes are venue error codes the client treats as success: the
// request is semantically a no-op (e.g. leverage already at the requested
// value).
var benignRetCodes = map[int]string{
	110043: "leverage not modified",
	34036:  "order not modified",
}

type tickerResult struct {
	List []struct {
		Symbol       string `json:"symbol"`
		LastPrice    string `json:"lastPrice"`
		Bid1Price    string `json:"bid1Price"`
		Ask1Price    string `json:"ask1Price"`
		Volume24h    string `json:"volume24h"`
		Price24hPcnt string `json:"price24hPcnt"`
		HighPrice24h string `json:"highPrice24h"`
		LowPrice24h  string `json:"lowPrice24h"`
	} `json:"list"`
}

type klineResult struct {
	Symbol string `json:"symbol"`
	// Each entry: [startTime, open, high, low, close, volume, turnover],
	// newest first.
	List [][]string `json:"list"`
}

type orderbookResult struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
	Ts     int64      `json:"ts"`
}

type orderCreateResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type positionResult struct {
	List []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Size          string `json:"size"`
		AvgPrice      string `json:"avgPrice"`
		MarkPrice     string `json:"markPrice"`
		UnrealisedPnl string `json:"unrealisedPnl"`
		Leverage      string `json:"leverage"`
		UpdatedTime   string `json:"updatedTime"`
	} `json:"list"`
}

type walletResult struct {
	List []struct {
		TotalEquity     string `json:"totalEquity"`
		TotalAvailable  string `json:"totalAvailableBalance"`
		TotalMarginUsed string `json:"totalInitialMargin"`
	} `json:"list"`
}

type orderHistoryResult struct {
	List []struct {
		OrderID     string `json:"orderId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Qty         string `json:"qty"`
		AvgPrice    string `json:"avgPrice"`
		OrderType   string `json:"orderType"`
		StopType    string `json:"stopOrderType"`
		OrderStatus string `json:"orderStatus"`
		ReduceOnly  bool   `json:"reduceOnly"`
		UpdatedTime string `json:"updatedTime"`
	} `json:"list"`
}

type instrumentResult struct {
	List []struct {
		Symbol        string `json:"symbol"`
		BaseCoin      string `json:"baseCoin"`
		QuoteCoin     string `json:"quoteCoin"`
		LotSizeFilter struct {
			MinOrderQty string `json:"minOrderQty"`
			QtyStep     string `json:"qtyStep"`
		} `json:"lotSizeFilter"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
	} `json:"list"`
}

// parseFloat converts a venue numeric string, returning 0 for empty or
// malformed values. The venue omits fields as empty strings rather than null.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseMs converts a millisecond epoch string into a time.Time.
func parseMs(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// intervalCode maps a config interval ("5m", "1h") to the venue's kline
// interval code ("5", "60").
func intervalCode(interval string) string {
	switch interval {
	case "1m":
		return "1"
	case "3m":
		return "3"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "30m":
		return "30"
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "D"
	default:
		return interval
	}
}

// intervalSpan is the candle duration for the given config interval, used to
// derive close times from kline start times.
func intervalSpan(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}

// sideFromVenue maps the venue's side string onto the domain side.
func sideFromVenue(s string) domain.OrderSide {
	if s == "Sell" {
		return domain.SideSell
	}
	return domain.SideBuy
}
