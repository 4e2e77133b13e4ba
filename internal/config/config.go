// Package config defines the top-level configuration for the trading agent
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KALMANN_* environment variables.
type Config struct {
	Venue     VenueConfig     `toml:"venue"`
	Reasoning ReasoningConfig `toml:"reasoning"`
	History   HistoryConfig   `toml:"history"`
	Archive   ArchiveConfig   `toml:"archive"`
	Trading   TradingConfig   `toml:"trading"`
	Tools     ToolsConfig     `toml:"tools"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
}

// VenueConfig holds exchange API endpoints and credentials.
type VenueConfig struct {
	BaseURL          string   `toml:"base_url"`
	TestnetURL       string   `toml:"testnet_url"`
	Testnet          bool     `toml:"testnet"`
	ApiKey           string   `toml:"api_key"`
	ApiSecret        string   `toml:"api_secret"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	RecvWindowMs     int      `toml:"recv_window_ms"`
	Timeout          duration `toml:"timeout"`
}

// ReasoningConfig holds the language-model endpoint parameters. Host must be
// an OpenAI-compatible chat-completions server.
type ReasoningConfig struct {
	Host    string   `toml:"host"`
	ApiKey  string   `toml:"api_key"`
	Model   string   `toml:"model"`
	Timeout duration `toml:"timeout"`
}

// HistoryConfig holds Redis connection parameters for the decision history
// store.
type HistoryConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ArchiveConfig holds the optional PostgreSQL trade archive parameters. The
// archive is disabled when DSN is empty.
type ArchiveConfig struct {
	DSN          string `toml:"dsn"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// TradingConfig holds the strategy parameters for the single configured
// instrument.
type TradingConfig struct {
	Symbol          string   `toml:"symbol"`
	Interval        string   `toml:"interval"`
	AutoTrade       bool     `toml:"auto_trade"`
	PaperTrading    bool     `toml:"paper_trading"`
	MaxLeverage     int      `toml:"max_leverage"`
	LeverageCap     int      `toml:"leverage_cap"`
	MaxPositionSize float64  `toml:"max_position_size"`
	RiskPct         float64  `toml:"risk_pct"`
	StopLossPct     float64  `toml:"stop_loss_pct"`
	MaxDailyTrades  int      `toml:"max_daily_trades"`
	WarmupTimeout   duration `toml:"warmup_timeout"`
}

// ToolsConfig holds the optional tools server parameters.
type ToolsConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// MetricsConfig holds the Prometheus metrics endpoint parameters.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			BaseURL:      "https://api.bybit.com",
			TestnetURL:   "https://api-testnet.bybit.com",
			Testnet:      true,
			RecvWindowMs: 5000,
			Timeout:      duration{10 * time.Second},
		},
		Reasoning: ReasoningConfig{
			Host:    "http://localhost:11434/v1",
			Model:   "qwen2.5:14b",
			Timeout: duration{120 * time.Second},
		},
		History: HistoryConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Archive: ArchiveConfig{
			DSN:          "",
			PoolMaxConns: 5,
			PoolMinConns: 1,
		},
		Trading: TradingConfig{
			Symbol:          "BTCUSDT",
			Interval:        "5m",
			AutoTrade:       false,
			PaperTrading:    true,
			MaxLeverage:     50,
			LeverageCap:     20,
			MaxPositionSize: 10000,
			RiskPct:         10,
			StopLossPct:     0.6,
			MaxDailyTrades:  20,
			WarmupTimeout:   duration{60 * time.Second},
		},
		Tools: ToolsConfig{
			Enabled: false,
			Port:    8765,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_open", "trade_close", "error"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validIntervals enumerates the candle intervals the venue accepts.
var validIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "4h": true, "1d": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue — credentials are mandatory unless paper trading.
	if c.Venue.BaseURL == "" {
		errs = append(errs, "venue: base_url must not be empty")
	}
	if !c.Trading.PaperTrading {
		if c.Venue.ApiKey == "" {
			errs = append(errs, "venue: api_key is required for live trading")
		}
		if c.Venue.ApiSecret == "" && c.Venue.EncryptedKeyPath == "" {
			errs = append(errs, "venue: either api_secret or encrypted_key_path must be set for live trading")
		}
	}
	if c.Venue.EncryptedKeyPath != "" && c.Venue.KeyPassword == "" {
		errs = append(errs, "venue: key_password is required when encrypted_key_path is set")
	}
	if c.Venue.RecvWindowMs <= 0 {
		errs = append(errs, "venue: recv_window_ms must be positive")
	}

	// Reasoning
	if c.Reasoning.Host == "" {
		errs = append(errs, "reasoning: host must not be empty")
	}
	if c.Reasoning.Model == "" {
		errs = append(errs, "reasoning: model must not be empty")
	}
	if c.Reasoning.Timeout.Duration <= 0 {
		errs = append(errs, "reasoning: timeout must be positive")
	}

	// History
	if c.History.Addr == "" {
		errs = append(errs, "history: addr must not be empty")
	}
	if c.History.PoolSize < 1 {
		errs = append(errs, "history: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.DSN != "" {
		if c.Archive.PoolMaxConns < 1 {
			errs = append(errs, "archive: pool_max_conns must be >= 1")
		}
		if c.Archive.PoolMinConns > c.Archive.PoolMaxConns {
			errs = append(errs, "archive: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Trading
	if c.Trading.Symbol == "" {
		errs = append(errs, "trading: symbol must not be empty")
	}
	if !validIntervals[c.Trading.Interval] {
		errs = append(errs, fmt.Sprintf("trading: unknown interval %q", c.Trading.Interval))
	}
	if c.Trading.MaxLeverage < 1 || c.Trading.MaxLeverage > 100 {
		errs = append(errs, fmt.Sprintf("trading: max_leverage must be 1-100, got %d", c.Trading.MaxLeverage))
	}
	if c.Trading.LeverageCap < 1 || c.Trading.LeverageCap > c.Trading.MaxLeverage {
		errs = append(errs, fmt.Sprintf("trading: leverage_cap must be 1-%d, got %d", c.Trading.MaxLeverage, c.Trading.LeverageCap))
	}
	if c.Trading.MaxPositionSize <= 0 {
		errs = append(errs, "trading: max_position_size must be > 0")
	}
	if c.Trading.RiskPct <= 0 || c.Trading.RiskPct > 100 {
		errs = append(errs, fmt.Sprintf("trading: risk_pct must be in (0,100], got %g", c.Trading.RiskPct))
	}
	if c.Trading.StopLossPct <= 0 || c.Trading.StopLossPct >= 100 {
		errs = append(errs, fmt.Sprintf("trading: stop_loss_pct must be in (0,100), got %g", c.Trading.StopLossPct))
	}
	if c.Trading.MaxDailyTrades < 1 {
		errs = append(errs, "trading: max_daily_trades must be >= 1")
	}

	// Tools server
	if c.Tools.Enabled {
		if c.Tools.Port <= 0 || c.Tools.Port > 65535 {
			errs = append(errs, fmt.Sprintf("tools: port must be 1-65535, got %d", c.Tools.Port))
		}
	}

	// Metrics
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			errs = append(errs, fmt.Sprintf("metrics: port must be 1-65535, got %d", c.Metrics.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IntervalDuration converts the configured candle interval into a
// time.Duration. Validate guarantees the interval is one of the known values.
func (c *Config) IntervalDuration() time.Duration {
	switch c.Trading.Interval {
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
