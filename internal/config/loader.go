package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies KALMANN_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known KALMANN_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.BaseURL, "KALMANN_VENUE_BASE_URL")
	setStr(&cfg.Venue.TestnetURL, "KALMANN_VENUE_TESTNET_URL")
	setBool(&cfg.Venue.Testnet, "KALMANN_VENUE_TESTNET")
	setStr(&cfg.Venue.ApiKey, "KALMANN_VENUE_API_KEY")
	setStr(&cfg.Venue.ApiSecret, "KALMANN_VENUE_API_SECRET")
	setStr(&cfg.Venue.EncryptedKeyPath, "KALMANN_VENUE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Venue.KeyPassword, "KALMANN_VENUE_KEY_PASSWORD")
	setInt(&cfg.Venue.RecvWindowMs, "KALMANN_VENUE_RECV_WINDOW_MS")
	setDuration(&cfg.Venue.Timeout, "KALMANN_VENUE_TIMEOUT")

	// ── Reasoning ──
	setStr(&cfg.Reasoning.Host, "KALMANN_REASONING_HOST")
	setStr(&cfg.Reasoning.ApiKey, "KALMANN_REASONING_API_KEY")
	setStr(&cfg.Reasoning.Model, "KALMANN_REASONING_MODEL")
	setDuration(&cfg.Reasoning.Timeout, "KALMANN_REASONING_TIMEOUT")

	// ── History ──
	setStr(&cfg.History.Addr, "KALMANN_HISTORY_ADDR")
	setStr(&cfg.History.Password, "KALMANN_HISTORY_PASSWORD")
	setInt(&cfg.History.DB, "KALMANN_HISTORY_DB")
	setInt(&cfg.History.PoolSize, "KALMANN_HISTORY_POOL_SIZE")
	setInt(&cfg.History.MaxRetries, "KALMANN_HISTORY_MAX_RETRIES")
	setBool(&cfg.History.TLSEnabled, "KALMANN_HISTORY_TLS_ENABLED")

	// ── Archive ──
	setStr(&cfg.Archive.DSN, "KALMANN_ARCHIVE_DSN")
	setInt(&cfg.Archive.PoolMaxConns, "KALMANN_ARCHIVE_POOL_MAX_CONNS")
	setInt(&cfg.Archive.PoolMinConns, "KALMANN_ARCHIVE_POOL_MIN_CONNS")

	// ── Trading ──
	setStr(&cfg.Trading.Symbol, "KALMANN_TRADING_SYMBOL")
	setStr(&cfg.Trading.Interval, "KALMANN_TRADING_INTERVAL")
	setBool(&cfg.Trading.AutoTrade, "KALMANN_TRADING_AUTO_TRADE")
	setBool(&cfg.Trading.PaperTrading, "KALMANN_TRADING_PAPER_TRADING")
	setInt(&cfg.Trading.MaxLeverage, "KALMANN_TRADING_MAX_LEVERAGE")
	setInt(&cfg.Trading.LeverageCap, "KALMANN_TRADING_LEVERAGE_CAP")
	setFloat64(&cfg.Trading.MaxPositionSize, "KALMANN_TRADING_MAX_POSITION_SIZE")
	setFloat64(&cfg.Trading.RiskPct, "KALMANN_TRADING_RISK_PCT")
	setFloat64(&cfg.Trading.StopLossPct, "KALMANN_TRADING_STOP_LOSS_PCT")
	setInt(&cfg.Trading.MaxDailyTrades, "KALMANN_TRADING_MAX_DAILY_TRADES")
	setDuration(&cfg.Trading.WarmupTimeout, "KALMANN_TRADING_WARMUP_TIMEOUT")

	// ── Tools server ──
	setBool(&cfg.Tools.Enabled, "KALMANN_TOOLS_ENABLED")
	setInt(&cfg.Tools.Port, "KALMANN_TOOLS_PORT")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "KALMANN_METRICS_ENABLED")
	setInt(&cfg.Metrics.Port, "KALMANN_METRICS_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KALMANN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KALMANN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KALMANN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KALMANN_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "KALMANN_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
