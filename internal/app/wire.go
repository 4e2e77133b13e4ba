package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/n3-n2-n1/kalmann/internal/analysis/kalman"
	"github.com/n3-n2-n1/kalmann/internal/candles"
	"github.com/n3-n2-n1/kalmann/internal/config"
	"github.com/n3-n2-n1/kalmann/internal/crypto"
	"github.com/n3-n2-n1/kalmann/internal/domain"
	"github.com/n3-n2-n1/kalmann/internal/engine"
	"github.com/n3-n2-n1/kalmann/internal/history"
	"github.com/n3-n2-n1/kalmann/internal/metrics"
	"github.com/n3-n2-n1/kalmann/internal/notify"
	"github.com/n3-n2-n1/kalmann/internal/reasoning"
	"github.com/n3-n2-n1/kalmann/internal/risk"
	"github.com/n3-n2-n1/kalmann/internal/store/postgres"
	"github.com/n3-n2-n1/kalmann/internal/venue/bybit"
	"github.com/n3-n2-n1/kalmann/internal/venue/paper"
)

// Dependencies bundles every component the application runs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Venue     domain.Venue
	Buffer    *candles.Buffer
	Predictor *kalman.Predictor
	Reasoner  *reasoning.Client
	History   domain.HistoryStore
	Gate      *risk.Gate
	Collector *metrics.Collector
	Archive   *postgres.TradeArchive
	Notifier  *notify.Notifier
	Engine    *engine.Engine
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Venue ---
	baseURL := cfg.Venue.BaseURL
	if cfg.Venue.Testnet && cfg.Venue.TestnetURL != "" {
		baseURL = cfg.Venue.TestnetURL
	}

	apiSecret := cfg.Venue.ApiSecret
	if !cfg.Trading.PaperTrading {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:     cfg.Venue.ApiSecret,
			EncryptedPath: cfg.Venue.EncryptedKeyPath,
			Password:      cfg.Venue.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: venue secret: %w", err)
		}
		apiSecret = secret
	}

	live := bybit.NewClient(bybit.Config{
		BaseURL:    baseURL,
		ApiKey:     cfg.Venue.ApiKey,
		ApiSecret:  apiSecret,
		RecvWindow: cfg.Venue.RecvWindowMs,
		Timeout:    cfg.Venue.Timeout.Duration,
	}, logger)

	deps.Venue = live
	if cfg.Trading.PaperTrading {
		deps.Venue = paper.New(live, logger)
		logger.Info("paper trading enabled, order execution is simulated")
	}

	// --- History store (degrades to in-memory when Redis is unreachable) ---
	redisStore, err := history.NewRedisStore(ctx, history.ClientConfig{
		Addr:       cfg.History.Addr,
		Password:   cfg.History.Password,
		DB:         cfg.History.DB,
		PoolSize:   cfg.History.PoolSize,
		MaxRetries: cfg.History.MaxRetries,
		TLSEnabled: cfg.History.TLSEnabled,
	}, logger)
	if err != nil {
		logger.Warn("history store unreachable, falling back to in-memory",
			slog.String("error", err.Error()),
		)
		deps.History = history.NewMemoryStore()
	} else {
		deps.History = redisStore
		closers = append(closers, func() { _ = redisStore.Close() })
	}

	// --- Trade archive (optional) ---
	if cfg.Archive.DSN != "" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Archive.DSN,
			MaxConns: cfg.Archive.PoolMaxConns,
			MinConns: cfg.Archive.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: trade archive: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.EnsureSchema(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: trade archive schema: %w", err)
		}
		deps.Archive = postgres.NewTradeArchive(pgClient.Pool())
	}

	// --- Reasoning ---
	deps.Reasoner = reasoning.NewClient(reasoning.Config{
		Host:    cfg.Reasoning.Host,
		ApiKey:  cfg.Reasoning.ApiKey,
		Model:   cfg.Reasoning.Model,
		Timeout: cfg.Reasoning.Timeout.Duration,
	}, logger)

	// --- Analysis ---
	deps.Predictor = kalman.New(cfg.Trading.Interval)
	deps.Buffer = candles.New(deps.Venue, cfg.Trading.Symbol, cfg.Trading.Interval, logger)

	// --- Risk ---
	deps.Gate = risk.NewGate(risk.Config{
		MaxLeverage:     cfg.Trading.MaxLeverage,
		MaxPositionSize: cfg.Trading.MaxPositionSize,
		StopLossPct:     cfg.Trading.StopLossPct,
		MaxDailyTrades:  cfg.Trading.MaxDailyTrades,
	}, logger)

	// --- Metrics ---
	deps.Collector = metrics.NewCollector()

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	// --- Engine ---
	var archiver engine.Archiver
	if deps.Archive != nil {
		archiver = deps.Archive
	}
	deps.Engine = engine.New(
		engine.Config{
			Symbol:        cfg.Trading.Symbol,
			Interval:      cfg.Trading.Interval,
			Period:        cfg.IntervalDuration(),
			AutoTrade:     cfg.Trading.AutoTrade,
			LeverageCap:   cfg.Trading.LeverageCap,
			StopLossPct:   cfg.Trading.StopLossPct,
			WarmupTimeout: cfg.Trading.WarmupTimeout.Duration,
		},
		deps.Venue,
		deps.Buffer,
		deps.Predictor,
		deps.Reasoner,
		deps.History,
		deps.Gate,
		deps.Collector,
		archiver,
		deps.Notifier,
		logger,
	)

	return deps, cleanup, nil
}
