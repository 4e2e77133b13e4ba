// Package history implements the decision history store on Redis. Trade
// envelopes live in a capped per-symbol list, aggregates in daily and global
// hashes, and the transient current-position descriptor in a TTL'd string
// key.
package history

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

const (
	// listCap is the number of trade envelopes retained per symbol.
	listCap = 20

	// recentWindow is how many closed trades Context returns.
	recentWindow = 5

	// positionTTL bounds the transient current-position descriptor.
	positionTTL = 24 * time.Hour

	// opTimeout caps every store operation so history enrichment can never
	// stall the control loop.
	opTimeout = 3 * time.Second
)

// Key layout. The daily key embeds the local calendar date.
func decisionsKey(symbol string) string { return "trading:decisions:" + symbol }
func positionKey(symbol string) string  { return "trading:position:" + symbol + ":current" }
func dailyKey(day string) string        { return "trading:daily:" + day }

const globalKey = "trading:global:stats"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// RedisStore implements domain.HistoryStore on go-redis.
type RedisStore struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects to Redis and pings it to verify connectivity.
func NewRedisStore(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}

	return &RedisStore{
		rdb:    rdb,
		logger: logger.With(slog.String("component", "history")),
	}, nil
}

// RecordOpen pushes a PENDING trade envelope onto the capped per-symbol list
// and stores the transient current-position descriptor.
func (s *RedisStore) RecordOpen(ctx context.Context, record domain.TradeRecord) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.Result = domain.ResultPending

	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("history: marshal record: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, decisionsKey(record.Symbol), payload)
	pipe.LTrim(ctx, decisionsKey(record.Symbol), 0, listCap-1)
	pipe.Set(ctx, positionKey(record.Symbol), record.ID, positionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("history: record open %s: %w", record.Symbol, err)
	}

	return record.ID, nil
}

// RecordClose locates the envelope, attaches the exit, sets the terminal
// result, rolls the counters, and deletes the current-position descriptor.
func (s *RedisStore) RecordClose(ctx context.Context, symbol, tradeID string, exit domain.TradeExit) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := decisionsKey(symbol)
	items, err := s.rdb.LRange(ctx, key, 0, listCap-1).Result()
	if err != nil {
		return fmt.Errorf("history: record close %s: %w", symbol, err)
	}

	for i, item := range items {
		var record domain.TradeRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			continue
		}
		if record.ID != tradeID {
			continue
		}

		record.Exit = &exit
		record.Result = resultFor(exit)

		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("history: marshal record: %w", err)
		}

		day := exit.Time.Format("2006-01-02")
		pipe := s.rdb.TxPipeline()
		pipe.LSet(ctx, key, int64(i), payload)
		pipe.Del(ctx, positionKey(symbol))
		s.bumpAggregates(ctx, pipe, dailyKey(day), record)
		s.bumpAggregates(ctx, pipe, globalKey, record)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("history: record close %s: %w", symbol, err)
		}
		return nil
	}

	return fmt.Errorf("history: record close %s: trade %s: %w", symbol, tradeID, domain.ErrNotFound)
}

// bumpAggregates queues the counter updates for one closed trade onto the
// pipeline.
func (s *RedisStore) bumpAggregates(ctx context.Context, pipe redis.Pipeliner, key string, record domain.TradeRecord) {
	pipe.HIncrBy(ctx, key, "trades", 1)
	pipe.HIncrByFloat(ctx, key, "pnl", record.Exit.PnL)

	switch record.Result {
	case domain.ResultWin:
		pipe.HIncrBy(ctx, key, "wins", 1)
		pipe.HIncrByFloat(ctx, key, "pnl_wins", record.Exit.PnL)
	case domain.ResultLiquidation:
		pipe.HIncrBy(ctx, key, "liquidations", 1)
		pipe.HIncrByFloat(ctx, key, "pnl_losses", record.Exit.PnL)
	default:
		pipe.HIncrBy(ctx, key, "losses", 1)
		pipe.HIncrByFloat(ctx, key, "pnl_losses", record.Exit.PnL)
	}
}

// Context returns the recent closed trades, today's aggregate, the global
// aggregate, and derived pattern notes.
func (s *RedisStore) Context(ctx context.Context, symbol string) (domain.HistoryContext, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var out domain.HistoryContext

	items, err := s.rdb.LRange(ctx, decisionsKey(symbol), 0, listCap-1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return out, fmt.Errorf("history: context %s: %w", symbol, err)
	}

	var all []domain.TradeRecord
	for _, item := range items {
		var record domain.TradeRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			continue
		}
		all = append(all, record)
		if record.Exit != nil && len(out.Recent) < recentWindow {
			out.Recent = append(out.Recent, record)
		}
	}

	day := time.Now().Format("2006-01-02")
	if daily, err := s.readAggregate(ctx, dailyKey(day)); err == nil {
		out.Daily = daily
	}
	if global, err := s.readAggregate(ctx, globalKey); err == nil {
		out.Global = global
	}

	out.Patterns = derivePatterns(all, out.Global)
	return out, nil
}

// readAggregate decodes a counter hash. A missing key decodes as zeroes.
func (s *RedisStore) readAggregate(ctx context.Context, key string) (domain.TradeAggregate, error) {
	vals, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.TradeAggregate{}, fmt.Errorf("history: read %s: %w", key, err)
	}

	parseInt := func(field string) int {
		n, _ := strconv.Atoi(vals[field])
		return n
	}
	parseF := func(field string) float64 {
		f, _ := strconv.ParseFloat(vals[field], 64)
		return f
	}

	return domain.TradeAggregate{
		Trades:       parseInt("trades"),
		Wins:         parseInt("wins"),
		Losses:       parseInt("losses"),
		Liquidations: parseInt("liquidations"),
		PnL:          parseF("pnl"),
		PnLFromWins:  parseF("pnl_wins"),
		PnLFromLoss:  parseF("pnl_losses"),
	}, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("history: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// resultFor maps an exit onto the terminal trade result.
func resultFor(exit domain.TradeExit) domain.TradeResult {
	if exit.Type == domain.ExitLiquidation {
		return domain.ResultLiquidation
	}
	if exit.PnL > 0 {
		return domain.ResultWin
	}
	return domain.ResultLoss
}

// derivePatterns produces the small set of behavioural notes embedded into
// reasoning prompts.
func derivePatterns(records []domain.TradeRecord, global domain.TradeAggregate) []string {
	var patterns []string

	var winRSI, lossRSI float64
	var winN, lossN int
	for _, r := range records {
		if r.Exit == nil {
			continue
		}
		switch r.Result {
		case domain.ResultWin:
			winRSI += r.Entry.RSI
			winN++
		case domain.ResultLoss, domain.ResultLiquidation:
			lossRSI += r.Entry.RSI
			lossN++
		}
	}
	if winN > 0 && lossN > 0 {
		patterns = append(patterns, fmt.Sprintf(
			"average entry RSI: %.0f on winning trades vs %.0f on losing trades",
			winRSI/float64(winN), lossRSI/float64(lossN)))
	}

	if global.Liquidations > 0 {
		patterns = append(patterns, fmt.Sprintf(
			"%d liquidation(s) on record; prefer lower leverage", global.Liquidations))
	}

	return patterns
}

// Compile-time interface check.
var _ domain.HistoryStore = (*RedisStore)(nil)
