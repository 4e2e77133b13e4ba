package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// TradeArchive persists closed trades for long-term analysis, beyond the
// capped window the history store keeps.
type TradeArchive struct {
	pool *pgxpool.Pool
}

// NewTradeArchive creates a TradeArchive backed by the given connection
// pool.
func NewTradeArchive(pool *pgxpool.Pool) *TradeArchive {
	return &TradeArchive{pool: pool}
}

// ArchiveTrade upserts one closed trade. Re-archiving the same id overwrites
// the exit columns, which makes retries after transient failures safe.
func (s *TradeArchive) ArchiveTrade(ctx context.Context, record domain.TradeRecord) error {
	if record.Exit == nil {
		return fmt.Errorf("postgres: archive trade %s: no exit attached", record.ID)
	}

	const query = `
		INSERT INTO trades (
			id, symbol, side, open_time, confidence,
			entry_price, entry_rsi, leverage, quantity,
			exit_type, exit_price, pnl, pnl_pct, duration_min, closed_at,
			result
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15,
			$16
		) ON CONFLICT (id) DO UPDATE SET
			exit_type = EXCLUDED.exit_type,
			exit_price = EXCLUDED.exit_price,
			pnl = EXCLUDED.pnl,
			pnl_pct = EXCLUDED.pnl_pct,
			duration_min = EXCLUDED.duration_min,
			closed_at = EXCLUDED.closed_at,
			result = EXCLUDED.result`

	_, err := s.pool.Exec(ctx, query,
		record.ID, record.Symbol, string(record.Side), record.OpenTime, record.Confidence,
		record.Entry.Price, record.Entry.RSI, record.Entry.Leverage, record.Entry.Quantity,
		string(record.Exit.Type), record.Exit.Price, record.Exit.PnL, record.Exit.PnLPct,
		record.Exit.DurationMin, record.Exit.Time,
		string(record.Result),
	)
	if err != nil {
		return fmt.Errorf("postgres: archive trade %s: %w", record.ID, err)
	}
	return nil
}

// RecentTrades returns the most recently opened archived trades for a
// symbol, newest first.
func (s *TradeArchive) RecentTrades(ctx context.Context, symbol string, limit int) ([]domain.TradeRecord, error) {
	const query = `
		SELECT id, symbol, side, open_time, confidence,
			entry_price, entry_rsi, leverage, quantity,
			exit_type, exit_price, pnl, pnl_pct, duration_min, closed_at,
			result
		FROM trades
		WHERE symbol = $1
		ORDER BY open_time DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent trades %s: %w", symbol, err)
	}
	defer rows.Close()

	return scanTradeRows(rows)
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		var (
			t           domain.TradeRecord
			side        string
			result      string
			exitType    *string
			exitPrice   *float64
			pnl         *float64
			pnlPct      *float64
			durationMin *float64
			closedAt    *time.Time
		)
		if err := rows.Scan(
			&t.ID, &t.Symbol, &side, &t.OpenTime, &t.Confidence,
			&t.Entry.Price, &t.Entry.RSI, &t.Entry.Leverage, &t.Entry.Quantity,
			&exitType, &exitPrice, &pnl, &pnlPct, &durationMin, &closedAt,
			&result,
		); err != nil {
			return nil, err
		}
		t.Side = domain.OrderSide(side)
		t.Result = domain.TradeResult(result)
		if exitType != nil {
			t.Exit = &domain.TradeExit{
				Type:  domain.ExitType(*exitType),
				Price: deref(exitPrice),
				PnL:   deref(pnl),
			}
			t.Exit.PnLPct = deref(pnlPct)
			t.Exit.DurationMin = deref(durationMin)
			if closedAt != nil {
				t.Exit.Time = *closedAt
			}
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
