// Package postgres implements the long-term trade archive using PostgreSQL
// via pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ClientConfig holds connection parameters for the PostgreSQL client.
type ClientConfig struct {
	DSN      string
	MaxConns int
	MinConns int
}

// Client wraps a pgxpool.Pool and manages schema setup.
type Client struct {
	pool *pgxpool.Pool
}

// New creates a new Client with a connection pool configured from cfg and
// verifies connectivity with a ping.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Client{pool: pool}, nil
}

// EnsureSchema creates the trades table when it does not exist yet.
func (c *Client) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS trades (
			id            TEXT PRIMARY KEY,
			symbol        TEXT NOT NULL,
			side          TEXT NOT NULL,
			open_time     TIMESTAMPTZ NOT NULL,
			confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
			entry_price   DOUBLE PRECISION NOT NULL,
			entry_rsi     DOUBLE PRECISION NOT NULL DEFAULT 0,
			leverage      INTEGER NOT NULL DEFAULT 1,
			quantity      DOUBLE PRECISION NOT NULL DEFAULT 0,
			exit_type     TEXT,
			exit_price    DOUBLE PRECISION,
			pnl           DOUBLE PRECISION,
			pnl_pct       DOUBLE PRECISION,
			duration_min  DOUBLE PRECISION,
			closed_at     TIMESTAMPTZ,
			result        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS trades_symbol_open_time_idx
			ON trades (symbol, open_time DESC);`

	if _, err := c.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// Pool exposes the underlying connection pool for stores.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Close closes the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}
