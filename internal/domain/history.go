package domain

import "context"

// HistoryStore persists trade envelopes and serves the derived aggregates
// used to enrich reasoning prompts. Implementations are best-effort: the
// control loop must keep running when the backing store is unreachable.
type HistoryStore interface {
	// RecordOpen appends a PENDING trade envelope and returns its id.
	RecordOpen(ctx context.Context, record TradeRecord) (string, error)

	// RecordClose locates the envelope by id, attaches the exit, sets the
	// terminal result, and rolls the daily and global counters forward.
	RecordClose(ctx context.Context, symbol, tradeID string, exit TradeExit) error

	// Context returns the recent-trade window, daily and global aggregates,
	// and derived pattern notes for the symbol.
	Context(ctx context.Context, symbol string) (HistoryContext, error)

	// Close releases the backing connection.
	Close() error
}
