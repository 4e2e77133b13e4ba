// Package candles maintains a bounded, de-duplicated sliding window of OHLCV
// candles for one instrument, seeded by a historical backfill and refreshed on
// a timer.
package candles

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

const (
	// windowCap is the maximum number of candles retained.
	windowCap = 200

	// backfillLimit is the number of candles fetched on start.
	backfillLimit = 200

	// refreshLimit is the number of candles fetched on each timer tick. The
	// venue re-emits the forming candle, so the tail overlaps the window.
	refreshLimit = 5
)

// Source is the slice of the venue adapter the buffer needs.
type Source interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
}

// Stats summarises the buffer for logging and the tools surface.
type Stats struct {
	Count      int
	FirstClose float64
	LastClose  float64
	FirstTime  time.Time
	LastTime   time.Time
}

// Buffer is the per-symbol candle window. All access to the window goes
// through the mutex; the refresh goroutine and the engine tick read and write
// concurrently.
type Buffer struct {
	source   Source
	symbol   string
	interval string
	logger   *slog.Logger

	mu     sync.Mutex
	window []domain.Candle

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Buffer for the given symbol and interval.
func New(source Source, symbol, interval string, logger *slog.Logger) *Buffer {
	return &Buffer{
		source:   source,
		symbol:   symbol,
		interval: interval,
		logger:   logger.With(slog.String("component", "candle_buffer"), slog.String("symbol", symbol)),
	}
}

// Start performs the initial backfill and then launches the periodic refresh
// at the given period. Backfill failure is fatal; refresh failures are logged
// and retried on the next tick.
func (b *Buffer) Start(ctx context.Context, period time.Duration) error {
	backfill, err := b.source.Candles(ctx, b.symbol, b.interval, backfillLimit)
	if err != nil {
		return fmt.Errorf("candles: backfill %s %s: %w", b.symbol, b.interval, err)
	}
	if len(backfill) == 0 {
		return fmt.Errorf("candles: backfill %s %s: empty response", b.symbol, b.interval)
	}

	b.mu.Lock()
	b.window = mergeAndTrim(nil, backfill, windowCap)
	count := len(b.window)
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "backfill complete",
		slog.Int("candles", count),
		slog.String("interval", b.interval),
	)

	refreshCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.refreshLoop(refreshCtx, period)

	return nil
}

// Stop terminates the refresh goroutine and waits for it to exit. Safe to
// call when Start never ran.
func (b *Buffer) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
	b.cancel = nil
}

// refreshLoop fetches the candle tail on every tick and merges it into the
// window.
func (b *Buffer) refreshLoop(ctx context.Context, period time.Duration) {
	defer close(b.done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.refresh(ctx); err != nil {
				b.logger.WarnContext(ctx, "refresh failed, retrying next tick",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// refresh fetches the latest candles and merges them into the window. A
// failed fetch leaves the window untouched.
func (b *Buffer) refresh(ctx context.Context) error {
	fresh, err := b.source.Candles(ctx, b.symbol, b.interval, refreshLimit)
	if err != nil {
		return fmt.Errorf("candles: refresh %s: %w", b.symbol, err)
	}

	b.mu.Lock()
	b.window = mergeAndTrim(b.window, fresh, windowCap)
	b.mu.Unlock()
	return nil
}

// Get returns a copy of the last n candles, oldest first. n <= 0 or n larger
// than the window returns the whole window.
func (b *Buffer) Get(n int) []domain.Candle {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n > len(b.window) {
		n = len(b.window)
	}
	out := make([]domain.Candle, n)
	copy(out, b.window[len(b.window)-n:])
	return out
}

// HasEnough reports whether at least min candles are buffered.
func (b *Buffer) HasEnough(min int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.window) >= min
}

// Stats returns a window summary.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{Count: len(b.window)}
	if len(b.window) > 0 {
		first := b.window[0]
		last := b.window[len(b.window)-1]
		s.FirstClose = first.Close
		s.LastClose = last.Close
		s.FirstTime = first.OpenTime
		s.LastTime = last.OpenTime
	}
	return s
}

// mergeAndTrim merges fresh candles into the window, de-duplicates by
// OpenTime keeping the newer record (the venue re-emits the forming candle
// with updated close and volume), sorts by OpenTime, and trims to cap from
// the front. The operation is idempotent: applying it twice with the same
// input yields the same window.
func mergeAndTrim(window, fresh []domain.Candle, cap int) []domain.Candle {
	byOpen := make(map[int64]domain.Candle, len(window)+len(fresh))
	for _, c := range window {
		byOpen[c.OpenTime.UnixMilli()] = c
	}
	for _, c := range fresh {
		byOpen[c.OpenTime.UnixMilli()] = c
	}

	merged := make([]domain.Candle, 0, len(byOpen))
	for _, c := range byOpen {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].OpenTime.Before(merged[j].OpenTime)
	})

	if len(merged) > cap {
		merged = merged[len(merged)-cap:]
	}
	return merged
}
