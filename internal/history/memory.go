package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// MemoryStore is the in-process fallback used when Redis is unreachable.
// Same semantics as RedisStore minus persistence: the capped list, daily and
// global counters all live in the process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]domain.TradeRecord // symbol -> newest first
	daily   map[string]domain.TradeAggregate
	global  domain.TradeAggregate
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]domain.TradeRecord),
		daily:   make(map[string]domain.TradeAggregate),
	}
}

// RecordOpen prepends a PENDING envelope to the capped per-symbol list.
func (s *MemoryStore) RecordOpen(_ context.Context, record domain.TradeRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.Result = domain.ResultPending

	list := append([]domain.TradeRecord{record}, s.records[record.Symbol]...)
	if len(list) > listCap {
		list = list[:listCap]
	}
	s.records[record.Symbol] = list
	return record.ID, nil
}

// RecordClose attaches the exit and rolls the counters.
func (s *MemoryStore) RecordClose(_ context.Context, symbol, tradeID string, exit domain.TradeExit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.records[symbol]
	for i := range list {
		if list[i].ID != tradeID {
			continue
		}
		list[i].Exit = &exit
		list[i].Result = resultFor(exit)

		day := exit.Time.Format("2006-01-02")
		agg := s.daily[day]
		bump(&agg, list[i])
		s.daily[day] = agg
		bump(&s.global, list[i])
		return nil
	}
	return fmt.Errorf("history: record close %s: trade %s: %w", symbol, tradeID, domain.ErrNotFound)
}

// Context mirrors RedisStore.Context.
func (s *MemoryStore) Context(_ context.Context, symbol string) (domain.HistoryContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out domain.HistoryContext
	all := s.records[symbol]
	for _, r := range all {
		if r.Exit != nil && len(out.Recent) < recentWindow {
			out.Recent = append(out.Recent, r)
		}
	}
	out.Daily = s.daily[time.Now().Format("2006-01-02")]
	out.Global = s.global
	out.Patterns = derivePatterns(all, s.global)
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func bump(agg *domain.TradeAggregate, record domain.TradeRecord) {
	agg.Trades++
	agg.PnL += record.Exit.PnL
	switch record.Result {
	case domain.ResultWin:
		agg.Wins++
		agg.PnLFromWins += record.Exit.PnL
	case domain.ResultLiquidation:
		agg.Liquidations++
		agg.PnLFromLoss += record.Exit.PnL
	default:
		agg.Losses++
		agg.PnLFromLoss += record.Exit.PnL
	}
}

// Compile-time interface check.
var _ domain.HistoryStore = (*MemoryStore)(nil)
