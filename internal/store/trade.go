package store

import (
	"sync"

	"github.com/pondbot/market/internal/domain"
	"github.com/pondbot/market/internal/journal"
)

// TradeLedger is the append-only record of executed trades, keyed by
// item and chronological within each item. When a journal is attached,
// every execution is also written through to it and the in-memory state
// is rebuilt from it on startup.
type TradeLedger struct {
	mu         sync.RWMutex
	executions map[string][]*domain.TradeExecution // item_id → executions
	journal    *journal.TradeJournal               // nil when durability is disabled
}

// NewTradeLedger creates a TradeLedger. A non-nil journal is replayed
// into memory before the ledger is returned.
func NewTradeLedger(j *journal.TradeJournal) (*TradeLedger, error) {
	l := &TradeLedger{
		executions: make(map[string][]*domain.TradeExecution),
		journal:    j,
	}
	if j != nil {
		err := j.Replay(func(exec *domain.TradeExecution) error {
			l.executions[exec.ItemID] = append(l.executions[exec.ItemID], exec)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Append adds an execution to the item's chronological list and, when a
// journal is attached, durably persists it.
func (l *TradeLedger) Append(exec *domain.TradeExecution) error {
	l.mu.Lock()
	l.executions[exec.ItemID] = append(l.executions[exec.ItemID], exec)
	l.mu.Unlock()

	if l.journal != nil {
		return l.journal.Append(exec)
	}
	return nil
}

// ByItem returns all executions for an item in chronological order.
// Returns an empty slice if the item has never traded.
func (l *TradeLedger) ByItem(itemID string) []*domain.TradeExecution {
	l.mu.RLock()
	defer l.mu.RUnlock()

	execs := l.executions[itemID]
	// Return a copy to avoid callers mutating the internal slice.
	result := make([]*domain.TradeExecution, len(execs))
	copy(result, execs)
	return result
}

// Items returns the ids of every item that has at least one execution.
func (l *TradeLedger) Items() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.executions))
	for id := range l.executions {
		ids = append(ids, id)
	}
	return ids
}
