// Package journal persists executed trades to a local pebble store so
// the trade ledger and market statistics survive restarts. Records are
// keyed by a monotonically increasing sequence number and replayed in
// order on startup.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/pondbot/market/internal/domain"
)

// record is the persisted form of a TradeExecution.
type record struct {
	ExecutionID string    `json:"execution_id"`
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
	BuyerID     string    `json:"buyer_id"`
	SellerID    string    `json:"seller_id"`
	ItemID      string    `json:"item_id"`
	Price       int64     `json:"price"`
	Quantity    int64     `json:"quantity"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// TradeJournal is an append-only durable log of trade executions.
type TradeJournal struct {
	db  *pebble.DB
	mu  sync.Mutex
	seq uint64 // last assigned sequence number
}

// Open opens (or creates) a journal at dir and positions the sequence
// counter after the last persisted record.
func Open(dir string) (*TradeJournal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open trade journal: %w", err)
	}

	j := &TradeJournal{db: db}

	iter, err := db.NewIter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open trade journal: %w", err)
	}
	if iter.Last() {
		j.seq = binary.BigEndian.Uint64(iter.Key())
	}
	if err := iter.Close(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open trade journal: %w", err)
	}

	return j, nil
}

// Close closes the underlying store.
func (j *TradeJournal) Close() error {
	return j.db.Close()
}

// Append durably writes one execution. Sequence numbers follow append
// order, which within one item matches execution order.
func (j *TradeJournal) Append(exec *domain.TradeExecution) error {
	val, err := json.Marshal(record{
		ExecutionID: exec.ExecutionID,
		BuyOrderID:  exec.BuyOrderID,
		SellOrderID: exec.SellOrderID,
		BuyerID:     exec.BuyerID,
		SellerID:    exec.SellerID,
		ItemID:      exec.ItemID,
		Price:       exec.Price,
		Quantity:    exec.Quantity,
		ExecutedAt:  exec.ExecutedAt,
	})
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", exec.ExecutionID, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, j.seq)
	return j.db.Set(key, val, pebble.Sync)
}

// Replay invokes fn for every persisted execution in append order.
// Replay stops at the first error fn returns.
func (j *TradeJournal) Replay(fn func(*domain.TradeExecution) error) error {
	iter, err := j.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("replay trade journal: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("decode journal record %d: %w", binary.BigEndian.Uint64(iter.Key()), err)
		}
		exec := &domain.TradeExecution{
			ExecutionID: rec.ExecutionID,
			BuyOrderID:  rec.BuyOrderID,
			SellOrderID: rec.SellOrderID,
			BuyerID:     rec.BuyerID,
			SellerID:    rec.SellerID,
			ItemID:      rec.ItemID,
			Price:       rec.Price,
			Quantity:    rec.Quantity,
			ExecutedAt:  rec.ExecutedAt,
		}
		if err := fn(exec); err != nil {
			return err
		}
	}
	return iter.Error()
}
