package store

import (
	"testing"
	"time"

	"github.com/pondbot/market/internal/domain"
	"github.com/pondbot/market/internal/journal"
)

func newExec(id, itemID string, price, qty int64) *domain.TradeExecution {
	return &domain.TradeExecution{
		ExecutionID: id,
		BuyOrderID:  "b-" + id,
		SellOrderID: "s-" + id,
		BuyerID:     "buyer",
		SellerID:    "seller",
		ItemID:      itemID,
		Price:       price,
		Quantity:    qty,
		ExecutedAt:  time.Now(),
	}
}

func TestTradeLedger_AppendAndByItem(t *testing.T) {
	l, err := NewTradeLedger(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_ = l.Append(newExec("e1", "carp", 10, 2))
	_ = l.Append(newExec("e2", "carp", 11, 1))
	_ = l.Append(newExec("e3", "rod", 50, 1))

	carp := l.ByItem("carp")
	if len(carp) != 2 || carp[0].ExecutionID != "e1" || carp[1].ExecutionID != "e2" {
		t.Errorf("carp executions = %v", execIDs(carp))
	}
	if len(l.ByItem("bait")) != 0 {
		t.Error("expected no executions for untraded item")
	}
	if len(l.Items()) != 2 {
		t.Errorf("items = %v, want 2 entries", l.Items())
	}
}

func TestTradeLedger_ByItemReturnsCopy(t *testing.T) {
	l, _ := NewTradeLedger(nil)
	_ = l.Append(newExec("e1", "carp", 10, 2))

	execs := l.ByItem("carp")
	execs[0] = nil
	if l.ByItem("carp")[0] == nil {
		t.Error("caller mutation leaked into the ledger")
	}
}

func TestTradeLedger_RebuildsFromJournal(t *testing.T) {
	dir := t.TempDir()

	j, err := journal.Open(dir)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	l, err := NewTradeLedger(j)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	_ = l.Append(newExec("e1", "carp", 10, 2))
	_ = l.Append(newExec("e2", "carp", 12, 4))
	if err := j.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	j2, err := journal.Open(dir)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer j2.Close()

	rebuilt, err := NewTradeLedger(j2)
	if err != nil {
		t.Fatalf("rebuild ledger: %v", err)
	}
	execs := rebuilt.ByItem("carp")
	if len(execs) != 2 || execs[0].ExecutionID != "e1" || execs[1].ExecutionID != "e2" {
		t.Errorf("rebuilt executions = %v, want [e1 e2]", execIDs(execs))
	}
}

func execIDs(execs []*domain.TradeExecution) []string {
	out := make([]string, len(execs))
	for i, e := range execs {
		if e != nil {
			out[i] = e.ExecutionID
		}
	}
	return out
}
