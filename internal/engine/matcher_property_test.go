package engine

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/pondbot/market/internal/domain"
)

// Property: total coins and items are conserved across any sequence of
// limit/market submissions and cancels, counting both wallet and escrow.
func TestProperty_MatchingConservesCoinsAndItems(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		const item = "carp"
		users := []string{"u1", "u2", "u3"}

		r := newRig()
		var totalCoins, totalItems int64
		for _, u := range users {
			coins := rapid.Int64Range(0, 5000).Draw(t, "coins_"+u)
			qty := rapid.Int64Range(0, 50).Draw(t, "items_"+u)
			r.addUser(t, u, coins, map[string]int64{item: qty})
			totalCoins += coins
			totalItems += qty
		}

		var submitted []string
		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			user := rapid.SampledFrom(users).Draw(t, "user")
			op := rapid.IntRange(0, 2).Draw(t, "op")
			qty := rapid.Int64Range(1, 10).Draw(t, "qty")
			price := rapid.Int64Range(1, 30).Draw(t, "price")

			switch op {
			case 0:
				side := domain.OrderSideBuy
				if rapid.Bool().Draw(t, "sell") {
					side = domain.OrderSideSell
				}
				o := limitOrder(user, side, item, price, qty)
				if _, err := r.matcher.SubmitLimit(o); err == nil {
					submitted = append(submitted, o.OrderID)
				}
			case 1:
				side := domain.OrderSideBuy
				if rapid.Bool().Draw(t, "sell") {
					side = domain.OrderSideSell
				}
				_, _ = r.matcher.SubmitMarket(marketOrder(user, side, item, qty))
			case 2:
				if len(submitted) > 0 {
					id := rapid.SampledFrom(submitted).Draw(t, "cancel_id")
					_, _ = r.matcher.Cancel(id)
				}
			}

			var coins, items int64
			for _, u := range users {
				bal, _ := r.wallet.GetBalance(u)
				qty, _ := r.wallet.GetQuantity(u, item)
				escrowCoins, escrowItems := r.assets.Reserved(u)
				coins += bal + escrowCoins
				items += qty + escrowItems[item]
			}
			if coins != totalCoins {
				t.Fatalf("coin conservation violated after step %d: got %d, want %d", i, coins, totalCoins)
			}
			if items != totalItems {
				t.Fatalf("item conservation violated after step %d: got %d, want %d", i, items, totalItems)
			}
		}
	})
}

// Property: FilledQuantity never decreases and never exceeds Quantity,
// and RemainingQuantity is always Quantity − FilledQuantity − CancelledQuantity.
func TestProperty_FillMonotonicity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		const item = "carp"
		r := newRig()
		r.addUser(t, "buyer", 1_000_000, nil)
		r.addUser(t, "seller", 0, map[string]int64{item: 10_000})

		var tracked []*domain.Order
		lastFilled := make(map[string]int64)

		steps := rapid.IntRange(2, 25).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			qty := rapid.Int64Range(1, 20).Draw(t, "qty")
			price := rapid.Int64Range(1, 20).Draw(t, "price")

			var o *domain.Order
			if rapid.Bool().Draw(t, "isBuy") {
				o = limitOrder("buyer", domain.OrderSideBuy, item, price, qty)
			} else {
				o = limitOrder("seller", domain.OrderSideSell, item, price, qty)
			}
			if _, err := r.matcher.SubmitLimit(o); err != nil {
				continue
			}
			tracked = append(tracked, o)

			for _, ord := range tracked {
				if ord.FilledQuantity < lastFilled[ord.OrderID] {
					t.Fatalf("order %s filled quantity decreased: %d → %d",
						ord.OrderID, lastFilled[ord.OrderID], ord.FilledQuantity)
				}
				if ord.FilledQuantity > ord.Quantity {
					t.Fatalf("order %s overfilled: %d > %d", ord.OrderID, ord.FilledQuantity, ord.Quantity)
				}
				if ord.FilledQuantity+ord.RemainingQuantity+ord.CancelledQuantity != ord.Quantity {
					t.Fatalf("order %s accounting broken: filled=%d remaining=%d cancelled=%d quantity=%d",
						ord.OrderID, ord.FilledQuantity, ord.RemainingQuantity, ord.CancelledQuantity, ord.Quantity)
				}
				lastFilled[ord.OrderID] = ord.FilledQuantity
			}
		}
	})
}

// Property: after any limit submission the book is never crossed — the
// best resting buy price is strictly below the best resting sell price.
func TestProperty_BookNeverCrossed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		const item = "carp"
		r := newRig()
		r.addUser(t, "buyer", 1_000_000, nil)
		r.addUser(t, "seller", 0, map[string]int64{item: 10_000})

		steps := rapid.IntRange(2, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			qty := rapid.Int64Range(1, 10).Draw(t, "qty")
			price := rapid.Int64Range(1, 50).Draw(t, "price")
			if rapid.Bool().Draw(t, "isBuy") {
				_, _ = r.matcher.SubmitLimit(limitOrder("buyer", domain.OrderSideBuy, item, price, qty))
			} else {
				_, _ = r.matcher.SubmitLimit(limitOrder("seller", domain.OrderSideSell, item, price, qty))
			}

			book := r.books.GetOrCreate(item)
			bestBuy, hasBuy := book.BestBuy()
			bestSell, hasSell := book.BestSell()
			if hasBuy && hasSell && bestBuy.Price >= bestSell.Price {
				t.Fatalf("book crossed after step %d: best buy %d >= best sell %d", i, bestBuy.Price, bestSell.Price)
			}
		}
	})
}

// Property: a market order's remainder never rests — after processing,
// the book on the order's own side contains only limit orders that were
// there before.
func TestProperty_MarketOrdersNeverRest(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		const item = "carp"
		r := newRig()
		r.addUser(t, "buyer", 1_000_000, nil)
		r.addUser(t, "seller", 0, map[string]int64{item: 10_000})

		// Seed some resting liquidity.
		seeds := rapid.IntRange(0, 5).Draw(t, "seeds")
		for i := 0; i < seeds; i++ {
			price := rapid.Int64Range(1, 20).Draw(t, fmt.Sprintf("seed_price_%d", i))
			qty := rapid.Int64Range(1, 10).Draw(t, fmt.Sprintf("seed_qty_%d", i))
			_, _ = r.matcher.SubmitLimit(limitOrder("seller", domain.OrderSideSell, item, price, qty))
		}

		book := r.books.GetOrCreate(item)
		buysBefore, sellsBefore := book.BuyCount(), book.SellCount()

		qty := rapid.Int64Range(1, 100).Draw(t, "qty")
		side := domain.OrderSideBuy
		if rapid.Bool().Draw(t, "isSell") {
			side = domain.OrderSideSell
		}
		o := marketOrder("buyer", side, item, qty)
		if side == domain.OrderSideSell {
			o.UserID = "seller"
		}
		_, _ = r.matcher.SubmitMarket(o)

		if book.BuyCount() > buysBefore || book.SellCount() > sellsBefore {
			t.Fatalf("market order rested on the book: buys %d→%d sells %d→%d",
				buysBefore, book.BuyCount(), sellsBefore, book.SellCount())
		}
		if !o.Terminal() && o.FilledQuantity != o.Quantity {
			t.Fatalf("market order left non-terminal: %s", o.Status)
		}
	})
}

// Property: two resting sells at the same price always fill in creation
// order, regardless of submission quantities.
func TestProperty_PriceTimePriorityFIFO(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		const item = "carp"
		r := newRig()
		r.addUser(t, "early", 0, map[string]int64{item: 1000})
		r.addUser(t, "late", 0, map[string]int64{item: 1000})
		r.addUser(t, "buyer", 1_000_000, nil)

		price := rapid.Int64Range(1, 50).Draw(t, "price")
		qtyEarly := rapid.Int64Range(1, 20).Draw(t, "qtyEarly")
		qtyLate := rapid.Int64Range(1, 20).Draw(t, "qtyLate")

		first := limitOrder("early", domain.OrderSideSell, item, price, qtyEarly)
		_, _ = r.matcher.SubmitLimit(first)
		second := limitOrder("late", domain.OrderSideSell, item, price, qtyLate)
		_, _ = r.matcher.SubmitLimit(second)

		takeQty := rapid.Int64Range(1, qtyEarly).Draw(t, "takeQty")
		buy := marketOrder("buyer", domain.OrderSideBuy, item, takeQty)
		execs, err := r.matcher.SubmitMarket(buy)
		if err != nil {
			t.Fatalf("market buy failed: %v", err)
		}

		// The take is at most the earlier order's size, so the later
		// order must be completely untouched.
		if second.FilledQuantity != 0 {
			t.Fatalf("later order filled %d before the earlier one drained", second.FilledQuantity)
		}
		var filled int64
		for _, e := range execs {
			filled += e.Quantity
		}
		if filled != takeQty || first.FilledQuantity != takeQty {
			t.Fatalf("earlier order filled %d, executions %d, want %d", first.FilledQuantity, filled, takeQty)
		}
	})
}
