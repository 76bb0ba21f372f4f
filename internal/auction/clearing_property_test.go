package auction

import (
	"math"
	"testing"

	"pgregory.net/rapid"

	"github.com/voltsim/market-engine/internal/model"
)

// drawWrappers generates one side of a book as sorted wrappers.
func drawWrappers(t *rapid.T, label string, sign float64) []*orderWrapper {
	n := rapid.IntRange(0, 8).Draw(t, label+"_n")
	out := make([]*orderWrapper, 0, n)
	for i := 0; i < n; i++ {
		qty := sign * rapid.Float64Range(0.1, 50).Draw(t, label+"_qty")
		var price *float64
		if rapid.Bool().Draw(t, label+"_limit") {
			p := rapid.Float64Range(1, 100).Draw(t, label+"_price")
			price = &p
		}
		out = append(out, wrap(&model.Order{QuantityMWh: qty, LimitPrice: price}))
	}
	sortWrappers(out)
	return out
}

func TestMatchProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		bids := drawWrappers(t, "bid", 1)
		asks := drawWrappers(t, "ask", -1)

		res := matchLists(bids, asks)

		// Energy conservation: matched bid and ask volume are equal.
		boughtTotal, soldTotal := 0.0, 0.0
		for _, w := range bids {
			boughtTotal += w.executedQty
		}
		for _, w := range asks {
			soldTotal -= w.executedQty
		}
		if math.Abs(boughtTotal-soldTotal) > 1e-6 {
			t.Fatalf("bought %v != sold %v", boughtTotal, soldTotal)
		}

		tradeSum := 0.0
		for _, tr := range res.trades {
			if tr.qtyMWh <= 0 {
				t.Fatalf("non-positive trade quantity %v", tr.qtyMWh)
			}
			tradeSum += tr.qtyMWh
		}
		if math.Abs(tradeSum-res.totalQty) > 1e-6 {
			t.Fatalf("trade sum %v != total %v", tradeSum, res.totalQty)
		}

		// No wrapper overfills.
		for _, w := range bids {
			if w.executedQty > w.adjustedQty+1e-6 {
				t.Fatalf("bid overfilled: executed %v of %v", w.executedQty, w.adjustedQty)
			}
		}
		for _, w := range asks {
			if w.executedQty < w.adjustedQty-1e-6 {
				t.Fatalf("ask overfilled: executed %v of %v", w.executedQty, w.adjustedQty)
			}
		}

		// Residual heads are uncrossed: no further limit match is possible.
		if len(res.residualBids) > 0 && len(res.residualAsks) > 0 {
			bid, ask := res.residualBids[0], res.residualAsks[0]
			if !bid.isMarket() && !ask.isMarket() && -*bid.price >= *ask.price {
				t.Fatalf("residual heads still cross: bid %v, ask %v", -*bid.price, *ask.price)
			}
		}
	})
}

func TestClearingPriceBound(t *testing.T) {
	e, _ := newTestEngine(t, testCfg())

	rapid.Check(t, func(t *rapid.T) {
		askPrice := rapid.Float64Range(1, 100).Draw(t, "ask")
		// Bid must cover the ask for a limit-limit match to form.
		bidMagnitude := rapid.Float64Range(askPrice, 200).Draw(t, "bid")
		storedBid := -bidMagnitude

		price := e.clearingPrice(&storedBid, &askPrice)
		if price < askPrice-1e-9 || price > bidMagnitude+1e-9 {
			t.Fatalf("price %v outside [%v, %v]", price, askPrice, bidMagnitude)
		}
	})
}
