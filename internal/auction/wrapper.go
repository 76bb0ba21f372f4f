package auction

import (
	"math"

	"github.com/voltsim/market-engine/internal/model"
)

// orderWrapper is the per-cycle working view of an order: its limit price in
// broker cash-flow sign (negative for bids, positive for asks, nil for
// market orders), the quantity after position-limit clamping, and the
// running fill. Created fresh each clearing cycle and discarded after.
type orderWrapper struct {
	order       *model.Order
	price       *float64 // signed; nil = market order
	adjustedQty float64  // signed; bids positive, asks negative
	executedQty float64  // signed running fill
}

func wrap(o *model.Order) *orderWrapper {
	w := &orderWrapper{order: o, adjustedQty: o.QuantityMWh}
	if o.LimitPrice != nil {
		p := *o.LimitPrice
		if o.IsBid() {
			p = -p
		}
		w.price = &p
	}
	return w
}

// remaining returns the unfilled signed quantity.
func (w *orderWrapper) remaining() float64 { return w.adjustedQty - w.executedQty }

func (w *orderWrapper) isMarket() bool { return w.price == nil }

// filled reports whether the wrapper's remaining quantity is within epsilon
// of zero.
func (w *orderWrapper) filled() bool { return math.Abs(w.remaining()) < epsilon }

// compareWrappers is the total order shared by both sides of the book:
// market orders sort before all limit orders; among market orders, larger
// magnitude first; limit orders ascend by signed price, which puts the most
// aggressive bid (highest submitted price, most negative stored) and the
// cheapest ask first; ties break by descending magnitude.
func compareWrappers(a, b *orderWrapper) int {
	switch {
	case a.isMarket() && b.isMarket():
		return compareMagnitude(a, b)
	case a.isMarket():
		return -1
	case b.isMarket():
		return 1
	}
	if *a.price != *b.price {
		if *a.price < *b.price {
			return -1
		}
		return 1
	}
	return compareMagnitude(a, b)
}

func compareMagnitude(a, b *orderWrapper) int {
	am, bm := math.Abs(a.adjustedQty), math.Abs(b.adjustedQty)
	switch {
	case am > bm:
		return -1
	case am < bm:
		return 1
	}
	return 0
}
