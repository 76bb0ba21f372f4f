// Package auction implements the wholesale double auction: order intake,
// per-timeslot matching, clearing-price formation, and market position
// limits.
//
// The engine runs one clearing cycle per timeslot activation. Orders are
// matched per delivery timeslot at a single clearing price; unmatched
// residuals are published in the order book. All per-cycle structures are
// locals — between cycles the engine keeps only the intake buffer and the
// previous cycle's enabled-timeslot set.
package auction

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/voltsim/market-engine/internal/config"
	"github.com/voltsim/market-engine/internal/metrics"
	"github.com/voltsim/market-engine/internal/model"
	"github.com/voltsim/market-engine/internal/store"
)

// epsilon is the quantity resolution: a remaining quantity within epsilon of
// zero counts as fully filled.
const epsilon = 1e-6

// Publisher broadcasts clearing results to connected brokers. A nil
// Publisher disables broadcasting.
type Publisher interface {
	PublishOrderBook(ob *model.OrderBook)
	PublishClearedTrade(t *model.ClearedTrade)
	PublishOrderStatus(st *model.OrderStatus)
}

// Engine is the market clearing engine.
type Engine struct {
	cfg    config.AuctionConfig
	store  store.Store
	pub    Publisher
	intake *Intake

	// prevEnabled is the enabled set retained from the previous cycle. The
	// position-limit pass interpolates lead time against it because broker
	// positions already reflect the cycle that set it.
	prevEnabled []int64
}

// NewEngine creates a clearing engine. Pass nil for pub if broadcasting is
// not needed.
func NewEngine(cfg config.AuctionConfig, st store.Store, pub Publisher) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  st,
		pub:    pub,
		intake: NewIntake(cfg.MinimumOrderQuantity),
	}
}

// Submit validates and buffers an order for the next clearing cycle.
// Safe for concurrent callers. A disabled-timeslot rejection additionally
// broadcasts an OrderStatus notice to the submitting broker; other
// rejections are dropped with a log entry only.
func (e *Engine) Submit(o *model.Order, enabled []int64) error {
	enabledSet := make(map[int64]bool, len(enabled))
	for _, ts := range enabled {
		enabledSet[ts] = true
	}

	err := e.intake.Submit(o, enabledSet)
	if err == nil {
		metrics.OrdersSubmitted.WithLabelValues("accepted").Inc()
		return nil
	}

	slog.Info("order rejected",
		"broker", o.BrokerID,
		"timeslot", o.Timeslot,
		"qty_mwh", o.QuantityMWh,
		"reason", err.Error(),
	)
	if errors.Is(err, ErrTimeslotDisabled) {
		metrics.OrdersSubmitted.WithLabelValues("rejected_disabled_timeslot").Inc()
		if e.pub != nil {
			e.pub.PublishOrderStatus(&model.OrderStatus{
				BrokerID: o.BrokerID,
				OrderID:  o.ID,
				Status:   model.OrderStatusRejected,
				Reason:   "timeslot disabled",
			})
		}
	} else {
		metrics.OrdersSubmitted.WithLabelValues("rejected_invalid").Inc()
	}
	return err
}

// Clear runs one clearing cycle: drain the intake, partition and sort per
// delivery timeslot, enforce position limits, match, form the clearing
// price, post ledger transactions, and publish order books and cleared
// trades. Store failures are logged and do not abort the cycle.
func (e *Engine) Clear(ctx context.Context, current int64, enabled []int64) {
	started := time.Now()
	defer func() {
		metrics.ClearingDuration.Observe(time.Since(started).Seconds())
	}()

	orders := e.intake.Drain()

	bids := make(map[int64][]*orderWrapper)
	asks := make(map[int64][]*orderWrapper)
	for _, o := range orders {
		w := wrap(o)
		if math.Abs(w.adjustedQty) < epsilon {
			continue
		}
		if w.adjustedQty > 0 {
			bids[o.Timeslot] = append(bids[o.Timeslot], w)
		} else {
			asks[o.Timeslot] = append(asks[o.Timeslot], w)
		}
	}

	for _, list := range bids {
		sortWrappers(list)
	}
	for _, list := range asks {
		sortWrappers(list)
	}

	// The interpolation window comes from the retained set: positions
	// already include the trades of the cycle that produced it.
	window := e.prevEnabled
	if len(window) == 0 {
		window = enabled
	}

	executedAt := time.Now().UTC()
	for _, ts := range enabled {
		bl := bids[ts]
		al := asks[ts]

		e.recordAskRange(ctx, ts, al)

		if len(bl) > 0 {
			bl = e.applyPositionLimits(ctx, bl, ts, current, len(window))
		}

		res := matchLists(bl, al)

		var price *float64
		if len(res.trades) > 0 {
			p := e.clearingPrice(res.lastBidPrice, res.lastAskPrice)
			price = &p
			e.postTrades(ctx, ts, res.trades, p, executedAt)
		}

		ob := buildOrderBook(ts, price, res.residualBids, res.residualAsks, executedAt)
		if err := e.store.SaveOrderBook(ctx, ob); err != nil {
			slog.Error("save order book failed", "timeslot", ts, "err", err)
		}
		if e.pub != nil {
			e.pub.PublishOrderBook(ob)
		}

		if res.totalQty > 0 {
			trade := &model.ClearedTrade{
				Timeslot:    ts,
				QuantityMWh: res.totalQty,
				Price:       *price,
				ExecutedAt:  executedAt,
			}
			if err := e.store.SaveClearedTrade(ctx, trade); err != nil {
				slog.Error("save cleared trade failed", "timeslot", ts, "err", err)
			}
			if e.pub != nil {
				e.pub.PublishClearedTrade(trade)
			}
			metrics.TradesCleared.Inc()
			metrics.ClearedVolumeMWh.Add(res.totalQty)

			slog.Info("timeslot cleared",
				"timeslot", ts,
				"qty_mwh", res.totalQty,
				"price", *price,
			)
		}
	}

	e.prevEnabled = append([]int64(nil), enabled...)
}

func sortWrappers(list []*orderWrapper) {
	sort.SliceStable(list, func(i, j int) bool {
		return compareWrappers(list[i], list[j]) < 0
	})
}

// applyPositionLimits walks a sorted bid list and clamps each non-wholesale
// broker's bids so its post-cycle position cannot exceed the lead-time
// interpolated limit. Returns the list with zero-quantity wrappers removed.
func (e *Engine) applyPositionLimits(ctx context.Context, bl []*orderWrapper, ts, current int64, numEnabled int) []*orderWrapper {
	limit := e.interpolatedLimit(ts, current, numEnabled)

	headroom := make(map[string]float64)
	wholesale := make(map[string]bool)

	out := bl[:0]
	for _, w := range bl {
		brokerID := w.order.BrokerID

		exempt, seen := wholesale[brokerID]
		if !seen {
			b, err := e.store.GetBroker(ctx, brokerID)
			exempt = err == nil && b.Wholesale
			wholesale[brokerID] = exempt
		}
		if exempt {
			out = append(out, w)
			continue
		}

		head, ok := headroom[brokerID]
		if !ok {
			pos, err := e.store.GetMarketPosition(ctx, brokerID, ts)
			if err != nil {
				slog.Warn("market position lookup failed", "broker", brokerID, "timeslot", ts, "err", err)
			}
			head = math.Max(0, limit-pos)
		}

		head -= w.adjustedQty
		if head < 0 {
			clamped := math.Max(0, w.adjustedQty+head)
			slog.Info("bid clamped by position limit",
				"broker", brokerID,
				"timeslot", ts,
				"requested_mwh", w.adjustedQty,
				"granted_mwh", clamped,
				"limit", limit,
			)
			metrics.PositionLimitAdjustments.Inc()
			w.adjustedQty = clamped
			head = 0
		}
		headroom[brokerID] = head

		if w.adjustedQty >= epsilon {
			out = append(out, w)
		}
	}
	return out
}

// interpolatedLimit computes the position limit for a delivery timeslot:
// MktPosnLimitFinal at zero lead time rising linearly to MktPosnLimitInitial
// at the far edge of the enabled window.
func (e *Engine) interpolatedLimit(ts, current int64, numEnabled int) float64 {
	if numEnabled <= 1 {
		return e.cfg.MktPosnLimitInitial
	}
	frac := float64(ts-current) / float64(numEnabled-1)
	return e.cfg.MktPosnLimitFinal + (e.cfg.MktPosnLimitInitial-e.cfg.MktPosnLimitFinal)*frac
}

// recordAskRange stores the min/max non-market ask limit prices for a
// timeslot; the balancing engine reads them as marginal-price inputs.
func (e *Engine) recordAskRange(ctx context.Context, ts int64, al []*orderWrapper) {
	r := &model.AskPriceRange{Timeslot: ts}
	for _, w := range al {
		if w.isMarket() {
			continue
		}
		p := *w.order.LimitPrice
		if r.Min == nil || p < *r.Min {
			v := p
			r.Min = &v
		}
		if r.Max == nil || p > *r.Max {
			v := p
			r.Max = &v
		}
	}
	if err := e.store.SaveAskPriceRange(ctx, r); err != nil {
		slog.Error("save ask price range failed", "timeslot", ts, "err", err)
	}
}

// pendingTrade is one matched bid/ask pair awaiting ledger posting.
type pendingTrade struct {
	buyerID  string
	sellerID string
	qtyMWh   float64
}

// matchResult is the outcome of matching one timeslot's sorted lists.
type matchResult struct {
	trades       []pendingTrade
	lastBidPrice *float64 // nil when the last matched bid was a market order
	lastAskPrice *float64
	totalQty     float64
	residualBids []*orderWrapper
	residualAsks []*orderWrapper
}

// matchLists runs the double-auction match loop over sorted bid and ask
// lists: while both heads are compatible (either is a market order, or the
// bid's willingness to pay covers the ask), transfer the smaller remaining
// quantity and drop filled wrappers.
func matchLists(bids, asks []*orderWrapper) matchResult {
	var res matchResult

	for len(bids) > 0 && len(asks) > 0 {
		bid, ask := bids[0], asks[0]
		if !bid.isMarket() && !ask.isMarket() && -*bid.price < *ask.price {
			break
		}

		transfer := math.Min(bid.remaining(), -ask.remaining())
		if transfer < epsilon {
			break
		}

		bid.executedQty += transfer
		ask.executedQty -= transfer
		res.lastBidPrice = bid.price
		res.lastAskPrice = ask.price
		res.totalQty += transfer
		res.trades = append(res.trades, pendingTrade{
			buyerID:  bid.order.BrokerID,
			sellerID: ask.order.BrokerID,
			qtyMWh:   transfer,
		})

		if bid.filled() {
			bids = bids[1:]
		}
		if ask.filled() {
			asks = asks[1:]
		}
	}

	res.residualBids = bids
	res.residualAsks = asks
	return res
}

// clearingPrice forms the single price all matched trades settle at. The
// stored bid price is negative (broker cash-flow sign), so -bid is the
// buyer's willingness to pay.
func (e *Engine) clearingPrice(lastBid, lastAsk *float64) float64 {
	switch {
	case lastBid != nil && lastAsk != nil:
		price := *lastAsk + e.cfg.SellerSurplusRatio*(-*lastBid-*lastAsk)
		ceiling := *lastAsk * (1 + e.cfg.SellerMaxMargin)
		if price > ceiling {
			price = ceiling
		}
		return price
	case lastBid != nil:
		// Last matched ask was a market order.
		return -*lastBid / (1 + e.cfg.DefaultMargin)
	case lastAsk != nil:
		// Last matched bid was a market order.
		return *lastAsk * (1 + e.cfg.DefaultMargin)
	default:
		return e.cfg.DefaultClearingPrice
	}
}

// postTrades posts one market transaction per side of each matched pair:
// the buyer pays the clearing price, the seller receives it.
func (e *Engine) postTrades(ctx context.Context, ts int64, trades []pendingTrade, price float64, at time.Time) {
	pay := decimal.NewFromFloat(-price)
	receive := decimal.NewFromFloat(price)

	for _, t := range trades {
		buyerTx := &model.MarketTransaction{
			ID:          uuid.New().String(),
			BrokerID:    t.buyerID,
			Timeslot:    ts,
			QuantityMWh: t.qtyMWh,
			Price:       pay,
			CreatedAt:   at,
		}
		sellerTx := &model.MarketTransaction{
			ID:          uuid.New().String(),
			BrokerID:    t.sellerID,
			Timeslot:    ts,
			QuantityMWh: -t.qtyMWh,
			Price:       receive,
			CreatedAt:   at,
		}
		if err := e.store.AddMarketTransaction(ctx, buyerTx); err != nil {
			slog.Error("post buyer transaction failed", "broker", t.buyerID, "timeslot", ts, "err", err)
		}
		if err := e.store.AddMarketTransaction(ctx, sellerTx); err != nil {
			slog.Error("post seller transaction failed", "broker", t.sellerID, "timeslot", ts, "err", err)
		}
	}
}

// buildOrderBook assembles the published order book from the residual
// wrappers, in the submitted price convention.
func buildOrderBook(ts int64, price *float64, bids, asks []*orderWrapper, at time.Time) *model.OrderBook {
	ob := &model.OrderBook{
		Timeslot:      ts,
		ClearingPrice: price,
		Bids:          []model.OrderBookEntry{},
		Asks:          []model.OrderBookEntry{},
		ClearedAt:     at,
	}
	for _, w := range bids {
		if w.filled() {
			continue
		}
		ob.Bids = append(ob.Bids, model.OrderBookEntry{
			QuantityMWh: w.remaining(),
			LimitPrice:  w.order.LimitPrice,
		})
	}
	for _, w := range asks {
		if w.filled() {
			continue
		}
		ob.Asks = append(ob.Asks, model.OrderBookEntry{
			QuantityMWh: w.remaining(),
			LimitPrice:  w.order.LimitPrice,
		})
	}
	return ob
}
