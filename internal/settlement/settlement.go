// Package settlement implements the balancing settlement engine: per-broker
// imbalance computation and the pluggable strategy that converts imbalances
// into balancing charges. Two strategies exist, selected by configuration:
// a proportional allocator backed by a quadratic program, and a VCG-style
// exerciser of standing balancing orders.
//
// All monetary values follow the broker cash-flow convention: negative
// means the broker owes money. Energy is MWh in the market domain and kWh
// in the settlement domain; the conversion happens exactly once, in
// buildChargeInfos.
package settlement

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/voltsim/market-engine/internal/capacity"
	"github.com/voltsim/market-engine/internal/config"
	"github.com/voltsim/market-engine/internal/metrics"
	"github.com/voltsim/market-engine/internal/model"
	"github.com/voltsim/market-engine/internal/store"
)

const epsilon = 1e-6

// Publisher broadcasts settlement results. A nil Publisher disables
// broadcasting.
type Publisher interface {
	PublishBalanceReport(r *model.BalanceReport)
}

// ChargeInfo is the per-broker working record of one settlement cycle.
// Created fresh each cycle, mutated by the strategy, discarded after.
type ChargeInfo struct {
	BrokerID     string
	NetLoadKWh   float64
	ImbalanceKWh float64
	Charge       float64 // negative = broker owes
	Orders       []model.BalancingOrder
}

// Context carries the cycle-wide settlement inputs shared by both
// strategies. PPlus and PMinus are per-kWh marginal prices in broker
// cash-flow sign: PPlus applies to deficits, PMinus to surpluses.
type Context struct {
	Timeslot          int64
	PPlus             float64
	PMinus            float64
	BalancingCost     float64
	TotalImbalanceKWh float64
}

// Strategy fills in each ChargeInfo's balancing charge for one cycle.
type Strategy interface {
	Name() string
	Settle(ctx context.Context, sc *Context, infos []*ChargeInfo)
}

// newStrategy maps the configured settlement-process name to a strategy.
// An unrecognized name falls back to the proportional allocator.
func newStrategy(name string, ctrl capacity.Controller) Strategy {
	switch name {
	case config.SettlementSimple:
		return &proportionalStrategy{}
	case config.SettlementStatic:
		return &exerciseStrategy{ctrl: ctrl}
	default:
		slog.Error("unrecognized settlement process, falling back to proportional", "name", name)
		return &proportionalStrategy{}
	}
}

// Engine is the balancing settlement engine.
type Engine struct {
	cfg      config.BalancingConfig
	store    store.Store
	pub      Publisher
	strategy Strategy
	rng      *rand.Rand
}

// NewEngine creates a settlement engine with the configured strategy. Pass
// nil for pub if broadcasting is not needed.
func NewEngine(cfg config.BalancingConfig, st store.Store, ctrl capacity.Controller, pub Publisher) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    st,
		pub:      pub,
		strategy: newStrategy(cfg.SettlementProcess, ctrl),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Settle runs one settlement cycle for a completed timeslot: compute
// per-broker imbalances, derive marginal prices from the cycle's ask price
// range, run the strategy, post balancing transactions, and publish the
// balance report. Store failures are logged and do not abort the cycle.
func (e *Engine) Settle(ctx context.Context, timeslot int64) {
	infos, err := e.buildChargeInfos(ctx, timeslot)
	if err != nil {
		slog.Error("settlement aborted", "timeslot", timeslot, "err", err)
		return
	}

	total := 0.0
	for _, ci := range infos {
		total += ci.ImbalanceKWh
	}
	metrics.NetImbalanceKWh.Set(total)

	pPlus, pMinus := e.marginalPrices(ctx, timeslot)
	sc := &Context{
		Timeslot:          timeslot,
		PPlus:             pPlus,
		PMinus:            pMinus,
		BalancingCost:     e.drawBalancingCost(),
		TotalImbalanceKWh: total,
	}

	e.strategy.Settle(ctx, sc, infos)

	createdAt := time.Now().UTC()
	for _, ci := range infos {
		if ci.Charge == 0 {
			continue
		}
		tx := &model.BalancingTransaction{
			ID:         newTxID(),
			BrokerID:   ci.BrokerID,
			Timeslot:   timeslot,
			NetLoadKWh: ci.NetLoadKWh,
			Charge:     decimal.NewFromFloat(ci.Charge),
			CreatedAt:  createdAt,
		}
		if err := e.store.AddBalancingTransaction(ctx, tx); err != nil {
			slog.Error("post balancing transaction failed", "broker", ci.BrokerID, "timeslot", timeslot, "err", err)
		}
		metrics.BalancingChargesTotal.WithLabelValues(e.strategy.Name()).Add(math.Abs(ci.Charge))
	}

	report := &model.BalanceReport{
		Timeslot:        timeslot,
		NetImbalanceKWh: total,
		CreatedAt:       createdAt,
	}
	if err := e.store.SaveBalanceReport(ctx, report); err != nil {
		slog.Error("save balance report failed", "timeslot", timeslot, "err", err)
	}
	if e.pub != nil {
		e.pub.PublishBalanceReport(report)
	}

	slog.Info("timeslot settled",
		"timeslot", timeslot,
		"strategy", e.strategy.Name(),
		"net_imbalance_kwh", total,
		"brokers", len(infos),
	)
}

// buildChargeInfos assembles the per-broker working records: imbalance from
// market position and reported net load, plus the broker's standing
// balancing orders. Wholesale brokers do not carry retail imbalance and are
// skipped.
func (e *Engine) buildChargeInfos(ctx context.Context, timeslot int64) ([]*ChargeInfo, error) {
	brokers, err := e.store.ListBrokers(ctx)
	if err != nil {
		return nil, err
	}
	netLoads, err := e.store.GetNetLoads(ctx, timeslot)
	if err != nil {
		return nil, err
	}
	orders, err := e.store.ListBalancingOrders(ctx)
	if err != nil {
		return nil, err
	}
	byBroker := make(map[string][]model.BalancingOrder)
	for _, bo := range orders {
		byBroker[bo.BrokerID] = append(byBroker[bo.BrokerID], bo)
	}

	infos := make([]*ChargeInfo, 0, len(brokers))
	for _, b := range brokers {
		if b.Wholesale {
			continue
		}
		pos, err := e.store.GetMarketPosition(ctx, b.ID, timeslot)
		if err != nil {
			slog.Warn("market position lookup failed", "broker", b.ID, "timeslot", timeslot, "err", err)
		}
		infos = append(infos, &ChargeInfo{
			BrokerID:     b.ID,
			NetLoadKWh:   netLoads[b.ID],
			ImbalanceKWh: pos*1000 + netLoads[b.ID],
			Orders:       byBroker[b.ID],
		})
	}

	// Deterministic transaction order across runs.
	sort.Slice(infos, func(i, j int) bool { return infos[i].BrokerID < infos[j].BrokerID })
	return infos, nil
}

// marginalPrices derives the per-kWh regulating-market prices from the
// cycle's ask price range: up-regulation prices off the maximum ask, down-
// regulation off the minimum. Both carry broker cash-flow sign, so a
// positive ask price becomes a negative per-kWh marginal price. Falls back
// to the configured default spot price when no range was recorded.
func (e *Engine) marginalPrices(ctx context.Context, timeslot int64) (pPlus, pMinus float64) {
	fallback := -e.cfg.DefaultSpotPrice / 1000
	pPlus, pMinus = fallback, fallback

	r, err := e.store.GetAskPriceRange(ctx, timeslot)
	if err != nil {
		slog.Warn("ask price range unavailable, using default spot price", "timeslot", timeslot, "err", err)
		return pPlus, pMinus
	}
	if r.Max != nil {
		pPlus = -*r.Max / 1000
	}
	if r.Min != nil {
		pMinus = -*r.Min / 1000
	}
	return pPlus, pMinus
}

// drawBalancingCost samples the flat per-kWh cost of sourcing the net
// imbalance from the regulating market.
func (e *Engine) drawBalancingCost() float64 {
	lo, hi := e.cfg.BalancingCostMin, e.cfg.BalancingCostMax
	if hi <= lo {
		return lo
	}
	return lo + e.rng.Float64()*(hi-lo)
}

func newTxID() string { return uuid.New().String() }

// baselineCharge is the flat marginal-price charge for an imbalance:
// deficits settle at pPlus, surpluses at pMinus.
func baselineCharge(imbalanceKWh, pPlus, pMinus float64) float64 {
	if imbalanceKWh < 0 {
		return -pPlus * imbalanceKWh
	}
	return -pMinus * imbalanceKWh
}
