package settlement

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/voltsim/market-engine/internal/capacity"
	"github.com/voltsim/market-engine/internal/metrics"
)

// exerciseStrategy resolves the system imbalance by exercising the cheapest
// curtailable balancing orders, priced by VCG-style substitution: each
// exercised broker is paid the integrated cost of covering its exercised
// quantity from the next-cheapest non-exercised orders, not its own bid.
// A synthetic regulating-market order priced at the marginal price caps the
// walk, so the strategy degrades to flat marginal pricing when no
// controllable capacity exists.
type exerciseStrategy struct {
	ctrl capacity.Controller
}

func (s *exerciseStrategy) Name() string { return "exercise" }

// candidate is one balancing order in the exercise walk. The dummy
// regulating-market candidate has an empty broker ID.
type candidate struct {
	orderID      string
	brokerID     string
	priceKWh     float64
	capacityKWh  float64
	exercisedKWh float64
}

func (c *candidate) remaining() float64 { return c.capacityKWh - c.exercisedKWh }
func (c *candidate) isDummy() bool      { return c.brokerID == "" }

func (s *exerciseStrategy) Settle(ctx context.Context, sc *Context, infos []*ChargeInfo) {
	// The baseline marginal-price charge applies to every broker's full
	// imbalance. The VCG payments below are additive: they compensate the
	// curtailment, not replace the imbalance settlement.
	for _, ci := range infos {
		ci.Charge = baselineCharge(ci.ImbalanceKWh, sc.PPlus, sc.PMinus)
	}

	total := sc.TotalImbalanceKWh
	if math.Abs(total) < epsilon {
		return
	}

	cands := s.gatherCandidates(ctx, sc, infos)
	if len(cands) == 0 {
		return
	}

	exerciseWalk(cands, math.Abs(total))

	for _, ci := range infos {
		s.settleBroker(ctx, sc, ci, cands)
	}
}

// gatherCandidates collects the balancing orders able to resolve the
// imbalance direction, queries their curtailable capacity, sorts them by
// price, and appends the regulating-market dummy.
func (s *exerciseStrategy) gatherCandidates(ctx context.Context, sc *Context, infos []*ChargeInfo) []*candidate {
	deficit := sc.TotalImbalanceKWh < 0

	var cands []*candidate
	for _, ci := range infos {
		for _, bo := range ci.Orders {
			if deficit && !bo.PowerType.IsConsumption() {
				continue
			}
			if !deficit && !bo.PowerType.IsProduction() {
				continue
			}
			kwh, err := s.ctrl.GetCurtailableUsage(ctx, bo.ID, sc.Timeslot)
			if err != nil {
				slog.Warn("curtailable capacity unavailable, treating as zero",
					"order", bo.ID, "broker", ci.BrokerID, "err", err)
				kwh = 0
			}
			if math.Abs(kwh) < epsilon {
				continue
			}
			cands = append(cands, &candidate{
				orderID:     bo.ID,
				brokerID:    ci.BrokerID,
				priceKWh:    bo.PriceKWh,
				capacityKWh: math.Abs(kwh),
			})
		}
	}

	marginal := sc.PMinus
	if deficit {
		marginal = sc.PPlus
	}
	cands = append(cands, &candidate{
		priceKWh:    math.Abs(marginal),
		capacityKWh: math.Abs(sc.TotalImbalanceKWh),
	})

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].priceKWh < cands[j].priceKWh
	})
	return cands
}

// exerciseWalk greedily consumes price-sorted capacity until the needed
// quantity is covered. The dummy's capacity equals the full need, so the
// walk always terminates with the need satisfied.
func exerciseWalk(cands []*candidate, neededKWh float64) {
	for _, c := range cands {
		if neededKWh < epsilon {
			return
		}
		take := math.Min(neededKWh, c.capacityKWh)
		c.exercisedKWh = take
		neededKWh -= take
	}
}

// settleBroker prices and commits one broker's exercised quantity. The
// substitution cost integrates over non-exercised capacity from other
// brokers; if that tail cannot cover the quantity, the broker's exercises
// are abandoned with a warning and only the baseline charge stands.
func (s *exerciseStrategy) settleBroker(ctx context.Context, sc *Context, ci *ChargeInfo, cands []*candidate) {
	exercised := 0.0
	for _, c := range cands {
		if c.brokerID == ci.BrokerID {
			exercised += c.exercisedKWh
		}
	}
	if exercised < epsilon {
		return
	}

	marginalCost, ok := substitutionCost(cands, ci.BrokerID, exercised)
	if !ok {
		slog.Warn("substitution tail exhausted, abandoning balancing payment",
			"broker", ci.BrokerID,
			"timeslot", sc.Timeslot,
			"exercised_kwh", exercised,
		)
		return
	}
	rate := marginalCost / exercised

	for _, c := range cands {
		if c.brokerID != ci.BrokerID || c.exercisedKWh < epsilon {
			continue
		}
		if err := s.ctrl.ExerciseBalancingControl(ctx, c.orderID, sc.Timeslot, c.exercisedKWh, rate); err != nil {
			slog.Error("balancing control exercise failed",
				"order", c.orderID, "broker", ci.BrokerID, "err", err)
			continue
		}
		metrics.BalancingExercisesTotal.Inc()
	}

	ci.Charge += rate * exercised
}

// substitutionCost integrates price times quantity over the non-exercised
// capacity of candidates not owned by the given broker, cheapest first,
// until the quantity is covered. Reports false when the tail runs out.
func substitutionCost(cands []*candidate, excludeBroker string, quantityKWh float64) (float64, bool) {
	cost := 0.0
	for _, c := range cands {
		if quantityKWh < epsilon {
			return cost, true
		}
		if c.brokerID == excludeBroker {
			continue
		}
		avail := c.remaining()
		if avail < epsilon {
			continue
		}
		take := math.Min(quantityKWh, avail)
		cost += take * c.priceKWh
		quantityKWh -= take
	}
	if quantityKWh < epsilon {
		return cost, true
	}
	return 0, false
}
