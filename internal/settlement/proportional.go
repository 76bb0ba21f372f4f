package settlement

import (
	"context"
	"log/slog"
	"math"

	"github.com/voltsim/market-engine/internal/qp"
)

// proportionalStrategy allocates the aggregate balancing cost across
// brokers in proportion to their imbalance contribution, via a quadratic
// program. Used when brokers carry no controllable balancing capacity.
//
// The program minimizes sum(x_i^2 / |imb_i|) subject to
// sum(x_i) = totalImbalance * balancingCost and a per-broker floor
// x_i >= imb_i * p, where p is the marginal price for that broker's
// imbalance direction. The weighted objective makes the unconstrained
// optimum exactly proportional to |imb_i|; the floors tie each broker's
// allocation to what an individual marginal-price settlement would cost.
// The optimal x_i, sign-negated, becomes broker i's charge.
type proportionalStrategy struct{}

func (s *proportionalStrategy) Name() string { return "proportional" }

func (s *proportionalStrategy) Settle(_ context.Context, sc *Context, infos []*ChargeInfo) {
	if len(infos) == 0 {
		return
	}

	weights := make([]float64, len(infos))
	floors := make([]float64, len(infos))
	for i, ci := range infos {
		weights[i] = math.Abs(ci.ImbalanceKWh)
		if ci.ImbalanceKWh < 0 {
			floors[i] = ci.ImbalanceKWh * sc.PPlus
		} else {
			floors[i] = ci.ImbalanceKWh * sc.PMinus
		}
	}

	total := sc.TotalImbalanceKWh * sc.BalancingCost
	x, err := qp.Solve(weights, floors, total)
	if err != nil {
		// The aggregate cost cannot reach every floor; each broker then
		// settles at its individual marginal price.
		x = qp.ClampToFloors(floors)
		slog.Warn("balancing allocation infeasible, settling at marginal prices",
			"timeslot", sc.Timeslot,
			"total", total,
			"residual", qp.Residual(x, total),
		)
	}

	for i, ci := range infos {
		ci.Charge = -x[i]
	}
}
