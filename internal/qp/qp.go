// Package qp solves the separable quadratic program used by proportional
// balancing settlement:
//
//	minimize   sum_i x_i^2 / w_i
//	subject to sum_i x_i = total
//	           x_i >= floor_i
//
// With weights w_i > 0 the unconstrained optimum allocates the total in
// proportion to the weights; the floors then bind one by one as the total
// shrinks. The solver exploits that structure directly instead of running a
// general-purpose QP: at the optimum x_i = max(floor_i, w_i*lambda) for a
// single multiplier lambda, so a walk over the sorted breakpoints
// lambda_i = floor_i/w_i finds the answer in O(n log n).
package qp

import (
	"errors"
	"math"
	"sort"
)

// ErrInfeasible is returned when the total falls below the sum of floors, so
// no allocation can satisfy every floor.
var ErrInfeasible = errors.New("qp: total below sum of floors")

// Solve returns the optimal allocation x for the program above. Weights must
// be positive; a non-positive weight pins that variable to its floor.
// The input slices must have equal length.
func Solve(weights, floors []float64, total float64) ([]float64, error) {
	n := len(weights)
	x := make([]float64, n)

	// Pinned variables reduce the remaining problem.
	remaining := total
	free := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if weights[i] <= 0 {
			x[i] = floors[i]
			remaining -= floors[i]
		} else {
			free = append(free, i)
		}
	}

	floorSum := 0.0
	for _, i := range free {
		floorSum += floors[i]
	}
	if remaining < floorSum-1e-9 {
		return nil, ErrInfeasible
	}
	if len(free) == 0 {
		return x, nil
	}

	// Sort free variables by breakpoint lambda_i = floor_i/w_i descending.
	// Walking the list, variables whose breakpoint exceeds the current
	// multiplier sit at their floor; the rest share the remainder in
	// proportion to their weights.
	sort.Slice(free, func(a, b int) bool {
		return floors[free[a]]/weights[free[a]] > floors[free[b]]/weights[free[b]]
	})

	weightSum := 0.0
	for _, i := range free {
		weightSum += weights[i]
	}

	// At step k the first k variables are at their floors and the rest are
	// proportional: lambda = (remaining - floorPrefix) / weightSuffix.
	// The first lambda that clears every remaining breakpoint is optimal.
	floorPrefix := 0.0
	weightSuffix := weightSum
	for k := 0; k < len(free); k++ {
		lambda := (remaining - floorPrefix) / weightSuffix
		i := free[k]
		if lambda >= floors[i]/weights[i] {
			for _, j := range free[k:] {
				x[j] = weights[j] * lambda
			}
			return x, nil
		}
		x[i] = floors[i]
		floorPrefix += floors[i]
		weightSuffix -= weights[i]
	}

	// Every floor binds; feasibility check above guarantees this matches the
	// total up to rounding.
	return x, nil
}

// ClampToFloors returns the floor vector itself, the fallback allocation
// when Solve reports infeasibility.
func ClampToFloors(floors []float64) []float64 {
	out := make([]float64, len(floors))
	copy(out, floors)
	return out
}

// Residual reports how far an allocation misses the total, for callers that
// log the infeasibility gap.
func Residual(x []float64, total float64) float64 {
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	return math.Abs(sum - total)
}
