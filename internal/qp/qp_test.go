package qp

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestSolveProportionalWhenFloorsSlack(t *testing.T) {
	// Floors far below the proportional split never bind.
	weights := []float64{1, 2, 3}
	floors := []float64{-100, -100, -100}

	x, err := Solve(weights, floors, 60)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	want := []float64{10, 20, 30}
	for i := range x {
		if !almostEqual(x[i], want[i]) {
			t.Errorf("x[%d] = %v, want %v", i, x[i], want[i])
		}
	}
}

func TestSolveFloorBinds(t *testing.T) {
	// Proportional split would give {10, 20, 30}; the first floor forces 15
	// and the others share the remaining 45 in a 2:3 ratio.
	weights := []float64{1, 2, 3}
	floors := []float64{15, -100, -100}

	x, err := Solve(weights, floors, 60)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	want := []float64{15, 18, 27}
	for i := range x {
		if !almostEqual(x[i], want[i]) {
			t.Errorf("x[%d] = %v, want %v", i, x[i], want[i])
		}
	}
}

func TestSolveAllFloorsBind(t *testing.T) {
	weights := []float64{1, 1}
	floors := []float64{5, 5}

	x, err := Solve(weights, floors, 10)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	for i := range x {
		if !almostEqual(x[i], 5) {
			t.Errorf("x[%d] = %v, want 5", i, x[i])
		}
	}
}

func TestSolveInfeasible(t *testing.T) {
	weights := []float64{1, 1}
	floors := []float64{5, 5}

	if _, err := Solve(weights, floors, 9); err != ErrInfeasible {
		t.Fatalf("Solve err = %v, want ErrInfeasible", err)
	}
}

func TestSolveZeroWeightPinsToFloor(t *testing.T) {
	weights := []float64{0, 1, 1}
	floors := []float64{3, -100, -100}

	x, err := Solve(weights, floors, 13)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if !almostEqual(x[0], 3) {
		t.Errorf("x[0] = %v, want floor 3", x[0])
	}
	if !almostEqual(x[1], 5) || !almostEqual(x[2], 5) {
		t.Errorf("free vars = %v, %v, want 5, 5", x[1], x[2])
	}
}

func TestSolveEmpty(t *testing.T) {
	x, err := Solve(nil, nil, 0)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(x) != 0 {
		t.Fatalf("len(x) = %d, want 0", len(x))
	}
}

func TestSolveProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n")
		weights := make([]float64, n)
		floors := make([]float64, n)
		floorSum := 0.0
		for i := 0; i < n; i++ {
			weights[i] = rapid.Float64Range(0.01, 100).Draw(t, "w")
			floors[i] = rapid.Float64Range(-50, 50).Draw(t, "f")
			floorSum += floors[i]
		}
		total := floorSum + rapid.Float64Range(0, 200).Draw(t, "slack")

		x, err := Solve(weights, floors, total)
		if err != nil {
			t.Fatalf("Solve: %v", err)
		}

		sum := 0.0
		for i, v := range x {
			if v < floors[i]-1e-6 {
				t.Fatalf("x[%d] = %v violates floor %v", i, v, floors[i])
			}
			sum += v
		}
		if math.Abs(sum-total) > 1e-6*math.Max(1, math.Abs(total)) {
			t.Fatalf("sum(x) = %v, want %v", sum, total)
		}

		// Variables strictly above their floor share a common ratio x/w.
		lambda := math.NaN()
		for i, v := range x {
			if v > floors[i]+1e-6 {
				r := v / weights[i]
				if math.IsNaN(lambda) {
					lambda = r
				} else if math.Abs(r-lambda) > 1e-4*math.Max(1, math.Abs(lambda)) {
					t.Fatalf("non-uniform multiplier: %v vs %v", r, lambda)
				}
			}
		}
	})
}
