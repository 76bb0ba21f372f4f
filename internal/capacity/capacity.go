// Package capacity mediates balancing-control capacity between the
// settlement engine and broker-side curtailable loads. In production the
// controller fronts the demand-response gateway; the in-memory
// implementation backs the simulation and tests.
package capacity

import (
	"context"
	"sync"
)

// Controller exposes curtailable capacity tied to balancing orders. The
// settlement engine treats any error as zero available capacity.
type Controller interface {
	// GetCurtailableUsage returns the energy in kWh that exercising the
	// given balancing order would shift in the given timeslot. The sign
	// follows the order's power type: positive for curtailed consumption,
	// negative for curtailed production.
	GetCurtailableUsage(ctx context.Context, orderID string, timeslot int64) (float64, error)

	// ExerciseBalancingControl commits an exercise of the order for the
	// given energy at the given per-kWh rate.
	ExerciseBalancingControl(ctx context.Context, orderID string, timeslot int64, kwh, rateKWh float64) error
}

// Exercise is one committed balancing-control action.
type Exercise struct {
	OrderID  string
	Timeslot int64
	KWh      float64
	RateKWh  float64
}

// MemoryController is an in-process Controller with preloaded capacities.
type MemoryController struct {
	mu        sync.Mutex
	capacity  map[string]float64 // orderID -> kWh available per timeslot
	exercised []Exercise
}

// NewMemoryController creates an empty controller.
func NewMemoryController() *MemoryController {
	return &MemoryController{capacity: make(map[string]float64)}
}

// SetCapacity sets the per-timeslot curtailable energy for an order.
func (c *MemoryController) SetCapacity(orderID string, kwh float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity[orderID] = kwh
}

func (c *MemoryController) GetCurtailableUsage(ctx context.Context, orderID string, timeslot int64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity[orderID], nil
}

func (c *MemoryController) ExerciseBalancingControl(ctx context.Context, orderID string, timeslot int64, kwh, rateKWh float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exercised = append(c.exercised, Exercise{
		OrderID:  orderID,
		Timeslot: timeslot,
		KWh:      kwh,
		RateKWh:  rateKWh,
	})
	return nil
}

// Exercised returns a copy of all committed exercises.
func (c *MemoryController) Exercised() []Exercise {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Exercise, len(c.exercised))
	copy(out, c.exercised)
	return out
}
