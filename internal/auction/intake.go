package auction

import (
	"errors"
	"math"
	"sync"

	"github.com/voltsim/market-engine/internal/model"
)

var (
	// ErrInvalidQuantity is returned when an order's quantity is NaN or
	// infinite.
	ErrInvalidQuantity = errors.New("auction: order quantity is not a finite number")

	// ErrQuantityBelowMinimum is returned when |quantity| is below the
	// configured minimum order quantity.
	ErrQuantityBelowMinimum = errors.New("auction: order quantity below minimum")

	// ErrTimeslotDisabled is returned when the order's delivery timeslot is
	// not currently open for trading. This is the only rejection that
	// produces a notice back to the submitting broker.
	ErrTimeslotDisabled = errors.New("auction: delivery timeslot not enabled for trading")
)

// Intake buffers incoming orders between clearing cycles. Submission is the
// only concurrent entry point into the engine; a single mutex guards the
// append/drain pair. Orders submitted while a cycle is clearing land in the
// next cycle's buffer.
type Intake struct {
	minQuantity float64

	mu  sync.Mutex
	buf []*model.Order
}

// NewIntake creates an intake with the given minimum order quantity (MWh).
func NewIntake(minQuantity float64) *Intake {
	return &Intake{minQuantity: minQuantity}
}

// Submit validates an order against the enabled-timeslot set and buffers it.
// Returns one of the sentinel errors above on rejection.
func (in *Intake) Submit(o *model.Order, enabled map[int64]bool) error {
	q := o.QuantityMWh
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return ErrInvalidQuantity
	}
	if math.Abs(q) < in.minQuantity {
		return ErrQuantityBelowMinimum
	}
	if !enabled[o.Timeslot] {
		return ErrTimeslotDisabled
	}

	in.mu.Lock()
	in.buf = append(in.buf, o)
	in.mu.Unlock()
	return nil
}

// Drain atomically swaps out the buffer and returns its contents in arrival
// order. Called once at the top of each clearing cycle.
func (in *Intake) Drain() []*model.Order {
	in.mu.Lock()
	defer in.mu.Unlock()

	buf := in.buf
	in.buf = nil
	return buf
}

// Pending returns the number of buffered orders.
func (in *Intake) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.buf)
}
