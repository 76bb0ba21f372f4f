// Package sim drives the simulation timeline: a monotonic timeslot clock
// and the derived set of timeslots open for trading.
package sim

import "sync"

// Clock tracks the current timeslot. The enabled window is the fixed-width
// run of future timeslots immediately after the current one.
type Clock struct {
	mu           sync.Mutex
	current      int64
	enabledCount int
}

// NewClock creates a clock starting at the given timeslot with the given
// enabled-window width.
func NewClock(start int64, enabledCount int) *Clock {
	return &Clock{current: start, enabledCount: enabledCount}
}

// Current returns the current timeslot.
func (c *Clock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Enabled returns the timeslots currently open for trading: the window
// current+1 through current+enabledCount, in ascending order.
func (c *Clock) Enabled() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, c.enabledCount)
	for i := 1; i <= c.enabledCount; i++ {
		out = append(out, c.current+int64(i))
	}
	return out
}

// Tick advances the clock by one timeslot and returns the new current
// timeslot.
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current++
	return c.current
}
