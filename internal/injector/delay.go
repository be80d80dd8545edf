package injector

import "math"

// delayPlanner spreads keys over an interval with integer millisecond waits.
// The fractional millisecond lost by flooring each wait is carried into the
// next one, so the average wait converges to the ideal delay.
type delayPlanner struct {
	ideal float64
	carry float64
}

// newDelayPlanner must only be called with keys > 0 and intervalMs > 0.
func newDelayPlanner(keys, intervalMs int) *delayPlanner {
	return &delayPlanner{ideal: float64(intervalMs) / float64(keys)}
}

// next returns the wait before the following key and updates the carry.
// The carry stays within [0, 1).
func (p *delayPlanner) next() int {
	current := p.ideal + p.carry
	wait := int(math.Floor(current))
	p.carry = current - float64(wait)
	return wait
}
