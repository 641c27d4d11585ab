// Package clock abstracts time operations so the abort-checked sleep slices in
// the weapon state machine, the pipeline's history timestamps, and the
// controller's periodic loop can be driven deterministically under test.
package clock

import "time"

// Clock abstracts time operations for deterministic testing.
type Clock interface {
	Now() time.Time
	Sleep(time.Duration)
}

type realClock struct{}

// Real returns a Clock backed by the actual wall clock.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
