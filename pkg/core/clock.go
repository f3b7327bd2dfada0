package core

import "time"

// Clock is the engine's time source. It is injectable so decay, recency
// scoring, and access bookkeeping can be tested deterministically.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// systemClock is the default Clock backed by time.Now.
type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// SystemClock returns a Clock backed by the real wall clock.
func SystemClock() Clock {
	return systemClock{}
}
