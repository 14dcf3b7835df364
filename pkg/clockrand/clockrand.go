// Package clockrand provides the monotonic-time source and the uniform RNG
// used for deadlines and sampling decisions.
//
// Both are behind small interfaces so tests can substitute deterministic
// implementations without touching the real clock or math/rand's global
// state.
package clockrand

import (
	"math/rand/v2"
	"time"
)

// Clock abstracts time.Now and time.Since so deadline arithmetic in the
// Supervisor and API Client is testable without sleeping in real time.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	// NewTimer returns a channel that fires once after d elapses, along
	// with a stop function. Mirrors time.NewTimer's (C, Stop) shape.
	NewTimer(d time.Duration) (<-chan time.Time, func() bool)
	// NewTicker returns a channel that fires every d, along with a stop
	// function. Mirrors time.NewTicker's (C, Stop) shape.
	NewTicker(d time.Duration) (<-chan time.Time, func())
}

// Sampler draws uniform floats in [0, 1) for the API Client's sampling-gate
// decisions.
type Sampler interface {
	Float64() float64
}

// realClock wraps the standard library's time package.
type realClock struct{}

// Real is the production Clock, backed by the standard library.
var Real Clock = realClock{}

func (realClock) Now() time.Time                 { return time.Now() }
func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (realClock) NewTimer(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

func (realClock) NewTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// realSampler wraps math/rand/v2's package-level generator, which is
// already safe for concurrent use and auto-seeded.
type realSampler struct{}

// RealSampler is the production Sampler.
var RealSampler Sampler = realSampler{}

func (realSampler) Float64() float64 { return rand.Float64() }

// Deadline returns t.Add(d), or the zero Time if d is negative (meaning
// "no deadline" in the configuration surface).
func Deadline(clk Clock, d time.Duration) time.Time {
	if d < 0 {
		return time.Time{}
	}
	return clk.Now().Add(d)
}
