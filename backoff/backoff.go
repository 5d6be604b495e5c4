// Package backoff computes growing retry delays and keeps one cancellable
// retry timer per key on the event loop.
package backoff

import (
	"math"
	"math/rand/v2"

	"github.com/sarchlab/agency/timing"
)

// A Policy describes how retry delays grow.
type Policy struct {
	Initial timing.VTimeInSec
	Factor  float64

	// Jitter is the standard deviation of a delay, relative to the delay.
	Jitter float64
	Max    timing.VTimeInSec
}

// DefaultPolicy is used by reconnecting backends.
var DefaultPolicy = Policy{
	Initial: 1,
	Factor:  math.E,
	Jitter:  0.11962656472,
	Max:     600,
}

// WithMax returns a copy of the policy with another ceiling. A non-positive
// ceiling keeps the current one.
func (p Policy) WithMax(ceiling timing.VTimeInSec) Policy {
	if ceiling > 0 {
		p.Max = ceiling
	}

	return p
}

// Next returns the delay that follows prev. A zero prev starts from the
// initial delay.
func (p Policy) Next(prev timing.VTimeInSec, r *rand.Rand) timing.VTimeInSec {
	if prev <= 0 {
		prev = p.Initial
	}

	delay := min(prev*p.Factor, p.Max)

	if p.Jitter > 0 {
		norm := rand.NormFloat64
		if r != nil {
			norm = r.NormFloat64
		}

		delay += norm() * delay * p.Jitter
	}

	return max(delay, 0)
}
