package backoff

import (
	"math/rand/v2"

	"github.com/sarchlab/agency/timing"
)

// Scheduler can run a function later on the event loop.
type Scheduler interface {
	CallLater(delay timing.VTimeInSec, fn func()) *timing.DelayedCall
}

// A Retrier keeps at most one retry timer per key. The delay of a key grows
// every time a retry is scheduled for it, until Reset is called.
//
// A Retrier is not safe for concurrent use. It is meant to be used from
// inside the event loop.
type Retrier[K comparable] struct {
	scheduler Scheduler
	policy    Policy
	rand      *rand.Rand

	delays map[K]timing.VTimeInSec
	calls  map[K]*timing.DelayedCall
}

// NewRetrier creates a Retrier. A nil r uses the global random source.
func NewRetrier[K comparable](
	s Scheduler,
	p Policy,
	r *rand.Rand,
) *Retrier[K] {
	return &Retrier[K]{
		scheduler: s,
		policy:    p,
		rand:      r,
		delays:    make(map[K]timing.VTimeInSec),
		calls:     make(map[K]*timing.DelayedCall),
	}
}

// Schedule cancels the pending retry of key, if any, and schedules fn after
// the next delay. It returns the delay.
func (r *Retrier[K]) Schedule(key K, fn func()) timing.VTimeInSec {
	r.cancel(key)

	delay := r.policy.Next(r.delays[key], r.rand)
	r.delays[key] = delay

	var call *timing.DelayedCall
	call = r.scheduler.CallLater(delay, func() {
		if r.calls[key] == call {
			delete(r.calls, key)
		}

		fn()
	})
	r.calls[key] = call

	return delay
}

// Pending tells if a retry is scheduled for key.
func (r *Retrier[K]) Pending(key K) bool {
	call, found := r.calls[key]

	return found && call.Active()
}

// Delay returns the last delay used for key.
func (r *Retrier[K]) Delay(key K) timing.VTimeInSec {
	return r.delays[key]
}

// Reset cancels the pending retry of key and starts its delays over.
func (r *Retrier[K]) Reset(key K) {
	r.cancel(key)
	delete(r.delays, key)
}

// CancelAll cancels every pending retry.
func (r *Retrier[K]) CancelAll() {
	for key := range r.calls {
		r.cancel(key)
	}
}

// Len returns the number of pending retries.
func (r *Retrier[K]) Len() int {
	return len(r.calls)
}

func (r *Retrier[K]) cancel(key K) {
	call, found := r.calls[key]
	if !found {
		return
	}

	call.Cancel()
	delete(r.calls, key)
}
