package timing

import "sync"

type callState int

const (
	callPending callState = iota
	callDone
	callCancelled
)

// A DelayedCall is a function scheduled on an engine. It can be cancelled as
// long as it has not run.
type DelayedCall struct {
	lock  sync.Mutex
	fn    func()
	time  VTimeInSec
	state callState
}

// Time returns when the call is due.
func (c *DelayedCall) Time() VTimeInSec {
	return c.time
}

// Active tells if the call is still going to run.
func (c *DelayedCall) Active() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.state == callPending
}

// Cancel prevents the call from running. It returns false if the call already
// ran or was already cancelled.
func (c *DelayedCall) Cancel() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state != callPending {
		return false
	}

	c.state = callCancelled
	c.fn = nil

	return true
}

func (c *DelayedCall) claim() func() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state != callPending {
		return nil
	}

	fn := c.fn
	c.state = callDone
	c.fn = nil

	return fn
}

// callEvent is the event that carries a DelayedCall through the queue.
type callEvent struct {
	*EventBase
	call *DelayedCall
}

func (e *callEvent) Handle(Event) error {
	if fn := e.call.claim(); fn != nil {
		fn()
	}

	return nil
}

func scheduleCall(s EventScheduler, t VTimeInSec, fn func()) *DelayedCall {
	call := &DelayedCall{fn: fn, time: t}

	evt := &callEvent{call: call}
	evt.EventBase = NewEventBase(t, evt)
	s.Schedule(evt)

	return call
}
