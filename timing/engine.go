package timing

import "github.com/sarchlab/agency/hooking"

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	Now() VTimeInSec
}

// EventScheduler can be used to schedule future events.
type EventScheduler interface {
	TimeTeller

	Schedule(e Event)
}

// An Engine is the single event loop of one agency process. Everything that
// touches routes, bindings, or channels runs inside an event of the engine.
type Engine interface {
	hooking.Hookable
	EventScheduler

	// CallNext runs fn at the current time, after every event that is
	// already scheduled for the current time.
	CallNext(fn func()) *DelayedCall

	// CallLater runs fn once delay seconds have passed.
	CallLater(delay VTimeInSec, fn func()) *DelayedCall

	// Run processes events until the engine has nothing left to do.
	Run() error

	// Pause will pause the engine until continue is called.
	Pause()

	// Continue will continue the paused engine.
	Continue()
}
