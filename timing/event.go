package timing

import "github.com/sarchlab/agency/hooking"

// VTimeInSec defines time in seconds. Under a SerialEngine it is virtual time
// starting at zero; under a RealTimeEngine it is seconds since the Unix epoch.
type VTimeInSec = float64

// An Event is something going to happen in the future.
type Event interface {
	// Return the time that the event should happen
	Time() VTimeInSec

	// Returns the handler that can should handle the event
	Handler() Handler
}

// HookPosBeforeEvent is a hook position that triggers before handling an event.
var HookPosBeforeEvent = &hooking.HookPos{Name: "BeforeEvent"}

// HookPosAfterEvent is a hook position that triggers after handling an event.
var HookPosAfterEvent = &hooking.HookPos{Name: "AfterEvent"}

// EventBase provides the basic fields and getters for other events
type EventBase struct {
	time    VTimeInSec
	handler Handler
}

// NewEventBase creates a new EventBase
func NewEventBase(t VTimeInSec, handler Handler) *EventBase {
	e := new(EventBase)
	e.time = t
	e.handler = handler

	return e
}

// Time return the time that the event is going to happen
func (e EventBase) Time() VTimeInSec {
	return e.time
}

// Handler returns the handler to handle the event.
func (e EventBase) Handler() Handler {
	return e.handler
}

// A Handler defines a domain for the events.
//
// One event is always constraint to one Handler, which means the event can
// only be scheduled by one handler and can only directly modify that handler.
type Handler interface {
	Handle(e Event) error
}
