package timing

import (
	"log"
	"reflect"
	"sync"

	"github.com/sarchlab/agency/hooking"
)

// A SerialEngine is an Engine that always run events one after another in
// virtual time. Time jumps straight to the next event, so timers and
// expirations can be exercised without waiting.
type SerialEngine struct {
	hooking.HookableBase

	timeLock sync.RWMutex
	time     VTimeInSec
	queue    EventQueue

	isPaused     bool
	isPausedLock sync.Mutex
	pauseLock    sync.Mutex

	singleRunLock sync.Mutex
}

// NewSerialEngine creates a SerialEngine
func NewSerialEngine() *SerialEngine {
	e := new(SerialEngine)

	e.queue = NewEventQueue()

	return e
}

// Name returns the name of the engine.
func (e *SerialEngine) Name() string {
	return "SerialEngine"
}

// Schedule register an event to be happen in the future
func (e *SerialEngine) Schedule(evt Event) {
	now := e.readNow()
	if evt.Time() < now {
		log.Panic("scheduling an event earlier than current time")
	}

	e.queue.Push(evt)
}

// CallNext runs fn after every event already scheduled for the current time.
func (e *SerialEngine) CallNext(fn func()) *DelayedCall {
	return scheduleCall(e, e.readNow(), fn)
}

// CallLater runs fn after delay seconds of virtual time.
func (e *SerialEngine) CallLater(delay VTimeInSec, fn func()) *DelayedCall {
	if delay < 0 {
		delay = 0
	}

	return scheduleCall(e, e.readNow()+delay, fn)
}

func (e *SerialEngine) readNow() VTimeInSec {
	e.timeLock.RLock()
	t := e.time
	e.timeLock.RUnlock()

	return t
}

func (e *SerialEngine) writeNow(t VTimeInSec) {
	e.timeLock.Lock()
	e.time = t
	e.timeLock.Unlock()
}

// Run processes all the events scheduled in the SerialEngine. It returns the
// first error reported by a handler.
func (e *SerialEngine) Run() error {
	e.singleRunLock.Lock()
	defer e.singleRunLock.Unlock()

	for e.queue.Len() > 0 {
		if err := e.runOne(); err != nil {
			return err
		}
	}

	return nil
}

// RunUntil processes the events that happen no later than t and then moves
// the clock to t.
func (e *SerialEngine) RunUntil(t VTimeInSec) error {
	e.singleRunLock.Lock()
	defer e.singleRunLock.Unlock()

	for e.queue.Len() > 0 && e.queue.Peek().Time() <= t {
		if err := e.runOne(); err != nil {
			return err
		}
	}

	if t > e.readNow() {
		e.writeNow(t)
	}

	return nil
}

func (e *SerialEngine) runOne() error {
	e.pauseLock.Lock()
	defer e.pauseLock.Unlock()

	evt := e.queue.Pop()
	now := e.readNow()
	if evt.Time() < now {
		log.Panicf(
			"cannot run event in the past, evt %s @ %.10f, now %.10f",
			reflect.TypeOf(evt), evt.Time(), now,
		)
	}
	e.writeNow(evt.Time())

	hookCtx := hooking.HookCtx{
		Domain: e,
		Pos:    HookPosBeforeEvent,
		Item:   evt,
	}
	e.InvokeHook(hookCtx)

	err := evt.Handler().Handle(evt)

	hookCtx.Pos = HookPosAfterEvent
	e.InvokeHook(hookCtx)

	return err
}

// Pause prevents the SerialEngine to trigger more events.
func (e *SerialEngine) Pause() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if e.isPaused {
		return
	}

	e.pauseLock.Lock()
	e.isPaused = true
}

// Continue allows the SerialEngine to trigger more events.
func (e *SerialEngine) Continue() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if !e.isPaused {
		return
	}

	e.pauseLock.Unlock()
	e.isPaused = false
}

// Now returns the current time at which the engine is at.
// Specifically, the run time of the current event.
func (e *SerialEngine) Now() VTimeInSec {
	return e.readNow()
}
