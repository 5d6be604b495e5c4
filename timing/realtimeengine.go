package timing

import (
	"sync"
	"time"

	"github.com/sarchlab/agency/hooking"
)

// A RealTimeEngine runs events when the wall clock reaches their time. It is
// the event loop of a deployed agency. Schedule, CallNext and CallLater can be
// called from any goroutine; the events themselves always run on the
// goroutine that called Run.
type RealTimeEngine struct {
	hooking.HookableBase

	queue *EventQueueImpl
	clock func() time.Time

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	isPaused     bool
	isPausedLock sync.Mutex
	pauseLock    sync.Mutex

	singleRunLock sync.Mutex
}

// NewRealTimeEngine creates a RealTimeEngine driven by time.Now.
func NewRealTimeEngine() *RealTimeEngine {
	return &RealTimeEngine{
		queue: NewEventQueue(),
		clock: time.Now,
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
}

// Name returns the name of the engine.
func (e *RealTimeEngine) Name() string {
	return "RealTimeEngine"
}

// Now returns the wall clock time in seconds since the Unix epoch.
func (e *RealTimeEngine) Now() VTimeInSec {
	return VTimeInSec(e.clock().UnixNano()) / 1e9
}

// Schedule registers an event. Events in the past run as soon as possible.
func (e *RealTimeEngine) Schedule(evt Event) {
	e.queue.Push(evt)

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// CallNext runs fn on the loop as soon as the already due events ran.
func (e *RealTimeEngine) CallNext(fn func()) *DelayedCall {
	return scheduleCall(e, e.Now(), fn)
}

// CallLater runs fn on the loop after delay seconds.
func (e *RealTimeEngine) CallLater(delay VTimeInSec, fn func()) *DelayedCall {
	if delay < 0 {
		delay = 0
	}

	return scheduleCall(e, e.Now()+delay, fn)
}

// Run processes events until Stop is called.
func (e *RealTimeEngine) Run() error {
	e.singleRunLock.Lock()
	defer e.singleRunLock.Unlock()

	for {
		select {
		case <-e.stop:
			return nil
		default:
		}

		if e.queue.Len() == 0 {
			select {
			case <-e.stop:
				return nil
			case <-e.wake:
			}

			continue
		}

		wait := e.queue.Peek().Time() - e.Now()
		if wait > 0 {
			e.sleep(time.Duration(wait * float64(time.Second)))
			continue
		}

		e.runOne()
	}
}

func (e *RealTimeEngine) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-e.stop:
	case <-e.wake:
	case <-timer.C:
	}
}

func (e *RealTimeEngine) runOne() {
	e.pauseLock.Lock()
	defer e.pauseLock.Unlock()

	evt := e.queue.Pop()

	hookCtx := hooking.HookCtx{
		Domain: e,
		Pos:    HookPosBeforeEvent,
		Item:   evt,
	}
	e.InvokeHook(hookCtx)

	_ = evt.Handler().Handle(evt)

	hookCtx.Pos = HookPosAfterEvent
	e.InvokeHook(hookCtx)
}

// Stop makes Run return after the current event.
func (e *RealTimeEngine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Pause prevents the engine from running more events.
func (e *RealTimeEngine) Pause() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if e.isPaused {
		return
	}

	e.pauseLock.Lock()
	e.isPaused = true
}

// Continue lets a paused engine run events again.
func (e *RealTimeEngine) Continue() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if !e.isPaused {
		return
	}

	e.pauseLock.Unlock()
	e.isPaused = false
}
