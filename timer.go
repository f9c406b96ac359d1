package fiberworks

import (
	"sync"
	"time"
)

// Disposable is anything that releases a resource on Dispose.
type Disposable interface {
	Dispose()
}

// DisposeFunc adapts a function to the [Disposable] interface.
// Unlike [Unsubscriber], a DisposeFunc is not idempotent by itself.
type DisposeFunc func()

// Dispose implements Disposable.
func (f DisposeFunc) Dispose() { f() }

// Timer schedules actions on its own goroutines. Fibers use a Timer to
// implement Schedule and ScheduleRepeating; the returned handles cancel
// the schedule and are safe to dispose from any goroutine, including from
// inside the scheduled action.
type Timer interface {
	ScheduleOnce(action func(), delay time.Duration) Disposable
	ScheduleRepeating(action func(), first, interval time.Duration) Disposable
}

// SystemTimer is the [Timer] backed by the runtime timer heap.
type SystemTimer struct{}

// ScheduleOnce runs action once after delay. A non-positive delay fires
// as soon as possible.
func (SystemTimer) ScheduleOnce(action func(), delay time.Duration) Disposable {
	if action == nil {
		panic("fiberworks: ScheduleOnce requires a non-nil action")
	}
	t := time.AfterFunc(delay, action)
	return DisposeFunc(func() { t.Stop() })
}

// ScheduleRepeating runs action after first and then every interval until
// the handle is disposed. The next run is armed only after the current run
// returns, so runs never overlap.
//
// ScheduleRepeating panics if interval <= 0.
func (SystemTimer) ScheduleRepeating(action func(), first, interval time.Duration) Disposable {
	if action == nil {
		panic("fiberworks: ScheduleRepeating requires a non-nil action")
	}
	if interval <= 0 {
		panic("fiberworks: ScheduleRepeating requires interval > 0")
	}
	r := &repeatingTimer{
		action:   action,
		interval: interval,
	}
	r.mu.Lock()
	r.t = time.AfterFunc(first, r.fire)
	r.mu.Unlock()
	return r
}

type repeatingTimer struct {
	mu       sync.Mutex
	t        *time.Timer
	stopped  bool
	action   func()
	interval time.Duration
}

func (r *repeatingTimer) fire() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.action()

	r.mu.Lock()
	if !r.stopped {
		r.t.Reset(r.interval)
	}
	r.mu.Unlock()
}

func (r *repeatingTimer) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	r.t.Stop()
}
