package fiberworks

import (
	"context"
	"sync"
	"time"
)

// StubFiber is a deterministic [Fiber] for tests. Nothing runs until the
// test pumps it: [StubFiber.ExecutePending] and [StubFiber.ExecuteAll] run
// queued actions on the calling goroutine, and
// [StubFiber.ExecuteAllScheduled] fires scheduled actions regardless of
// their delay.
type StubFiber struct {
	fiberBase

	mu        sync.Mutex
	pending   []func()
	scheduled []*stubSchedule
	paused    bool
	resumed   bool
	cont      func()
	disposed  bool
}

type stubSchedule struct {
	action    func()
	delay     time.Duration
	repeating bool
	sub       *Unsubscriber
}

// NewStubFiber creates a StubFiber. The timer option is ignored.
func NewStubFiber(opts ...Option) *StubFiber {
	f := &StubFiber{}
	f.init(buildConfig(opts))
	return f
}

// Enqueue implements Fiber.
func (f *StubFiber) Enqueue(action func()) error {
	if action == nil {
		panic("fiberworks: Enqueue requires a non-nil action")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.disposed {
		return ErrFiberDisposed
	}
	if f.cfg.maxDepth > 0 && len(f.pending) >= f.cfg.maxDepth {
		f.rejected.Add(1)
		return &QueueFullError{Depth: len(f.pending)}
	}
	f.pending = append(f.pending, action)
	f.enqueued.Add(1)
	return nil
}

// EnqueueAsync implements Fiber. The task runs inline when the action is
// pumped; its completion is queued like a Resume continuation.
func (f *StubFiber) EnqueueAsync(task func(ctx context.Context) error) error {
	if task == nil {
		panic("fiberworks: EnqueueAsync requires a non-nil task")
	}
	return f.Enqueue(func() {
		if err := f.Pause(); err != nil {
			f.reportError(err)
			return
		}
		err := task(f.ctx)
		_ = f.Resume(func() {
			if err != nil {
				f.reportError(err)
			}
		})
	})
}

// Pause implements Fiber.
func (f *StubFiber) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.disposed {
		return ErrFiberDisposed
	}
	if f.paused {
		return ErrAlreadyPaused
	}
	f.paused = true
	return nil
}

// Resume implements Fiber. The continuation runs ahead of the backlog: right
// after the current action when called from one, otherwise on the next pump.
func (f *StubFiber) Resume(continuation func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.paused {
		return ErrNotPaused
	}
	f.paused = false
	if f.disposed {
		return ErrFiberDisposed
	}
	f.resumed = true
	f.cont = continuation
	return nil
}

// Paused reports whether the fiber is waiting for Resume.
func (f *StubFiber) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.paused
}

// ExecutePending runs the actions queued at the time of the call, stopping
// early if one of them pauses the fiber. Actions enqueued while running
// wait for the next pump. It returns the number of actions run, counting
// continuations.
func (f *StubFiber) ExecutePending() int {
	f.mu.Lock()
	if f.paused || f.disposed {
		f.mu.Unlock()
		return 0
	}
	batch := f.pending
	f.pending = nil
	f.mu.Unlock()

	f.drains.Add(1)
	n := 0
	if ok, cont := f.runContinuations(batch, &n); !ok || !cont {
		return n
	}
	for i, action := range batch {
		n++
		if !f.run(action) {
			return n
		}
		if ok, cont := f.runContinuations(batch[i+1:], &n); !ok || !cont {
			return n
		}
	}
	return n
}

// runContinuations runs any continuation left by Resume, repeatedly, and
// reports whether the last run succeeded and the pump may go on. If the
// fiber is paused, rest goes back to the front of the queue.
func (f *StubFiber) runContinuations(rest []func(), n *int) (ok, cont bool) {
	for {
		f.mu.Lock()
		switch {
		case f.disposed:
			f.mu.Unlock()
			return true, false
		case f.paused:
			f.pending = append(append([]func(){}, rest...), f.pending...)
			f.mu.Unlock()
			return true, false
		case !f.resumed:
			f.mu.Unlock()
			return true, true
		}
		action := f.cont
		f.resumed = false
		f.cont = nil
		f.mu.Unlock()

		if action == nil {
			continue
		}
		*n++
		if !f.run(action) {
			return false, false
		}
	}
}

// ExecuteAll pumps until the queue is empty or the fiber is paused.
// It returns the number of actions run.
func (f *StubFiber) ExecuteAll() int {
	total := 0
	for {
		n := f.ExecutePending()
		total += n
		if n == 0 {
			return total
		}
	}
}

// NumPending returns the number of queued actions.
func (f *StubFiber) NumPending() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.pending)
}

// Schedule implements Fiber. The action is recorded, not timed.
func (f *StubFiber) Schedule(action func(), delay time.Duration) Disposable {
	return f.addSchedule(action, delay, false)
}

// ScheduleRepeating implements Fiber. The action is recorded, not timed;
// each ExecuteAllScheduled call fires it once.
func (f *StubFiber) ScheduleRepeating(action func(), first, _ time.Duration) Disposable {
	return f.addSchedule(action, first, true)
}

func (f *StubFiber) addSchedule(action func(), delay time.Duration, repeating bool) Disposable {
	if action == nil {
		panic("fiberworks: Schedule requires a non-nil action")
	}
	sub := f.BeginSubscription()
	s := &stubSchedule{action: action, delay: delay, repeating: repeating, sub: sub}

	f.mu.Lock()
	f.scheduled = append(f.scheduled, s)
	f.mu.Unlock()

	sub.AddFunc(func() { f.removeSchedule(s) })
	return sub
}

func (f *StubFiber) removeSchedule(s *stubSchedule) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, x := range f.scheduled {
		if x == s {
			f.scheduled = append(f.scheduled[:i], f.scheduled[i+1:]...)
			return
		}
	}
}

// ExecuteAllScheduled fires every live scheduled action on the calling
// goroutine. One-shot schedules are removed; repeating ones stay.
func (f *StubFiber) ExecuteAllScheduled() int {
	f.mu.Lock()
	due := append([]*stubSchedule(nil), f.scheduled...)
	f.mu.Unlock()

	n := 0
	for _, s := range due {
		if s.sub.Disposed() {
			continue
		}
		if !s.repeating {
			s.sub.Dispose()
		}
		f.run(s.action)
		n++
	}
	return n
}

// NumScheduled returns the number of live scheduled actions.
func (f *StubFiber) NumScheduled() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.scheduled)
}

// ScheduledDelays returns the delay of each live schedule in creation order.
func (f *StubFiber) ScheduledDelays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]time.Duration, len(f.scheduled))
	for i, s := range f.scheduled {
		out[i] = s.delay
	}
	return out
}

// Dispose implements Fiber.
func (f *StubFiber) Dispose() {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return
	}
	f.disposed = true
	f.pending = nil
	f.cont = nil
	f.resumed = false
	f.mu.Unlock()

	f.dispose()
}

// Stats returns a point-in-time snapshot of fiber activity.
func (f *StubFiber) Stats() FiberStats {
	f.mu.Lock()
	depth := len(f.pending)
	f.mu.Unlock()

	return f.stats(depth)
}
