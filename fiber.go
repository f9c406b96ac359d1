package fiberworks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Fiber is a sequential execution context. Actions enqueued from any
// goroutine run one at a time, in enqueue order.
//
// Pause and Resume let an action hand work to another goroutine without
// holding the fiber's worker: the action calls Pause, starts the external
// work and returns; the fiber stops draining until the external work calls
// Resume, whose continuation runs before any other queued action.
type Fiber interface {
	// Enqueue appends action to the pending queue. It returns
	// ErrFiberDisposed after Dispose, or a *QueueFullError when a bounded
	// queue is full.
	Enqueue(action func()) error

	// EnqueueAsync enqueues an action that pauses the fiber, runs task on
	// its own goroutine and resumes the fiber when task returns. The
	// context passed to task is cancelled when the fiber is disposed.
	EnqueueAsync(task func(ctx context.Context) error) error

	// Pause stops the fiber from draining after the current action.
	Pause() error

	// Resume re-arms draining; continuation (which may be nil) runs first.
	Resume(continuation func()) error

	// Schedule enqueues action after delay. Disposing the handle, or the
	// fiber, cancels it.
	Schedule(action func(), delay time.Duration) Disposable

	// ScheduleRepeating enqueues action after first and then every interval.
	ScheduleRepeating(action func(), first, interval time.Duration) Disposable

	// BeginSubscription returns a disposal scope owned by the fiber:
	// disposing the fiber disposes the scope, and disposing the scope
	// detaches it from the fiber.
	BeginSubscription() *Unsubscriber

	// Dispose drops pending work and disposes every registered subscription.
	Dispose()
}

// FiberStats provides a point-in-time snapshot of fiber activity.
type FiberStats struct {
	Name     string
	Enqueued int64 // actions accepted
	Executed int64 // actions and continuations run
	Panics   int64 // panics recovered by the executor
	Rejected int64 // actions refused because the queue was full
	Drains   int64 // drain cycles started
	Depth    int   // actions currently pending
}

// fiberBase carries what every fiber kind shares: configuration, the
// subscription registry, the context handed to async tasks and counters.
type fiberBase struct {
	cfg    config
	exec   Executor
	subs   *Unsubscriber
	ctx    context.Context
	cancel context.CancelFunc

	errMu sync.Mutex
	err   error

	enqueued atomic.Int64
	executed atomic.Int64
	panics   atomic.Int64
	rejected atomic.Int64
	drains   atomic.Int64
}

func (b *fiberBase) init(cfg config) {
	b.cfg = cfg
	b.subs = NewUnsubscriber()
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.exec = cfg.executor
	if b.exec == nil {
		b.exec = NewExecutor(cfg.policy, cfg.logger.With(zap.String("fiber", cfg.name)), b.onPanic)
	}
}

func (b *fiberBase) onPanic(pe *PanicError) {
	b.panics.Add(1)
	if b.cfg.onError != nil {
		b.cfg.onError(pe)
	}
}

// run executes one action through the executor and records an aborting
// error. It reports whether the drain may continue.
func (b *fiberBase) run(action func()) bool {
	err := b.exec.Execute(action)
	b.executed.Add(1)
	if err != nil {
		b.errMu.Lock()
		if b.err == nil {
			b.err = err
		}
		b.errMu.Unlock()
		return false
	}
	return true
}

func (b *fiberBase) reportError(err error) {
	b.cfg.logger.Debug("async task failed", zap.String("fiber", b.cfg.name), zap.Error(err))
	if b.cfg.onError != nil {
		b.cfg.onError(err)
	}
}

// Name returns the fiber name.
func (b *fiberBase) Name() string {
	return b.cfg.name
}

// Err returns the first error that aborted a drain, if any.
func (b *fiberBase) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()

	return b.err
}

// BeginSubscription implements Fiber.
func (b *fiberBase) BeginSubscription() *Unsubscriber {
	sub := NewUnsubscriber()
	sub.AddFunc(b.subs.Add(sub))
	return sub
}

// NumSubscriptions returns the number of live scopes registered with the
// fiber, including pending schedules.
func (b *fiberBase) NumSubscriptions() int {
	return b.subs.Len()
}

func (b *fiberBase) stats(depth int) FiberStats {
	return FiberStats{
		Name:     b.cfg.name,
		Enqueued: b.enqueued.Load(),
		Executed: b.executed.Load(),
		Panics:   b.panics.Load(),
		Rejected: b.rejected.Load(),
		Drains:   b.drains.Load(),
		Depth:    depth,
	}
}

func (b *fiberBase) dispose() {
	b.cancel()
	b.subs.Dispose()
}

// scheduleOnce arms the fiber's timer; on expiry the action is enqueued
// onto f unless the returned scope was disposed meanwhile.
func scheduleOnce(f Fiber, t Timer, action func(), delay time.Duration) Disposable {
	if action == nil {
		panic("fiberworks: Schedule requires a non-nil action")
	}
	sub := f.BeginSubscription()
	if sub.Disposed() {
		return sub
	}
	sub.Add(t.ScheduleOnce(func() {
		_ = f.Enqueue(func() {
			if sub.Disposed() {
				return
			}
			sub.Dispose()
			action()
		})
	}, delay))
	return sub
}

func scheduleRepeating(f Fiber, t Timer, action func(), first, interval time.Duration) Disposable {
	if action == nil {
		panic("fiberworks: ScheduleRepeating requires a non-nil action")
	}
	sub := f.BeginSubscription()
	if sub.Disposed() {
		return sub
	}
	sub.Add(t.ScheduleRepeating(func() {
		_ = f.Enqueue(func() {
			if !sub.Disposed() {
				action()
			}
		})
	}, first, interval))
	return sub
}

func enqueueAsync(f Fiber, b *fiberBase, task func(ctx context.Context) error) error {
	if task == nil {
		panic("fiberworks: EnqueueAsync requires a non-nil task")
	}
	return f.Enqueue(func() {
		if err := f.Pause(); err != nil {
			b.reportError(err)
			return
		}
		go func() {
			err := task(b.ctx)
			_ = f.Resume(func() {
				if err != nil {
					b.reportError(err)
				}
			})
		}()
	})
}
