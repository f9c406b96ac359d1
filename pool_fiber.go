package fiberworks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PoolFiber is a [Fiber] drained by a shared [ThreadPool]. At most one
// drain is queued or running at a time. A drain swaps out the whole
// backlog, runs it outside the lock and reschedules itself only if more
// work arrived meanwhile, so a busy fiber yields the worker between
// backlogs instead of starving the pool.
type PoolFiber struct {
	fiberBase
	pool ThreadPool

	mu       sync.Mutex
	queue    []func()
	spare    []func()
	running  bool
	paused   bool
	resumed  bool
	cont     func()
	disposed bool
}

// NewPoolFiber creates a fiber backed by pool.
// Panics if pool is nil.
func NewPoolFiber(pool ThreadPool, opts ...Option) *PoolFiber {
	if pool == nil {
		panic("fiberworks: NewPoolFiber requires a non-nil pool")
	}
	f := &PoolFiber{pool: pool}
	f.init(buildConfig(opts))
	return f
}

// Enqueue implements Fiber.
func (f *PoolFiber) Enqueue(action func()) error {
	if action == nil {
		panic("fiberworks: Enqueue requires a non-nil action")
	}

	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return ErrFiberDisposed
	}
	if f.cfg.maxDepth > 0 && len(f.queue) >= f.cfg.maxDepth {
		depth := len(f.queue)
		f.mu.Unlock()
		f.rejected.Add(1)
		return &QueueFullError{Depth: depth}
	}
	f.queue = append(f.queue, action)
	f.enqueued.Add(1)
	start := f.armLocked()
	f.mu.Unlock()

	if start {
		return f.schedule()
	}
	return nil
}

// armLocked claims the right to schedule a drain. Caller holds f.mu.
func (f *PoolFiber) armLocked() bool {
	if f.running || f.paused || f.disposed {
		return false
	}
	f.running = true
	return true
}

// schedule hands a drain to the pool. If the pool refuses, the pending
// actions stay queued and the next Enqueue or Resume tries again.
func (f *PoolFiber) schedule() error {
	err := f.pool.Queue(f.drain)
	if err == nil {
		return nil
	}
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	return fmt.Errorf("fiberworks: schedule drain on %s: %w", f.cfg.name, err)
}

// EnqueueAsync implements Fiber.
func (f *PoolFiber) EnqueueAsync(task func(ctx context.Context) error) error {
	return enqueueAsync(f, &f.fiberBase, task)
}

// Pause implements Fiber. Call it from an action running on f.
func (f *PoolFiber) Pause() error {
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

// Resume implements Fiber. It may be called from any goroutine.
func (f *PoolFiber) Resume(continuation func()) error {
	f.mu.Lock()
	if !f.paused {
		f.mu.Unlock()
		return ErrNotPaused
	}
	f.paused = false
	if f.disposed {
		f.mu.Unlock()
		return ErrFiberDisposed
	}
	f.resumed = true
	f.cont = continuation
	start := f.armLocked()
	f.mu.Unlock()

	if start {
		return f.schedule()
	}
	return nil
}

// takeContinuationLocked returns the pending continuation, if Resume left
// one. Caller holds f.mu.
func (f *PoolFiber) takeContinuationLocked() (func(), bool) {
	if !f.resumed {
		return nil, false
	}
	cont := f.cont
	f.resumed = false
	f.cont = nil
	return cont, true
}

func (f *PoolFiber) drain() {
	f.drains.Add(1)

	f.mu.Lock()
	if f.disposed || f.paused {
		f.running = false
		f.mu.Unlock()
		return
	}
	cont, hasCont := f.takeContinuationLocked()
	batch := f.queue
	f.queue = f.spare[:0]
	f.spare = nil
	f.mu.Unlock()

	res := stepNext
	if hasCont && cont != nil {
		res = f.step(cont, batch)
	}
	for i := 0; i < len(batch) && res == stepNext; i++ {
		action := batch[i]
		batch[i] = nil
		res = f.step(action, batch[i+1:])
	}
	if res == stepStop {
		return
	}
	clear(batch)

	f.mu.Lock()
	if f.spare == nil {
		f.spare = batch[:0]
	}
	// An aborted step may leave a continuation from a Resume that raced
	// ahead of the panic.
	if f.disposed || (len(f.queue) == 0 && !f.resumed) {
		f.running = false
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	if err := f.pool.Queue(f.drain); err != nil {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
		f.cfg.logger.Warn("reschedule drain failed",
			zap.String("fiber", f.cfg.name),
			zap.Error(err),
		)
	}
}

type stepResult int

const (
	stepNext  stepResult = iota // carry on with the batch
	stepAbort                   // executor aborted; drop the rest of the batch
	stepStop                    // paused or disposed; the drain is over
)

// step runs one action, then any continuation left by a Resume that raced
// ahead of the drain. On pause, rest is put back at the front of the queue.
func (f *PoolFiber) step(action func(), rest []func()) stepResult {
	for action != nil {
		ok := f.run(action)

		f.mu.Lock()
		switch {
		case f.disposed:
			f.running = false
			f.mu.Unlock()
			return stepStop
		case f.paused:
			if ok && len(rest) > 0 {
				f.queue = append(append(make([]func(), 0, len(rest)+len(f.queue)), rest...), f.queue...)
			}
			f.running = false
			f.mu.Unlock()
			return stepStop
		case !ok:
			f.mu.Unlock()
			return stepAbort
		}
		cont, resumed := f.takeContinuationLocked()
		f.mu.Unlock()
		if !resumed {
			return stepNext
		}
		action = cont
	}
	return stepNext
}

// Schedule implements Fiber.
func (f *PoolFiber) Schedule(action func(), delay time.Duration) Disposable {
	return scheduleOnce(f, f.cfg.timer, action, delay)
}

// ScheduleRepeating implements Fiber.
func (f *PoolFiber) ScheduleRepeating(action func(), first, interval time.Duration) Disposable {
	return scheduleRepeating(f, f.cfg.timer, action, first, interval)
}

// Dispose implements Fiber. Pending actions are dropped; an action that is
// already running completes.
func (f *PoolFiber) Dispose() {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return
	}
	f.disposed = true
	f.queue = nil
	f.spare = nil
	f.cont = nil
	f.resumed = false
	f.mu.Unlock()

	f.dispose()
}

// Stats returns a point-in-time snapshot of fiber activity.
func (f *PoolFiber) Stats() FiberStats {
	f.mu.Lock()
	depth := len(f.queue)
	f.mu.Unlock()

	return f.stats(depth)
}
