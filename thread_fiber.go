package fiberworks

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/iox"

	"github.com/baxromumarov/fiberworks/internal/ring"
)

// ThreadFiber is a [Fiber] with a dedicated goroutine locked to its own OS
// thread. Producers push into a bounded lock-free ring; the consumer blocks
// when the ring is empty instead of rescheduling, which suits fibers that
// are busy most of the time or that call thread-affine code.
//
// The ring capacity (see [WithQueueCapacity]) bounds the backlog: Enqueue
// on a full ring returns a [*QueueFullError].
type ThreadFiber struct {
	fiberBase
	queue *ring.MPSC[func()]
	depth atomic.Int64

	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}

	pauseMu  sync.Mutex
	paused   bool
	awaiting int
	resumed  []func()
	resumeCh chan struct{}

	disposed atomic.Bool
}

// NewThreadFiber creates a ThreadFiber and starts its goroutine.
func NewThreadFiber(opts ...Option) *ThreadFiber {
	cfg := buildConfig(opts)
	f := &ThreadFiber{
		queue:    ring.NewMPSC[func()](cfg.capacity),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
		resumeCh: make(chan struct{}, 1),
	}
	f.init(cfg)
	go f.loop()
	return f
}

// Enqueue implements Fiber.
func (f *ThreadFiber) Enqueue(action func()) error {
	if action == nil {
		panic("fiberworks: Enqueue requires a non-nil action")
	}
	if f.disposed.Load() {
		return ErrFiberDisposed
	}

	depth := f.depth.Add(1)
	if f.cfg.maxDepth > 0 && depth > int64(f.cfg.maxDepth) {
		f.depth.Add(-1)
		f.rejected.Add(1)
		return &QueueFullError{Depth: int(depth - 1)}
	}
	if err := f.queue.Enqueue(&action); err != nil {
		d := f.depth.Add(-1)
		f.rejected.Add(1)
		return &QueueFullError{Depth: int(d)}
	}
	f.enqueued.Add(1)

	select {
	case f.wake <- struct{}{}:
	default:
	}
	return nil
}

func (f *ThreadFiber) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(f.exited)

	backoff := iox.Backoff{}
	for {
		action, err := f.queue.Dequeue()
		if err != nil {
			// A producer has counted its action but not published it yet.
			if f.depth.Load() > 0 && !f.disposed.Load() {
				backoff.Wait()
				continue
			}
			backoff.Reset()
			select {
			case <-f.wake:
				f.drains.Add(1)
				continue
			case <-f.done:
				return
			}
		}
		backoff.Reset()
		f.depth.Add(-1)
		if f.disposed.Load() {
			return
		}

		if !f.run(action) {
			f.discardBacklog()
		}
		if !f.awaitResume() {
			return
		}
	}
}

// discardBacklog drops the actions queued when an executor aborted.
func (f *ThreadFiber) discardBacklog() {
	for n := f.queue.Len(); n > 0; n-- {
		if _, err := f.queue.Dequeue(); err != nil {
			return
		}
		f.depth.Add(-1)
	}
}

// awaitResume blocks the consumer while the last action left the fiber
// paused, then runs the continuation. It reports false once disposed.
func (f *ThreadFiber) awaitResume() bool {
	f.pauseMu.Lock()
	if f.awaiting == 0 {
		f.pauseMu.Unlock()
		return true
	}
	f.awaiting--
	for len(f.resumed) == 0 {
		f.pauseMu.Unlock()
		select {
		case <-f.resumeCh:
		case <-f.done:
			return false
		}
		f.pauseMu.Lock()
	}
	cont := f.resumed[0]
	f.resumed[0] = nil
	f.resumed = f.resumed[1:]
	f.pauseMu.Unlock()

	if cont != nil && !f.run(cont) {
		f.discardBacklog()
	}
	// The continuation may pause again.
	return f.awaitResume()
}

// EnqueueAsync implements Fiber.
func (f *ThreadFiber) EnqueueAsync(task func(ctx context.Context) error) error {
	return enqueueAsync(f, &f.fiberBase, task)
}

// Pause implements Fiber. Call it from an action running on f.
func (f *ThreadFiber) Pause() error {
	if f.disposed.Load() {
		return ErrFiberDisposed
	}
	f.pauseMu.Lock()
	defer f.pauseMu.Unlock()

	if f.paused {
		return ErrAlreadyPaused
	}
	f.paused = true
	f.awaiting++
	return nil
}

// Resume implements Fiber. It may be called from any goroutine.
func (f *ThreadFiber) Resume(continuation func()) error {
	f.pauseMu.Lock()
	defer f.pauseMu.Unlock()

	if !f.paused {
		return ErrNotPaused
	}
	f.paused = false
	if f.disposed.Load() {
		return ErrFiberDisposed
	}
	f.resumed = append(f.resumed, continuation)
	select {
	case f.resumeCh <- struct{}{}:
	default:
	}
	return nil
}

// Schedule implements Fiber.
func (f *ThreadFiber) Schedule(action func(), delay time.Duration) Disposable {
	return scheduleOnce(f, f.cfg.timer, action, delay)
}

// ScheduleRepeating implements Fiber.
func (f *ThreadFiber) ScheduleRepeating(action func(), first, interval time.Duration) Disposable {
	return scheduleRepeating(f, f.cfg.timer, action, first, interval)
}

// Dispose implements Fiber. It does not wait for the goroutine to exit; use
// [ThreadFiber.Done] for that. Safe to call from an action on f.
func (f *ThreadFiber) Dispose() {
	if !f.disposed.CompareAndSwap(false, true) {
		return
	}
	close(f.done)
	f.dispose()
}

// Done is closed once the fiber goroutine has exited after Dispose.
func (f *ThreadFiber) Done() <-chan struct{} {
	return f.exited
}

// Stats returns a point-in-time snapshot of fiber activity.
func (f *ThreadFiber) Stats() FiberStats {
	return f.stats(int(max(f.depth.Load(), 0)))
}
