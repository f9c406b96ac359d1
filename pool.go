package fiberworks

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ThreadPool executes units of work on some worker goroutine. There is no
// ordering guarantee between units; fibers layer ordering on top.
//
// Queue must not block. A bounded implementation reports overflow with a
// [*QueueFullError] carrying its current depth.
type ThreadPool interface {
	Queue(work func()) error
}

// ThreadPoolFunc adapts a function to the [ThreadPool] interface.
type ThreadPoolFunc func(work func()) error

// Queue implements ThreadPool.
func (f ThreadPoolFunc) Queue(work func()) error { return f(work) }

// GoroutinePool is a [ThreadPool] that starts a goroutine per unit of work.
var GoroutinePool ThreadPool = ThreadPoolFunc(func(work func()) error {
	go work()
	return nil
})

var defaultPool = sync.OnceValue(func() *Pool {
	return NewPool(context.Background(), runtime.GOMAXPROCS(0))
})

// DefaultPool returns the process-wide pool, sized to GOMAXPROCS and
// created on first use. Components never reach for it on their own; pass
// it explicitly where a [ThreadPool] is required.
func DefaultPool() *Pool {
	return defaultPool()
}

// Pool is the reference [ThreadPool]: a fixed number of worker goroutines
// pulling from a FIFO of pending work. The FIFO is unbounded unless
// [WithQueueSize] is given.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool

	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	queueSize int
	logger    *zap.Logger

	errMu sync.Mutex
	errs  []error

	// Observability counters.
	submitted atomic.Int64
	completed atomic.Int64
	errored   atomic.Int64
	rejected  atomic.Int64
	inFlight  atomic.Int64
	workers   int
}

// PoolStats provides a point-in-time snapshot of pool activity.
type PoolStats struct {
	Submitted  int64 // total units accepted
	Completed  int64 // units finished (success + panic)
	Errored    int64 // units that panicked
	Rejected   int64 // units refused because the queue was full
	InFlight   int64 // units currently executing
	QueueDepth int   // units waiting in the queue
	Workers    int   // worker count (fixed at creation)
}

// PoolOption configures a [Pool].
type PoolOption func(*poolConfig)

type poolConfig struct {
	queueSize       int
	logger          *zap.Logger
	onMetrics       func(PoolStats)
	metricsInterval time.Duration
}

// WithQueueSize bounds the pending queue. Queue returns a
// [*QueueFullError] when size units are already waiting.
// Zero (the default) means unbounded.
func WithQueueSize(size int) PoolOption {
	return func(c *poolConfig) {
		if size < 0 {
			panic("fiberworks: WithQueueSize requires non-negative size")
		}
		c.queueSize = size
	}
}

// WithPoolLogger sets the logger used to report panics that escape to the
// worker boundary.
func WithPoolLogger(l *zap.Logger) PoolOption {
	return func(c *poolConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPoolMetrics registers a periodic pool metrics callback that fires
// every interval. The callback receives a snapshot of current pool counters.
//
// Panics if interval <= 0 or fn is nil.
func WithPoolMetrics(interval time.Duration, fn func(PoolStats)) PoolOption {
	if interval <= 0 {
		panic("fiberworks: WithPoolMetrics requires interval > 0")
	}
	if fn == nil {
		panic("fiberworks: WithPoolMetrics requires non-nil callback")
	}
	return func(c *poolConfig) {
		c.onMetrics = fn
		c.metricsInterval = interval
	}
}

// NewPool creates a pool with n worker goroutines.
// Workers start immediately and process work until [Pool.Close] is called
// or ctx is cancelled. Panics if n <= 0.
func NewPool(
	ctx context.Context,
	n int,
	opts ...PoolOption,
) *Pool {
	if n <= 0 {
		panic("fiberworks: NewPool requires n > 0")
	}

	cfg := poolConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		ctx:       ctx,
		cancel:    cancel,
		queueSize: cfg.queueSize,
		logger:    cfg.logger,
		workers:   n,
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(n)
	for range n {
		go p.worker()
	}

	// Wake idle workers when the context ends so they can exit.
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cond.Broadcast()
	}()

	if cfg.onMetrics != nil {
		go func() {
			ticker := time.NewTicker(cfg.metricsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					cfg.onMetrics(p.Stats())
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.tasks) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.tasks) == 0 {
			p.mu.Unlock()
			return
		}
		fn := p.tasks[0]
		p.tasks[0] = nil
		p.tasks = p.tasks[1:]
		p.mu.Unlock()

		p.runTask(fn)
	}
}

func (p *Pool) runTask(fn func()) {
	p.inFlight.Add(1)
	defer func() {
		p.inFlight.Add(-1)
		p.completed.Add(1)
	}()

	defer func() {
		if r := recover(); r != nil {
			pe := newPanicError(r)
			p.errored.Add(1)
			p.logger.Error("pool work panicked", zap.Any("panic", r))
			p.errMu.Lock()
			p.errs = append(p.errs, pe)
			p.errMu.Unlock()
		}
	}()
	fn()
}

// Queue schedules work and returns immediately.
// Returns [ErrPoolClosed] after Close, ctx.Err() once the pool's context is
// cancelled, or a [*QueueFullError] when a bounded queue is full.
func (p *Pool) Queue(work func()) error {
	if work == nil {
		panic("fiberworks: Queue requires non-nil work")
	}
	if err := p.ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.queueSize > 0 && len(p.tasks) >= p.queueSize {
		depth := len(p.tasks)
		p.mu.Unlock()
		p.rejected.Add(1)
		return &QueueFullError{Depth: depth}
	}
	p.tasks = append(p.tasks, work)
	p.mu.Unlock()

	p.submitted.Add(1)
	p.cond.Signal()
	return nil
}

// Stats returns a point-in-time snapshot of pool activity.
// Safe to call concurrently.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	depth := len(p.tasks)
	p.mu.Unlock()

	return PoolStats{
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Errored:    p.errored.Load(),
		Rejected:   p.rejected.Load(),
		InFlight:   p.inFlight.Load(),
		QueueDepth: depth,
		Workers:    p.workers,
	}
}

// Close stops accepting new work, lets the workers drain what is already
// queued and waits for them to exit. Returns the joined [*PanicError]
// values of work that panicked past its executor.
// Safe to call multiple times; subsequent calls return the same result.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()

	p.wg.Wait()
	p.cancel()

	p.errMu.Lock()
	defer p.errMu.Unlock()
	return errors.Join(p.errs...)
}
