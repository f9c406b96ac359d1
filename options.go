package fiberworks

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

const defaultQueueCapacity = 1024

var fiberSeq atomic.Uint64

type config struct {
	name     string
	logger   *zap.Logger
	executor Executor
	policy   PanicPolicy
	onError  func(error)
	maxDepth int
	capacity int
	timer    Timer
}

// Option configures a fiber.
type Option func(*config)

func defaultConfig() config {
	return config{
		name:     fmt.Sprintf("fiber-%d", fiberSeq.Add(1)),
		logger:   zap.NewNop(),
		policy:   LogAndContinue,
		capacity: defaultQueueCapacity,
		timer:    SystemTimer{},
	}
}

func buildConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithName sets the fiber name used in logs, stats and metrics labels.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithLogger sets the logger. A nil logger is replaced by zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l == nil {
			l = zap.NewNop()
		}
		c.logger = l
	}
}

// WithExecutor replaces the executor strategy. When set, [WithPanicPolicy]
// is ignored and panic accounting is up to the supplied executor.
func WithExecutor(e Executor) Option {
	return func(c *config) {
		c.executor = e
	}
}

// WithPanicPolicy sets how panicking actions are handled.
// It panics if p is not a known PanicPolicy value.
func WithPanicPolicy(p PanicPolicy) Option {
	return func(c *config) {
		switch p {
		case LogAndContinue, Ignore, AbortBatch:
			c.policy = p
		default:
			panic("fiberworks: invalid panic policy")
		}
	}
}

// WithOnError registers a hook that receives every recovered panic (as a
// [*PanicError]) and every error returned by an EnqueueAsync task.
// The hook runs on the fiber.
func WithOnError(fn func(error)) Option {
	return func(c *config) {
		c.onError = fn
	}
}

// WithMaxQueueDepth bounds the pending queue. Enqueue returns a
// [*QueueFullError] once depth pending actions are waiting.
// Zero (the default for pool and stub fibers) means unbounded.
// WithMaxQueueDepth panics if depth is negative.
func WithMaxQueueDepth(depth int) Option {
	return func(c *config) {
		if depth < 0 {
			panic("fiberworks: max queue depth must be non-negative")
		}
		c.maxDepth = depth
	}
}

// WithQueueCapacity sets the ring capacity of a [ThreadFiber]. It is
// rounded up to a power of two. Default is 1024.
// WithQueueCapacity panics if n < 2.
func WithQueueCapacity(n int) Option {
	return func(c *config) {
		if n < 2 {
			panic("fiberworks: queue capacity must be >= 2")
		}
		c.capacity = n
	}
}

// WithTimer sets the timer used by Schedule and ScheduleRepeating.
func WithTimer(t Timer) Option {
	return func(c *config) {
		if t == nil {
			panic("fiberworks: WithTimer requires a non-nil timer")
		}
		c.timer = t
	}
}
