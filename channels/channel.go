package channels

import (
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/baxromumarov/fiberworks"
)

// Channel is a thread-safe multicast bus for messages of type T.
type Channel[T any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers []handler[T]
	logger   *zap.Logger
}

type handler[T any] struct {
	id uint64
	fn func(T)
}

// NewChannel creates an empty channel.
func NewChannel[T any](opts ...Option) *Channel[T] {
	cfg := buildConfig(opts)
	return &Channel[T]{logger: cfg.logger}
}

// SubscribeFunc registers fn to run synchronously on every publishing
// goroutine. A panicking fn is recovered and logged; the other handlers
// still run.
func (c *Channel[T]) SubscribeFunc(fn func(T), opts ...SubscribeOption) *fiberworks.Unsubscriber {
	if fn == nil {
		panic("channels: SubscribeFunc requires a non-nil handler")
	}
	cfg := buildSubConfig(opts)
	return fiberworks.NewUnsubscriber(c.add(withFilter(filterOf[T](cfg), fn)))
}

// Subscribe registers fn to run on fiber. Each published message is
// enqueued onto fiber, so fn sees messages one at a time in publish order
// (per publishing goroutine). The subscription is owned by fiber: disposing
// either one removes the handler.
func (c *Channel[T]) Subscribe(fiber fiberworks.Fiber, fn func(T), opts ...SubscribeOption) *fiberworks.Unsubscriber {
	if fiber == nil {
		panic("channels: Subscribe requires a non-nil fiber")
	}
	if fn == nil {
		panic("channels: Subscribe requires a non-nil handler")
	}
	cfg := buildSubConfig(opts)
	sub := fiber.BeginSubscription()
	sub.AddFunc(c.add(withFilter(filterOf[T](cfg), func(msg T) {
		enqueue(fiber, c.logger, func() { fn(msg) })
	})))
	return sub
}

func withFilter[T any](pred func(T) bool, fn func(T)) func(T) {
	if pred == nil {
		return fn
	}
	return func(msg T) {
		if pred(msg) {
			fn(msg)
		}
	}
}

// add registers fn and returns its removal.
func (c *Channel[T]) add(fn func(T)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.handlers = append(c.handlers, handler[T]{id: id, fn: fn})
	return func() { c.remove(id) }
}

func (c *Channel[T]) remove(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Publishes work on their own copies, so the edit is in place.
	if i := slices.IndexFunc(c.handlers, func(h handler[T]) bool { return h.id == id }); i >= 0 {
		c.handlers = slices.Delete(c.handlers, i, i+1)
	}
}

func (c *Channel[T]) snapshot() []handler[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.handlers)
}

// Publish delivers msg to every handler registered when Publish started
// and reports whether there was at least one.
func (c *Channel[T]) Publish(msg T) bool {
	hs := c.snapshot()
	for _, h := range hs {
		c.invoke(h.fn, msg)
	}
	return len(hs) > 0
}

func (c *Channel[T]) invoke(fn func(T), msg T) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn(msg)
}

// NumSubscribers returns the number of registered handlers.
func (c *Channel[T]) NumSubscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.handlers)
}

// Clear removes every handler. Unsubscribers handed out earlier become
// no-ops as far as this channel is concerned.
func (c *Channel[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = nil
}

// enqueue hands action to f and logs when f refuses it.
func enqueue(f fiberworks.Fiber, logger *zap.Logger, action func()) bool {
	err := f.Enqueue(action)
	switch {
	case err == nil:
		return true
	case errors.Is(err, fiberworks.ErrFiberDisposed):
		logger.Debug("delivery dropped: fiber disposed")
	default:
		logger.Warn("delivery dropped", zap.Error(err))
	}
	return false
}
