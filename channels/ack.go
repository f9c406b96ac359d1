package channels

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/baxromumarov/fiberworks"
)

// AcknowledgementControl decides in which order an [AckChannel] offers a
// message to its handlers. Traverse calls deliver with handler indexes in
// [0, n) and must stop as soon as deliver reports handled or an error.
type AcknowledgementControl interface {
	Traverse(n int, deliver func(i int) (handled bool, err error)) (bool, error)
}

// DefaultAcknowledgementControl offers the message in registration order.
type DefaultAcknowledgementControl struct{}

// Traverse implements AcknowledgementControl.
func (DefaultAcknowledgementControl) Traverse(n int, deliver func(int) (bool, error)) (bool, error) {
	for i := 0; i < n; i++ {
		if handled, err := deliver(i); handled || err != nil {
			return handled, err
		}
	}
	return false, nil
}

// ReverseOrderAcknowledgementControl offers the message to the most
// recently registered handler first.
type ReverseOrderAcknowledgementControl struct{}

// Traverse implements AcknowledgementControl.
func (ReverseOrderAcknowledgementControl) Traverse(n int, deliver func(int) (bool, error)) (bool, error) {
	for i := n - 1; i >= 0; i-- {
		if handled, err := deliver(i); handled || err != nil {
			return handled, err
		}
	}
	return false, nil
}

// AckChannel delivers each message to its handlers one after another until
// one of them returns true. It is the building block for "first responder
// claims it" protocols.
//
// Only one Publish may run at a time per channel; a concurrent Publish
// fails with [ErrPublishInProgress] instead of interleaving.
type AckChannel[T any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers []ackHandler[T]
	inFlight atomic.Bool
	logger   *zap.Logger
}

type ackHandler[T any] struct {
	id     uint64
	invoke func(ctx context.Context, msg T) (bool, error)
}

// NewAckChannel creates an empty AckChannel.
func NewAckChannel[T any](opts ...Option) *AckChannel[T] {
	cfg := buildConfig(opts)
	return &AckChannel[T]{logger: cfg.logger}
}

// SubscribeFunc registers fn to run on the publishing goroutine.
// A panicking fn counts as not handled.
func (c *AckChannel[T]) SubscribeFunc(fn func(T) bool) *fiberworks.Unsubscriber {
	if fn == nil {
		panic("channels: SubscribeFunc requires a non-nil handler")
	}
	return fiberworks.NewUnsubscriber(c.add(func(_ context.Context, msg T) (handled bool, err error) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("ack subscriber panicked", zap.Any("panic", r))
				handled = false
			}
		}()
		return fn(msg), nil
	}))
}

// Subscribe registers fn to run on fiber. Publish waits for fn's answer,
// so never publish from fiber to a channel that fiber handles: the wait
// would only end when ctx does.
func (c *AckChannel[T]) Subscribe(fiber fiberworks.Fiber, fn func(T) bool) *fiberworks.Unsubscriber {
	if fiber == nil {
		panic("channels: Subscribe requires a non-nil fiber")
	}
	if fn == nil {
		panic("channels: Subscribe requires a non-nil handler")
	}
	sub := fiber.BeginSubscription()
	// Closed when the subscription or its fiber goes away, which may drop
	// an action already queued.
	gone := make(chan struct{})
	sub.AddFunc(func() { close(gone) })
	sub.AddFunc(c.add(func(ctx context.Context, msg T) (bool, error) {
		done := make(chan bool, 1)
		err := fiber.Enqueue(func() {
			handled := false
			// Deferred so a panicking handler still answers.
			defer func() { done <- handled }()
			handled = fn(msg)
		})
		if err != nil {
			return false, err
		}
		select {
		case handled := <-done:
			return handled, nil
		case <-gone:
			select {
			case handled := <-done:
				return handled, nil
			default:
				return false, fiberworks.ErrFiberDisposed
			}
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}))
	return sub
}

func (c *AckChannel[T]) add(fn func(context.Context, T) (bool, error)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.handlers = append(c.handlers, ackHandler[T]{id: id, invoke: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		for i, h := range c.handlers {
			if h.id == id {
				hs := make([]ackHandler[T], 0, len(c.handlers)-1)
				c.handlers = append(append(hs, c.handlers[:i]...), c.handlers[i+1:]...)
				return
			}
		}
	}
}

// Publish offers msg to the handlers registered when it starts, in the
// order control chooses (nil means [DefaultAcknowledgementControl]). It
// reports whether a handler acknowledged msg. A handler on a disposed
// fiber is skipped; ctx cancellation ends the walk with ctx.Err().
func (c *AckChannel[T]) Publish(ctx context.Context, msg T, control AcknowledgementControl) (bool, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return false, ErrPublishInProgress
	}
	defer c.inFlight.Store(false)

	if control == nil {
		control = DefaultAcknowledgementControl{}
	}

	c.mu.Lock()
	hs := c.handlers[:len(c.handlers):len(c.handlers)]
	c.mu.Unlock()

	return control.Traverse(len(hs), func(i int) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		handled, err := hs[i].invoke(ctx, msg)
		if err != nil && ctx.Err() == nil {
			c.logger.Debug("ack handler skipped", zap.Error(err))
			return false, nil
		}
		return handled, err
	})
}

// NumSubscribers returns the number of registered handlers.
func (c *AckChannel[T]) NumSubscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.handlers)
}
