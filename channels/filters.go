package channels

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/baxromumarov/fiberworks"
)

// accumulator is the buffering core shared by the delivery filters. The
// first message after a flush arms one timer on the accumulation fiber;
// the flush swaps the buffer out under the lock and hands it to receive.
type accumulator[T, B any] struct {
	fiber    fiberworks.Fiber
	deliver  fiberworks.Fiber
	interval time.Duration
	filter   func(T) bool
	add      func(B, T) B
	receive  func(B)
	logger   *zap.Logger

	mu       sync.Mutex
	buf      B
	timer    fiberworks.Disposable
	armed    bool
	disposed bool
}

func newAccumulator[T, B any](
	fiber fiberworks.Fiber,
	interval time.Duration,
	add func(B, T) B,
	receive func(B),
	opts []SubscribeOption,
) *accumulator[T, B] {
	if fiber == nil {
		panic("channels: filter requires a non-nil fiber")
	}
	if interval < 0 {
		panic("channels: filter interval must be non-negative")
	}
	if receive == nil {
		panic("channels: filter requires a non-nil receive callback")
	}
	cfg := buildSubConfig(opts)
	return &accumulator[T, B]{
		fiber:    fiber,
		deliver:  cfg.deliverOn,
		interval: interval,
		filter:   filterOf[T](cfg),
		add:      add,
		receive:  receive,
		logger:   zap.NewNop(),
	}
}

// OnMessage buffers msg. It is safe to call from any goroutine and is
// usually registered with Channel.SubscribeFunc.
func (a *accumulator[T, B]) OnMessage(msg T) {
	if a.filter != nil && !a.filter(msg) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.disposed {
		return
	}
	a.buf = a.add(a.buf, msg)
	if !a.armed {
		a.armed = true
		a.timer = a.fiber.Schedule(a.flush, a.interval)
	}
}

func (a *accumulator[T, B]) flush() {
	a.mu.Lock()
	if a.disposed || !a.armed {
		a.mu.Unlock()
		return
	}
	var zero B
	buf := a.buf
	a.buf = zero
	a.armed = false
	a.timer = nil
	a.mu.Unlock()

	if a.deliver == nil {
		a.receive(buf)
		return
	}
	enqueue(a.deliver, a.logger, func() { a.receive(buf) })
}

// Dispose drops the buffer and cancels the pending flush.
func (a *accumulator[T, B]) Dispose() {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.disposed = true
	var zero B
	a.buf = zero
	t := a.timer
	a.timer = nil
	a.mu.Unlock()

	if t != nil {
		t.Dispose()
	}
}

// Batch delivers every message received during an interval as one slice.
type Batch[T any] struct {
	*accumulator[T, []T]
}

// NewBatch returns a Batch that flushes on fiber interval after the first
// buffered message.
func NewBatch[T any](fiber fiberworks.Fiber, interval time.Duration, receive func([]T), opts ...SubscribeOption) *Batch[T] {
	return &Batch[T]{newAccumulator(fiber, interval, func(buf []T, msg T) []T {
		return append(buf, msg)
	}, receive, opts)}
}

// Last delivers only the most recent message received during an interval.
type Last[T any] struct {
	*accumulator[T, T]
}

// NewLast returns a Last that flushes on fiber interval after the first
// buffered message.
func NewLast[T any](fiber fiberworks.Fiber, interval time.Duration, receive func(T), opts ...SubscribeOption) *Last[T] {
	return &Last[T]{newAccumulator(fiber, interval, func(_ T, msg T) T {
		return msg
	}, receive, opts)}
}

// KeyedBatch delivers the messages received during an interval as a map,
// keeping only the latest message per key.
type KeyedBatch[K comparable, T any] struct {
	*accumulator[T, map[K]T]
}

// NewKeyedBatch returns a KeyedBatch keyed by key that flushes on fiber
// interval after the first buffered message.
func NewKeyedBatch[K comparable, T any](
	fiber fiberworks.Fiber,
	key func(T) K,
	interval time.Duration,
	receive func(map[K]T),
	opts ...SubscribeOption,
) *KeyedBatch[K, T] {
	if key == nil {
		panic("channels: NewKeyedBatch requires a non-nil key function")
	}
	return &KeyedBatch[K, T]{newAccumulator(fiber, interval, func(buf map[K]T, msg T) map[K]T {
		if buf == nil {
			buf = make(map[K]T)
		}
		buf[key(msg)] = msg
		return buf
	}, receive, opts)}
}

// SubscribeToBatch subscribes a new [Batch] to ch. Disposing the returned
// handle, or fiber, unsubscribes and cancels the pending flush.
func SubscribeToBatch[T any](
	ch *Channel[T],
	fiber fiberworks.Fiber,
	interval time.Duration,
	receive func([]T),
	opts ...SubscribeOption,
) *fiberworks.Unsubscriber {
	b := NewBatch(fiber, interval, receive, opts...)
	return attach(ch, fiber, b.accumulator)
}

// SubscribeToLast subscribes a new [Last] to ch. See [SubscribeToBatch].
func SubscribeToLast[T any](
	ch *Channel[T],
	fiber fiberworks.Fiber,
	interval time.Duration,
	receive func(T),
	opts ...SubscribeOption,
) *fiberworks.Unsubscriber {
	l := NewLast(fiber, interval, receive, opts...)
	return attach(ch, fiber, l.accumulator)
}

// SubscribeToKeyedBatch subscribes a new [KeyedBatch] to ch. See
// [SubscribeToBatch].
func SubscribeToKeyedBatch[K comparable, T any](
	ch *Channel[T],
	fiber fiberworks.Fiber,
	key func(T) K,
	interval time.Duration,
	receive func(map[K]T),
	opts ...SubscribeOption,
) *fiberworks.Unsubscriber {
	kb := NewKeyedBatch(fiber, key, interval, receive, opts...)
	return attach(ch, fiber, kb.accumulator)
}

func attach[T, B any](ch *Channel[T], fiber fiberworks.Fiber, a *accumulator[T, B]) *fiberworks.Unsubscriber {
	a.logger = ch.logger
	sub := fiber.BeginSubscription()
	sub.Add(a)
	sub.AddFunc(ch.add(a.OnMessage))
	return sub
}
