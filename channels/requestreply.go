package channels

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/baxromumarov/fiberworks"
)

// RequestReplyChannel broadcasts requests to responders and collects their
// replies in a per-request [ReplyBox].
type RequestReplyChannel[Req, Resp any] struct {
	requests *Channel[*Request[Req, Resp]]
	logger   *zap.Logger
}

// NewRequestReplyChannel creates a channel with no responders.
func NewRequestReplyChannel[Req, Resp any](opts ...Option) *RequestReplyChannel[Req, Resp] {
	cfg := buildConfig(opts)
	return &RequestReplyChannel[Req, Resp]{
		requests: NewChannel[*Request[Req, Resp]](opts...),
		logger:   cfg.logger,
	}
}

// AddResponder registers handler to receive requests on fiber.
func (c *RequestReplyChannel[Req, Resp]) AddResponder(
	fiber fiberworks.Fiber,
	handler func(*Request[Req, Resp]),
	opts ...SubscribeOption,
) *fiberworks.Unsubscriber {
	return c.requests.Subscribe(fiber, handler, opts...)
}

// SendRequest broadcasts payload to every responder. It returns nil when
// there is no responder.
func (c *RequestReplyChannel[Req, Resp]) SendRequest(payload Req) *ReplyBox[Resp] {
	box := &ReplyBox[Resp]{id: uuid.New(), logger: c.logger}
	if !c.requests.Publish(&Request[Req, Resp]{payload: payload, box: box}) {
		return nil
	}
	return box
}

// NumResponders returns the number of registered responders.
func (c *RequestReplyChannel[Req, Resp]) NumResponders() int {
	return c.requests.NumSubscribers()
}

// Request is what a responder receives.
type Request[Req, Resp any] struct {
	payload Req
	box     *ReplyBox[Resp]
}

// Payload returns the request payload.
func (r *Request[Req, Resp]) Payload() Req {
	return r.payload
}

// ID returns the id of the reply box the request belongs to.
func (r *Request[Req, Resp]) ID() uuid.UUID {
	return r.box.id
}

// SendReply queues resp for the requester. It may be called any number of
// times; it reports false once the requester disposed its ReplyBox.
func (r *Request[Req, Resp]) SendReply(resp Resp) bool {
	return r.box.enqueue(resp)
}

// ReplyBox accumulates the replies to one request.
//
// A callback registered with SetCallbackOnReceive fires exactly once:
// either with the first reply or with ok == false when the timeout
// elapses first. The callback registration is the token both paths race
// for, under the box lock.
type ReplyBox[Resp any] struct {
	id     uuid.UUID
	logger *zap.Logger

	mu       sync.Mutex
	replies  []Resp
	pending  *replyCallback[Resp]
	disposed bool
}

type replyCallback[Resp any] struct {
	fiber fiberworks.Fiber
	fn    func(resp Resp, ok bool)
	timer fiberworks.Disposable
}

// ID returns a unique id for the request, handy for correlating logs.
func (b *ReplyBox[Resp]) ID() uuid.UUID {
	return b.id
}

func (b *ReplyBox[Resp]) enqueue(resp Resp) bool {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return false
	}
	b.replies = append(b.replies, resp)
	var timer fiberworks.Disposable
	if cb := b.pending; cb != nil {
		timer = b.fireLocked(cb)
	}
	b.mu.Unlock()

	if timer != nil {
		timer.Dispose()
	}
	return true
}

// fireLocked hands the oldest reply to cb and returns cb's timer for the
// caller to cancel once the lock is released. Caller holds b.mu.
func (b *ReplyBox[Resp]) fireLocked(cb *replyCallback[Resp]) fiberworks.Disposable {
	resp := b.replies[0]
	var zero Resp
	b.replies[0] = zero
	b.replies = b.replies[1:]
	b.pending = nil
	enqueue(cb.fiber, b.logger, func() { cb.fn(resp, true) })
	return cb.timer
}

// TryReceive removes and returns the oldest buffered reply.
func (b *ReplyBox[Resp]) TryReceive() (Resp, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero Resp
	if len(b.replies) == 0 {
		return zero, false
	}
	resp := b.replies[0]
	b.replies[0] = zero
	b.replies = b.replies[1:]
	return resp, true
}

// SetCallbackOnReceive arranges for fn to run on fiber exactly once: with
// the next reply, or with ok == false after timeout. A reply that is
// already buffered is delivered at once and no timer is armed. A negative
// timeout waits indefinitely.
//
// To stream replies, register again from inside fn.
func (b *ReplyBox[Resp]) SetCallbackOnReceive(timeout time.Duration, fiber fiberworks.Fiber, fn func(resp Resp, ok bool)) error {
	if fiber == nil {
		panic("channels: SetCallbackOnReceive requires a non-nil fiber")
	}
	if fn == nil {
		panic("channels: SetCallbackOnReceive requires a non-nil callback")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return ErrReplyBoxDisposed
	}
	if b.pending != nil {
		return ErrCallbackPending
	}

	cb := &replyCallback[Resp]{fiber: fiber, fn: fn}
	if len(b.replies) > 0 {
		b.fireLocked(cb)
		return nil
	}
	b.pending = cb
	if timeout >= 0 {
		cb.timer = fiber.Schedule(func() { b.expire(cb) }, timeout)
	}
	return nil
}

// expire runs on the callback fiber when the timer wins.
func (b *ReplyBox[Resp]) expire(cb *replyCallback[Resp]) {
	b.mu.Lock()
	if b.pending != cb {
		b.mu.Unlock()
		return
	}
	b.pending = nil
	b.mu.Unlock()

	b.logger.Debug("request timed out", zap.Stringer("request", b.id))
	var zero Resp
	cb.fn(zero, false)
}

// Dispose makes further SendReply calls fail, drops buffered replies and
// cancels a pending callback without running it.
func (b *ReplyBox[Resp]) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	b.replies = nil
	cb := b.pending
	b.pending = nil
	b.mu.Unlock()

	if cb != nil && cb.timer != nil {
		cb.timer.Dispose()
	}
}

// Disposed reports whether Dispose has been called.
func (b *ReplyBox[Resp]) Disposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.disposed
}
