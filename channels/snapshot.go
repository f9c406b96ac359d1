package channels

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/baxromumarov/fiberworks"
)

// SnapshotState is the lifecycle state of a [SnapshotSession].
type SnapshotState int

const (
	StateNone SnapshotState = iota
	StateTimeout
	StateConnecting
	StateStopped
	StateConnected
)

func (s SnapshotState) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateTimeout:
		return "Timeout"
	case StateConnecting:
		return "Connecting"
	case StateStopped:
		return "Stopped"
	case StateConnected:
		return "Connected"
	default:
		return "SnapshotState(?)"
	}
}

// SnapshotChannel primes each subscriber with a snapshot of some state and
// then streams incremental updates to it.
//
// One responder produces snapshots. It runs on its own fiber and, in the
// same action, computes the snapshot and attaches the subscriber to the
// update stream; an owner that publishes updates from that fiber therefore
// never loses or duplicates an update around the snapshot.
type SnapshotChannel[T any] struct {
	priming *RequestReplyChannel[*SnapshotSession[T], T]
	updates *Channel[T]
	logger  *zap.Logger

	mu           sync.Mutex
	hasResponder bool
}

// NewSnapshotChannel creates a channel with no responder.
func NewSnapshotChannel[T any](opts ...Option) *SnapshotChannel[T] {
	cfg := buildConfig(opts)
	return &SnapshotChannel[T]{
		priming: NewRequestReplyChannel[*SnapshotSession[T], T](opts...),
		updates: NewChannel[T](opts...),
		logger:  cfg.logger,
	}
}

// ReplyToPrimingRequest registers snapshot as the single producer of
// priming snapshots, run on fiber. A second registration fails with
// [ErrResponderExists] until the first is disposed.
func (c *SnapshotChannel[T]) ReplyToPrimingRequest(fiber fiberworks.Fiber, snapshot func() T) (*fiberworks.Unsubscriber, error) {
	if snapshot == nil {
		panic("channels: ReplyToPrimingRequest requires a non-nil snapshot func")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasResponder {
		return nil, ErrResponderExists
	}
	c.hasResponder = true

	sub := c.priming.AddResponder(fiber, func(req *Request[*SnapshotSession[T], T]) {
		s := req.Payload()
		snap := snapshot()
		s.attach(c.updates)
		req.SendReply(snap)
	})
	sub.AddFunc(func() {
		c.mu.Lock()
		c.hasResponder = false
		c.mu.Unlock()
	})
	return sub, nil
}

// Publish sends update to every connected session and reports whether
// any session was attached.
func (c *SnapshotChannel[T]) Publish(update T) bool {
	return c.updates.Publish(update)
}

// NumSubscribers returns the number of sessions attached to updates.
func (c *SnapshotChannel[T]) NumSubscribers() int {
	return c.updates.NumSubscribers()
}

// PrimedSubscribe requests a snapshot and, once it arrives, streams updates
// to receive on fiber. control observes every state change, also on
// fiber. Without a responder, or when no snapshot arrives within timeout,
// the session ends in [StateTimeout].
func (c *SnapshotChannel[T]) PrimedSubscribe(
	fiber fiberworks.Fiber,
	control func(SnapshotState),
	receive func(T),
	timeout time.Duration,
) *SnapshotSession[T] {
	if fiber == nil {
		panic("channels: PrimedSubscribe requires a non-nil fiber")
	}
	if receive == nil {
		panic("channels: PrimedSubscribe requires a non-nil receive callback")
	}
	if control == nil {
		control = func(SnapshotState) {}
	}

	s := &SnapshotSession[T]{
		id:      uuid.New(),
		fiber:   fiber,
		control: control,
		receive: receive,
		logger:  c.logger,
		sub:     fiber.BeginSubscription(),
		state:   StateConnecting,
	}
	s.sub.AddFunc(s.stop)

	box := c.priming.SendRequest(s)
	if box == nil {
		c.logger.Debug("priming failed: no responder", zap.Stringer("session", s.id))
		s.transition(StateConnecting, StateTimeout)
		s.sub.Dispose()
		return s
	}
	s.mu.Lock()
	// A Dispose racing this call has already reported Stopped.
	if s.state == StateConnecting {
		s.notifyLocked(StateConnecting)
	}
	s.mu.Unlock()
	s.sub.Add(box)
	if err := box.SetCallbackOnReceive(timeout, fiber, s.onSnapshot); err != nil {
		// Only possible if the session was disposed meanwhile.
		s.logger.Debug("priming aborted", zap.Stringer("session", s.id), zap.Error(err))
	}
	return s
}

// SnapshotSession is one subscriber's priming plus update stream.
type SnapshotSession[T any] struct {
	id      uuid.UUID
	fiber   fiberworks.Fiber
	control func(SnapshotState)
	receive func(T)
	logger  *zap.Logger
	sub     *fiberworks.Unsubscriber

	mu    sync.Mutex
	state SnapshotState
	held  []T
}

// ID returns the session id.
func (s *SnapshotSession[T]) ID() uuid.UUID {
	return s.id
}

// State returns the current state.
func (s *SnapshotSession[T]) State() SnapshotState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Dispose stops the session. A snapshot still in flight is dropped.
func (s *SnapshotSession[T]) Dispose() {
	s.sub.Dispose()
}

// stop runs once, when the session scope is disposed.
func (s *SnapshotSession[T]) stop() {
	s.mu.Lock()
	s.held = nil
	if s.state == StateTimeout || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.mu.Unlock()

	s.notify(StateStopped)
}

// transition moves from one state to another and reports whether it did.
func (s *SnapshotSession[T]) transition(from, to SnapshotState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != from {
		return false
	}
	s.state = to
	if to == StateTimeout {
		s.held = nil
	}
	if to != StateConnecting {
		s.notifyLocked(to)
	}
	return true
}

func (s *SnapshotSession[T]) notify(state SnapshotState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifyLocked(state)
}

// notifyLocked queues control(state) on the session fiber. Queuing under
// the lock keeps notifications in transition order.
func (s *SnapshotSession[T]) notifyLocked(state SnapshotState) {
	enqueue(s.fiber, s.logger, func() { s.control(state) })
}

// attach subscribes the session to updates. It runs on the responder fiber.
func (s *SnapshotSession[T]) attach(updates *Channel[T]) {
	s.sub.AddFunc(updates.add(s.onUpdate))
}

// onUpdate runs on the publishing goroutine. Updates that beat the
// snapshot are held until it is delivered.
func (s *SnapshotSession[T]) onUpdate(update T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateConnecting:
		s.held = append(s.held, update)
	case StateConnected:
		enqueue(s.fiber, s.logger, func() {
			if s.State() == StateConnected {
				s.receive(update)
			}
		})
	}
}

// onSnapshot runs on the session fiber with the priming reply or timeout.
func (s *SnapshotSession[T]) onSnapshot(snap T, ok bool) {
	if !ok {
		if s.transition(StateConnecting, StateTimeout) {
			s.logger.Debug("priming timed out", zap.Stringer("session", s.id))
			s.sub.Dispose()
		}
		return
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	held := s.held
	s.held = nil
	s.mu.Unlock()

	s.control(StateConnected)
	s.receive(snap)
	for _, u := range held {
		if s.State() != StateConnected {
			return
		}
		s.receive(u)
	}
}
