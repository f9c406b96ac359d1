package fiberworks

import "go.uber.org/zap"

// PanicPolicy determines how an [Executor] built by [NewExecutor] reacts
// to a panicking action.
type PanicPolicy int

const (
	// LogAndContinue recovers the panic, logs it, reports it to the error
	// handler and carries on with the next action of the drain.
	LogAndContinue PanicPolicy = iota

	// Ignore recovers the panic and reports it to the error handler
	// without logging.
	Ignore

	// AbortBatch recovers the panic, reports it, and discards the rest of
	// the current drain. The fiber keeps the first such error (see Err).
	AbortBatch
)

func (p PanicPolicy) String() string {
	switch p {
	case LogAndContinue:
		return "log-and-continue"
	case Ignore:
		return "ignore"
	case AbortBatch:
		return "abort-batch"
	default:
		return "unknown"
	}
}

// Executor runs the actions a fiber drains from its queue, one at a time.
// A non-nil return stops the current drain; the remaining actions of that
// drain are discarded.
type Executor interface {
	Execute(action func()) error
}

// ExecutorFunc adapts a function to the [Executor] interface.
type ExecutorFunc func(action func()) error

// Execute implements Executor.
func (f ExecutorFunc) Execute(action func()) error { return f(action) }

// DirectExecutor runs actions without recovering panics. A panic unwinds
// into the backing thread pool, which recovers it at the worker boundary.
var DirectExecutor Executor = ExecutorFunc(func(action func()) error {
	action()
	return nil
})

type recoveringExecutor struct {
	policy  PanicPolicy
	logger  *zap.Logger
	onPanic func(*PanicError)
}

// NewExecutor returns an [Executor] that recovers panics according to
// policy. onPanic, when non-nil, receives every recovered panic.
// NewExecutor panics if policy is not a known PanicPolicy value.
func NewExecutor(policy PanicPolicy, logger *zap.Logger, onPanic func(*PanicError)) Executor {
	switch policy {
	case LogAndContinue, Ignore, AbortBatch:
	default:
		panic("fiberworks: invalid panic policy")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &recoveringExecutor{
		policy:  policy,
		logger:  logger,
		onPanic: onPanic,
	}
}

func (e *recoveringExecutor) Execute(action func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		pe := newPanicError(r)
		if e.onPanic != nil {
			e.onPanic(pe)
		}
		switch e.policy {
		case LogAndContinue:
			e.logger.Error("action panicked",
				zap.Any("panic", r),
				zap.String("stack", pe.Stack),
			)
		case AbortBatch:
			e.logger.Error("action panicked, aborting drain", zap.Any("panic", r))
			err = pe
		}
	}()
	action()
	return nil
}
