package fiberworks

import (
	"errors"
	"fmt"

	"code.hybscloud.com/iox"
)

var (
	// ErrFiberDisposed is returned when work is offered to a fiber that
	// has been disposed.
	ErrFiberDisposed = errors.New("fiberworks: fiber is disposed")

	// ErrPoolClosed is returned by [Pool.Queue] after [Pool.Close].
	ErrPoolClosed = errors.New("fiberworks: pool is closed")

	// ErrNotPaused is returned by Resume when the fiber is not paused.
	ErrNotPaused = errors.New("fiberworks: fiber is not paused")

	// ErrAlreadyPaused is returned by Pause when the fiber is already paused.
	ErrAlreadyPaused = errors.New("fiberworks: fiber is already paused")
)

// QueueFullError reports that a bounded queue refused work. Depth is the
// number of pending items at the moment of refusal, so callers can apply
// backpressure.
//
// QueueFullError unwraps to [iox.ErrWouldBlock]: the condition is a
// control-flow signal, not a failure, and the caller may retry later.
type QueueFullError struct {
	Depth int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("fiberworks: queue full (depth %d)", e.Depth)
}

func (e *QueueFullError) Unwrap() error {
	return iox.ErrWouldBlock
}

// IsQueueFull reports whether err (or any error in its chain) is a
// [*QueueFullError].
func IsQueueFull(err error) bool {
	if err == nil {
		return false
	}
	var qe *QueueFullError
	return errors.As(err, &qe)
}

// DepthOf extracts the queue depth from the first [*QueueFullError] in
// err's chain. Returns false if no QueueFullError is found.
func DepthOf(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	var qe *QueueFullError
	if errors.As(err, &qe) {
		return qe.Depth, true
	}
	return 0, false
}
