package fiberworks

import (
	"fmt"
	"runtime"
)

// PanicError wraps a value recovered from a panicking action together
// with the goroutine stack trace captured at the point of the panic.
//
// Executors built by [NewExecutor] convert panics into *PanicError and
// report them to the fiber's error handler (see [WithOnError]). Under the
// [AbortBatch] policy the same value is also returned by the fiber's Err.
type PanicError struct {
	// Value is the original value passed to panic().
	Value any

	// Stack is the goroutine stack trace at the point of panic.
	Stack string
}

// Error returns a human-readable representation of the panic,
// including the value and the full stack trace.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", e.Value, e.Stack)
}

// Unwrap returns the recovered value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func newPanicError(v any) *PanicError {
	// 8 KiB is enough for most stack traces. runtime.Stack truncates
	// gracefully if the buffer is too small.
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return &PanicError{
		Value: v,
		Stack: string(buf[:n]),
	}
}
