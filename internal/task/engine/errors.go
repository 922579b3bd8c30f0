package engine

import (
	"errors"
	"fmt"
)

var (
	ErrStopped   = errors.New("worker pool stopped")
	ErrStopping  = errors.New("worker pool stopping")
	ErrQueueFull = errors.New("worker pool queue full")
	ErrNilWork   = errors.New("work is nil")

	// ErrKilled is the cancellation cause of a killed execution.
	// Executions ending with it are not reported as errors.
	ErrKilled = errors.New("execution killed")
	// ErrTimeout is the cancellation cause of an execution past its timeout.
	ErrTimeout = errors.New("execution timed out")
)

// PanicError wraps a value recovered from a panicking execution.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }
