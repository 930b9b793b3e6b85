package lua

import "errors"

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutorClosed is returned when attempting to use a closed executor.
	ErrExecutorClosed = errors.New("lua executor is closed")

	// ErrPanic wraps a panic that escaped an executor call. Script errors
	// raised inside a coroutine never produce it.
	ErrPanic = errors.New("lua panic")
)
