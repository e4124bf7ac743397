package toolloop

import (
	"errors"
	"fmt"
)

// Sentinel errors for toolloop. Use errors.Is to check.
var (
	ErrDuplicateTool    = errors.New("duplicate tool")
	ErrUnknownTool      = errors.New("unknown tool")
	ErrRegistrySealed   = errors.New("registry is sealed")
	ErrInvalidTool      = errors.New("invalid tool definition")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrTimeout          = errors.New("tool execution timeout")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrBudgetExhausted  = errors.New("iteration budget exhausted")
	ErrEmptyRequest     = errors.New("request is empty")
)

// ClientError is a tool failure whose Reason is meant for the model, so that it can
// correct its next request (bad argument, value out of range, unknown city).
// Err optionally wraps a sentinel (e.g. ErrInvalidArguments) for errors.Is/errors.As.
type ClientError struct {
	Reason string
	Err    error
}

func (e *ClientError) Error() string {
	if errors.Is(e.Err, ErrInvalidArguments) {
		return "invalid arguments: " + e.Reason
	}
	return e.Reason
}

// Unwrap supports errors.Is/errors.As on wrapped chains.
func (e *ClientError) Unwrap() error { return e.Err }

// SystemError represents an internal tool failure (panic, result marshal failure).
// The model sees a generic message; the cause stays in Err for logs.
type SystemError struct {
	Err error
}

func (e *SystemError) Error() string {
	return "internal error during tool execution"
}

func (e *SystemError) Unwrap() error { return e.Err }

// ModelError is returned by Run when the model capability fails.
type ModelError struct {
	Iteration int
	Err       error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model call failed at iteration %d: %v", e.Iteration, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// IsClientError returns true if err is or wraps a ClientError.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// IsSystemError returns true if err is or wraps a SystemError.
func IsSystemError(err error) bool {
	var se *SystemError
	return errors.As(err, &se)
}

func invalidArgs(format string, a ...any) error {
	return &ClientError{Reason: fmt.Sprintf(format, a...), Err: ErrInvalidArguments}
}

// panicError wraps a recovered panic value for SystemError.
type panicError struct{ p any }

func (e *panicError) Error() string {
	return "panic: " + fmt.Sprint(e.p)
}
