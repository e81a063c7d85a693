package tracer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is matched by errors caused by a bad argument
	// to SetInterval or Start.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrState is matched by errors caused by calling Start before an
	// interval was configured.
	ErrState = errors.New("invalid state")
)

// CallbackError is returned to the host when the callback fails.
// Tracing has already been ended when it is produced.
type CallbackError struct {
	Err error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("tracer callback failed: %v", e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}
