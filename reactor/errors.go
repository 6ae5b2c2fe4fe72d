package reactor

import (
	"errors"
	"fmt"
)

// ErrCapacityExhausted is returned by Selector.Register when the fixed
// registration cap has already been reached.
var ErrCapacityExhausted = errors.New("reactor: selector capacity exhausted")

// ErrInvalidOps is returned when Ops is zero where a non-zero mask is
// required (e.g. SetOps).
var ErrInvalidOps = errors.New("reactor: ops must be non-zero")

// ErrSelectorClosed is returned by operations attempted after Selector.Close.
var ErrSelectorClosed = errors.New("reactor: selector closed")

// FatalError wraps an OS failure that the reactor cannot recover from; per
// the error taxonomy this propagates and the caller is expected to abort
// the reactor. EINTR and EAGAIN never produce a FatalError.
type FatalError struct {
	Syscall string
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("reactor: fatal %s: %v", e.Syscall, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func newFatalError(syscall string, err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Syscall: syscall, Err: err}
}
