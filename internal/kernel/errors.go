package kernel

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingBaseURL indicates a client configured without a bridge address.
	ErrMissingBaseURL = errors.New("kernel base_url is required")

	// ErrCellNotFound indicates the bridge has no cell at the requested index.
	ErrCellNotFound = errors.New("cell not found")

	// ErrKernelBusy indicates the bridge rejected a request because the
	// kernel is executing another cell.
	ErrKernelBusy = errors.New("kernel busy")
)

// StatusError is a non-success response from the bridge.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// retryableError marks a failure worth retrying.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
