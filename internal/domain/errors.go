package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrNoFilename        = errors.New("no usable filename could be derived")
	ErrRangeNotSupported = errors.New("server does not support range requests")
	ErrEmptyURL          = errors.New("url cannot be empty")

	// Cache domain errors
	ErrCacheMiss         = errors.New("no cache entry for url")
	ErrCacheDisabled     = errors.New("download cache is disabled")
	ErrInsufficientSpace = errors.New("not enough space in cache")
)

// UnreachableError reports that a remote resource could not be opened at
// all. The first probe of a missing or misnamed resource is authoritative,
// so this error is never retried.
type UnreachableError struct {
	URL string
	Err error
}

// Error returns the error message
func (e *UnreachableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resource unreachable: %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("resource unreachable: %s", e.URL)
}

// Unwrap returns the underlying error
func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// NewUnreachableError creates a new UnreachableError
func NewUnreachableError(url string, err error) *UnreachableError {
	return &UnreachableError{URL: url, Err: err}
}

// IsUnreachable returns true if the resource could not be opened
func IsUnreachable(err error) bool {
	var ue *UnreachableError
	return errors.As(err, &ue)
}

// TransientError marks a mid-stream failure that is worth retrying with a
// resume offset: connection resets, timeouts, 5xx responses.
type TransientError struct {
	Err error
}

// Error returns the error message
func (e *TransientError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "transient network error"
}

// Unwrap returns the underlying error
func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError creates a new TransientError
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// IsTransient returns true if the error should trigger a resumed retry
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IncompleteTransferError reports a byte-count mismatch discovered at
// finalization, before the staging file is promoted.
type IncompleteTransferError struct {
	Expected int64
	Actual   int64
}

// Error returns the error message
func (e *IncompleteTransferError) Error() string {
	return fmt.Sprintf("incomplete transfer: expected %d bytes, wrote %d", e.Expected, e.Actual)
}

// IsIncomplete returns true if the transfer ended with a size mismatch
func IsIncomplete(err error) bool {
	var ie *IncompleteTransferError
	return errors.As(err, &ie)
}

// DestinationError reports a filesystem failure on the destination side:
// permissions, missing directory, exhausted disk. Never retried.
type DestinationError struct {
	Path string
	Err  error
}

// Error returns the error message
func (e *DestinationError) Error() string {
	return fmt.Sprintf("destination %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *DestinationError) Unwrap() error {
	return e.Err
}

// NewDestinationError creates a new DestinationError
func NewDestinationError(path string, err error) *DestinationError {
	return &DestinationError{Path: path, Err: err}
}

// IsDestination returns true if the error is a destination filesystem failure
func IsDestination(err error) bool {
	var de *DestinationError
	return errors.As(err, &de)
}

// ExhaustedError wraps the last transient failure after the retry budget
// has been spent.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

// Error returns the error message
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.LastErr)
}

// Unwrap returns the underlying error
func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}
