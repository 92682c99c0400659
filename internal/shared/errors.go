package shared

import "errors"

var (
	// ErrNotFound indicates the referenced user, account or transaction is absent.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument indicates rejected input such as a negative amount.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict marks a retryable concurrency failure or a uniqueness clash.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("unavailable")
)
