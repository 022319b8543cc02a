package edgeapi

import (
	"errors"
	"fmt"
)

// Sentinel errors for remote responses that callers branch on.
var (
	// ErrNotFound is returned when the remote resource does not exist (404).
	ErrNotFound = errors.New("edgeapi: not found")
	// ErrConflict is returned when the remote rejects a request because of
	// concurrent modification of the same resource (409).
	ErrConflict = errors.New("edgeapi: conflict")
)

// ValidationError is returned for requests the control plane rejects as
// malformed (4xx other than 404/409). It is never retried.
type ValidationError struct {
	Op     string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("edgeapi: %s: invalid request: %s", e.Op, e.Detail)
}

// TransientError is returned for failures that are expected to clear on
// retry: network errors, 5xx responses and rate limiting.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("edgeapi: %s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsNotFound reports whether err indicates a missing remote resource.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err indicates a concurrent-modification conflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsValidation reports whether err indicates malformed caller input.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
