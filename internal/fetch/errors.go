package fetch

import (
	"errors"
	"fmt"
)

// ErrServiceUnavailable is the single caller-facing failure of the layer:
// no fresh upstream data could be produced.
var ErrServiceUnavailable = errors.New("service unavailable")

// UnavailableError carries the details of an exhausted or aborted call.
// Its message is uniform; the underlying cause is available via Unwrap.
type UnavailableError struct {
	Provider string
	Op       string
	Attempts int
	// Status is the last HTTP status seen, zero for transport failures.
	Status int
	Cause  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s %s: %v after %d attempt(s)", e.Provider, e.Op, ErrServiceUnavailable, e.Attempts)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// StatusError describes a non-2xx response that ended an attempt.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an attempt error as non-retryable even though no
// response was received, e.g. a request that could not be built.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
