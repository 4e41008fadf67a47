package store

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable matches any StoreUnavailableError via errors.Is.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrPreconditionViolation matches any PreconditionViolationError via errors.Is.
	ErrPreconditionViolation = errors.New("precondition violation")
)

// StoreUnavailableError reports a failed store round-trip.
//
// The driver error can be accessed via errors.Unwrap.
type StoreUnavailableError struct {
	Op    string
	cause error
}

func (e *StoreUnavailableError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: store unavailable", e.Op)
	}
	return fmt.Sprintf("%s: store unavailable: %v", e.Op, e.cause)
}

func (e *StoreUnavailableError) Unwrap() error { return e.cause }

// Is makes errors.Is(err, ErrStoreUnavailable) true.
func (e *StoreUnavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

// PreconditionViolationError reports missing or malformed input that the
// run cannot proceed past: an unknown dataset, an unmapped merge index, an
// empty matrix handed to an analysis.
type PreconditionViolationError struct {
	What  string
	cause error
}

func (e *PreconditionViolationError) Error() string {
	if e.cause == nil {
		return "precondition violation: " + e.What
	}
	return fmt.Sprintf("precondition violation: %s: %v", e.What, e.cause)
}

func (e *PreconditionViolationError) Unwrap() error { return e.cause }

// Is makes errors.Is(err, ErrPreconditionViolation) true.
func (e *PreconditionViolationError) Is(target error) bool {
	return target == ErrPreconditionViolation
}

// Precondition wraps cause as a PreconditionViolationError described by what.
func Precondition(what string, cause error) error {
	return &PreconditionViolationError{What: what, cause: cause}
}

// Preconditionf builds a PreconditionViolationError from a format string.
func Preconditionf(format string, args ...any) error {
	return &PreconditionViolationError{What: fmt.Sprintf(format, args...)}
}

func unavailable(op string, err error) error {
	return &StoreUnavailableError{Op: op, cause: err}
}
