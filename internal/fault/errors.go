package fault

import (
	"errors"
	"fmt"
)

// Error represents a failure of a fault primitive.
//
// Two classes exist:
//   - Transport errors (UNREACHABLE): the injection endpoint could not be
//     contacted. Retried with bounded backoff before surfacing.
//   - Logical errors (ALREADY_ARMED, TIMEOUT): a scenario authoring bug or a
//     genuine server misbehavior. Never retried; surfaced immediately.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Point is the fault point the operation targeted.
	Point Point

	// Message is a human-readable description.
	Message string

	// Cycles is the number of polls performed before giving up.
	// Set for TIMEOUT only.
	Cycles int

	// LastStatus is the status observed on the final poll.
	// Set for TIMEOUT only.
	LastStatus Status

	// Err is the underlying transport error, if any.
	Err error
}

// ErrorCode categorizes fault errors.
type ErrorCode string

const (
	// ErrCodeAlreadyArmed indicates a point was armed twice without an
	// intervening reset.
	ErrCodeAlreadyArmed ErrorCode = "ALREADY_ARMED"

	// ErrCodeUnreachable indicates the injection endpoint could not be
	// contacted, even after retries.
	ErrCodeUnreachable ErrorCode = "UNREACHABLE"

	// ErrCodeTimeout indicates the cycle budget was exhausted before the
	// wanted status was observed.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeTimeout:
		return fmt.Sprintf("%s: %s: %s (cycles=%d, last status=%q)",
			e.Code, e.Point, e.Message, e.Cycles, e.LastStatus)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %s: %v", e.Code, e.Point, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Point, e.Message)
	}
}

// Unwrap exposes the underlying transport error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsAlreadyArmed reports whether err is an ALREADY_ARMED fault error.
// Uses errors.As to handle wrapped errors.
func IsAlreadyArmed(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == ErrCodeAlreadyArmed
}

// IsUnreachable reports whether err is an UNREACHABLE fault error.
func IsUnreachable(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == ErrCodeUnreachable
}

// IsTimeout reports whether err is a TIMEOUT fault error.
func IsTimeout(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == ErrCodeTimeout
}

func newAlreadyArmed(p Point, armed Action) *Error {
	return &Error{
		Code:    ErrCodeAlreadyArmed,
		Point:   p,
		Message: fmt.Sprintf("already armed with %q; reset before re-arming", armed),
	}
}

func newUnreachable(p Point, attempts int, err error) *Error {
	return &Error{
		Code:    ErrCodeUnreachable,
		Point:   p,
		Message: fmt.Sprintf("injection endpoint unreachable after %d attempts", attempts),
		Err:     err,
	}
}

func newTimeout(p Point, want Status, cycles int, last Status) *Error {
	return &Error{
		Code:       ErrCodeTimeout,
		Point:      p,
		Message:    fmt.Sprintf("status %q not observed", want),
		Cycles:     cycles,
		LastStatus: last,
	}
}
