// Package errs holds the error taxonomy shared by the seat inventory,
// lock manager, booking orchestrator and ticket issuer.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrSeatUnavailable  = errors.New("seat unavailable")
	ErrLockExpired      = errors.New("lock expired")
	ErrNotHolder        = errors.New("not the holder")
	ErrPaymentFailed    = errors.New("payment failed")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrAlreadyUsed      = errors.New("ticket already used")
	ErrNotValidForTrip  = errors.New("ticket not valid for trip")

	ErrNotFound                 = errors.New("not found")
	ErrForbidden                = errors.New("forbidden")
	ErrValidation               = errors.New("validation error")
	ErrConflict                 = errors.New("conflict")
	ErrInvalidTransition        = errors.New("invalid state transition")
	ErrCancellationWindowClosed = errors.New("cancellation window closed")
)

// SeatError reports which seats of a trip caused a seat-level failure.
// Kind is one of the sentinel errors above and is what errors.Is matches.
type SeatError struct {
	Kind   error
	TripID string
	Seats  []int
	// Retryable is set when every conflicting seat is only locked, so a
	// later attempt may succeed once the hold is released or expires.
	Retryable bool
}

func (e *SeatError) Error() string {
	seats := append([]int(nil), e.Seats...)
	sort.Ints(seats)
	parts := make([]string, len(seats))
	for i, s := range seats {
		parts[i] = fmt.Sprint(s)
	}
	return fmt.Sprintf("%v: trip %s seats [%s]", e.Kind, e.TripID, strings.Join(parts, ","))
}

func (e *SeatError) Unwrap() error { return e.Kind }

// Seat builds a SeatError.
func Seat(kind error, tripID string, seats ...int) *SeatError {
	return &SeatError{Kind: kind, TripID: tripID, Seats: seats}
}

// Validation wraps ErrValidation with a field-specific message.
func Validation(field, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrValidation, field, msg)
}

// NotFound wraps ErrNotFound with the missing resource.
func NotFound(resource, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, resource, id)
}

// IsRetryable reports whether err is a SeatError that may clear up on retry.
func IsRetryable(err error) bool {
	var se *SeatError
	return errors.As(err, &se) && se.Retryable
}
