package seat

import (
	"fmt"
	"time"

	"busticket/internal/domain/errs"
)

// ValidateNumbers rejects empty, non-positive and duplicate seat numbers.
func ValidateNumbers(numbers []int) error {
	if len(numbers) == 0 {
		return errs.Validation("seats", "at least one seat is required")
	}
	seen := make(map[int]struct{}, len(numbers))
	for _, n := range numbers {
		if n <= 0 {
			return errs.Validation("seats", fmt.Sprintf("seat %d is not a valid seat number", n))
		}
		if _, dup := seen[n]; dup {
			return errs.Validation("seats", fmt.Sprintf("seat %d requested twice", n))
		}
		seen[n] = struct{}{}
	}
	return nil
}

func lookup(seats map[int]Seat, numbers []int) error {
	for _, n := range numbers {
		if _, ok := seats[n]; !ok {
			return errs.Validation("seats", fmt.Sprintf("seat %d does not exist on this trip", n))
		}
	}
	return nil
}

// CheckLock decides whether holderID may lock numbers given the current
// records of those seats and the trip's seat count. A lock already owned by
// holderID is refreshed; a lapsed lock of anyone counts as available.
func CheckLock(tripID string, total int, seats map[int]Seat, numbers []int, holderID string, now time.Time) error {
	if err := ValidateNumbers(numbers); err != nil {
		return err
	}
	if len(numbers) > total {
		return errs.Seat(errs.ErrCapacityExceeded, tripID, numbers...)
	}
	if err := lookup(seats, numbers); err != nil {
		return err
	}

	var conflicts []int
	retryable := true
	for _, n := range numbers {
		s := seats[n]
		switch {
		case s.State == StateAvailable, s.Stale(now):
		case s.State == StateLocked && s.HolderID == holderID:
		default:
			conflicts = append(conflicts, n)
			if s.State != StateLocked {
				retryable = false
			}
		}
	}
	if len(conflicts) > 0 {
		se := errs.Seat(errs.ErrSeatUnavailable, tripID, conflicts...)
		se.Retryable = retryable
		return se
	}
	return nil
}

// CheckCommit returns the seats that still need to move locked → booked for
// bookingID. Seats already booked by the same booking are skipped.
func CheckCommit(tripID string, seats map[int]Seat, numbers []int, bookingID string, now time.Time) ([]int, error) {
	if err := ValidateNumbers(numbers); err != nil {
		return nil, err
	}
	if err := lookup(seats, numbers); err != nil {
		return nil, err
	}

	var pending, lapsed, foreign []int
	for _, n := range numbers {
		s := seats[n]
		switch {
		case s.State == StateBooked && s.BookingID == bookingID:
		case s.State == StateLocked && s.HolderID == bookingID && !s.Stale(now):
			pending = append(pending, n)
		case s.State == StateLocked && s.HolderID == bookingID, s.State == StateAvailable:
			lapsed = append(lapsed, n)
		default:
			foreign = append(foreign, n)
		}
	}
	if len(lapsed) > 0 {
		return nil, errs.Seat(errs.ErrLockExpired, tripID, lapsed...)
	}
	if len(foreign) > 0 {
		return nil, errs.Seat(errs.ErrNotHolder, tripID, foreign...)
	}
	return pending, nil
}

// CheckRelease returns the seats holderID currently locks among numbers.
// Seats that are already available are skipped.
func CheckRelease(tripID string, seats map[int]Seat, numbers []int, holderID string) ([]int, error) {
	if err := ValidateNumbers(numbers); err != nil {
		return nil, err
	}
	if err := lookup(seats, numbers); err != nil {
		return nil, err
	}

	var held, foreign []int
	for _, n := range numbers {
		s := seats[n]
		switch {
		case s.State == StateAvailable:
		case s.State == StateLocked && s.HolderID == holderID:
			held = append(held, n)
		default:
			foreign = append(foreign, n)
		}
	}
	if len(foreign) > 0 {
		return nil, errs.Seat(errs.ErrNotHolder, tripID, foreign...)
	}
	return held, nil
}

// CheckUnbook returns the seats booked by bookingID among numbers.
func CheckUnbook(tripID string, seats map[int]Seat, numbers []int, bookingID string) ([]int, error) {
	if err := ValidateNumbers(numbers); err != nil {
		return nil, err
	}
	if err := lookup(seats, numbers); err != nil {
		return nil, err
	}

	var owned, foreign []int
	for _, n := range numbers {
		s := seats[n]
		switch {
		case s.State == StateAvailable:
		case s.State == StateBooked && s.BookingID == bookingID:
			owned = append(owned, n)
		default:
			foreign = append(foreign, n)
		}
	}
	if len(foreign) > 0 {
		return nil, errs.Seat(errs.ErrNotHolder, tripID, foreign...)
	}
	return owned, nil
}

// LockTransitions lists what a successful lock of numbers changes. A lapsed
// lock of another holder is reported as expired before being re-locked.
func LockTransitions(tripID string, seats map[int]Seat, numbers []int, holderID string, now time.Time) []Transition {
	out := make([]Transition, 0, len(numbers))
	for _, n := range numbers {
		s := seats[n]
		from := s.State
		if s.Stale(now) && s.HolderID != holderID {
			out = append(out, Transition{TripID: tripID, Number: n, From: StateLocked, To: StateAvailable, HolderID: s.HolderID, Reason: ReasonExpire})
			from = StateAvailable
		}
		out = append(out, Transition{TripID: tripID, Number: n, From: from, To: StateLocked, HolderID: holderID, Reason: ReasonLock})
	}
	return out
}

// Move describes a single seat leaving its current state.
func Move(s Seat, to State, reason, bookingID string) Transition {
	if bookingID == "" {
		bookingID = s.BookingID
	}
	return Transition{
		TripID:    s.TripID,
		Number:    s.Number,
		From:      s.State,
		To:        to,
		HolderID:  s.HolderID,
		BookingID: bookingID,
		Reason:    reason,
	}
}
