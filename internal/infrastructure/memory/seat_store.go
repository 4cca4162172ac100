// Package memory holds process-local implementations of the repositories.
// They back the memory storage driver and the use-case tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"busticket/internal/clock"
	"busticket/internal/domain/errs"
	"busticket/internal/domain/seat"
)

// SeatStore guards each trip's seats with that trip's own mutex. The outer
// lock only protects the trip index.
type SeatStore struct {
	mu    sync.RWMutex
	trips map[string]*tripSeats
	clock clock.Clock
}

type tripSeats struct {
	mu    sync.Mutex
	seats map[int]seat.Seat
}

// NewSeatStore stamps calls that carry no time of their own with clk.
func NewSeatStore(clk clock.Clock) *SeatStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &SeatStore{trips: make(map[string]*tripSeats), clock: clk}
}

func (s *SeatStore) trip(tripID string) (*tripSeats, error) {
	s.mu.RLock()
	ts, ok := s.trips[tripID]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound("trip", tripID)
	}
	return ts, nil
}

func (s *SeatStore) CreateSeats(_ context.Context, tripID string, numbers []int) error {
	if err := seat.ValidateNumbers(numbers); err != nil {
		return err
	}
	s.mu.Lock()
	ts, ok := s.trips[tripID]
	if !ok {
		ts = &tripSeats{seats: make(map[int]seat.Seat, len(numbers))}
		s.trips[tripID] = ts
	}
	s.mu.Unlock()

	ts.mu.Lock()
	defer ts.mu.Unlock()
	now := s.clock.Now()
	for _, n := range numbers {
		if _, exists := ts.seats[n]; !exists {
			ts.seats[n] = seat.Seat{TripID: tripID, Number: n, State: seat.StateAvailable, UpdatedAt: now}
		}
	}
	return nil
}

func (s *SeatStore) DeleteSeats(_ context.Context, tripID string) error {
	s.mu.Lock()
	delete(s.trips, tripID)
	s.mu.Unlock()
	return nil
}

func (s *SeatStore) States(_ context.Context, tripID string, now time.Time) (map[int]seat.Seat, []seat.Transition, error) {
	ts, err := s.trip(tripID)
	if err != nil {
		return nil, nil, err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	expired := ts.expire(now)
	out := make(map[int]seat.Seat, len(ts.seats))
	for n, st := range ts.seats {
		out[n] = copySeat(st)
	}
	return out, expired, nil
}

func (s *SeatStore) TryLock(_ context.Context, tripID string, numbers []int, holderID string, expiresAt, now time.Time) ([]seat.Transition, error) {
	ts, err := s.trip(tripID)
	if err != nil {
		return nil, err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if err := seat.CheckLock(tripID, len(ts.seats), ts.seats, numbers, holderID, now); err != nil {
		return nil, err
	}
	out := seat.LockTransitions(tripID, ts.seats, numbers, holderID, now)
	for _, n := range numbers {
		until := expiresAt
		ts.seats[n] = seat.Seat{
			TripID:        tripID,
			Number:        n,
			State:         seat.StateLocked,
			HolderID:      holderID,
			LockExpiresAt: &until,
			UpdatedAt:     now,
		}
	}
	return out, nil
}

func (s *SeatStore) Release(_ context.Context, tripID string, numbers []int, holderID string) ([]seat.Transition, error) {
	ts, err := s.trip(tripID)
	if err != nil {
		return nil, err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	held, err := seat.CheckRelease(tripID, ts.seats, numbers, holderID)
	if err != nil {
		return nil, err
	}
	out := make([]seat.Transition, 0, len(held))
	for _, n := range held {
		out = append(out, seat.Move(ts.seats[n], seat.StateAvailable, seat.ReasonUnlock, ""))
		ts.free(n, s.clock.Now())
	}
	return out, nil
}

func (s *SeatStore) ReleaseHolds(_ context.Context, tripID, holderID string) ([]seat.Transition, error) {
	ts, err := s.trip(tripID)
	if err != nil {
		return nil, err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	var out []seat.Transition
	for _, n := range ts.numbers() {
		st := ts.seats[n]
		if st.State == seat.StateLocked && st.HolderID == holderID {
			out = append(out, seat.Move(st, seat.StateAvailable, seat.ReasonUnlock, ""))
			ts.free(n, s.clock.Now())
		}
	}
	return out, nil
}

func (s *SeatStore) Commit(_ context.Context, tripID string, numbers []int, bookingID string, now time.Time) ([]seat.Transition, error) {
	ts, err := s.trip(tripID)
	if err != nil {
		return nil, err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	pending, err := seat.CheckCommit(tripID, ts.seats, numbers, bookingID, now)
	if err != nil {
		return nil, err
	}
	out := make([]seat.Transition, 0, len(pending))
	for _, n := range pending {
		out = append(out, seat.Move(ts.seats[n], seat.StateBooked, seat.ReasonCommit, bookingID))
		ts.seats[n] = seat.Seat{TripID: tripID, Number: n, State: seat.StateBooked, BookingID: bookingID, UpdatedAt: now}
	}
	return out, nil
}

func (s *SeatStore) Unbook(_ context.Context, tripID string, numbers []int, bookingID string) ([]seat.Transition, error) {
	ts, err := s.trip(tripID)
	if err != nil {
		return nil, err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	owned, err := seat.CheckUnbook(tripID, ts.seats, numbers, bookingID)
	if err != nil {
		return nil, err
	}
	out := make([]seat.Transition, 0, len(owned))
	for _, n := range owned {
		out = append(out, seat.Move(ts.seats[n], seat.StateAvailable, seat.ReasonUnbook, ""))
		ts.free(n, s.clock.Now())
	}
	return out, nil
}

func (s *SeatStore) SweepExpired(_ context.Context, now time.Time) ([]seat.Transition, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.trips))
	for id := range s.trips {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	var out []seat.Transition
	for _, id := range ids {
		ts, err := s.trip(id)
		if err != nil {
			continue // removed meanwhile
		}
		ts.mu.Lock()
		out = append(out, ts.expire(now)...)
		ts.mu.Unlock()
	}
	return out, nil
}

// expire frees lapsed locks. Callers hold ts.mu.
func (ts *tripSeats) expire(now time.Time) []seat.Transition {
	var out []seat.Transition
	for _, n := range ts.numbers() {
		st := ts.seats[n]
		if st.Stale(now) {
			out = append(out, seat.Move(st, seat.StateAvailable, seat.ReasonExpire, ""))
			ts.free(n, now)
		}
	}
	return out
}

func (ts *tripSeats) free(n int, now time.Time) {
	st := ts.seats[n]
	ts.seats[n] = seat.Seat{TripID: st.TripID, Number: n, State: seat.StateAvailable, UpdatedAt: now}
}

func (ts *tripSeats) numbers() []int {
	out := make([]int, 0, len(ts.seats))
	for n := range ts.seats {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func copySeat(st seat.Seat) seat.Seat {
	if st.LockExpiresAt != nil {
		t := *st.LockExpiresAt
		st.LockExpiresAt = &t
	}
	return st
}
