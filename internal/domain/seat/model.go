package seat

import (
	"context"
	"time"
)

type State string

const (
	StateAvailable State = "available"
	StateLocked    State = "locked"
	StateBooked    State = "booked"
)

// Seat is the authoritative record of one seat on one trip.
type Seat struct {
	TripID        string     `json:"trip_id"`
	Number        int        `json:"number"`
	State         State      `json:"state"`
	HolderID      string     `json:"holder_id,omitempty"`
	LockExpiresAt *time.Time `json:"lock_expires_at,omitempty"`
	BookingID     string     `json:"booking_id,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Stale reports whether the seat carries a lock that has lapsed at now.
func (s Seat) Stale(now time.Time) bool {
	return s.State == StateLocked && s.LockExpiresAt != nil && !s.LockExpiresAt.After(now)
}

// Transition records one seat state change for auditing.
type Transition struct {
	TripID    string
	Number    int
	From      State
	To        State
	HolderID  string
	BookingID string
	Reason    string
}

const (
	ReasonLock   = "lock"
	ReasonUnlock = "release"
	ReasonExpire = "expire"
	ReasonCommit = "commit"
	ReasonUnbook = "unbook"
)

// Store is the single source of truth for seat states. Every mutation is an
// atomic compare-and-set per seat and multi-seat calls are all-or-nothing.
// Mutations return the transitions they applied.
type Store interface {
	CreateSeats(ctx context.Context, tripID string, numbers []int) error
	DeleteSeats(ctx context.Context, tripID string) error

	// States returns every seat of the trip. Locks that lapsed at now are
	// released before returning.
	States(ctx context.Context, tripID string, now time.Time) (map[int]Seat, []Transition, error)

	TryLock(ctx context.Context, tripID string, numbers []int, holderID string, expiresAt, now time.Time) ([]Transition, error)
	Release(ctx context.Context, tripID string, numbers []int, holderID string) ([]Transition, error)
	ReleaseHolds(ctx context.Context, tripID, holderID string) ([]Transition, error)
	Commit(ctx context.Context, tripID string, numbers []int, bookingID string, now time.Time) ([]Transition, error)
	Unbook(ctx context.Context, tripID string, numbers []int, bookingID string) ([]Transition, error)
	SweepExpired(ctx context.Context, now time.Time) ([]Transition, error)
}

// Counts summarises a seat map.
type Counts struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Locked    int `json:"locked"`
	Booked    int `json:"booked"`
}

func Count(seats map[int]Seat) Counts {
	c := Counts{Total: len(seats)}
	for _, s := range seats {
		switch s.State {
		case StateAvailable:
			c.Available++
		case StateLocked:
			c.Locked++
		case StateBooked:
			c.Booked++
		}
	}
	return c
}
