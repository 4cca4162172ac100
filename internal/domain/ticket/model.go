package ticket

import (
	"context"
	"time"
)

type Status string

const (
	StatusValid     Status = "valid"
	StatusUsed      Status = "used"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

type Ticket struct {
	Code          string     `json:"code"`
	BookingID     string     `json:"booking_id"`
	TripID        string     `json:"trip_id"`
	SeatNumber    int        `json:"seat_number"`
	PassengerName string     `json:"passenger_name"`
	Status        Status     `json:"status"`
	IssuedAt      time.Time  `json:"issued_at"`
	UsedAt        *time.Time `json:"used_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type Repository interface {
	// Create inserts t and reports false, without error, when its code is
	// already taken so the caller can draw a new one.
	Create(ctx context.Context, t *Ticket) (bool, error)
	GetByCode(ctx context.Context, code string) (*Ticket, error)
	ListByBooking(ctx context.Context, bookingID string) ([]*Ticket, error)
	// MarkUsed flips a valid ticket to used; it reports false when the
	// ticket was not valid at the time of the update.
	MarkUsed(ctx context.Context, code string, at time.Time) (bool, error)
	SetStatusByBooking(ctx context.Context, bookingID string, from, to Status) (int, error)
}
