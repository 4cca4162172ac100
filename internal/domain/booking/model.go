package booking

import (
	"context"
	"fmt"
	"time"

	"busticket/internal/domain/errs"
)

// Phase is the orchestrator state of a booking.
type Phase string

const (
	PhasePendingLock     Phase = "pending_lock"
	PhaseLocked          Phase = "locked"
	PhaseAwaitingPayment Phase = "awaiting_payment"
	PhaseConfirmed       Phase = "confirmed"
	PhaseCancelled       Phase = "cancelled"
	PhaseExpired         Phase = "expired"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Passenger travels on exactly one seat of the booking.
type Passenger struct {
	Name       string `json:"name"`
	SeatNumber int    `json:"seat_number"`
	Age        int    `json:"age,omitempty"`
	Gender     string `json:"gender,omitempty"`
}

type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Booking struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	TripID        string        `json:"trip_id"`
	Seats         []int         `json:"seats"`
	Passengers    []Passenger   `json:"passengers"`
	Contact       Contact       `json:"contact"`
	Phase         Phase         `json:"phase"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentRef    string        `json:"payment_ref,omitempty"`
	TotalAmount   int64         `json:"total_amount"`
	Currency      string        `json:"currency"`
	HoldExpiresAt time.Time     `json:"hold_expires_at"`
	CancelReason  string        `json:"cancel_reason,omitempty"`
	ConfirmedAt   *time.Time    `json:"confirmed_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

var phaseTransitions = map[Phase][]Phase{
	PhasePendingLock:     {PhaseLocked, PhaseCancelled},
	PhaseLocked:          {PhaseAwaitingPayment, PhaseCancelled, PhaseExpired},
	PhaseAwaitingPayment: {PhaseConfirmed, PhaseCancelled, PhaseExpired},
	PhaseConfirmed:       {PhaseCancelled},
}

// CanMoveTo reports whether the phase machine allows from → to.
func CanMoveTo(from, to Phase) bool {
	for _, p := range phaseTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// MoveTo advances the booking phase and keeps Status in step with it.
func (b *Booking) MoveTo(to Phase, now time.Time) error {
	if !CanMoveTo(b.Phase, to) {
		return fmt.Errorf("%w: booking %s %s -> %s", errs.ErrInvalidTransition, b.ID, b.Phase, to)
	}
	b.Phase = to
	b.Status = StatusFor(to)
	b.UpdatedAt = now
	if to == PhaseConfirmed {
		t := now
		b.ConfirmedAt = &t
	}
	return nil
}

// StatusFor maps an orchestrator phase to the customer-facing status.
func StatusFor(p Phase) Status {
	switch p {
	case PhaseConfirmed:
		return StatusConfirmed
	case PhaseCancelled:
		return StatusCancelled
	case PhaseExpired:
		return StatusExpired
	default:
		return StatusPending
	}
}

// Active is true until the booking reaches a terminal phase.
func (b *Booking) Active() bool {
	switch b.Phase {
	case PhasePendingLock, PhaseLocked, PhaseAwaitingPayment:
		return true
	}
	return false
}

// Terminal is true for cancelled and expired bookings.
func (b *Booking) Terminal() bool {
	return b.Phase == PhaseCancelled || b.Phase == PhaseExpired
}

// HoldLapsed reports whether a pre-confirmation hold has run out at now.
func (b *Booking) HoldLapsed(now time.Time) bool {
	return b.Active() && !b.HoldExpiresAt.After(now)
}

type Repository interface {
	Create(ctx context.Context, b *Booking) error
	Update(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id string) (*Booking, error)
	ListLapsedHolds(ctx context.Context, now time.Time, limit int) ([]*Booking, error)
	ListByTrip(ctx context.Context, tripID string) ([]*Booking, error)
}
