package usecase

import (
	"context"
	"fmt"
	"strings"

	"busticket/internal/auth"
	"busticket/internal/domain/booking"
	"busticket/internal/domain/errs"
	"busticket/internal/domain/event"
	"busticket/internal/domain/seat"

	"github.com/google/uuid"
)

type StartCheckout struct {
	d Deps
}

func NewStartCheckout(d Deps) *StartCheckout {
	return &StartCheckout{d: d.withDefaults()}
}

type CheckoutParams struct {
	TripID     string              `json:"trip_id"`
	Passengers []booking.Passenger `json:"passengers"`
	Contact    booking.Contact     `json:"contact"`
}

// Execute holds the requested seats and records a booking awaiting payment.
// The seat hold and the booking share one ID.
func (uc *StartCheckout) Execute(ctx context.Context, id auth.Identity, params CheckoutParams) (*booking.Booking, error) {
	if err := requireUser(id); err != nil {
		return nil, err
	}
	seats, err := uc.validate(params)
	if err != nil {
		return nil, err
	}

	t, err := uc.d.Trips.GetByID(ctx, params.TripID)
	if err != nil {
		return nil, err
	}
	now := uc.d.Clock.Now()
	if !t.Bookable(now) {
		return nil, fmt.Errorf("%w: trip %s is %s and departs %s", errs.ErrConflict, t.ID, t.Status, t.DepartureAt.Format("2006-01-02 15:04"))
	}

	b := &booking.Booking{
		ID:            uuid.New().String(),
		UserID:        id.UserID,
		TripID:        t.ID,
		Seats:         seats,
		Passengers:    params.Passengers,
		Contact:       params.Contact,
		Phase:         booking.PhasePendingLock,
		Status:        booking.StatusPending,
		PaymentStatus: booking.PaymentPending,
		TotalAmount:   t.BasePrice * int64(len(seats)),
		Currency:      t.Currency,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	hold, err := uc.d.Locks.Acquire(ctx, t.ID, seats, b.ID)
	if err != nil {
		return nil, err
	}
	b.HoldExpiresAt = hold.ExpiresAt
	if err := b.MoveTo(booking.PhaseLocked, now); err != nil {
		return nil, err
	}

	err = uc.d.Tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := uc.d.Bookings.Create(txCtx, b); err != nil {
			return err
		}
		return uc.d.emit(txCtx, event.TypeBookingHeld, b.ID, "", bookingPayload(b, ""))
	})
	if err != nil {
		if rerr := uc.d.Locks.ReleaseHolds(ctx, t.ID, b.ID); rerr != nil {
			uc.d.Log.Error("release holds after failed checkout", "booking_id", b.ID, "error", rerr)
		}
		return nil, fmt.Errorf("transaction failed: %w", err)
	}

	uc.d.Log.Info("booking held", "booking_id", b.ID, "trip_id", t.ID, "seats", seats, "expires_at", b.HoldExpiresAt)
	return b, nil
}

func (uc *StartCheckout) validate(params CheckoutParams) ([]int, error) {
	if params.TripID == "" {
		return nil, errs.Validation("trip_id", "required")
	}
	if len(params.Passengers) == 0 {
		return nil, errs.Validation("passengers", "at least one passenger is required")
	}
	seats := make([]int, len(params.Passengers))
	for i, p := range params.Passengers {
		if strings.TrimSpace(p.Name) == "" {
			return nil, errs.Validation("passengers", fmt.Sprintf("passenger %d has no name", i+1))
		}
		seats[i] = p.SeatNumber
	}
	if err := seat.ValidateNumbers(seats); err != nil {
		return nil, err
	}
	if limit := uc.d.Policy.MaxSeatsPerBooking; limit > 0 && len(seats) > limit {
		return nil, errs.Seat(errs.ErrCapacityExceeded, params.TripID, seats...)
	}
	return seats, nil
}
