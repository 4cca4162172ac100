package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"busticket/internal/auth"
	"busticket/internal/domain/booking"
	"busticket/internal/domain/errs"
)

type CancelBooking struct {
	d Deps
}

func NewCancelBooking(d Deps) *CancelBooking {
	return &CancelBooking{d: d.withDefaults()}
}

// Execute cancels a booking on behalf of its owner or an operator. A
// confirmed booking can only be cancelled while departure is further away
// than the cancellation cutoff. Cancelling a closed booking is a no-op.
func (uc *CancelBooking) Execute(ctx context.Context, id auth.Identity, bookingID, reason string) (*booking.Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by customer"
	}

	var b *booking.Booking
	err := uc.d.Tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		var err error
		b, err = uc.d.Bookings.GetByID(txCtx, bookingID)
		if err != nil {
			return err
		}
		if err := authorize(id, b); err != nil {
			return err
		}
		now := uc.d.Clock.Now()

		switch {
		case b.Terminal():
			return nil
		case b.Active():
			return uc.d.closeHold(txCtx, b, booking.PhaseCancelled, reason, now)
		}

		if b.Status == booking.StatusCompleted {
			return fmt.Errorf("%w: booking %s is completed", errs.ErrCancellationWindowClosed, b.ID)
		}
		t, err := uc.d.Trips.GetByID(txCtx, b.TripID)
		if err != nil {
			return err
		}
		if left := t.DepartureAt.Sub(now); left <= uc.d.Policy.CancellationCutoff {
			return fmt.Errorf("%w: departure in %s, cutoff is %s", errs.ErrCancellationWindowClosed, left.Round(time.Second), uc.d.Policy.CancellationCutoff)
		}
		return uc.d.cancelConfirmed(txCtx, b, reason, now)
	})
	if err != nil {
		return nil, err
	}
	uc.d.Cache.Invalidate(ctx, bookingID)

	uc.d.Log.Info("booking cancelled", "booking_id", b.ID, "phase", string(b.Phase), "reason", b.CancelReason)
	return b, nil
}
