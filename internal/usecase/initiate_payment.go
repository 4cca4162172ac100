package usecase

import (
	"context"
	"errors"
	"fmt"

	"busticket/internal/auth"
	"busticket/internal/domain/booking"
	"busticket/internal/domain/errs"
	"busticket/internal/domain/payment"
)

type InitiatePayment struct {
	d Deps
}

func NewInitiatePayment(d Deps) *InitiatePayment {
	return &InitiatePayment{d: d.withDefaults()}
}

// Execute asks the gateway to charge a held booking. Calling it again while
// the payment is pending returns the booking unchanged.
func (uc *InitiatePayment) Execute(ctx context.Context, id auth.Identity, bookingID string) (*booking.Booking, error) {
	if err := requireUser(id); err != nil {
		return nil, err
	}

	var (
		b      *booking.Booking
		lapsed bool
	)
	err := uc.d.Tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		var err error
		b, err = uc.d.Bookings.GetByID(txCtx, bookingID)
		if err != nil {
			return err
		}
		if b.UserID != id.UserID {
			return fmt.Errorf("%w: booking %s", errs.ErrForbidden, b.ID)
		}

		switch b.Phase {
		case booking.PhaseAwaitingPayment:
			return nil
		case booking.PhaseLocked:
		default:
			return fmt.Errorf("%w: booking %s is %s", errs.ErrInvalidTransition, b.ID, b.Phase)
		}

		now := uc.d.Clock.Now()
		if b.HoldLapsed(now) {
			lapsed = true
			return uc.d.closeHold(txCtx, b, booking.PhaseExpired, ReasonHoldExpired, now)
		}

		ref, err := uc.d.Payments.Initiate(txCtx, payment.Request{
			BookingID: b.ID,
			UserID:    b.UserID,
			Amount:    b.TotalAmount,
			Currency:  b.Currency,
			Email:     b.Contact.Email,
		})
		if err != nil {
			if errors.Is(err, errs.ErrPaymentFailed) {
				return err
			}
			return fmt.Errorf("%w: %v", errs.ErrPaymentFailed, err)
		}
		b.PaymentRef = ref
		if err := b.MoveTo(booking.PhaseAwaitingPayment, now); err != nil {
			return err
		}
		return uc.d.Bookings.Update(txCtx, b)
	})
	if err != nil {
		return nil, err
	}
	uc.d.Cache.Invalidate(ctx, bookingID)

	if lapsed {
		return b, errs.Seat(errs.ErrLockExpired, b.TripID, b.Seats...)
	}
	return b, nil
}
