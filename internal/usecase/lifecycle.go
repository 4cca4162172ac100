package usecase

import (
	"context"
	"fmt"
	"time"

	"busticket/internal/domain/booking"
	"busticket/internal/domain/event"
	"busticket/internal/domain/ticket"
)

const (
	ReasonPaymentFailed = "payment_failed"
	ReasonHoldExpired   = "hold_expired"
	ReasonTripCancelled = "trip_cancelled"
	ReasonLatePayment   = "payment_after_hold_expired"
)

func bookingPayload(b *booking.Booking, reason string) event.BookingPayload {
	return event.BookingPayload{
		BookingID:   b.ID,
		UserID:      b.UserID,
		TripID:      b.TripID,
		Seats:       b.Seats,
		Status:      string(b.Status),
		TotalAmount: b.TotalAmount,
		Currency:    b.Currency,
		Email:       b.Contact.Email,
		Phone:       b.Contact.Phone,
		Reason:      reason,
	}
}

var closingEvent = map[booking.Phase]string{
	booking.PhaseCancelled: event.TypeBookingCancelled,
	booking.PhaseExpired:   event.TypeBookingExpired,
}

// closeHold ends a pre-confirmation booking: its seat holds are released and
// it moves to the cancelled or expired phase.
func (d Deps) closeHold(ctx context.Context, b *booking.Booking, to booking.Phase, reason string, now time.Time) error {
	if err := d.Locks.ReleaseHolds(ctx, b.TripID, b.ID); err != nil {
		return fmt.Errorf("release holds of booking %s: %w", b.ID, err)
	}
	if err := b.MoveTo(to, now); err != nil {
		return err
	}
	b.CancelReason = reason
	if err := d.Bookings.Update(ctx, b); err != nil {
		return err
	}
	return d.emit(ctx, closingEvent[to], b.ID, "", bookingPayload(b, reason))
}

// cancelConfirmed returns the booked seats to sale, voids the tickets and
// refunds the payment.
func (d Deps) cancelConfirmed(ctx context.Context, b *booking.Booking, reason string, now time.Time) error {
	if _, err := d.Inventory.Unbook(ctx, b.TripID, b.Seats, b.ID); err != nil {
		return fmt.Errorf("unbook seats of booking %s: %w", b.ID, err)
	}
	if _, err := d.Tickets.Void(ctx, b.ID, ticket.StatusValid, ticket.StatusCancelled); err != nil {
		return fmt.Errorf("cancel tickets of booking %s: %w", b.ID, err)
	}
	if err := b.MoveTo(booking.PhaseCancelled, now); err != nil {
		return err
	}
	b.CancelReason = reason
	if err := d.refund(ctx, b, reason); err != nil {
		return err
	}
	if err := d.Bookings.Update(ctx, b); err != nil {
		return err
	}
	return d.emit(ctx, event.TypeBookingCancelled, b.ID, "", bookingPayload(b, reason))
}

// refund asks the gateway to return a completed payment. Bookings that were
// never charged, or already refunded, are left alone.
func (d Deps) refund(ctx context.Context, b *booking.Booking, reason string) error {
	if b.PaymentStatus != booking.PaymentCompleted {
		return nil
	}
	if err := d.Payments.Refund(ctx, b.ID, b.PaymentRef, b.TotalAmount, reason); err != nil {
		return fmt.Errorf("refund booking %s: %w", b.ID, err)
	}
	b.PaymentStatus = booking.PaymentRefunded
	return nil
}
