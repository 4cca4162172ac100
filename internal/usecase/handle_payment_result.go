package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"busticket/internal/domain/booking"
	"busticket/internal/domain/errs"
	"busticket/internal/domain/event"
	"busticket/internal/domain/inbox"
	"busticket/internal/domain/payment"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var paymentResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "booking_payment_results_total",
	Help: "Payment results applied to bookings, by outcome",
}, []string{"outcome"})

type HandlePaymentResult struct {
	d Deps
}

func NewHandlePaymentResult(d Deps) *HandlePaymentResult {
	return &HandlePaymentResult{d: d.withDefaults()}
}

// Execute applies an asynchronous payment outcome. When dedupe is set it is
// recorded in the inbox in the same transaction and a repeat delivery is
// skipped. Results for bookings that already moved on are absorbed.
//
// A success whose seat holds have lapsed expires the booking and refunds the
// payment; the returned error then wraps ErrLockExpired. A declined payment
// cancels the booking and the returned error wraps ErrPaymentFailed. In both
// cases the booking is returned alongside the error.
func (uc *HandlePaymentResult) Execute(ctx context.Context, res payment.Result, dedupe *inbox.Event) (*booking.Booking, error) {
	if res.BookingID == "" {
		return nil, errs.Validation("booking_id", "required")
	}

	var (
		b        *booking.Booking
		outcome  string
		lostLock error
		declined error
	)
	err := uc.d.Tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		if dedupe != nil {
			fresh, err := uc.d.Inbox.SaveIfNotExists(txCtx, dedupe)
			if err != nil {
				return err
			}
			if !fresh {
				outcome = "duplicate"
				var gerr error
				b, gerr = uc.d.Bookings.GetByID(txCtx, res.BookingID)
				return gerr
			}
		}

		var err error
		b, err = uc.d.Bookings.GetByID(txCtx, res.BookingID)
		if err != nil {
			return err
		}
		if b.PaymentRef == "" {
			b.PaymentRef = res.PaymentRef
		} else if res.PaymentRef != "" && res.PaymentRef != b.PaymentRef {
			return fmt.Errorf("%w: payment %s does not belong to booking %s", errs.ErrConflict, res.PaymentRef, b.ID)
		}
		now := uc.d.Clock.Now()

		switch {
		case b.Phase == booking.PhaseConfirmed:
			outcome = "duplicate"
			return nil
		case b.Terminal():
			outcome = "after_close"
			if !res.Succeeded || b.PaymentStatus == booking.PaymentRefunded {
				return nil
			}
			// the customer paid for a booking that is already gone
			b.PaymentStatus = booking.PaymentCompleted
			if err := uc.d.refund(txCtx, b, ReasonLatePayment); err != nil {
				return err
			}
			b.UpdatedAt = now
			return uc.d.Bookings.Update(txCtx, b)
		case !res.Succeeded:
			outcome = "failed"
			b.PaymentStatus = booking.PaymentFailed
			reason := ReasonPaymentFailed
			if res.Reason != "" {
				reason += ": " + res.Reason
			}
			declined = fmt.Errorf("%w: booking %s: %s", errs.ErrPaymentFailed, b.ID, reasonOrDefault(res.Reason))
			return uc.d.closeHold(txCtx, b, booking.PhaseCancelled, reason, now)
		}

		if b.Phase == booking.PhaseLocked {
			if err := b.MoveTo(booking.PhaseAwaitingPayment, now); err != nil {
				return err
			}
		}
		b.PaymentStatus = booking.PaymentCompleted

		if _, err := uc.d.Inventory.Commit(txCtx, b.TripID, b.Seats, b.ID, now); err != nil {
			if !errors.Is(err, errs.ErrLockExpired) && !errors.Is(err, errs.ErrNotHolder) {
				return err
			}
			outcome = "lock_lost"
			lostLock = err
			return uc.expireAndRefund(txCtx, b, now)
		}

		outcome = "confirmed"
		return uc.confirm(txCtx, b, now)
	})
	if err != nil {
		return nil, err
	}
	paymentResults.WithLabelValues(outcome).Inc()
	uc.d.Cache.Invalidate(ctx, res.BookingID)

	uc.d.Log.Info("payment result applied",
		"booking_id", b.ID, "succeeded", res.Succeeded, "outcome", outcome, "phase", string(b.Phase))
	if lostLock != nil {
		return b, fmt.Errorf("%w: %v", errs.ErrLockExpired, lostLock)
	}
	if declined != nil {
		return b, declined
	}
	return b, nil
}

func reasonOrDefault(reason string) string {
	if reason == "" {
		return "declined by gateway"
	}
	return reason
}

func (uc *HandlePaymentResult) confirm(ctx context.Context, b *booking.Booking, now time.Time) error {
	if err := b.MoveTo(booking.PhaseConfirmed, now); err != nil {
		return err
	}
	if err := uc.d.Bookings.Update(ctx, b); err != nil {
		return err
	}
	tickets, err := uc.d.Tickets.Issue(ctx, b)
	if err != nil {
		return err
	}
	if err := uc.d.emit(ctx, event.TypeBookingConfirmed, b.ID, "", bookingPayload(b, "")); err != nil {
		return err
	}
	codes := make([]string, len(tickets))
	for i, t := range tickets {
		codes[i] = t.Code
	}
	return uc.d.emit(ctx, event.TypeTicketsIssued, b.ID, "", event.TicketsIssuedPayload{
		BookingID: b.ID,
		TripID:    b.TripID,
		Codes:     codes,
		Email:     b.Contact.Email,
	})
}

func (uc *HandlePaymentResult) expireAndRefund(ctx context.Context, b *booking.Booking, now time.Time) error {
	if err := uc.d.refund(ctx, b, ReasonLatePayment); err != nil {
		return err
	}
	return uc.d.closeHold(ctx, b, booking.PhaseExpired, ReasonLatePayment, now)
}
