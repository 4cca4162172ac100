package usecase

import (
	"context"
	"errors"

	"busticket/internal/domain/errs"
	"busticket/internal/domain/event"
	"busticket/internal/domain/inbox"
	"busticket/internal/domain/payment"
)

// PaymentResultTypes lists the event types HandleEvent acts on.
var PaymentResultTypes = []string{event.TypePaymentSucceeded, event.TypePaymentFailed}

// HandleEvent applies a PaymentSucceeded or PaymentFailed envelope taken from
// the broker. Other event types are ignored. Outcomes that retrying cannot
// change are absorbed so the message is committed: a decline, a lapsed hold
// or a booking that does not exist.
func (uc *HandlePaymentResult) HandleEvent(ctx context.Context, consumer string, msg event.Message) error {
	switch msg.Type {
	case event.TypePaymentSucceeded, event.TypePaymentFailed:
	default:
		return nil
	}

	var p event.PaymentResultPayload
	if err := msg.Decode(&p); err != nil {
		uc.d.Log.Error("drop payment result", "event_id", msg.ID, "error", err)
		return nil
	}

	res := payment.Result{
		BookingID:  p.BookingID,
		PaymentRef: p.PaymentRef,
		Succeeded:  msg.Type == event.TypePaymentSucceeded,
		Reason:     p.Reason,
		Amount:     p.Amount,
		OccurredAt: msg.OccurredAt,
	}
	_, err := uc.Execute(ctx, res, &inbox.Event{
		Consumer:      consumer,
		EventID:       msg.ID,
		EventType:     msg.Type,
		CorrelationID: msg.CorrelationID,
		ProcessedAt:   uc.d.Clock.Now(),
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrLockExpired):
		uc.d.Log.Warn("payment arrived after hold lapsed", "booking_id", p.BookingID, "event_id", msg.ID)
		return nil
	case errors.Is(err, errs.ErrPaymentFailed):
		uc.d.Log.Info("payment declined", "booking_id", p.BookingID, "event_id", msg.ID, "reason", p.Reason)
		return nil
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrValidation):
		uc.d.Log.Error("drop payment result", "booking_id", p.BookingID, "event_id", msg.ID, "error", err)
		return nil
	}
	return err
}
