package usecase

import (
	"context"
	"fmt"
	"time"

	"busticket/internal/clock"
	"busticket/internal/domain/event"
	"busticket/internal/domain/outbox"
	"busticket/internal/domain/payment"

	"github.com/google/uuid"
)

// OutboxGateway talks to the payment provider through the outbox: charge and
// refund requests are written as events in the caller's transaction and the
// provider answers with PaymentSucceeded or PaymentFailed.
type OutboxGateway struct {
	outbox outbox.Repository
	clock  clock.Clock
}

func NewOutboxGateway(repo outbox.Repository, clk clock.Clock) *OutboxGateway {
	return &OutboxGateway{outbox: repo, clock: clk}
}

func (g *OutboxGateway) Initiate(ctx context.Context, req payment.Request) (string, error) {
	ref := "pay_" + uuid.New().String()
	err := g.write(ctx, event.TypePaymentRequested, req.BookingID, event.PaymentRequestPayload{
		BookingID:  req.BookingID,
		PaymentRef: ref,
		UserID:     req.UserID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Email:      req.Email,
	})
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (g *OutboxGateway) Refund(ctx context.Context, bookingID, paymentRef string, amount int64, reason string) error {
	return g.write(ctx, event.TypeRefundRequested, bookingID, event.RefundPayload{
		BookingID:  bookingID,
		PaymentRef: paymentRef,
		Amount:     amount,
		Reason:     reason,
	})
}

func (g *OutboxGateway) write(ctx context.Context, eventType, bookingID string, payload any) error {
	e, err := outbox.New(uuid.New().String(), eventType, bookingID, "", producer, payload, g.now())
	if err != nil {
		return err
	}
	if err := g.outbox.Create(ctx, e); err != nil {
		return fmt.Errorf("save %s event: %w", eventType, err)
	}
	return nil
}

func (g *OutboxGateway) now() time.Time {
	if g.clock == nil {
		return time.Now().UTC()
	}
	return g.clock.Now()
}
