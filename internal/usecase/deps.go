package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"busticket/internal/auth"
	"busticket/internal/clock"
	"busticket/internal/domain/booking"
	"busticket/internal/domain/errs"
	"busticket/internal/domain/inbox"
	"busticket/internal/domain/outbox"
	"busticket/internal/domain/payment"
	"busticket/internal/domain/trip"
	"busticket/internal/inventory"
	"busticket/internal/seatlock"
	"busticket/internal/ticketing"

	"github.com/google/uuid"
)

const producer = "booking-service"

type Transactor interface {
	WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error
}

// BookingCache caches booking reads. Implementations must tolerate misses.
type BookingCache interface {
	Get(ctx context.Context, id string) (*booking.Booking, bool)
	Set(ctx context.Context, b *booking.Booking)
	Invalidate(ctx context.Context, id string)
}

type noCache struct{}

func (noCache) Get(context.Context, string) (*booking.Booking, bool) { return nil, false }
func (noCache) Set(context.Context, *booking.Booking)                {}
func (noCache) Invalidate(context.Context, string)                   {}

type Policy struct {
	MaxSeatsPerBooking int
	CancellationCutoff time.Duration
}

// Deps is what the booking use cases share.
type Deps struct {
	Tx        Transactor
	Trips     trip.Repository
	Bookings  booking.Repository
	Outbox    outbox.Repository
	Inbox     inbox.Repository
	Inventory *inventory.Service
	Locks     *seatlock.Manager
	Tickets   *ticketing.Issuer
	Payments  payment.Gateway
	Cache     BookingCache
	Clock     clock.Clock
	Log       *slog.Logger
	Policy    Policy
}

func (d Deps) withDefaults() Deps {
	if d.Cache == nil {
		d.Cache = noCache{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return d
}

// emit writes an event for the booking into the outbox of the current tx.
func (d Deps) emit(ctx context.Context, eventType, correlationID, causationID string, payload any) error {
	e, err := outbox.New(uuid.New().String(), eventType, correlationID, causationID, producer, payload, d.Clock.Now())
	if err != nil {
		return err
	}
	if err := d.Outbox.Create(ctx, e); err != nil {
		return fmt.Errorf("save %s event: %w", eventType, err)
	}
	return nil
}

func requireUser(id auth.Identity) error {
	if id.UserID == "" {
		return auth.ErrUnauthenticated
	}
	return nil
}

func requireOperator(id auth.Identity) error {
	if err := requireUser(id); err != nil {
		return err
	}
	if !id.IsOperator() {
		return fmt.Errorf("%w: operator role required", errs.ErrForbidden)
	}
	return nil
}

// authorize lets the booking owner and operators through.
func authorize(id auth.Identity, b *booking.Booking) error {
	if err := requireUser(id); err != nil {
		return err
	}
	if b.UserID != id.UserID && !id.IsOperator() {
		return fmt.Errorf("%w: booking %s", errs.ErrForbidden, b.ID)
	}
	return nil
}
