// Package ticketing issues one ticket per booked seat and validates them at
// boarding.
package ticketing

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"busticket/internal/clock"
	"busticket/internal/domain/booking"
	"busticket/internal/domain/errs"
	"busticket/internal/domain/ticket"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const maxCodeAttempts = 5

var (
	ticketsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickets_issued_total",
		Help: "Tickets issued for confirmed bookings",
	})
	ticketsScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickets_scanned_total",
		Help: "Boarding scans, by outcome",
	}, []string{"outcome"})
)

type Issuer struct {
	tickets ticket.Repository
	clock   clock.Clock
	newCode func() string
}

func NewIssuer(tickets ticket.Repository, clk clock.Clock) *Issuer {
	return &Issuer{tickets: tickets, clock: clk, newCode: NewCode}
}

// NewCode returns "BT-" followed by 16 upper-case hex digits taken from the
// random bytes of a v4 UUID (version and variant bits skipped).
func NewCode() string {
	u := uuid.New()
	b := append(append([]byte{}, u[0:6]...), u[10:12]...)
	return "BT-" + strings.ToUpper(hex.EncodeToString(b))
}

// Issue creates a valid ticket for every passenger of a confirmed booking.
func (i *Issuer) Issue(ctx context.Context, b *booking.Booking) ([]*ticket.Ticket, error) {
	if b.Phase != booking.PhaseConfirmed {
		return nil, fmt.Errorf("%w: booking %s is %s", errs.ErrInvalidTransition, b.ID, b.Phase)
	}
	now := i.clock.Now()

	out := make([]*ticket.Ticket, 0, len(b.Passengers))
	for _, p := range b.Passengers {
		t := &ticket.Ticket{
			BookingID:     b.ID,
			TripID:        b.TripID,
			SeatNumber:    p.SeatNumber,
			PassengerName: p.Name,
			Status:        ticket.StatusValid,
			IssuedAt:      now,
			UpdatedAt:     now,
		}
		if err := i.create(ctx, t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	ticketsIssued.Add(float64(len(out)))
	return out, nil
}

func (i *Issuer) create(ctx context.Context, t *ticket.Ticket) error {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		t.Code = i.newCode()
		ok, err := i.tickets.Create(ctx, t)
		if err != nil {
			return fmt.Errorf("create ticket for seat %d: %w", t.SeatNumber, err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: no free ticket code after %d attempts", errs.ErrConflict, maxCodeAttempts)
}

// Scan admits the ticket onto tripID, moving it from valid to used.
func (i *Issuer) Scan(ctx context.Context, tripID, code string) (*ticket.Ticket, error) {
	t, err := i.tickets.GetByCode(ctx, code)
	if err != nil {
		ticketsScanned.WithLabelValues("unknown").Inc()
		return nil, err
	}
	if err := admissible(t, tripID); err != nil {
		return nil, err
	}

	now := i.clock.Now()
	ok, err := i.tickets.MarkUsed(ctx, code, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// lost a race with another scan or a cancellation
		if t, err = i.tickets.GetByCode(ctx, code); err != nil {
			return nil, err
		}
		if err := admissible(t, tripID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: ticket %s changed during scan", errs.ErrConflict, code)
	}

	ticketsScanned.WithLabelValues("admitted").Inc()
	t.Status = ticket.StatusUsed
	t.UsedAt = &now
	t.UpdatedAt = now
	return t, nil
}

func admissible(t *ticket.Ticket, tripID string) error {
	if t.TripID != tripID {
		ticketsScanned.WithLabelValues("wrong_trip").Inc()
		return fmt.Errorf("%w: ticket %s is for trip %s", errs.ErrNotValidForTrip, t.Code, t.TripID)
	}
	switch t.Status {
	case ticket.StatusValid:
		return nil
	case ticket.StatusUsed:
		ticketsScanned.WithLabelValues("already_used").Inc()
		return fmt.Errorf("%w: ticket %s", errs.ErrAlreadyUsed, t.Code)
	default:
		ticketsScanned.WithLabelValues(string(t.Status)).Inc()
		return fmt.Errorf("%w: ticket %s is %s", errs.ErrNotValidForTrip, t.Code, t.Status)
	}
}

func (i *Issuer) List(ctx context.Context, bookingID string) ([]*ticket.Ticket, error) {
	return i.tickets.ListByBooking(ctx, bookingID)
}

func (i *Issuer) Get(ctx context.Context, code string) (*ticket.Ticket, error) {
	return i.tickets.GetByCode(ctx, code)
}

// Void moves every ticket of the booking still in from to to.
func (i *Issuer) Void(ctx context.Context, bookingID string, from, to ticket.Status) (int, error) {
	return i.tickets.SetStatusByBooking(ctx, bookingID, from, to)
}
