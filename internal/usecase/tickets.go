package usecase

import (
	"context"
	"fmt"
	"io"

	"busticket/internal/auth"
	"busticket/internal/domain/errs"
	"busticket/internal/domain/ticket"
	"busticket/internal/ticketing"
)

type ListTickets struct {
	d Deps
}

func NewListTickets(d Deps) *ListTickets {
	return &ListTickets{d: d.withDefaults()}
}

func (uc *ListTickets) Execute(ctx context.Context, id auth.Identity, bookingID string) ([]*ticket.Ticket, error) {
	b, err := uc.d.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := authorize(id, b); err != nil {
		return nil, err
	}
	return uc.d.Tickets.List(ctx, bookingID)
}

type RenderTicket struct {
	d Deps
}

func NewRenderTicket(d Deps) *RenderTicket {
	return &RenderTicket{d: d.withDefaults()}
}

// Execute writes the e-ticket PDF for code to w.
func (uc *RenderTicket) Execute(ctx context.Context, id auth.Identity, code string, w io.Writer) error {
	t, err := uc.d.Tickets.Get(ctx, code)
	if err != nil {
		return err
	}
	b, err := uc.d.Bookings.GetByID(ctx, t.BookingID)
	if err != nil {
		return err
	}
	if err := authorize(id, b); err != nil {
		return err
	}
	tr, err := uc.d.Trips.GetByID(ctx, t.TripID)
	if err != nil {
		return err
	}
	return ticketing.RenderPDF(w, t, tr)
}

type ScanTicket struct {
	d Deps
}

func NewScanTicket(d Deps) *ScanTicket {
	return &ScanTicket{d: d.withDefaults()}
}

// Execute admits a passenger at boarding. Only operators scan tickets.
func (uc *ScanTicket) Execute(ctx context.Context, id auth.Identity, tripID, code string) (*ticket.Ticket, error) {
	if err := requireOperator(id); err != nil {
		return nil, err
	}
	tr, err := uc.d.Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !tr.Boardable() {
		return nil, fmt.Errorf("%w: trip %s is %s", errs.ErrNotValidForTrip, tr.ID, tr.Status)
	}

	t, err := uc.d.Tickets.Scan(ctx, tripID, code)
	if err != nil {
		return nil, err
	}
	uc.d.Log.Info("ticket scanned", "code", t.Code, "trip_id", tripID, "seat", t.SeatNumber)
	return t, nil
}
