package usecase

import (
	"context"
	"fmt"

	"busticket/internal/auth"
	"busticket/internal/domain/booking"
	"busticket/internal/domain/inbox"
	"busticket/internal/domain/outbox"
	"busticket/internal/domain/ticket"
)

// WorkflowDTO is the booking together with the trail of events it produced
// and consumed.
type WorkflowDTO struct {
	Booking *booking.Booking `json:"booking"`
	Tickets []*ticket.Ticket `json:"tickets"`
	Outbox  []*outbox.Event  `json:"outbox"`
	Inbox   []*inbox.Event   `json:"inbox"`
}

type GetWorkflow struct {
	d Deps
}

func NewGetWorkflow(d Deps) *GetWorkflow {
	return &GetWorkflow{d: d.withDefaults()}
}

func (uc *GetWorkflow) Execute(ctx context.Context, id auth.Identity, bookingID string) (*WorkflowDTO, error) {
	b, err := uc.d.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if err := authorize(id, b); err != nil {
		return nil, err
	}

	tickets, err := uc.d.Tickets.List(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get tickets: %w", err)
	}

	outboxEvents, err := uc.d.Outbox.ListByCorrelationID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get outbox events: %w", err)
	}

	inboxEvents, err := uc.d.Inbox.ListByCorrelationID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get inbox events: %w", err)
	}

	return &WorkflowDTO{
		Booking: b,
		Tickets: tickets,
		Outbox:  outboxEvents,
		Inbox:   inboxEvents,
	}, nil
}
