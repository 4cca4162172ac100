package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"busticket/internal/auth"
	"busticket/internal/domain/booking"
	"busticket/internal/domain/errs"
	"busticket/internal/domain/event"
	"busticket/internal/domain/seat"
	"busticket/internal/domain/ticket"
	"busticket/internal/domain/trip"

	"github.com/google/uuid"
)

type TripParams struct {
	RouteID     string    `json:"route_id"`
	BusID       string    `json:"bus_id"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	DepartureAt time.Time `json:"departure_at"`
	ArrivalAt   time.Time `json:"arrival_at"`
	TotalSeats  int       `json:"total_seats"`
	// Layout lists the sellable seat numbers. Empty means 1..TotalSeats.
	Layout    []int  `json:"layout,omitempty"`
	BasePrice int64  `json:"base_price"`
	Currency  string `json:"currency"`
}

type ScheduleTrip struct {
	d Deps
}

func NewScheduleTrip(d Deps) *ScheduleTrip {
	return &ScheduleTrip{d: d.withDefaults()}
}

func (uc *ScheduleTrip) Execute(ctx context.Context, id auth.Identity, params TripParams) (*trip.Trip, error) {
	if err := requireOperator(id); err != nil {
		return nil, err
	}
	layout, err := validateTrip(params)
	if err != nil {
		return nil, err
	}

	now := uc.d.Clock.Now()
	t := &trip.Trip{
		ID:          uuid.New().String(),
		RouteID:     params.RouteID,
		BusID:       params.BusID,
		Origin:      params.Origin,
		Destination: params.Destination,
		DepartureAt: params.DepartureAt,
		ArrivalAt:   params.ArrivalAt,
		TotalSeats:  len(layout),
		BasePrice:   params.BasePrice,
		Currency:    strings.ToUpper(params.Currency),
		Status:      trip.StatusScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = uc.d.Tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := uc.d.Trips.Create(txCtx, t); err != nil {
			return err
		}
		return uc.d.Inventory.CreateSeats(txCtx, t.ID, layout)
	})
	if err != nil {
		return nil, fmt.Errorf("transaction failed: %w", err)
	}

	uc.d.Log.Info("trip scheduled", "trip_id", t.ID, "seats", t.TotalSeats, "departure_at", t.DepartureAt)
	return t, nil
}

func validateTrip(p TripParams) ([]int, error) {
	switch {
	case strings.TrimSpace(p.Origin) == "":
		return nil, errs.Validation("origin", "required")
	case strings.TrimSpace(p.Destination) == "":
		return nil, errs.Validation("destination", "required")
	case p.DepartureAt.IsZero():
		return nil, errs.Validation("departure_at", "required")
	case !p.ArrivalAt.IsZero() && !p.ArrivalAt.After(p.DepartureAt):
		return nil, errs.Validation("arrival_at", "must be after departure")
	case p.BasePrice < 0:
		return nil, errs.Validation("base_price", "must not be negative")
	case len(p.Currency) != 3:
		return nil, errs.Validation("currency", "must be a 3-letter code")
	}

	layout := p.Layout
	if len(layout) == 0 {
		if p.TotalSeats <= 0 {
			return nil, errs.Validation("total_seats", "must be positive")
		}
		layout = make([]int, p.TotalSeats)
		for i := range layout {
			layout[i] = i + 1
		}
	} else if p.TotalSeats != 0 && p.TotalSeats != len(layout) {
		return nil, errs.Validation("layout", "does not match total_seats")
	}
	if err := seat.ValidateNumbers(layout); err != nil {
		return nil, err
	}
	return layout, nil
}

type RemoveTrip struct {
	d Deps
}

func NewRemoveTrip(d Deps) *RemoveTrip {
	return &RemoveTrip{d: d.withDefaults()}
}

// Execute deletes a trip that has sold nothing. Trips with held or booked
// seats, or with any booking on record, stay.
func (uc *RemoveTrip) Execute(ctx context.Context, id auth.Identity, tripID string) error {
	if err := requireOperator(id); err != nil {
		return err
	}

	err := uc.d.Tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		if _, err := uc.d.Trips.GetByID(txCtx, tripID); err != nil {
			return err
		}
		seats, err := uc.d.Inventory.SeatMap(txCtx, tripID, uc.d.Clock.Now())
		if err != nil {
			return err
		}
		if c := seat.Count(seats); c.Locked > 0 || c.Booked > 0 {
			return fmt.Errorf("%w: trip %s has %d locked and %d booked seats", errs.ErrConflict, tripID, c.Locked, c.Booked)
		}
		bookings, err := uc.d.Bookings.ListByTrip(txCtx, tripID)
		if err != nil {
			return err
		}
		if len(bookings) > 0 {
			return fmt.Errorf("%w: trip %s has %d bookings", errs.ErrConflict, tripID, len(bookings))
		}
		if err := uc.d.Inventory.DeleteSeats(txCtx, tripID); err != nil {
			return err
		}
		return uc.d.Trips.Delete(txCtx, tripID)
	})
	if err != nil {
		return err
	}

	uc.d.Log.Info("trip removed", "trip_id", tripID)
	return nil
}

type UpdateTripStatus struct {
	d Deps
}

func NewUpdateTripStatus(d Deps) *UpdateTripStatus {
	return &UpdateTripStatus{d: d.withDefaults()}
}

// Execute moves the trip along its lifecycle. Completing a trip settles its
// bookings and tickets. Cancelling it cancels every booking, ignoring the
// cancellation cutoff.
func (uc *UpdateTripStatus) Execute(ctx context.Context, id auth.Identity, tripID string, status trip.Status) (*trip.Trip, error) {
	if err := requireOperator(id); err != nil {
		return nil, err
	}

	var (
		t       *trip.Trip
		touched []string
	)
	err := uc.d.Tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		var err error
		t, err = uc.d.Trips.GetByID(txCtx, tripID)
		if err != nil {
			return err
		}
		if !t.CanMoveTo(status) {
			return fmt.Errorf("%w: trip %s %s -> %s", errs.ErrInvalidTransition, t.ID, t.Status, status)
		}
		if err := uc.d.Trips.UpdateStatus(txCtx, t.ID, status); err != nil {
			return err
		}
		now := uc.d.Clock.Now()
		t.Status = status
		t.UpdatedAt = now

		switch status {
		case trip.StatusCompleted:
			touched, err = uc.complete(txCtx, t, now)
		case trip.StatusCancelled:
			touched, err = uc.cancel(txCtx, t, now)
		}
		if err != nil {
			return err
		}
		return uc.d.emit(txCtx, event.TypeTripStatusChange, t.ID, "", event.TripStatusPayload{
			TripID: t.ID,
			Status: string(status),
		})
	})
	if err != nil {
		return nil, err
	}
	for _, bookingID := range touched {
		uc.d.Cache.Invalidate(ctx, bookingID)
	}

	uc.d.Log.Info("trip status changed", "trip_id", t.ID, "status", string(status), "bookings", len(touched))
	return t, nil
}

func (uc *UpdateTripStatus) complete(ctx context.Context, t *trip.Trip, now time.Time) ([]string, error) {
	bookings, err := uc.d.Bookings.ListByTrip(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	var touched []string
	for _, b := range bookings {
		switch {
		case b.Phase == booking.PhaseConfirmed && b.Status == booking.StatusConfirmed:
			if _, err := uc.d.Tickets.Void(ctx, b.ID, ticket.StatusValid, ticket.StatusExpired); err != nil {
				return nil, fmt.Errorf("expire tickets of booking %s: %w", b.ID, err)
			}
			b.Status = booking.StatusCompleted
			b.UpdatedAt = now
			if err := uc.d.Bookings.Update(ctx, b); err != nil {
				return nil, err
			}
		case b.Active():
			if err := uc.d.closeHold(ctx, b, booking.PhaseExpired, ReasonHoldExpired, now); err != nil {
				return nil, err
			}
		default:
			continue
		}
		touched = append(touched, b.ID)
	}
	return touched, nil
}

func (uc *UpdateTripStatus) cancel(ctx context.Context, t *trip.Trip, now time.Time) ([]string, error) {
	bookings, err := uc.d.Bookings.ListByTrip(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	var touched []string
	for _, b := range bookings {
		switch {
		case b.Active():
			err = uc.d.closeHold(ctx, b, booking.PhaseCancelled, ReasonTripCancelled, now)
		case b.Phase == booking.PhaseConfirmed:
			err = uc.d.cancelConfirmed(ctx, b, ReasonTripCancelled, now)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		touched = append(touched, b.ID)
	}
	return touched, nil
}

// SeatView is one seat as shown to customers. Holders stay hidden.
type SeatView struct {
	Number        int        `json:"number"`
	State         seat.State `json:"state"`
	LockExpiresAt *time.Time `json:"lock_expires_at,omitempty"`
}

type SeatMapDTO struct {
	TripID string      `json:"trip_id"`
	Status trip.Status `json:"status"`
	Counts seat.Counts `json:"counts"`
	Seats  []SeatView  `json:"seats"`
}

type GetSeatMap struct {
	d Deps
}

func NewGetSeatMap(d Deps) *GetSeatMap {
	return &GetSeatMap{d: d.withDefaults()}
}

func (uc *GetSeatMap) Execute(ctx context.Context, tripID string) (*SeatMapDTO, error) {
	t, err := uc.d.Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	seats, err := uc.d.Inventory.SeatMap(ctx, tripID, uc.d.Clock.Now())
	if err != nil {
		return nil, err
	}

	views := make([]SeatView, 0, len(seats))
	for _, s := range seats {
		views = append(views, SeatView{Number: s.Number, State: s.State, LockExpiresAt: s.LockExpiresAt})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Number < views[j].Number })

	return &SeatMapDTO{
		TripID: t.ID,
		Status: t.Status,
		Counts: seat.Count(seats),
		Seats:  views,
	}, nil
}
