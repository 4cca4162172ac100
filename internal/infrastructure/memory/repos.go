package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"busticket/internal/domain/booking"
	"busticket/internal/domain/errs"
	"busticket/internal/domain/ticket"
	"busticket/internal/domain/trip"
)

// Tx serialises transactions over one set of in-memory repositories, so a
// booking read inside a transaction cannot change before that transaction
// ends. A nested call joins the running transaction. There is no rollback:
// writes made before a failure stay in place.
type Tx struct {
	mu sync.Mutex
}

func NewTx() *Tx {
	return &Tx{}
}

type txKey struct{}

func (t *Tx) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, _ := ctx.Value(txKey{}).(*Tx); owner == t {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, t))
}

type TripRepository struct {
	mu    sync.RWMutex
	trips map[string]trip.Trip
}

func NewTripRepository() *TripRepository {
	return &TripRepository{trips: make(map[string]trip.Trip)}
}

func (r *TripRepository) Create(_ context.Context, t *trip.Trip) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trips[t.ID]; ok {
		return errs.ErrConflict
	}
	r.trips[t.ID] = *t
	return nil
}

func (r *TripRepository) GetByID(_ context.Context, id string) (*trip.Trip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trips[id]
	if !ok {
		return nil, errs.NotFound("trip", id)
	}
	return &t, nil
}

func (r *TripRepository) UpdateStatus(_ context.Context, id string, status trip.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trips[id]
	if !ok {
		return errs.NotFound("trip", id)
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	r.trips[id] = t
	return nil
}

func (r *TripRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trips[id]; !ok {
		return errs.NotFound("trip", id)
	}
	delete(r.trips, id)
	return nil
}

type BookingRepository struct {
	mu       sync.RWMutex
	bookings map[string]*booking.Booking
}

func NewBookingRepository() *BookingRepository {
	return &BookingRepository{bookings: make(map[string]*booking.Booking)}
}

func (r *BookingRepository) Create(_ context.Context, b *booking.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bookings[b.ID]; ok {
		return errs.ErrConflict
	}
	r.bookings[b.ID] = copyBooking(b)
	return nil
}

func (r *BookingRepository) Update(_ context.Context, b *booking.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bookings[b.ID]; !ok {
		return errs.NotFound("booking", b.ID)
	}
	r.bookings[b.ID] = copyBooking(b)
	return nil
}

func (r *BookingRepository) GetByID(_ context.Context, id string) (*booking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, errs.NotFound("booking", id)
	}
	return copyBooking(b), nil
}

func (r *BookingRepository) ListLapsedHolds(_ context.Context, now time.Time, limit int) ([]*booking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*booking.Booking
	for _, b := range r.bookings {
		if b.HoldLapsed(now) {
			out = append(out, copyBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HoldExpiresAt.Before(out[j].HoldExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *BookingRepository) ListByTrip(_ context.Context, tripID string) ([]*booking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*booking.Booking
	for _, b := range r.bookings {
		if b.TripID == tripID {
			out = append(out, copyBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func copyBooking(b *booking.Booking) *booking.Booking {
	c := *b
	c.Seats = append([]int(nil), b.Seats...)
	c.Passengers = append([]booking.Passenger(nil), b.Passengers...)
	if b.ConfirmedAt != nil {
		t := *b.ConfirmedAt
		c.ConfirmedAt = &t
	}
	return &c
}

type TicketRepository struct {
	mu      sync.RWMutex
	tickets map[string]ticket.Ticket
}

func NewTicketRepository() *TicketRepository {
	return &TicketRepository{tickets: make(map[string]ticket.Ticket)}
}

func (r *TicketRepository) Create(_ context.Context, t *ticket.Ticket) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.tickets[t.Code]; taken {
		return false, nil
	}
	r.tickets[t.Code] = *t
	return true, nil
}

func (r *TicketRepository) GetByCode(_ context.Context, code string) (*ticket.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tickets[code]
	if !ok {
		return nil, errs.NotFound("ticket", code)
	}
	return &t, nil
}

func (r *TicketRepository) ListByBooking(_ context.Context, bookingID string) ([]*ticket.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ticket.Ticket
	for _, t := range r.tickets {
		if t.BookingID == bookingID {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatNumber < out[j].SeatNumber })
	return out, nil
}

func (r *TicketRepository) MarkUsed(_ context.Context, code string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[code]
	if !ok || t.Status != ticket.StatusValid {
		return false, nil
	}
	t.Status = ticket.StatusUsed
	t.UsedAt = &at
	t.UpdatedAt = at
	r.tickets[code] = t
	return true, nil
}

func (r *TicketRepository) SetStatusByBooking(_ context.Context, bookingID string, from, to ticket.Status) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for code, t := range r.tickets {
		if t.BookingID == bookingID && t.Status == from {
			t.Status = to
			t.UpdatedAt = time.Now().UTC()
			r.tickets[code] = t
			n++
		}
	}
	return n, nil
}
