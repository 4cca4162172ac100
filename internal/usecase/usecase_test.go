package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"busticket/internal/auth"
	"busticket/internal/clock"
	"busticket/internal/domain/booking"
	"busticket/internal/domain/errs"
	"busticket/internal/domain/event"
	"busticket/internal/domain/inbox"
	"busticket/internal/domain/payment"
	"busticket/internal/domain/seat"
	"busticket/internal/domain/ticket"
	"busticket/internal/domain/trip"
	"busticket/internal/infrastructure/memory"
	"busticket/internal/inventory"
	"busticket/internal/seatlock"
	"busticket/internal/ticketing"
)

var (
	t0       = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	operator = auth.Identity{UserID: "op-1", Role: auth.RoleOperator}
	alice    = auth.Identity{UserID: "alice", Role: auth.RoleCustomer}
	bob      = auth.Identity{UserID: "bob", Role: auth.RoleCustomer}
)

type harness struct {
	clk      *clock.FakeClock
	outbox   *memory.OutboxRepository
	bookings *memory.BookingRepository
	tickets  *memory.TicketRepository
	d        Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.Fake(t0)
	inv := inventory.New(memory.NewSeatStore(clk), log)
	h := &harness{
		clk:      clk,
		outbox:   memory.NewOutboxRepository(clk),
		bookings: memory.NewBookingRepository(),
		tickets:  memory.NewTicketRepository(),
	}
	h.d = Deps{
		Tx:        memory.NewTx(),
		Trips:     memory.NewTripRepository(),
		Bookings:  h.bookings,
		Outbox:    h.outbox,
		Inbox:     memory.NewInboxRepository(),
		Inventory: inv,
		Locks:     seatlock.NewManager(inv, clk, seatlock.Config{TTL: 10 * time.Minute, SweepInterval: time.Second}, log),
		Tickets:   ticketing.NewIssuer(h.tickets, clk),
		Payments:  NewOutboxGateway(h.outbox, clk),
		Clock:     clk,
		Log:       log,
		Policy:    Policy{MaxSeatsPerBooking: 6, CancellationCutoff: 24 * time.Hour},
	}
	return h
}

func (h *harness) schedule(t *testing.T, seats int) *trip.Trip {
	t.Helper()
	tr, err := NewScheduleTrip(h.d).Execute(context.Background(), operator, TripParams{
		Origin:      "Lisbon",
		Destination: "Porto",
		DepartureAt: t0.Add(72 * time.Hour),
		ArrivalAt:   t0.Add(75 * time.Hour),
		TotalSeats:  seats,
		BasePrice:   1500,
		Currency:    "eur",
	})
	if err != nil {
		t.Fatalf("schedule trip: %v", err)
	}
	return tr
}

func (h *harness) checkout(id auth.Identity, tripID string, seats ...int) (*booking.Booking, error) {
	params := CheckoutParams{TripID: tripID, Contact: booking.Contact{Name: id.UserID, Email: id.UserID + "@example.com"}}
	for _, n := range seats {
		params.Passengers = append(params.Passengers, booking.Passenger{Name: "Passenger", SeatNumber: n})
	}
	return NewStartCheckout(h.d).Execute(context.Background(), id, params)
}

func (h *harness) pay(t *testing.T, id auth.Identity, bookingID string, succeeded bool) (*booking.Booking, error) {
	t.Helper()
	b, err := NewInitiatePayment(h.d).Execute(context.Background(), id, bookingID)
	if err != nil {
		t.Fatalf("initiate payment: %v", err)
	}
	return NewHandlePaymentResult(h.d).Execute(context.Background(), payment.Result{
		BookingID:  b.ID,
		PaymentRef: b.PaymentRef,
		Succeeded:  succeeded,
		Amount:     b.TotalAmount,
	}, nil)
}

func (h *harness) confirmed(t *testing.T, id auth.Identity, tripID string, seats ...int) *booking.Booking {
	t.Helper()
	b, err := h.checkout(id, tripID, seats...)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	b, err = h.pay(t, id, b.ID, true)
	if err != nil {
		t.Fatalf("payment result: %v", err)
	}
	return b
}

func (h *harness) seatStates(t *testing.T, tripID string) map[int]seat.State {
	t.Helper()
	m, err := NewGetSeatMap(h.d).Execute(context.Background(), tripID)
	if err != nil {
		t.Fatalf("seat map: %v", err)
	}
	out := make(map[int]seat.State, len(m.Seats))
	for _, s := range m.Seats {
		out[s.Number] = s.State
	}
	return out
}

func TestCheckoutPayAndIssueTickets(t *testing.T) {
	h := newHarness(t)
	tr := h.schedule(t, 40)

	b := h.confirmed(t, alice, tr.ID, 3, 4)
	if b.Phase != booking.PhaseConfirmed || b.Status != booking.StatusConfirmed {
		t.Fatalf("booking is %s/%s", b.Phase, b.Status)
	}
	if b.TotalAmount != 3000 || b.Currency != "EUR" {
		t.Fatalf("total %d %s", b.TotalAmount, b.Currency)
	}

	tickets, err := NewListTickets(h.d).Execute(context.Background(), alice, b.ID)
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(tickets) != 2 || tickets[0].Code == tickets[1].Code {
		t.Fatalf("want two distinct tickets, got %+v", tickets)
	}
	for _, tk := range tickets {
		if tk.Status != ticket.StatusValid {
			t.Fatalf("ticket %s is %s", tk.Code, tk.Status)
		}
	}

	states := h.seatStates(t, tr.ID)
	if states[3] != seat.StateBooked || states[4] != seat.StateBooked || states[5] != seat.StateAvailable {
		t.Fatalf("seat states %v", states)
	}

	want := []string{event.TypeBookingHeld, event.TypePaymentRequested, event.TypeBookingConfirmed, event.TypeTicketsIssued}
	if got := h.outbox.Types(b.ID); !reflect.DeepEqual(got, want) {
		t.Fatalf("outbox %v, want %v", got, want)
	}
}

func TestConcurrentCheckoutSameSeat(t *testing.T) {
	h := newHarness(t)
	tr := h.schedule(t, 10)

	var (
		wg   sync.WaitGroup
		errc = make(chan error, 2)
	)
	for _, id := range []auth.Identity{alice, bob} {
		wg.Add(1)
		go func(id auth.Identity) {
			defer wg.Done()
			_, err := h.checkout(id, tr.ID, 1)
			errc <- err
		}(id)
	}
	wg.Wait()
	close(errc)

	var ok, unavailable int
	for err := range errc {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, errs.ErrSeatUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || unavailable != 1 {
		t.Fatalf("ok=%d unavailable=%d", ok, unavailable)
	}
}

func TestCheckoutRejectsBadRequests(t *testing.T) {
	h := newHarness(t)
	tr := h.schedule(t, 10)

	if _, err := h.checkout(alice, tr.ID, 2, 2); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("duplicate seats: %v", err)
	}
	if _, err := h.checkout(alice, tr.ID, 1, 2, 3, 4, 5, 6, 7); !errors.Is(err, errs.ErrCapacityExceeded) {
		t.Fatalf("too many seats: %v", err)
	}
	if _, err := h.checkout(auth.Identity{}, tr.ID, 1); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("anonymous: %v", err)
	}
	if _, err := h.checkout(alice, tr.ID, 11); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("unknown seat: %v", err)
	}
}

func TestPaymentFailureReleasesSeats(t *testing.T) {
	h := newHarness(t)
	tr := h.schedule(t, 10)
	b, err := h.checkout(alice, tr.ID, 1, 2)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	b, err = h.pay(t, alice, b.ID, false)
	if !errors.Is(err, errs.ErrPaymentFailed) {
		t.Fatalf("payment result: %v", err)
	}
	if b == nil {
		t.Fatal("declined result returned no booking")
	}
	if b.Phase != booking.PhaseCancelled || b.PaymentStatus != booking.PaymentFailed {
		t.Fatalf("booking is %s, payment %s", b.Phase, b.PaymentStatus)
	}
	if states := h.seatStates(t, tr.ID); states[1] != seat.StateAvailable || states[2] != seat.StateAvailable {
		t.Fatalf("seat states %v", states)
	}
	if tickets, _ := h.tickets.ListByBooking(context.Background(), b.ID); len(tickets) != 0 {
		t.Fatalf("tickets issued for failed payment: %d", len(tickets))
	}
}

func TestLatePaymentExpiresAndRefunds(t *testing.T) {
	h := newHarness(t)
	tr := h.schedule(t, 10)
	b, err := h.checkout(alice, tr.ID, 5)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	b, err = NewInitiatePayment(h.d).Execute(context.Background(), alice, b.ID)
	if err != nil {
		t.Fatalf("initiate payment: %v", err)
	}

	h.clk.Advance(11 * time.Minute)
	b, err = NewHandlePaymentResult(h.d).Execute(context.Background(), payment.Result{
		BookingID: b.ID, PaymentRef: b.PaymentRef, Succeeded: true,
	}, nil)
	if !errors.Is(err, errs.ErrLockExpired) {
		t.Fatalf("expected LockExpired, got %v", err)
	}
	if b.Phase != booking.PhaseExpired || b.PaymentStatus != booking.PaymentRefunded {
		t.Fatalf("booking is %s, payment %s", b.Phase, b.PaymentStatus)
	}
	if states := h.seatStates(t, tr.ID); states[5] != seat.StateAvailable {
		t.Fatalf("seat 5 is %s", states[5])
	}
	want := []string{event.TypeBookingHeld, event.TypePaymentRequested, event.TypeRefundRequested, event.TypeBookingExpired}
	if got := h.outbox.Types(b.ID); !reflect.DeepEqual(got, want) {
		t.Fatalf("outbox %v, want %v", got, want)
	}
}

func TestInitiatePaymentAfterHoldLapsed(t *testing.T) {
	h := newHarness(t)
	tr := h.schedule(t, 10)
	b, err := h.checkout(alice, tr.ID, 1)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := NewInitiatePayment(h.d).Execute(context.Background(), bob, b.ID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("foreign booking: %v", err)
	}

	h.clk.Advance(10 * time.Minute)
	b, err = NewInitiatePayment(h.d).Execute(context.Background(), alice, b.ID)
	if !errors.Is(err, errs.ErrLockExpired) {
		t.Fatalf("expected LockExpired, got %v", err)
	}
	if b.Phase != booking.PhaseExpired {
		t.Fatalf("booking is %s", b.Phase)
	}
}

func TestDuplicatePaymentResults(t *testing.T) {
	h := newHarness(t)
	tr := h.schedule(t, 10)
	b, err := h.checkout(alice, tr.ID, 7)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	b, err = NewInitiatePayment(h.d).Execute(context.Background(), alice, b.ID)
	if err != nil {
		t.Fatalf("initiate payment: %v", err)
	}

	res := payment.Result{BookingID: b.ID, PaymentRef: b.PaymentRef, Succeeded: true}
	delivery := &inbox.Event{Consumer: "payments", EventID: "evt-1", EventType: event.TypePaymentSucceeded, CorrelationID: b.ID, ProcessedAt: t0}
	uc := NewHandlePaymentResult(h.d)
	for i := 0; i < 2; i++ {
		if _, err := uc.Execute(context.Background(), res, delivery); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	// a redelivery under a new event ID is absorbed by the phase check
	if _, err := uc.Execute(context.Background(), res, nil); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	tickets, _ := h.tickets.ListByBooking(context.Background(), b.ID)
	if len(tickets) != 1 {
		t.Fatalf("want one ticket, got %d", len(tickets))
	}

	wrongRef := payment.Result{BookingID: b.ID, PaymentRef: "pay_other", Succeeded: true}
	if _, err := uc.Execute(context.Background(), wrongRef, nil); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("foreign payment ref: %v", err)
	}
}

// slowBookings widens the window between reading a booking and writing it
// back, so overlapping transactions would interleave.
type slowBookings struct {
	booking.Repository
}

func (r slowBookings) GetByID(ctx context.Context, id string) (*booking.Booking, error) {
	b, err := r.Repository.GetByID(ctx, id)
	time.Sleep(time.Millisecond)
	return b, err
}

func (h *harness) awaitingPayment(t *testing.T, seats ...int) *booking.Booking {
	t.Helper()
	tr := h.schedule(t, 10)
	b, err := h.checkout(alice, tr.ID, seats...)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	b, err = NewInitiatePayment(h.d).Execute(context.Background(), alice, b.ID)
	if err != nil {
		t.Fatalf("initiate payment: %v", err)
	}
	return b
}

func TestConcurrentPaymentResultsIssueOnce(t *testing.T) {
	h := newHarness(t)
	h.d.Bookings = slowBookings{h.bookings}
	b := h.awaitingPayment(t, 1, 2)

	uc := NewHandlePaymentResult(h.d)
	res := payment.Result{BookingID: b.ID, PaymentRef: b.PaymentRef, Succeeded: true, Amount: b.TotalAmount}

	var wg sync.WaitGroup
	errc := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := uc.Execute(context.Background(), res, nil)
			errc <- err
		}()
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		if err != nil {
			t.Fatalf("payment result: %v", err)
		}
	}

	tickets, _ := h.tickets.ListByBooking(context.Background(), b.ID)
	if len(tickets) != 2 {
		t.Fatalf("tickets for 2-seat booking: %d", len(tickets))
	}
	var issued int
	for _, typ := range h.outbox.Types(b.ID) {
		if typ == event.TypeTicketsIssued {
			issued++
		}
	}
	if issued != 1 {
		t.Fatalf("TicketsIssued emitted %d times", issued)
	}
}

func TestPaymentResultRacingCancel(t *testing.T) {
	h := newHarness(t)
	h.d.Bookings = slowBookings{h.bookings}
	b := h.awaitingPayment(t, 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res := payment.Result{BookingID: b.ID, PaymentRef: b.PaymentRef, Succeeded: true, Amount: b.TotalAmount}
		if _, err := NewHandlePaymentResult(h.d).Execute(context.Background(), res, nil); err != nil {
			t.Errorf("payment result: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := NewCancelBooking(h.d).Execute(context.Background(), alice, b.ID, ""); err != nil {
			t.Errorf("cancel: %v", err)
		}
	}()
	wg.Wait()

	got, _ := h.bookings.GetByID(context.Background(), b.ID)
	if got.Phase != booking.PhaseCancelled {
		t.Fatalf("booking is %s", got.Phase)
	}
	if got.PaymentStatus != booking.PaymentRefunded {
		t.Fatalf("payment is %s", got.PaymentStatus)
	}
	if states := h.seatStates(t, got.TripID); states[1] != seat.StateAvailable {
		t.Fatalf("seat 1 is %s", states[1])
	}
	tickets, _ := h.tickets.ListByBooking(context.Background(), b.ID)
	for _, tk := range tickets {
		if tk.Status == ticket.StatusValid {
			t.Fatalf("ticket %s still valid for a cancelled booking", tk.Code)
		}
	}
}

func TestCancelConfirmedBooking(t *testing.T) {
	h := newHarness(t)
	tr := h.schedule(t, 10)
	b := h.confirmed(t, alice, tr.ID, 3, 4)

	if _, err := NewCancelBooking(h.d).Execute(context.Background(), bob, b.ID, ""); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("foreign cancel: %v", err)
	}

	b, err := NewCancelBooking(h.d).Execute(context.Background(), alice, b.ID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if b.Phase != booking.PhaseCancelled || b.PaymentStatus != booking.PaymentRefunded {
		t.Fatalf("booking is %s, payment %s", b.Phase, b.PaymentStatus)
	}
	if states := h.seatStates(t, tr.ID); states[3] != seat.StateAvailable || states[4] != seat.StateAvailable {
		t.Fatalf("seat states %v", states)
	}
	tickets, _ := h.tickets.ListByBooking(context.Background(), b.ID)
	for _, tk := range tickets {
		if tk.Status != ticket.StatusCancelled {
			t.Fatalf("ticket %s is %s", tk.Code, tk.Status)
		}
	}

	// cancelling again is a no-op
	again, err := NewCancelBooking(h.d).Execute(context.Background(), alice, b.ID, "")
	if err != nil || again.Phase != booking.PhaseCancelled {
		t.Fatalf("repeat cancel: %v", err)
	}
}

func TestCancelInsideCutoff(t *testing.T) {
	h := newHarness(t)
	tr := h.schedule(t, 10)
	b := h.confirmed(t, alice, tr.ID, 3, 4)

	h.clk.Advance(50 * time.Hour)
	_, err := NewCancelBooking(h.d).Execute(context.Background(), alice, b.ID, "")
	if !errors.Is(err, errs.ErrCancellationWindowClosed) {
		t.Fatalf("expected CancellationWindowClosed, got %v", err)
	}
	if states := h.seatStates(t, tr.ID); states[3] != seat.StateBooked || states[4] != seat.StateBooked {
		t.Fatalf("seat states %v", states)
	}
	got, err := NewGetBooking(h.d).Execute(context.Background(), alice, b.ID)
	if err != nil || got.Phase != booking.PhaseConfirmed {
		t.Fatalf("booking after refused cancel: %v %v", got, err)
	}
}

func TestExpireBookings(t *testing.T) {
	h := newHarness(t)
	tr := h.schedule(t, 10)
	held, err := h.checkout(alice, tr.ID, 1)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	paid := h.confirmed(t, bob, tr.ID, 2)

	h.clk.Advance(10*time.Minute + time.Second)
	n, err := NewExpireBookings(h.d).Execute(context.Background())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d bookings", n)
	}

	got, _ := h.bookings.GetByID(context.Background(), held.ID)
	if got.Phase != booking.PhaseExpired {
		t.Fatalf("held booking is %s", got.Phase)
	}
	got, _ = h.bookings.GetByID(context.Background(), paid.ID)
	if got.Phase != booking.PhaseConfirmed {
		t.Fatalf("paid booking is %s", got.Phase)
	}
	if states := h.seatStates(t, tr.ID); states[1] != seat.StateAvailable || states[2] != seat.StateBooked {
		t.Fatalf("seat states %v", states)
	}

	if n, _ := NewExpireBookings(h.d).Execute(context.Background()); n != 0 {
		t.Fatalf("second run expired %d", n)
	}
}

func TestTripCancellationCascades(t *testing.T) {
	h := newHarness(t)
	tr := h.schedule(t, 10)
	paid := h.confirmed(t, alice, tr.ID, 1, 2)
	held, err := h.checkout(bob, tr.ID, 3)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	// past the customer cutoff; trip cancellation ignores it
	h.clk.Advance(60 * time.Hour)
	if _, err := NewUpdateTripStatus(h.d).Execute(context.Background(), alice, tr.ID, trip.StatusCancelled); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("customer changed trip status: %v", err)
	}
	if _, err := NewUpdateTripStatus(h.d).Execute(context.Background(), operator, tr.ID, trip.StatusCancelled); err != nil {
		t.Fatalf("cancel trip: %v", err)
	}

	got, _ := h.bookings.GetByID(context.Background(), paid.ID)
	if got.Phase != booking.PhaseCancelled || got.PaymentStatus != booking.PaymentRefunded || got.CancelReason != ReasonTripCancelled {
		t.Fatalf("paid booking %s/%s/%s", got.Phase, got.PaymentStatus, got.CancelReason)
	}
	got, _ = h.bookings.GetByID(context.Background(), held.ID)
	if got.Phase != booking.PhaseCancelled {
		t.Fatalf("held booking is %s", got.Phase)
	}
	m, err := NewGetSeatMap(h.d).Execute(context.Background(), tr.ID)
	if err != nil {
		t.Fatalf("seat map: %v", err)
	}
	if m.Counts.Available != 10 || m.Status != trip.StatusCancelled {
		t.Fatalf("seat map %+v", m.Counts)
	}
	tickets, _ := h.tickets.ListByBooking(context.Background(), paid.ID)
	for _, tk := range tickets {
		if tk.Status != ticket.StatusCancelled {
			t.Fatalf("ticket %s is %s", tk.Code, tk.Status)
		}
	}
	if _, err := h.checkout(bob, tr.ID, 4); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("checkout on cancelled trip: %v", err)
	}
}

func TestBoardingAndCompletion(t *testing.T) {
	h := newHarness(t)
	tr := h.schedule(t, 10)
	b := h.confirmed(t, alice, tr.ID, 1, 2)
	tickets, _ := h.tickets.ListByBooking(context.Background(), b.ID)

	status := NewUpdateTripStatus(h.d)
	if _, err := status.Execute(context.Background(), operator, tr.ID, trip.StatusCompleted); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("skip to completed: %v", err)
	}
	if _, err := status.Execute(context.Background(), operator, tr.ID, trip.StatusBoarding); err != nil {
		t.Fatalf("boarding: %v", err)
	}

	scan := NewScanTicket(h.d)
	if _, err := scan.Execute(context.Background(), alice, tr.ID, tickets[0].Code); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("customer scan: %v", err)
	}
	used, err := scan.Execute(context.Background(), operator, tr.ID, tickets[0].Code)
	if err != nil || used.Status != ticket.StatusUsed {
		t.Fatalf("scan: %v", err)
	}
	if _, err := scan.Execute(context.Background(), operator, tr.ID, tickets[0].Code); !errors.Is(err, errs.ErrAlreadyUsed) {
		t.Fatalf("second scan: %v", err)
	}
	if _, err := scan.Execute(context.Background(), operator, tr.ID, "BT-0000000000000000"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown code: %v", err)
	}

	for _, next := range []trip.Status{trip.StatusInProgress, trip.StatusCompleted} {
		if _, err := status.Execute(context.Background(), operator, tr.ID, next); err != nil {
			t.Fatalf("%s: %v", next, err)
		}
	}

	got, _ := h.bookings.GetByID(context.Background(), b.ID)
	if got.Status != booking.StatusCompleted {
		t.Fatalf("booking status %s", got.Status)
	}
	after, _ := h.tickets.ListByBooking(context.Background(), b.ID)
	byCode := map[string]ticket.Status{}
	for _, tk := range after {
		byCode[tk.Code] = tk.Status
	}
	if byCode[tickets[0].Code] != ticket.StatusUsed || byCode[tickets[1].Code] != ticket.StatusExpired {
		t.Fatalf("ticket states %v", byCode)
	}
	if _, err := NewCancelBooking(h.d).Execute(context.Background(), alice, b.ID, ""); !errors.Is(err, errs.ErrCancellationWindowClosed) {
		t.Fatalf("cancel completed booking: %v", err)
	}
}

func TestRemoveTrip(t *testing.T) {
	h := newHarness(t)
	sold := h.schedule(t, 10)
	h.confirmed(t, alice, sold.ID, 1)

	remove := NewRemoveTrip(h.d)
	if err := remove.Execute(context.Background(), operator, sold.ID); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("remove sold trip: %v", err)
	}

	empty := h.schedule(t, 4)
	if err := remove.Execute(context.Background(), operator, empty.ID); err != nil {
		t.Fatalf("remove empty trip: %v", err)
	}
	if _, err := NewGetSeatMap(h.d).Execute(context.Background(), empty.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("seat map of removed trip: %v", err)
	}
}

func TestScheduleTripLayout(t *testing.T) {
	h := newHarness(t)
	uc := NewScheduleTrip(h.d)
	params := TripParams{
		Origin: "Madrid", Destination: "Valencia",
		DepartureAt: t0.Add(24 * time.Hour),
		Layout:      []int{1, 2, 5, 6},
		BasePrice:   900,
		Currency:    "EUR",
	}
	if _, err := uc.Execute(context.Background(), alice, params); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("customer scheduled a trip: %v", err)
	}
	tr, err := uc.Execute(context.Background(), operator, params)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if tr.TotalSeats != 4 {
		t.Fatalf("total seats %d", tr.TotalSeats)
	}
	states := h.seatStates(t, tr.ID)
	if _, ok := states[3]; ok || len(states) != 4 {
		t.Fatalf("seat layout %v", states)
	}

	params.Currency = "EURO"
	if _, err := uc.Execute(context.Background(), operator, params); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("bad currency: %v", err)
	}
}

func TestWorkflowAndPDF(t *testing.T) {
	h := newHarness(t)
	tr := h.schedule(t, 10)
	b := h.confirmed(t, alice, tr.ID, 8)

	wf, err := NewGetWorkflow(h.d).Execute(context.Background(), operator, b.ID)
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if len(wf.Tickets) != 1 || len(wf.Outbox) != 4 {
		t.Fatalf("workflow has %d tickets and %d events", len(wf.Tickets), len(wf.Outbox))
	}
	if _, err := NewGetWorkflow(h.d).Execute(context.Background(), bob, b.ID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("foreign workflow: %v", err)
	}

	var buf bytes.Buffer
	if err := NewRenderTicket(h.d).Execute(context.Background(), alice, wf.Tickets[0].Code, &buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Fatalf("not a PDF")
	}
}

func TestHandlePaymentEvent(t *testing.T) {
	h := newHarness(t)
	tr := h.schedule(t, 10)
	b, err := h.checkout(alice, tr.ID, 9)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	b, err = NewInitiatePayment(h.d).Execute(context.Background(), alice, b.ID)
	if err != nil {
		t.Fatalf("initiate payment: %v", err)
	}

	payload, _ := json.Marshal(event.PaymentResultPayload{BookingID: b.ID, PaymentRef: b.PaymentRef, Amount: b.TotalAmount})
	msg := event.Message{ID: "evt-9", Type: event.TypePaymentSucceeded, CorrelationID: b.ID, Payload: payload}
	uc := NewHandlePaymentResult(h.d)
	for i := 0; i < 2; i++ {
		if err := uc.HandleEvent(context.Background(), "booking-service", msg); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	got, _ := h.bookings.GetByID(context.Background(), b.ID)
	if got.Phase != booking.PhaseConfirmed {
		t.Fatalf("booking is %s", got.Phase)
	}
	if tickets, _ := h.tickets.ListByBooking(context.Background(), b.ID); len(tickets) != 1 {
		t.Fatalf("tickets %d", len(tickets))
	}

	unknown, _ := json.Marshal(event.PaymentResultPayload{BookingID: "missing"})
	if err := uc.HandleEvent(context.Background(), "booking-service", event.Message{ID: "evt-10", Type: event.TypePaymentFailed, Payload: unknown}); err != nil {
		t.Fatalf("unknown booking: %v", err)
	}
	if err := uc.HandleEvent(context.Background(), "booking-service", event.Message{ID: "evt-11", Type: event.TypeBookingHeld}); err != nil {
		t.Fatalf("foreign event type: %v", err)
	}
}
