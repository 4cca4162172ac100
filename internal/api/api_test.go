package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"busticket/internal/api/middleware"
	"busticket/internal/auth"
	"busticket/internal/clock"
	"busticket/internal/domain/booking"
	"busticket/internal/domain/errs"
	"busticket/internal/infrastructure/memory"
	"busticket/internal/inventory"
	"busticket/internal/seatlock"
	"busticket/internal/ticketing"
	"busticket/internal/usecase"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testWebhookSecret = "hook-secret"

var (
	operator = auth.Identity{UserID: "op-1", Role: auth.RoleOperator}
	alice    = auth.Identity{UserID: "alice", Role: auth.RoleCustomer}
	bob      = auth.Identity{UserID: "bob", Role: auth.RoleCustomer}
)

type testServer struct {
	srv    *httptest.Server
	tokens *auth.Tokens
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.Fake(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	inv := inventory.New(memory.NewSeatStore(clk), log)
	outboxRepo := memory.NewOutboxRepository(clk)
	d := usecase.Deps{
		Tx:        memory.NewTx(),
		Trips:     memory.NewTripRepository(),
		Bookings:  memory.NewBookingRepository(),
		Outbox:    outboxRepo,
		Inbox:     memory.NewInboxRepository(),
		Inventory: inv,
		Locks:     seatlock.NewManager(inv, clk, seatlock.Config{TTL: 10 * time.Minute, SweepInterval: time.Second}, log),
		Tickets:   ticketing.NewIssuer(memory.NewTicketRepository(), clk),
		Payments:  usecase.NewOutboxGateway(outboxRepo, clk),
		Clock:     clk,
		Log:       log,
		Policy:    usecase.Policy{MaxSeatsPerBooking: 6, CancellationCutoff: 24 * time.Hour},
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	tokens := auth.NewTokens("test-secret")
	h := NewHandlers(NewUseCases(d), testWebhookSecret, log)
	srv := httptest.NewServer(NewRouter(h, tokens, rdb, log))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, tokens: tokens}
}

func (s *testServer) do(t *testing.T, id *auth.Identity, method, path string, body any, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if id != nil {
		token, err := s.tokens.Issue(*id, time.Hour, time.Now())
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp, out
}

func (s *testServer) scheduleTrip(t *testing.T) string {
	t.Helper()
	resp, body := s.do(t, &operator, http.MethodPost, "/trips", map[string]any{
		"origin":       "Lisbon",
		"destination":  "Porto",
		"departure_at": time.Date(2026, 6, 4, 9, 0, 0, 0, time.UTC),
		"total_seats":  10,
		"base_price":   1500,
		"currency":     "EUR",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("schedule trip: %d %s", resp.StatusCode, body)
	}
	var tr struct {
		ID string `json:"id"`
	}
	json.Unmarshal(body, &tr)
	return tr.ID
}

func checkoutBody(tripID string, seats ...int) map[string]any {
	var passengers []map[string]any
	for _, n := range seats {
		passengers = append(passengers, map[string]any{"name": fmt.Sprintf("Passenger %d", n), "seat_number": n})
	}
	return map[string]any{
		"trip_id":    tripID,
		"passengers": passengers,
		"contact":    map[string]string{"name": "A", "email": "a@example.com"},
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, nil, http.MethodGet, "/health", nil, nil)
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("health: %d %s", resp.StatusCode, body)
	}
}

func TestCheckoutRequiresToken(t *testing.T) {
	s := newTestServer(t)
	tripID := s.scheduleTrip(t)

	resp, _ := s.do(t, nil, http.MethodPost, "/bookings", checkoutBody(tripID, 1), nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous checkout: %d", resp.StatusCode)
	}
	resp, _ = s.do(t, nil, http.MethodPost, "/bookings", checkoutBody(tripID, 1), map[string]string{"Authorization": "Bearer garbage"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", resp.StatusCode)
	}
	resp, _ = s.do(t, &alice, http.MethodPost, "/trips", map[string]any{}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("customer scheduling a trip: %d", resp.StatusCode)
	}
}

func TestIdempotentCheckoutReplaysResponse(t *testing.T) {
	s := newTestServer(t)
	tripID := s.scheduleTrip(t)
	hdr := map[string]string{middleware.IdempotencyHeader: "key-1"}

	first, firstBody := s.do(t, &alice, http.MethodPost, "/bookings", checkoutBody(tripID, 3, 4), hdr)
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("checkout: %d %s", first.StatusCode, firstBody)
	}
	second, secondBody := s.do(t, &alice, http.MethodPost, "/bookings", checkoutBody(tripID, 3, 4), hdr)
	if second.StatusCode != http.StatusCreated || second.Header.Get("X-Idempotency-Hit") != "true" {
		t.Fatalf("replay: %d hit=%q", second.StatusCode, second.Header.Get("X-Idempotency-Hit"))
	}
	if !bytes.Equal(firstBody, secondBody) {
		t.Fatalf("replayed body differs:\n%s\n%s", firstBody, secondBody)
	}

	// another user with the same key is a separate request and loses the seats
	resp, body := s.do(t, &bob, http.MethodPost, "/bookings", checkoutBody(tripID, 3), hdr)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("bob checkout: %d %s", resp.StatusCode, body)
	}
	var e errorBody
	json.Unmarshal(body, &e)
	if e.Error != "seat_unavailable" || len(e.Seats) != 1 || e.Seats[0] != 3 {
		t.Fatalf("error body %+v", e)
	}
}

func TestPaymentWebhookFlow(t *testing.T) {
	s := newTestServer(t)
	tripID := s.scheduleTrip(t)

	_, body := s.do(t, &alice, http.MethodPost, "/bookings", checkoutBody(tripID, 1, 2), nil)
	var b booking.Booking
	json.Unmarshal(body, &b)

	resp, body := s.do(t, &bob, http.MethodGet, "/bookings/"+b.ID, nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign booking: %d %s", resp.StatusCode, body)
	}

	resp, body = s.do(t, &alice, http.MethodPost, "/bookings/"+b.ID+"/payment", nil, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("initiate payment: %d %s", resp.StatusCode, body)
	}
	json.Unmarshal(body, &b)

	hook := map[string]any{"event_id": "evt-1", "booking_id": b.ID, "payment_ref": b.PaymentRef, "succeeded": true}
	resp, _ = s.do(t, nil, http.MethodPost, "/payments/webhook", hook, map[string]string{WebhookSecretHeader: "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("webhook with wrong secret: %d", resp.StatusCode)
	}
	for i := 0; i < 2; i++ {
		resp, body = s.do(t, nil, http.MethodPost, "/payments/webhook", hook, map[string]string{WebhookSecretHeader: testWebhookSecret})
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"confirmed"`) {
			t.Fatalf("webhook delivery %d: %d %s", i, resp.StatusCode, body)
		}
	}

	resp, body = s.do(t, &alice, http.MethodGet, "/bookings/"+b.ID+"/tickets", nil, nil)
	var tickets []struct {
		Code string `json:"code"`
	}
	json.Unmarshal(body, &tickets)
	if resp.StatusCode != http.StatusOK || len(tickets) != 2 {
		t.Fatalf("tickets: %d %s", resp.StatusCode, body)
	}

	resp, body = s.do(t, &alice, http.MethodGet, "/tickets/"+tickets[0].Code+"/pdf", nil, nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/pdf" || !bytes.HasPrefix(body, []byte("%PDF-")) {
		t.Fatalf("pdf: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	resp, _ = s.do(t, &operator, http.MethodPost, "/trips/"+tripID+"/boarding", map[string]string{"code": tickets[0].Code}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scan: %d", resp.StatusCode)
	}
	resp, body = s.do(t, &operator, http.MethodPost, "/trips/"+tripID+"/boarding", map[string]string{"code": tickets[0].Code}, nil)
	if resp.StatusCode != http.StatusConflict || !strings.Contains(string(body), "already_used") {
		t.Fatalf("second scan: %d %s", resp.StatusCode, body)
	}

	resp, body = s.do(t, &alice, http.MethodGet, "/trips/"+tripID+"/seats", nil, nil)
	var m usecase.SeatMapDTO
	json.Unmarshal(body, &m)
	if resp.StatusCode != http.StatusOK || m.Counts.Booked != 2 || m.Counts.Available != 8 {
		t.Fatalf("seat map: %d %+v", resp.StatusCode, m.Counts)
	}
}

func TestPaymentWebhookDecline(t *testing.T) {
	s := newTestServer(t)
	tripID := s.scheduleTrip(t)

	_, body := s.do(t, &alice, http.MethodPost, "/bookings", checkoutBody(tripID, 3), nil)
	var b booking.Booking
	json.Unmarshal(body, &b)
	resp, body := s.do(t, &alice, http.MethodPost, "/bookings/"+b.ID+"/payment", nil, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("initiate payment: %d %s", resp.StatusCode, body)
	}
	json.Unmarshal(body, &b)

	hook := map[string]any{"event_id": "evt-2", "booking_id": b.ID, "payment_ref": b.PaymentRef, "succeeded": false, "reason": "card declined"}
	resp, body = s.do(t, nil, http.MethodPost, "/payments/webhook", hook, map[string]string{WebhookSecretHeader: testWebhookSecret})
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"cancelled"`) {
		t.Fatalf("declined delivery: %d %s", resp.StatusCode, body)
	}

	resp, body = s.do(t, &alice, http.MethodGet, "/trips/"+tripID+"/seats", nil, nil)
	var m usecase.SeatMapDTO
	json.Unmarshal(body, &m)
	if resp.StatusCode != http.StatusOK || m.Counts.Booked != 0 || m.Counts.Locked != 0 {
		t.Fatalf("seat map after decline: %d %+v", resp.StatusCode, m.Counts)
	}
}

func TestWriteErrorMapping(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{errs.Seat(errs.ErrSeatUnavailable, "t", 1), http.StatusConflict, "seat_unavailable"},
		{errs.Seat(errs.ErrLockExpired, "t", 1), http.StatusGone, "lock_expired"},
		{errs.Seat(errs.ErrNotHolder, "t", 1), http.StatusForbidden, "not_holder"},
		{fmt.Errorf("charge: %w", errs.ErrPaymentFailed), http.StatusPaymentRequired, "payment_failed"},
		{errs.Seat(errs.ErrCapacityExceeded, "t", 1), http.StatusUnprocessableEntity, "capacity_exceeded"},
		{errs.ErrCancellationWindowClosed, http.StatusUnprocessableEntity, "cancellation_window_closed"},
		{errs.ErrNotValidForTrip, http.StatusUnprocessableEntity, "not_valid_for_trip"},
		{errs.ErrAlreadyUsed, http.StatusConflict, "already_used"},
		{errs.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{errs.NotFound("booking", "b-1"), http.StatusNotFound, "not_found"},
		{errs.Validation("seats", "empty"), http.StatusBadRequest, "validation"},
		{auth.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, log, tc.err)
		var body errorBody
		json.Unmarshal(rec.Body.Bytes(), &body)
		if rec.Code != tc.status || body.Error != tc.code {
			t.Errorf("%v: got %d %q, want %d %q", tc.err, rec.Code, body.Error, tc.status, tc.code)
		}
	}
}
