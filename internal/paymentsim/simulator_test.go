package paymentsim

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"busticket/internal/clock"
	domainEvent "busticket/internal/domain/event"
	"busticket/internal/infrastructure/memory"
)

func chargeMessage(t *testing.T, id string, amount int64) domainEvent.Message {
	t.Helper()
	payload, err := json.Marshal(domainEvent.PaymentRequestPayload{BookingID: "b-1", PaymentRef: "pay_1", Amount: amount, Currency: "EUR"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return domainEvent.Message{ID: id, Type: domainEvent.TypePaymentRequested, CorrelationID: "b-1", Payload: payload}
}

func newSimulator(failureRate float64) (*Simulator, *memory.OutboxRepository) {
	out := memory.NewOutboxRepository(nil)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.Fake(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	return New(memory.NewTx(), memory.NewInboxRepository(), out, failureRate, clk, log), out
}

func TestChargeSucceedsOnce(t *testing.T) {
	s, out := newSimulator(0)
	msg := chargeMessage(t, "evt-1", 3000)

	for i := 0; i < 2; i++ {
		if err := s.Handle(context.Background(), msg); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}

	events, _ := out.ListByCorrelationID(context.Background(), "b-1")
	if len(events) != 1 {
		t.Fatalf("want one answer, got %d", len(events))
	}
	e := events[0]
	if e.EventType != domainEvent.TypePaymentSucceeded || e.CausationID != "evt-1" || e.Producer != Name {
		t.Fatalf("answer %+v", e)
	}
	var res domainEvent.PaymentResultPayload
	json.Unmarshal(e.Payload, &res)
	if res.PaymentRef != "pay_1" || res.Amount != 3000 {
		t.Fatalf("payload %+v", res)
	}
}

func TestChargeDeclines(t *testing.T) {
	tests := []struct {
		name        string
		failureRate float64
		amount      int64
		reason      string
	}{
		{"always declined", 1, 3000, "card declined"},
		{"invalid amount", 0, 0, "invalid amount"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, out := newSimulator(tc.failureRate)
			if err := s.Handle(context.Background(), chargeMessage(t, "evt-1", tc.amount)); err != nil {
				t.Fatalf("handle: %v", err)
			}
			events, _ := out.ListByCorrelationID(context.Background(), "b-1")
			if len(events) != 1 || events[0].EventType != domainEvent.TypePaymentFailed {
				t.Fatalf("answer %+v", events)
			}
			var res domainEvent.PaymentResultPayload
			json.Unmarshal(events[0].Payload, &res)
			if res.Reason != tc.reason {
				t.Fatalf("reason %q", res.Reason)
			}
		})
	}
}

func TestIgnoresOtherEvents(t *testing.T) {
	s, out := newSimulator(0)
	msg := domainEvent.Message{ID: "evt-2", Type: domainEvent.TypeBookingHeld, CorrelationID: "b-1"}
	if err := s.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if events, _ := out.ListByCorrelationID(context.Background(), "b-1"); len(events) != 0 {
		t.Fatalf("unexpected answer %+v", events)
	}
}
