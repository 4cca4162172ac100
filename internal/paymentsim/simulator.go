// Package paymentsim stands in for the external payment provider. It consumes
// PaymentRequested and RefundRequested events and answers charges with
// PaymentSucceeded or PaymentFailed through its own outbox.
package paymentsim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"busticket/internal/clock"
	domainEvent "busticket/internal/domain/event"
	"busticket/internal/domain/inbox"
	"busticket/internal/domain/outbox"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Name = "payment-gateway"

// Handles lists the event types Handle acts on.
var Handles = []string{domainEvent.TypePaymentRequested, domainEvent.TypeRefundRequested}

var paymentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payment_gateway_events_processed_total",
	Help: "Charge and refund requests handled by the gateway simulator, by outcome",
}, []string{"outcome"})

type Transactor interface {
	WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error
}

type Simulator struct {
	tx          Transactor
	inbox       inbox.Repository
	outbox      outbox.Repository
	clock       clock.Clock
	log         *slog.Logger
	failureRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns a simulator that declines roughly failureRate of the charges.
func New(tx Transactor, inboxRepo inbox.Repository, outboxRepo outbox.Repository, failureRate float64, clk clock.Clock, log *slog.Logger) *Simulator {
	return &Simulator{
		tx:          tx,
		inbox:       inboxRepo,
		outbox:      outboxRepo,
		clock:       clk,
		log:         log,
		failureRate: failureRate,
		rnd:         rand.New(rand.NewSource(rand.Int63())),
	}
}

func (s *Simulator) Handle(ctx context.Context, msg domainEvent.Message) error {
	switch msg.Type {
	case domainEvent.TypePaymentRequested, domainEvent.TypeRefundRequested:
	default:
		return nil
	}

	return s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		isNew, err := s.inbox.SaveIfNotExists(txCtx, &inbox.Event{
			Consumer:      Name,
			EventID:       msg.ID,
			EventType:     msg.Type,
			CorrelationID: msg.CorrelationID,
			ProcessedAt:   s.clock.Now(),
		})
		if err != nil {
			return fmt.Errorf("inbox save: %w", err)
		}
		if !isNew {
			return nil
		}

		if msg.Type == domainEvent.TypeRefundRequested {
			return s.refund(msg)
		}
		return s.charge(txCtx, msg)
	})
}

func (s *Simulator) charge(ctx context.Context, msg domainEvent.Message) error {
	var req domainEvent.PaymentRequestPayload
	if err := msg.Decode(&req); err != nil {
		return err
	}

	result := domainEvent.PaymentResultPayload{
		BookingID:  req.BookingID,
		PaymentRef: req.PaymentRef,
		Amount:     req.Amount,
	}
	eventType := domainEvent.TypePaymentSucceeded
	if reason := s.decline(req); reason != "" {
		eventType = domainEvent.TypePaymentFailed
		result.Reason = reason
	}

	e, err := outbox.New(uuid.New().String(), eventType, req.BookingID, msg.ID, Name, result, s.clock.Now())
	if err != nil {
		return err
	}
	if err := s.outbox.Create(ctx, e); err != nil {
		return fmt.Errorf("create outbox event: %w", err)
	}

	paymentsProcessed.WithLabelValues(eventType).Inc()
	s.log.Info("charge processed", "booking_id", req.BookingID, "payment_ref", req.PaymentRef, "outcome", eventType, "reason", result.Reason)
	return nil
}

func (s *Simulator) decline(req domainEvent.PaymentRequestPayload) string {
	if req.Amount <= 0 {
		return "invalid amount"
	}
	s.mu.Lock()
	roll := s.rnd.Float64()
	s.mu.Unlock()
	if roll < s.failureRate {
		return "card declined"
	}
	return ""
}

func (s *Simulator) refund(msg domainEvent.Message) error {
	var req domainEvent.RefundPayload
	if err := msg.Decode(&req); err != nil {
		return err
	}
	paymentsProcessed.WithLabelValues(domainEvent.TypeRefundRequested).Inc()
	s.log.Info("refund settled", "booking_id", req.BookingID, "payment_ref", req.PaymentRef, "amount", req.Amount, "reason", req.Reason)
	return nil
}
