// Package notify tells customers about their bookings. It consumes booking
// events and hands a rendered message to a Sender.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"busticket/internal/clock"
	domainEvent "busticket/internal/domain/event"
	"busticket/internal/domain/inbox"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Name = "notifier"

// Handles lists the event types that produce a notification.
var Handles = []string{
	domainEvent.TypeBookingConfirmed,
	domainEvent.TypeBookingCancelled,
	domainEvent.TypeBookingExpired,
	domainEvent.TypeTicketsIssued,
}

var notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "notifier_messages_sent_total",
	Help: "Customer notifications sent, by event type",
}, []string{"type"})

type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

// LogSender writes notifications to the log instead of delivering them.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(_ context.Context, m Message) error {
	s.Log.Info("notification", "to", m.To, "subject", m.Subject, "body", m.Body)
	return nil
}

type Transactor interface {
	WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error
}

type Service struct {
	tx     Transactor
	inbox  inbox.Repository
	sender Sender
	clock  clock.Clock
	log    *slog.Logger
}

func NewService(tx Transactor, inboxRepo inbox.Repository, sender Sender, clk clock.Clock, log *slog.Logger) *Service {
	return &Service{tx: tx, inbox: inboxRepo, sender: sender, clock: clk, log: log}
}

// Handle sends at most one notification per event. A failed send rolls the
// inbox record back so the event is retried.
func (s *Service) Handle(ctx context.Context, msg domainEvent.Message) error {
	m, ok, err := render(msg)
	if err != nil {
		s.log.Error("drop notification", "event_id", msg.ID, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	if m.To == "" {
		s.log.Warn("no recipient", "event_id", msg.ID, "type", msg.Type, "booking_id", msg.CorrelationID)
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
		if err := s.sender.Send(txCtx, m); err != nil {
			return fmt.Errorf("send %s notification: %w", msg.Type, err)
		}
		notificationsSent.WithLabelValues(msg.Type).Inc()
		return nil
	})
}

func render(msg domainEvent.Message) (Message, bool, error) {
	switch msg.Type {
	case domainEvent.TypeBookingConfirmed, domainEvent.TypeBookingCancelled, domainEvent.TypeBookingExpired:
		var p domainEvent.BookingPayload
		if err := msg.Decode(&p); err != nil {
			return Message{}, false, err
		}
		return Message{
			To:      p.Email,
			Subject: bookingSubject(msg.Type, p.BookingID),
			Body:    bookingBody(msg.Type, p),
		}, true, nil
	case domainEvent.TypeTicketsIssued:
		var p domainEvent.TicketsIssuedPayload
		if err := msg.Decode(&p); err != nil {
			return Message{}, false, err
		}
		return Message{
			To:      p.Email,
			Subject: "Your tickets for booking " + p.BookingID,
			Body:    "Ticket codes: " + strings.Join(p.Codes, ", ") + ". Show a code at boarding.",
		}, true, nil
	}
	return Message{}, false, nil
}

func bookingSubject(eventType, bookingID string) string {
	switch eventType {
	case domainEvent.TypeBookingConfirmed:
		return "Booking " + bookingID + " confirmed"
	case domainEvent.TypeBookingCancelled:
		return "Booking " + bookingID + " cancelled"
	default:
		return "Booking " + bookingID + " expired"
	}
}

func bookingBody(eventType string, p domainEvent.BookingPayload) string {
	seats := make([]string, len(p.Seats))
	for i, n := range p.Seats {
		seats[i] = fmt.Sprint(n)
	}
	body := fmt.Sprintf("Trip %s, seats %s, total %s %s.", p.TripID, strings.Join(seats, ", "), formatAmount(p.TotalAmount), p.Currency)
	if eventType != domainEvent.TypeBookingConfirmed && p.Reason != "" {
		body += " Reason: " + p.Reason + "."
	}
	return body
}

func formatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
