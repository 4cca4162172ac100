// Package inventory fronts the seat store and writes an audit line for every
// seat transition it applies. Inside a database transaction the lines are
// written once that transaction commits.
package inventory

import (
	"context"
	"log/slog"
	"time"

	"busticket/internal/domain/seat"
	"busticket/internal/txhook"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var seatTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "seat_transitions_total",
	Help: "Seat state transitions applied, by reason",
}, []string{"reason"})

type Service struct {
	store seat.Store
	log   *slog.Logger
}

func New(store seat.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log}
}

func (s *Service) CreateSeats(ctx context.Context, tripID string, numbers []int) error {
	return s.store.CreateSeats(ctx, tripID, numbers)
}

func (s *Service) DeleteSeats(ctx context.Context, tripID string) error {
	return s.store.DeleteSeats(ctx, tripID)
}

// SeatMap returns the trip's seats with lapsed locks already released.
func (s *Service) SeatMap(ctx context.Context, tripID string, now time.Time) (map[int]seat.Seat, error) {
	seats, expired, err := s.store.States(ctx, tripID, now)
	s.audit(ctx, expired)
	return seats, err
}

func (s *Service) Lock(ctx context.Context, tripID string, numbers []int, holderID string, expiresAt, now time.Time) ([]seat.Transition, error) {
	tr, err := s.store.TryLock(ctx, tripID, numbers, holderID, expiresAt, now)
	s.audit(ctx, tr)
	return tr, err
}

func (s *Service) Release(ctx context.Context, tripID string, numbers []int, holderID string) ([]seat.Transition, error) {
	tr, err := s.store.Release(ctx, tripID, numbers, holderID)
	s.audit(ctx, tr)
	return tr, err
}

func (s *Service) ReleaseHolds(ctx context.Context, tripID, holderID string) ([]seat.Transition, error) {
	tr, err := s.store.ReleaseHolds(ctx, tripID, holderID)
	s.audit(ctx, tr)
	return tr, err
}

func (s *Service) Commit(ctx context.Context, tripID string, numbers []int, bookingID string, now time.Time) ([]seat.Transition, error) {
	tr, err := s.store.Commit(ctx, tripID, numbers, bookingID, now)
	s.audit(ctx, tr)
	return tr, err
}

func (s *Service) Unbook(ctx context.Context, tripID string, numbers []int, bookingID string) ([]seat.Transition, error) {
	tr, err := s.store.Unbook(ctx, tripID, numbers, bookingID)
	s.audit(ctx, tr)
	return tr, err
}

func (s *Service) SweepExpired(ctx context.Context, now time.Time) ([]seat.Transition, error) {
	tr, err := s.store.SweepExpired(ctx, now)
	s.audit(ctx, tr)
	return tr, err
}

func (s *Service) audit(ctx context.Context, transitions []seat.Transition) {
	if len(transitions) == 0 {
		return
	}
	txhook.AfterCommit(ctx, func() {
		for _, t := range transitions {
			seatTransitions.WithLabelValues(t.Reason).Inc()
			s.log.InfoContext(ctx, "seat transition",
				"trip_id", t.TripID,
				"seat", t.Number,
				"from", string(t.From),
				"to", string(t.To),
				"holder_id", t.HolderID,
				"booking_id", t.BookingID,
				"reason", t.Reason,
			)
		}
	})
}
