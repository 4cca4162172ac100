// Package seatlock grants time-bounded exclusive holds on seats and releases
// them when they lapse.
package seatlock

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"busticket/internal/clock"
	"busticket/internal/domain/errs"
	"busticket/internal/inventory"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	locksGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seatlock_locks_granted_total",
		Help: "Seat holds granted",
	})
	lockConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seatlock_conflicts_total",
		Help: "Hold requests rejected because a seat was taken",
	})
	locksReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seatlock_seats_released_total",
		Help: "Seats released explicitly by their holder",
	})
	locksExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seatlock_seats_expired_total",
		Help: "Seats released by the sweeper after their hold lapsed",
	})
)

type Config struct {
	TTL           time.Duration
	Wait          time.Duration
	SweepInterval time.Duration
}

// Hold is a granted lock on a set of seats.
type Hold struct {
	TripID    string    `json:"trip_id"`
	Seats     []int     `json:"seats"`
	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Manager struct {
	inv   *inventory.Service
	clock clock.Clock
	cfg   Config
	log   *slog.Logger
}

func NewManager(inv *inventory.Service, clk clock.Clock, cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{inv: inv, clock: clk, cfg: cfg, log: log}
}

func (m *Manager) TTL() time.Duration { return m.cfg.TTL }

// Acquire locks seats for holderID. While the conflicting seats are only held
// by others it keeps retrying until the configured wait runs out.
func (m *Manager) Acquire(ctx context.Context, tripID string, seats []int, holderID string) (Hold, error) {
	deadline := time.Now().Add(m.cfg.Wait)
	backoff := 25 * time.Millisecond

	for {
		now := m.clock.Now()
		expiresAt := now.Add(m.cfg.TTL)
		_, err := m.inv.Lock(ctx, tripID, seats, holderID, expiresAt, now)
		if err == nil {
			locksGranted.Inc()
			return Hold{TripID: tripID, Seats: append([]int(nil), seats...), HolderID: holderID, ExpiresAt: expiresAt}, nil
		}
		if !errors.Is(err, errs.ErrSeatUnavailable) {
			return Hold{}, err
		}
		lockConflicts.Inc()

		remaining := time.Until(deadline)
		if !errs.IsRetryable(err) || remaining <= 0 {
			return Hold{}, err
		}
		pause := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
		if pause > remaining {
			pause = remaining
		}
		if err := sleep(ctx, pause); err != nil {
			return Hold{}, err
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

func (m *Manager) Release(ctx context.Context, tripID string, seats []int, holderID string) error {
	tr, err := m.inv.Release(ctx, tripID, seats, holderID)
	locksReleased.Add(float64(len(tr)))
	return err
}

// ReleaseHolds frees every seat of the trip still locked by holderID.
func (m *Manager) ReleaseHolds(ctx context.Context, tripID, holderID string) error {
	tr, err := m.inv.ReleaseHolds(ctx, tripID, holderID)
	locksReleased.Add(float64(len(tr)))
	return err
}

// Sweep releases every lapsed lock and returns how many seats it freed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	tr, err := m.inv.SweepExpired(ctx, m.clock.Now())
	locksExpired.Add(float64(len(tr)))
	return len(tr), err
}

// Run sweeps every SweepInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	m.log.Info("seat lock sweeper started", "interval", m.cfg.SweepInterval.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				m.log.Error("sweep expired locks", "error", err)
				continue
			}
			if n > 0 {
				m.log.Info("expired locks released", "seats", n)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
