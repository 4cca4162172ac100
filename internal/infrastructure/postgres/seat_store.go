package postgres

import (
	"context"
	"fmt"
	"time"

	"busticket/internal/domain/errs"
	"busticket/internal/domain/seat"
)

// SeatStore keeps seat states in the seats table. Each mutation row-locks the
// requested seats, decides with the shared seat rules, then applies a
// conditional UPDATE whose row count must match or the whole call rolls back.
type SeatStore struct {
	pool DB
	tx   *TxManager
}

func NewSeatStore(pool DB) *SeatStore {
	return &SeatStore{pool: pool, tx: NewTxManager(pool)}
}

const seatColumns = `trip_id, number, state, COALESCE(holder_id, ''), lock_expires_at, COALESCE(booking_id, ''), updated_at`

func (s *SeatStore) CreateSeats(ctx context.Context, tripID string, numbers []int) error {
	if err := seat.ValidateNumbers(numbers); err != nil {
		return err
	}
	const sql = `
		INSERT INTO seats (trip_id, number, state, updated_at)
		SELECT $1, n, 'available', NOW() FROM unnest($2::int[]) AS n
		ON CONFLICT (trip_id, number) DO NOTHING
	`
	if _, err := conn(ctx, s.pool).Exec(ctx, sql, tripID, numbers); err != nil {
		return fmt.Errorf("insert seats: %w", err)
	}
	return nil
}

func (s *SeatStore) DeleteSeats(ctx context.Context, tripID string) error {
	if _, err := conn(ctx, s.pool).Exec(ctx, `DELETE FROM seats WHERE trip_id = $1`, tripID); err != nil {
		return fmt.Errorf("delete seats: %w", err)
	}
	return nil
}

func (s *SeatStore) States(ctx context.Context, tripID string, now time.Time) (map[int]seat.Seat, []seat.Transition, error) {
	var (
		seats   map[int]seat.Seat
		expired []seat.Transition
	)
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		expired, err = s.expire(ctx, "trip_id = $2 AND", now, tripID)
		if err != nil {
			return err
		}

		rows, err := conn(ctx, s.pool).Query(ctx, `SELECT `+seatColumns+` FROM seats WHERE trip_id = $1 ORDER BY number`, tripID)
		if err != nil {
			return fmt.Errorf("query seats: %w", err)
		}
		seats, err = collectSeats(rows)
		if err != nil {
			return err
		}
		if len(seats) == 0 {
			return errs.NotFound("trip", tripID)
		}
		// a lapsed lock skipped above is still being written by another tx
		for n, st := range seats {
			if st.Stale(now) {
				seats[n] = seat.Seat{TripID: st.TripID, Number: n, State: seat.StateAvailable, UpdatedAt: st.UpdatedAt}
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return seats, expired, nil
}

func (s *SeatStore) TryLock(ctx context.Context, tripID string, numbers []int, holderID string, expiresAt, now time.Time) ([]seat.Transition, error) {
	var out []seat.Transition
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		q := conn(ctx, s.pool)

		var total int
		if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM seats WHERE trip_id = $1`, tripID).Scan(&total); err != nil {
			return fmt.Errorf("count seats: %w", err)
		}
		if total == 0 {
			return errs.NotFound("trip", tripID)
		}

		current, err := s.lockRows(ctx, tripID, numbers)
		if err != nil {
			return err
		}
		if err := seat.CheckLock(tripID, total, current, numbers, holderID, now); err != nil {
			return err
		}

		const sql = `
			UPDATE seats
			SET state = 'locked', holder_id = $3, lock_expires_at = $4, booking_id = NULL, updated_at = $5
			WHERE trip_id = $1 AND number = ANY($2)
			  AND (state = 'available' OR holder_id = $3 OR (state = 'locked' AND lock_expires_at <= $5))
		`
		tag, err := q.Exec(ctx, sql, tripID, numbers, holderID, expiresAt, now)
		if err != nil {
			return fmt.Errorf("lock seats: %w", err)
		}
		if err := expectRows(tag.RowsAffected(), len(numbers), "lock", tripID); err != nil {
			return err
		}
		out = seat.LockTransitions(tripID, current, numbers, holderID, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SeatStore) Release(ctx context.Context, tripID string, numbers []int, holderID string) ([]seat.Transition, error) {
	var out []seat.Transition
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		current, err := s.lockRows(ctx, tripID, numbers)
		if err != nil {
			return err
		}
		held, err := seat.CheckRelease(tripID, current, numbers, holderID)
		if err != nil || len(held) == 0 {
			return err
		}

		const sql = `
			UPDATE seats
			SET state = 'available', holder_id = NULL, lock_expires_at = NULL, updated_at = NOW()
			WHERE trip_id = $1 AND number = ANY($2) AND state = 'locked' AND holder_id = $3
		`
		tag, err := conn(ctx, s.pool).Exec(ctx, sql, tripID, held, holderID)
		if err != nil {
			return fmt.Errorf("release seats: %w", err)
		}
		if err := expectRows(tag.RowsAffected(), len(held), "release", tripID); err != nil {
			return err
		}
		for _, n := range held {
			out = append(out, seat.Move(current[n], seat.StateAvailable, seat.ReasonUnlock, ""))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SeatStore) ReleaseHolds(ctx context.Context, tripID, holderID string) ([]seat.Transition, error) {
	const sql = `
		UPDATE seats
		SET state = 'available', holder_id = NULL, lock_expires_at = NULL, updated_at = NOW()
		WHERE trip_id = $1 AND state = 'locked' AND holder_id = $2
		RETURNING number
	`
	rows, err := conn(ctx, s.pool).Query(ctx, sql, tripID, holderID)
	if err != nil {
		return nil, fmt.Errorf("release holds: %w", err)
	}
	defer rows.Close()

	var out []seat.Transition
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan released seat: %w", err)
		}
		out = append(out, seat.Transition{
			TripID: tripID, Number: n, From: seat.StateLocked, To: seat.StateAvailable,
			HolderID: holderID, Reason: seat.ReasonUnlock,
		})
	}
	return out, rows.Err()
}

func (s *SeatStore) Commit(ctx context.Context, tripID string, numbers []int, bookingID string, now time.Time) ([]seat.Transition, error) {
	var out []seat.Transition
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		current, err := s.lockRows(ctx, tripID, numbers)
		if err != nil {
			return err
		}
		pending, err := seat.CheckCommit(tripID, current, numbers, bookingID, now)
		if err != nil || len(pending) == 0 {
			return err
		}

		const sql = `
			UPDATE seats
			SET state = 'booked', booking_id = $3, holder_id = NULL, lock_expires_at = NULL, updated_at = $4
			WHERE trip_id = $1 AND number = ANY($2) AND state = 'locked' AND holder_id = $3 AND lock_expires_at > $4
		`
		tag, err := conn(ctx, s.pool).Exec(ctx, sql, tripID, pending, bookingID, now)
		if err != nil {
			return fmt.Errorf("commit seats: %w", err)
		}
		if err := expectRows(tag.RowsAffected(), len(pending), "commit", tripID); err != nil {
			return err
		}
		for _, n := range pending {
			out = append(out, seat.Move(current[n], seat.StateBooked, seat.ReasonCommit, bookingID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SeatStore) Unbook(ctx context.Context, tripID string, numbers []int, bookingID string) ([]seat.Transition, error) {
	var out []seat.Transition
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		current, err := s.lockRows(ctx, tripID, numbers)
		if err != nil {
			return err
		}
		owned, err := seat.CheckUnbook(tripID, current, numbers, bookingID)
		if err != nil || len(owned) == 0 {
			return err
		}

		const sql = `
			UPDATE seats
			SET state = 'available', booking_id = NULL, updated_at = NOW()
			WHERE trip_id = $1 AND number = ANY($2) AND state = 'booked' AND booking_id = $3
		`
		tag, err := conn(ctx, s.pool).Exec(ctx, sql, tripID, owned, bookingID)
		if err != nil {
			return fmt.Errorf("unbook seats: %w", err)
		}
		if err := expectRows(tag.RowsAffected(), len(owned), "unbook", tripID); err != nil {
			return err
		}
		for _, n := range owned {
			out = append(out, seat.Move(current[n], seat.StateAvailable, seat.ReasonUnbook, ""))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SeatStore) SweepExpired(ctx context.Context, now time.Time) ([]seat.Transition, error) {
	return s.expire(ctx, "", now)
}

// expire frees lapsed locks matching filter. Rows locked by a concurrent
// sweeper are skipped so every lock is released exactly once.
func (s *SeatStore) expire(ctx context.Context, filter string, now time.Time, args ...any) ([]seat.Transition, error) {
	sql := `
		WITH stale AS (
			SELECT trip_id, number, holder_id
			FROM seats
			WHERE ` + filter + ` state = 'locked' AND lock_expires_at <= $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE seats s
		SET state = 'available', holder_id = NULL, lock_expires_at = NULL, updated_at = $1
		FROM stale
		WHERE s.trip_id = stale.trip_id AND s.number = stale.number
		RETURNING s.trip_id, s.number, stale.holder_id
	`
	rows, err := conn(ctx, s.pool).Query(ctx, sql, append([]any{now}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("expire locks: %w", err)
	}
	defer rows.Close()

	var out []seat.Transition
	for rows.Next() {
		t := seat.Transition{From: seat.StateLocked, To: seat.StateAvailable, Reason: seat.ReasonExpire}
		if err := rows.Scan(&t.TripID, &t.Number, &t.HolderID); err != nil {
			return nil, fmt.Errorf("scan expired seat: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// lockRows loads and row-locks the requested seats in seat order.
func (s *SeatStore) lockRows(ctx context.Context, tripID string, numbers []int) (map[int]seat.Seat, error) {
	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT `+seatColumns+` FROM seats WHERE trip_id = $1 AND number = ANY($2) ORDER BY number FOR UPDATE`,
		tripID, numbers)
	if err != nil {
		return nil, fmt.Errorf("lock seat rows: %w", err)
	}
	return collectSeats(rows)
}

type seatRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

func collectSeats(rows seatRows) (map[int]seat.Seat, error) {
	defer rows.Close()
	seats := make(map[int]seat.Seat)
	for rows.Next() {
		var st seat.Seat
		if err := rows.Scan(&st.TripID, &st.Number, &st.State, &st.HolderID, &st.LockExpiresAt, &st.BookingID, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan seat: %w", err)
		}
		seats[st.Number] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seats: %w", err)
	}
	return seats, nil
}

func expectRows(got int64, want int, op, tripID string) error {
	if got != int64(want) {
		return fmt.Errorf("%w: %s trip %s changed %d of %d seats", errs.ErrConflict, op, tripID, got, want)
	}
	return nil
}
