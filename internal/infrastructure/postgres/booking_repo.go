package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"busticket/internal/domain/booking"
	"busticket/internal/domain/errs"

	"github.com/jackc/pgx/v5"
)

type BookingRepository struct {
	pool DB
}

func NewBookingRepository(pool DB) *BookingRepository {
	return &BookingRepository{pool: pool}
}

const bookingColumns = `
	id, user_id, trip_id, seats, passengers, contact,
	phase, status, payment_status, COALESCE(payment_ref, ''),
	total_amount, currency, hold_expires_at, COALESCE(cancel_reason, ''),
	confirmed_at, created_at, updated_at`

func (r *BookingRepository) Create(ctx context.Context, b *booking.Booking) error {
	seats, passengers, contact, err := marshalBookingDocs(b)
	if err != nil {
		return err
	}
	const sql = `
		INSERT INTO bookings (
			id, user_id, trip_id, seats, passengers, contact,
			phase, status, payment_status, payment_ref,
			total_amount, currency, hold_expires_at, cancel_reason,
			confirmed_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = conn(ctx, r.pool).Exec(ctx, sql,
		b.ID, b.UserID, b.TripID, seats, passengers, contact,
		b.Phase, b.Status, b.PaymentStatus, nullIfEmpty(b.PaymentRef),
		b.TotalAmount, b.Currency, b.HoldExpiresAt, nullIfEmpty(b.CancelReason),
		b.ConfirmedAt, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// Update persists the mutable lifecycle fields of b.
func (r *BookingRepository) Update(ctx context.Context, b *booking.Booking) error {
	const sql = `
		UPDATE bookings
		SET phase = $2, status = $3, payment_status = $4, payment_ref = $5,
		    hold_expires_at = $6, cancel_reason = $7, confirmed_at = $8, updated_at = $9
		WHERE id = $1
	`
	tag, err := conn(ctx, r.pool).Exec(ctx, sql,
		b.ID, b.Phase, b.Status, b.PaymentStatus, nullIfEmpty(b.PaymentRef),
		b.HoldExpiresAt, nullIfEmpty(b.CancelReason), b.ConfirmedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("booking", b.ID)
	}
	return nil
}

// GetByID row-locks the booking when called inside a transaction so that
// concurrent state changes of one booking are serialised.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*booking.Booking, error) {
	sql := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	if GetTx(ctx) != nil {
		sql += ` FOR UPDATE`
	}
	b, err := scanBooking(conn(ctx, r.pool).QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("booking", id)
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}
	return b, nil
}

func (r *BookingRepository) ListLapsedHolds(ctx context.Context, now time.Time, limit int) ([]*booking.Booking, error) {
	const sql = `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE phase IN ('pending_lock', 'locked', 'awaiting_payment') AND hold_expires_at <= $1
		ORDER BY hold_expires_at ASC
		LIMIT $2
	`
	return r.list(ctx, sql, now, limit)
}

func (r *BookingRepository) ListByTrip(ctx context.Context, tripID string) ([]*booking.Booking, error) {
	const sql = `SELECT ` + bookingColumns + ` FROM bookings WHERE trip_id = $1 ORDER BY created_at ASC`
	return r.list(ctx, sql, tripID)
}

func (r *BookingRepository) list(ctx context.Context, sql string, args ...any) ([]*booking.Booking, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var out []*booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (*booking.Booking, error) {
	var (
		b                         booking.Booking
		seats, passengers, contactDoc []byte
	)
	err := row.Scan(
		&b.ID, &b.UserID, &b.TripID, &seats, &passengers, &contactDoc,
		&b.Phase, &b.Status, &b.PaymentStatus, &b.PaymentRef,
		&b.TotalAmount, &b.Currency, &b.HoldExpiresAt, &b.CancelReason,
		&b.ConfirmedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(seats, &b.Seats); err != nil {
		return nil, fmt.Errorf("decode seats: %w", err)
	}
	if err := json.Unmarshal(passengers, &b.Passengers); err != nil {
		return nil, fmt.Errorf("decode passengers: %w", err)
	}
	if err := json.Unmarshal(contactDoc, &b.Contact); err != nil {
		return nil, fmt.Errorf("decode contact: %w", err)
	}
	return &b, nil
}

func marshalBookingDocs(b *booking.Booking) (seats, passengers, contact []byte, err error) {
	if seats, err = json.Marshal(b.Seats); err != nil {
		return nil, nil, nil, fmt.Errorf("encode seats: %w", err)
	}
	if passengers, err = json.Marshal(b.Passengers); err != nil {
		return nil, nil, nil, fmt.Errorf("encode passengers: %w", err)
	}
	if contact, err = json.Marshal(b.Contact); err != nil {
		return nil, nil, nil, fmt.Errorf("encode contact: %w", err)
	}
	return seats, passengers, contact, nil
}
