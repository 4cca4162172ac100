package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"busticket/internal/domain/errs"
	"busticket/internal/domain/ticket"

	"github.com/jackc/pgx/v5"
)

type TicketRepository struct {
	pool DB
}

func NewTicketRepository(pool DB) *TicketRepository {
	return &TicketRepository{pool: pool}
}

const ticketColumns = `code, booking_id, trip_id, seat_number, passenger_name, status, issued_at, used_at, updated_at`

func (r *TicketRepository) Create(ctx context.Context, t *ticket.Ticket) (bool, error) {
	const sql = `
		INSERT INTO tickets (` + ticketColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO NOTHING
	`
	tag, err := conn(ctx, r.pool).Exec(ctx, sql,
		t.Code, t.BookingID, t.TripID, t.SeatNumber, t.PassengerName,
		t.Status, t.IssuedAt, t.UsedAt, t.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("insert ticket: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TicketRepository) GetByCode(ctx context.Context, code string) (*ticket.Ticket, error) {
	t, err := scanTicket(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("ticket", code)
		}
		return nil, fmt.Errorf("get ticket by code: %w", err)
	}
	return t, nil
}

func (r *TicketRepository) ListByBooking(ctx context.Context, bookingID string) ([]*ticket.Ticket, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE booking_id = $1 ORDER BY seat_number`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	var out []*ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TicketRepository) MarkUsed(ctx context.Context, code string, at time.Time) (bool, error) {
	const sql = `
		UPDATE tickets
		SET status = 'used', used_at = $2, updated_at = $2
		WHERE code = $1 AND status = 'valid'
	`
	tag, err := conn(ctx, r.pool).Exec(ctx, sql, code, at)
	if err != nil {
		return false, fmt.Errorf("mark ticket used: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TicketRepository) SetStatusByBooking(ctx context.Context, bookingID string, from, to ticket.Status) (int, error) {
	const sql = `
		UPDATE tickets
		SET status = $3, updated_at = NOW()
		WHERE booking_id = $1 AND status = $2
	`
	tag, err := conn(ctx, r.pool).Exec(ctx, sql, bookingID, from, to)
	if err != nil {
		return 0, fmt.Errorf("update ticket status: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanTicket(row pgx.Row) (*ticket.Ticket, error) {
	var t ticket.Ticket
	err := row.Scan(&t.Code, &t.BookingID, &t.TripID, &t.SeatNumber, &t.PassengerName, &t.Status, &t.IssuedAt, &t.UsedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
