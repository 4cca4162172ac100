package postgres

import (
	"context"
	"errors"
	"fmt"

	"busticket/internal/domain/errs"
	"busticket/internal/domain/trip"

	"github.com/jackc/pgx/v5"
)

type TripRepository struct {
	pool DB
}

func NewTripRepository(pool DB) *TripRepository {
	return &TripRepository{pool: pool}
}

func (r *TripRepository) Create(ctx context.Context, t *trip.Trip) error {
	const sql = `
		INSERT INTO trips (
			id, route_id, bus_id, origin, destination,
			departure_at, arrival_at, total_seats, base_price, currency,
			status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := conn(ctx, r.pool).Exec(ctx, sql,
		t.ID, t.RouteID, t.BusID, t.Origin, t.Destination,
		t.DepartureAt, t.ArrivalAt, t.TotalSeats, t.BasePrice, t.Currency,
		t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

func (r *TripRepository) GetByID(ctx context.Context, id string) (*trip.Trip, error) {
	const sql = `
		SELECT
			id, route_id, bus_id, origin, destination,
			departure_at, arrival_at, total_seats, base_price, currency,
			status, created_at, updated_at
		FROM trips
		WHERE id = $1
	`
	var t trip.Trip
	err := conn(ctx, r.pool).QueryRow(ctx, sql, id).Scan(
		&t.ID, &t.RouteID, &t.BusID, &t.Origin, &t.Destination,
		&t.DepartureAt, &t.ArrivalAt, &t.TotalSeats, &t.BasePrice, &t.Currency,
		&t.Status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("trip", id)
		}
		return nil, fmt.Errorf("get trip by id: %w", err)
	}
	return &t, nil
}

func (r *TripRepository) UpdateStatus(ctx context.Context, id string, status trip.Status) error {
	const sql = `
		UPDATE trips
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := conn(ctx, r.pool).Exec(ctx, sql, id, status)
	if err != nil {
		return fmt.Errorf("update trip status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("trip", id)
	}
	return nil
}

func (r *TripRepository) Delete(ctx context.Context, id string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM trips WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete trip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("trip", id)
	}
	return nil
}
