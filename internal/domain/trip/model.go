package trip

import (
	"context"
	"time"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusBoarding   Status = "boarding"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type Trip struct {
	ID          string    `json:"id"`
	RouteID     string    `json:"route_id"`
	BusID       string    `json:"bus_id"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	DepartureAt time.Time `json:"departure_at"`
	ArrivalAt   time.Time `json:"arrival_at"`
	TotalSeats  int       `json:"total_seats"`
	BasePrice   int64     `json:"base_price"` // minor currency units
	Currency    string    `json:"currency"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var transitions = map[Status][]Status{
	StatusScheduled:  {StatusBoarding, StatusCancelled},
	StatusBoarding:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanMoveTo reports whether the trip may go from its current status to next.
func (t *Trip) CanMoveTo(next Status) bool {
	for _, s := range transitions[t.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// Bookable reports whether seats may still be sold at now.
func (t *Trip) Bookable(now time.Time) bool {
	return t.Status == StatusScheduled && t.DepartureAt.After(now)
}

// Boardable reports whether tickets may be scanned.
func (t *Trip) Boardable() bool {
	return t.Status == StatusScheduled || t.Status == StatusBoarding
}

type Repository interface {
	Create(ctx context.Context, t *Trip) error
	GetByID(ctx context.Context, id string) (*Trip, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, id string) error
}
