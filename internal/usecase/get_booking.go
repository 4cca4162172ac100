package usecase

import (
	"context"
	"fmt"

	"busticket/internal/auth"
	"busticket/internal/domain/booking"
)

type GetBooking struct {
	d Deps
}

func NewGetBooking(d Deps) *GetBooking {
	return &GetBooking{d: d.withDefaults()}
}

func (uc *GetBooking) Execute(ctx context.Context, id auth.Identity, bookingID string) (*booking.Booking, error) {
	if b, ok := uc.d.Cache.Get(ctx, bookingID); ok {
		if err := authorize(id, b); err != nil {
			return nil, err
		}
		return b, nil
	}

	b, err := uc.d.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if err := authorize(id, b); err != nil {
		return nil, err
	}
	uc.d.Cache.Set(ctx, b)
	return b, nil
}
