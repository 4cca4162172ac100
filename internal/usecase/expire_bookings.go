package usecase

import (
	"context"
	"fmt"

	"busticket/internal/domain/booking"
)

const expireBatchSize = 100

type ExpireBookings struct {
	d Deps
}

func NewExpireBookings(d Deps) *ExpireBookings {
	return &ExpireBookings{d: d.withDefaults()}
}

// Execute expires every pre-confirmation booking whose hold has lapsed and
// returns how many it closed.
func (uc *ExpireBookings) Execute(ctx context.Context) (int, error) {
	now := uc.d.Clock.Now()
	lapsed, err := uc.d.Bookings.ListLapsedHolds(ctx, now, expireBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list lapsed holds: %w", err)
	}

	expired := 0
	for _, candidate := range lapsed {
		var closed bool
		err := uc.d.Tx.WithinTransaction(ctx, func(txCtx context.Context) error {
			b, err := uc.d.Bookings.GetByID(txCtx, candidate.ID)
			if err != nil {
				return err
			}
			// re-check under the row lock: a payment may have landed meanwhile
			if !b.HoldLapsed(now) {
				return nil
			}
			closed = true
			return uc.d.closeHold(txCtx, b, booking.PhaseExpired, ReasonHoldExpired, now)
		})
		if err != nil {
			uc.d.Log.Error("expire booking", "booking_id", candidate.ID, "error", err)
			continue
		}
		if closed {
			expired++
			uc.d.Cache.Invalidate(ctx, candidate.ID)
		}
	}
	return expired, nil
}
