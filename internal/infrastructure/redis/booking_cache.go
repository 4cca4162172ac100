package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"busticket/internal/domain/booking"

	"github.com/redis/go-redis/v9"
)

// BookingCache is a short-lived read-through cache for booking reads.
// Every booking mutation invalidates its key.
type BookingCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBookingCache(client *redis.Client, ttl time.Duration) *BookingCache {
	return &BookingCache{client: client, ttl: ttl}
}

func bookingKey(id string) string { return "booking:" + id }

func (c *BookingCache) Get(ctx context.Context, id string) (*booking.Booking, bool) {
	val, err := c.client.Get(ctx, bookingKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("booking cache read failed", "booking_id", id, "error", err)
		}
		return nil, false
	}
	var b booking.Booking
	if err := json.Unmarshal(val, &b); err != nil {
		return nil, false
	}
	return &b, true
}

func (c *BookingCache) Set(ctx context.Context, b *booking.Booking) {
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, bookingKey(b.ID), data, c.ttl).Err(); err != nil {
		slog.Warn("booking cache write failed", "booking_id", b.ID, "error", err)
	}
}

func (c *BookingCache) Invalidate(ctx context.Context, id string) {
	if err := c.client.Del(ctx, bookingKey(id)).Err(); err != nil {
		slog.Warn("booking cache invalidate failed", "booking_id", id, "error", err)
	}
}
