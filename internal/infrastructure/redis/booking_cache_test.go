package redis

import (
	"context"
	"testing"
	"time"

	"busticket/internal/domain/booking"

	"github.com/alicebob/miniredis/v2"
)

func TestBookingCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	client, err := NewClient(ctx, Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer client.Close()

	cache := NewBookingCache(client, 5*time.Second)
	if _, ok := cache.Get(ctx, "b-1"); ok {
		t.Fatal("empty cache returned a booking")
	}

	cache.Set(ctx, &booking.Booking{ID: "b-1", Seats: []int{3, 4}, Phase: booking.PhaseLocked})
	got, ok := cache.Get(ctx, "b-1")
	if !ok || got.Phase != booking.PhaseLocked || len(got.Seats) != 2 {
		t.Fatalf("cached booking = %+v, %v", got, ok)
	}

	mr.FastForward(6 * time.Second)
	if _, ok := cache.Get(ctx, "b-1"); ok {
		t.Fatal("entry outlived its ttl")
	}

	cache.Set(ctx, &booking.Booking{ID: "b-1"})
	cache.Invalidate(ctx, "b-1")
	if _, ok := cache.Get(ctx, "b-1"); ok {
		t.Fatal("invalidate left the entry")
	}
}
