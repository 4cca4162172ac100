package payment

import (
	"context"
	"time"
)

// Request asks the gateway to charge a booking.
type Request struct {
	BookingID string `json:"booking_id"`
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Email     string `json:"email,omitempty"`
}

// Result is the asynchronous outcome reported by the gateway.
type Result struct {
	BookingID  string    `json:"booking_id"`
	PaymentRef string    `json:"payment_ref"`
	Succeeded  bool      `json:"succeeded"`
	Reason     string    `json:"reason,omitempty"`
	Amount     int64     `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Gateway starts a charge and returns the gateway reference. The outcome
// arrives later as a Result.
type Gateway interface {
	Initiate(ctx context.Context, req Request) (string, error)
	Refund(ctx context.Context, bookingID, paymentRef string, amount int64, reason string) error
}
