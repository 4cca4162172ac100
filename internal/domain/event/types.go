package event

// Event types carried in Message.Type.
const (
	TypeBookingHeld      = "BookingHeld"
	TypeBookingConfirmed = "BookingConfirmed"
	TypeBookingCancelled = "BookingCancelled"
	TypeBookingExpired   = "BookingExpired"
	TypeTicketsIssued    = "TicketsIssued"
	TypePaymentRequested = "PaymentRequested"
	TypePaymentSucceeded = "PaymentSucceeded"
	TypePaymentFailed    = "PaymentFailed"
	TypeRefundRequested  = "RefundRequested"
	TypeTripStatusChange = "TripStatusChanged"
)

// BookingPayload is shared by the booking lifecycle events.
type BookingPayload struct {
	BookingID   string `json:"booking_id"`
	UserID      string `json:"user_id"`
	TripID      string `json:"trip_id"`
	Seats       []int  `json:"seats"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type TicketsIssuedPayload struct {
	BookingID string   `json:"booking_id"`
	TripID    string   `json:"trip_id"`
	Codes     []string `json:"codes"`
	Email     string   `json:"email,omitempty"`
}

type PaymentRequestPayload struct {
	BookingID  string `json:"booking_id"`
	PaymentRef string `json:"payment_ref"`
	UserID     string `json:"user_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Email      string `json:"email,omitempty"`
}

type RefundPayload struct {
	BookingID  string `json:"booking_id"`
	PaymentRef string `json:"payment_ref"`
	Amount     int64  `json:"amount"`
	Reason     string `json:"reason"`
}

type TripStatusPayload struct {
	TripID string `json:"trip_id"`
	Status string `json:"status"`
}

// PaymentResultPayload is carried by PaymentSucceeded and PaymentFailed.
type PaymentResultPayload struct {
	BookingID  string `json:"booking_id"`
	PaymentRef string `json:"payment_ref"`
	Amount     int64  `json:"amount"`
	Reason     string `json:"reason,omitempty"`
}
