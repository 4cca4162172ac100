package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	StatusNew        = "new"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	// StatusFailed is terminal: the event exhausted MaxAttempts.
	StatusFailed = "failed"
)

const (
	MaxAttempts = 5
	// ClaimLease is how long a claimed event may stay processing before
	// another relay may claim it again.
	ClaimLease = time.Minute
)

type Event struct {
	ID            string    `json:"id"`
	EventType     string    `json:"event_type"`
	Payload       []byte    `json:"payload"`
	Status        string    `json:"status"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id"`
	Producer      string    `json:"producer"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Repository stores events for relay. FetchBatch claims at most one event per
// correlation ID at a time, the oldest one still new or processing, so the
// events of a booking reach the broker in the order they were written.
// MarkFailed returns the IDs it moved to StatusFailed.
type Repository interface {
	Create(ctx context.Context, event *Event) error
	FetchBatch(ctx context.Context, limit int) ([]*Event, error)
	MarkProcessed(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, ids []string) ([]string, error)
	ListByCorrelationID(ctx context.Context, correlationID string) ([]*Event, error)
}

// New builds a pending outbox event with a JSON payload. The correlation ID
// ties every event of one booking together.
func New(id, eventType, correlationID, causationID, producer string, payload any, now time.Time) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Event{
		ID:            id,
		EventType:     eventType,
		Payload:       data,
		Status:        StatusNew,
		CorrelationID: correlationID,
		CausationID:   causationID,
		Producer:      producer,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
