package memory

import (
	"context"
	"sort"
	"sync"

	"busticket/internal/clock"
	"busticket/internal/domain/inbox"
	"busticket/internal/domain/outbox"
)

type OutboxRepository struct {
	mu     sync.Mutex
	clock  clock.Clock
	events []*outbox.Event
}

// NewOutboxRepository uses the real clock when clk is nil.
func NewOutboxRepository(clk clock.Clock) *OutboxRepository {
	if clk == nil {
		clk = clock.Real()
	}
	return &OutboxRepository{clock: clk}
}

func (r *OutboxRepository) Create(_ context.Context, e *outbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *e
	c.Attempts = 0
	r.events = append(r.events, &c)
	return nil
}

// FetchBatch walks events in insertion order. The first pending event of a
// correlation ID blocks the rest of that ID whether or not it is claimable.
func (r *OutboxRepository) FetchBatch(_ context.Context, limit int) ([]*outbox.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	blocked := make(map[string]bool)
	var out []*outbox.Event
	for _, e := range r.events {
		if len(out) == limit {
			break
		}
		if e.Status != outbox.StatusNew && e.Status != outbox.StatusProcessing {
			continue
		}
		head := e.CorrelationID == "" || !blocked[e.CorrelationID]
		if e.CorrelationID != "" {
			blocked[e.CorrelationID] = true
		}
		abandoned := e.Status == outbox.StatusProcessing && e.UpdatedAt.Before(now.Add(-outbox.ClaimLease))
		if !head || (e.Status != outbox.StatusNew && !abandoned) {
			continue
		}
		e.Status = outbox.StatusProcessing
		e.Attempts++
		e.UpdatedAt = now
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (r *OutboxRepository) MarkProcessed(_ context.Context, ids []string) error {
	r.settle(ids, func(*outbox.Event) string { return outbox.StatusProcessed })
	return nil
}

func (r *OutboxRepository) MarkFailed(_ context.Context, ids []string) ([]string, error) {
	return r.settle(ids, func(e *outbox.Event) string {
		if e.Attempts >= outbox.MaxAttempts {
			return outbox.StatusFailed
		}
		return outbox.StatusNew
	}), nil
}

// settle moves claimed events to the status next picks and returns the IDs
// that ended up failed.
func (r *OutboxRepository) settle(ids []string, next func(*outbox.Event) string) []string {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var dead []string
	for _, e := range r.events {
		if _, ok := want[e.ID]; !ok || e.Status != outbox.StatusProcessing {
			continue
		}
		e.Status = next(e)
		e.UpdatedAt = r.clock.Now()
		if e.Status == outbox.StatusFailed {
			dead = append(dead, e.ID)
		}
	}
	return dead
}

func (r *OutboxRepository) ListByCorrelationID(_ context.Context, correlationID string) ([]*outbox.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*outbox.Event
	for _, e := range r.events {
		if e.CorrelationID == correlationID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// Types lists the event types recorded for correlationID in insertion order.
func (r *OutboxRepository) Types(correlationID string) []string {
	events, _ := r.ListByCorrelationID(context.Background(), correlationID)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventType
	}
	return out
}

type InboxRepository struct {
	mu     sync.Mutex
	events map[string]*inbox.Event
}

func NewInboxRepository() *InboxRepository {
	return &InboxRepository{events: make(map[string]*inbox.Event)}
}

func (r *InboxRepository) SaveIfNotExists(_ context.Context, e *inbox.Event) (bool, error) {
	key := e.Consumer + "/" + e.EventID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[key]; ok {
		return false, nil
	}
	c := *e
	r.events[key] = &c
	return true, nil
}

func (r *InboxRepository) ListByCorrelationID(_ context.Context, correlationID string) ([]*inbox.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*inbox.Event
	for _, e := range r.events {
		if e.CorrelationID == correlationID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessedAt.Before(out[j].ProcessedAt) })
	return out, nil
}
