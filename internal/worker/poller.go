package worker

import (
	"context"
	"log/slog"
	"time"

	domainEvent "busticket/internal/domain/event"
	"busticket/internal/domain/outbox"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_outbox_events_published_total",
		Help: "The total number of events published to Kafka",
	})
	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_outbox_publish_errors_total",
		Help: "The total number of failed publish attempts",
	})
	eventsDead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_outbox_events_dead_total",
		Help: "The total number of events given up on after repeated publish failures",
	})
)

const (
	pollInterval = 2 * time.Second
	batchSize    = 10
	sendTimeout  = 5 * time.Second
)

type Publisher interface {
	Publish(ctx context.Context, msg domainEvent.Message) error
}

// OutboxPoller relays committed outbox events to the broker. An event is
// marked processed only after the broker accepted it. A failed one is retried
// on a later tick until the repository parks it as failed.
type OutboxPoller struct {
	outboxRepo outbox.Repository
	publisher  Publisher
	log        *slog.Logger
	interval   time.Duration
}

func NewOutboxPoller(outboxRepo outbox.Repository, publisher Publisher, log *slog.Logger) *OutboxPoller {
	return &OutboxPoller{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		log:        log,
		interval:   pollInterval,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("outbox poller started", "interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.processBatch(ctx); err != nil {
				p.log.Error("failed to process batch", "error", err)
			}
		}
	}
}

func (p *OutboxPoller) processBatch(ctx context.Context) (int, error) {
	events, err := p.outboxRepo.FetchBatch(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	var processedIDs []string
	var failedIDs []string

	for _, e := range events {
		msg := domainEvent.Message{
			ID:            e.ID,
			Type:          e.EventType,
			CorrelationID: e.CorrelationID,
			CausationID:   e.CausationID,
			Producer:      e.Producer,
			OccurredAt:    e.CreatedAt,
			Payload:       e.Payload,
		}

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := p.publisher.Publish(sendCtx, msg)
		cancel()

		if err != nil {
			p.log.Error("failed to publish event", "event_id", e.ID, "type", e.EventType, "error", err)
			publishErrors.Inc()
			failedIDs = append(failedIDs, e.ID)
			continue
		}

		p.log.Debug("event published", "event_id", e.ID, "type", e.EventType, "correlation_id", e.CorrelationID)
		eventsPublished.Inc()
		processedIDs = append(processedIDs, e.ID)
	}

	if len(processedIDs) > 0 {
		if err := p.outboxRepo.MarkProcessed(ctx, processedIDs); err != nil {
			return 0, err
		}
		p.log.Info("outbox batch published", "count", len(processedIDs))
	}

	if len(failedIDs) > 0 {
		dead, err := p.outboxRepo.MarkFailed(ctx, failedIDs)
		if err != nil {
			p.log.Error("failed to mark events as failed", "error", err)
		}
		for _, id := range dead {
			p.log.Error("outbox event dead after max attempts", "event_id", id, "max_attempts", outbox.MaxAttempts)
		}
		eventsDead.Add(float64(len(dead)))
	}

	return len(processedIDs), nil
}
