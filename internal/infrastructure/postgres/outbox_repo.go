package postgres

import (
	"context"
	"fmt"
	"time"

	"busticket/internal/domain/outbox"

	"github.com/jackc/pgx/v5"
)

const outboxColumns = `id, event_type, payload, status, COALESCE(correlation_id, ''), COALESCE(causation_id, ''), COALESCE(producer, 'unknown'), attempts, created_at, updated_at`

// OutboxRepository is the transactional outbox. Create joins the caller's
// transaction so an event is stored only if the booking change that raised
// it commits.
type OutboxRepository struct {
	pool DB
}

func NewOutboxRepository(pool DB) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func (r *OutboxRepository) Create(ctx context.Context, e *outbox.Event) error {
	const sql = `
		INSERT INTO outbox (id, event_type, payload, status, correlation_id, causation_id, producer, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)
	`
	_, err := conn(ctx, r.pool).Exec(ctx, sql,
		e.ID, e.EventType, e.Payload, e.Status,
		nullIfEmpty(e.CorrelationID), nullIfEmpty(e.CausationID), nullIfEmptyDefault(e.Producer, "unknown"),
		e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event %s: %w", e.EventType, err)
	}
	return nil
}

// FetchBatch claims the head event of each booking. Claims older than
// outbox.ClaimLease belong to a relay that died mid-batch and are taken over.
func (r *OutboxRepository) FetchBatch(ctx context.Context, limit int) ([]*outbox.Event, error) {
	const sql = `
		WITH head AS (
			SELECT o.id
			FROM outbox o
			WHERE (o.status = 'new' OR (o.status = 'processing' AND o.updated_at < $2))
			  AND NOT EXISTS (
				SELECT 1 FROM outbox prior
				WHERE prior.correlation_id = o.correlation_id
				  AND prior.status IN ('new', 'processing')
				  AND (prior.created_at, prior.id) < (o.created_at, o.id)
			  )
			ORDER BY o.created_at, o.id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox
		SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (SELECT id FROM head)
		RETURNING ` + outboxColumns

	rows, err := r.pool.Query(ctx, sql, limit, time.Now().Add(-outbox.ClaimLease))
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	return collectOutbox(rows)
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, ids []string) error {
	const sql = `UPDATE outbox SET status = 'processed', updated_at = NOW() WHERE id = ANY($1) AND status = 'processing'`
	if _, err := r.pool.Exec(ctx, sql, ids); err != nil {
		return fmt.Errorf("mark outbox processed: %w", err)
	}
	return nil
}

// MarkFailed hands events back for another attempt, or parks them as failed
// once they used up outbox.MaxAttempts.
func (r *OutboxRepository) MarkFailed(ctx context.Context, ids []string) ([]string, error) {
	const sql = `
		UPDATE outbox
		SET status = CASE WHEN attempts >= $2 THEN 'failed' ELSE 'new' END, updated_at = NOW()
		WHERE id = ANY($1) AND status = 'processing'
		RETURNING id, status
	`
	rows, err := r.pool.Query(ctx, sql, ids, outbox.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("mark outbox failed: %w", err)
	}
	defer rows.Close()

	var dead []string
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan failed outbox event: %w", err)
		}
		if status == outbox.StatusFailed {
			dead = append(dead, id)
		}
	}
	return dead, rows.Err()
}

func (r *OutboxRepository) ListByCorrelationID(ctx context.Context, correlationID string) ([]*outbox.Event, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+outboxColumns+` FROM outbox WHERE correlation_id = $1 ORDER BY created_at, id`,
		nullIfEmpty(correlationID))
	if err != nil {
		return nil, fmt.Errorf("list outbox for %s: %w", correlationID, err)
	}
	return collectOutbox(rows)
}

func collectOutbox(rows pgx.Rows) ([]*outbox.Event, error) {
	defer rows.Close()

	var events []*outbox.Event
	for rows.Next() {
		e := &outbox.Event{}
		if err := rows.Scan(&e.ID, &e.EventType, &e.Payload, &e.Status, &e.CorrelationID, &e.CausationID, &e.Producer, &e.Attempts, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
