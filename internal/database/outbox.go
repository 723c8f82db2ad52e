package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusPublished  = "published"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	// MaxPublishAttempts is the number of failed stream writes after which
	// an event is parked in dead letter.
	MaxPublishAttempts = 5

	// DefaultTargetStream receives harvest events unless an event names
	// another stream.
	DefaultTargetStream = "stream:review_harvest"

	maxRetryBackoff = 5 * time.Minute
)

// OutboxEvent is a harvest notification waiting to be written to its
// stream.
type OutboxEvent struct {
	ID              uuid.UUID       `db:"id"`
	AggregateType   string          `db:"aggregate_type"`
	AggregateID     string          `db:"aggregate_id"`
	EventType       string          `db:"event_type"`
	Payload         json.RawMessage `db:"payload"`
	TargetStream    string          `db:"target_stream"`
	Status          string          `db:"status"`
	Attempts        int             `db:"attempts"`
	LastError       *string         `db:"last_error"`
	StreamMessageID *string         `db:"stream_message_id"`
	CreatedAt       time.Time       `db:"created_at"`
	PublishedAt     *time.Time      `db:"published_at"`
	NextAttemptAt   time.Time       `db:"next_attempt_at"`
}

// OutboxStats summarises the outbox backlog.
type OutboxStats struct {
	Pending    int64 `json:"pending"`
	Published  int64 `json:"published"`
	DeadLetter int64 `json:"dead_letter"`
}

type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

const insertOutboxEvent = `
	INSERT INTO outbox_event (
		id, aggregate_type, aggregate_id, event_type, payload,
		target_stream, status, created_at, next_attempt_at
	) VALUES (
		@id, @aggregate_type, @aggregate_id, @event_type, @payload,
		@target_stream, @status, @created_at, @created_at
	)`

// InsertWithTx queues event within tx, next to the rows it describes.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if _, err := tx.Exec(ctx, insertOutboxEvent, outboxArgs(event, time.Now())); err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// outboxArgs stamps a new event as pending and due at now, defaulting its
// id and stream.
func outboxArgs(event *OutboxEvent, now time.Time) pgx.NamedArgs {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.TargetStream == "" {
		event.TargetStream = DefaultTargetStream
	}
	event.Status = OutboxStatusPending
	event.Attempts = 0
	event.CreatedAt = now
	event.NextAttemptAt = now

	return pgx.NamedArgs{
		"id":             event.ID,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"event_type":     event.EventType,
		"payload":        event.Payload,
		"target_stream":  event.TargetStream,
		"status":         event.Status,
		"created_at":     event.CreatedAt,
	}
}

const selectDueEvents = `
	SELECT id, aggregate_type, aggregate_id, event_type, payload,
		target_stream, status, attempts, last_error, stream_message_id,
		created_at, published_at, next_attempt_at
	FROM outbox_event
	WHERE status IN ('pending', 'failed') AND next_attempt_at <= now()
	ORDER BY created_at
	LIMIT $1`

// Due returns up to limit events whose next attempt has come, in the order
// the harvests produced them.
func (r *OutboxRepository) Due(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, selectDueEvents, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due events: %w", err)
	}

	events, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[OutboxEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to read due events: %w", err)
	}
	return events, nil
}

// MarkPublished records the stream entry id the event was written as.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, messageID string) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE outbox_event
		SET status = 'published', stream_message_id = $2, published_at = now(), last_error = NULL
		WHERE id = $1`, id, messageID)
	if err != nil {
		return fmt.Errorf("failed to mark event %s published: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %s not found", id)
	}
	return nil
}

// MarkFailed counts a failed stream write and schedules the next attempt.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, publishErr error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var attempts int
		err := tx.QueryRow(ctx,
			"SELECT attempts FROM outbox_event WHERE id = $1 FOR UPDATE", id).Scan(&attempts)
		if err != nil {
			return fmt.Errorf("failed to lock outbox event %s: %w", id, err)
		}

		attempts++
		status, next := nextAttempt(attempts, time.Now())

		_, err = tx.Exec(ctx, `
			UPDATE outbox_event
			SET status = $2, attempts = $3, last_error = $4, next_attempt_at = $5
			WHERE id = $1`, id, status, attempts, publishErr.Error(), next)
		if err != nil {
			return fmt.Errorf("failed to mark event %s failed: %w", id, err)
		}
		return nil
	})
}

// MarkDeadLetter parks an event that can never be published, such as one
// whose payload does not decode.
func (r *OutboxRepository) MarkDeadLetter(ctx context.Context, id uuid.UUID, reason error) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE outbox_event
		SET status = 'dead_letter', attempts = attempts + 1, last_error = $2
		WHERE id = $1`, id, reason.Error())
	if err != nil {
		return fmt.Errorf("failed to dead-letter event %s: %w", id, err)
	}
	return nil
}

// Stats counts events still to publish, published and dead-lettered.
func (r *OutboxRepository) Stats(ctx context.Context) (OutboxStats, error) {
	var stats OutboxStats
	err := r.db.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('pending', 'failed')),
			COUNT(*) FILTER (WHERE status = 'published'),
			COUNT(*) FILTER (WHERE status = 'dead_letter')
		FROM outbox_event`).Scan(&stats.Pending, &stats.Published, &stats.DeadLetter)
	if err != nil {
		return stats, fmt.Errorf("failed to get outbox stats: %w", err)
	}
	return stats, nil
}

// nextAttempt gives the status after the given number of failed writes and
// when to try again. The wait doubles from 2s up to maxRetryBackoff.
func nextAttempt(attempts int, now time.Time) (string, time.Time) {
	wait := maxRetryBackoff
	if attempts < 9 {
		wait = min(time.Duration(1<<attempts)*time.Second, maxRetryBackoff)
	}

	if attempts >= MaxPublishAttempts {
		return OutboxStatusDeadLetter, now.Add(wait)
	}
	return OutboxStatusFailed, now.Add(wait)
}
