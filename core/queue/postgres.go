package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

// PostgresQueue is the durable Queue implementation. Concurrent worker
// hosts receive with FOR UPDATE SKIP LOCKED, so each message is held by
// exactly one consumer at a time.
//
// Schema:
//
//	CREATE TABLE queue_messages (
//	    id            UUID PRIMARY KEY,
//	    model_name    TEXT NOT NULL,
//	    version       TEXT NOT NULL,
//	    payload_json  TEXT NOT NULL,
//	    attempts      INT NOT NULL DEFAULT 0,
//	    dead          BOOLEAN NOT NULL DEFAULT FALSE,
//	    visible_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    enqueued_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type PostgresQueue struct {
	db         *sql.DB
	visibility time.Duration
	maxDeliver int
}

// NewPostgresQueue creates a durable queue on db.
func NewPostgresQueue(db *sql.DB, visibility time.Duration, maxDeliveries int) *PostgresQueue {
	if maxDeliveries <= 0 {
		maxDeliveries = 3
	}
	return &PostgresQueue{db: db, visibility: visibility, maxDeliver: maxDeliveries}
}

// Submit enqueues a job.
func (q *PostgresQueue) Submit(ctx context.Context, job *models.Job) (string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to encode job payload: %w", err)
	}

	id := uuid.New().String()
	query := `
		INSERT INTO queue_messages (id, model_name, version, payload_json, enqueued_at, visible_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
	`
	if _, err := q.db.ExecContext(ctx, query, id, job.ModelName, job.Version, string(payload)); err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", job.Key(), err)
	}
	return id, nil
}

// Receive claims the oldest visible message, pushing its visibility
// horizon forward so a crash before Ack redelivers it.
func (q *PostgresQueue) Receive(ctx context.Context, pollTimeout time.Duration) (*Message, AckHandle, error) {
	deadline := time.Now().Add(pollTimeout)
	for {
		msg, handle, err := q.tryReceive(ctx)
		if err == nil {
			return msg, handle, nil
		}
		if err != ErrEmpty {
			return nil, "", err
		}

		if time.Now().After(deadline) {
			return nil, "", ErrEmpty
		}
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (q *PostgresQueue) tryReceive(ctx context.Context) (*Message, AckHandle, error) {
	query := `
		UPDATE queue_messages
		SET attempts = attempts + 1,
		    visible_at = NOW() + $1 * INTERVAL '1 second'
		WHERE id = (
			SELECT id FROM queue_messages
			WHERE NOT dead AND visible_at <= NOW()
			ORDER BY enqueued_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, payload_json, attempts, enqueued_at
	`

	var (
		id         string
		payload    string
		attempts   int
		enqueuedAt time.Time
	)
	err := q.db.QueryRowContext(ctx, query, int(q.visibility.Seconds())).
		Scan(&id, &payload, &attempts, &enqueuedAt)
	if err == sql.ErrNoRows {
		return nil, "", ErrEmpty
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to receive message: %w", err)
	}

	// Delivery budget spent before this attempt: dead-letter instead
	// of handing it out again.
	if attempts > q.maxDeliver {
		if _, err := q.db.ExecContext(ctx,
			`UPDATE queue_messages SET dead = TRUE WHERE id = $1`, id); err != nil {
			return nil, "", fmt.Errorf("failed to dead-letter message %s: %w", id, err)
		}
		return nil, "", ErrEmpty
	}

	var job models.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, "", fmt.Errorf("failed to decode message %s: %w", id, err)
	}

	return &Message{ID: id, Job: &job, Attempts: attempts, EnqueuedAt: enqueuedAt}, AckHandle(id), nil
}

// Ack deletes the message permanently.
func (q *PostgresQueue) Ack(ctx context.Context, handle AckHandle) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM queue_messages WHERE id = $1`, string(handle))
	if err != nil {
		return fmt.Errorf("failed to ack message %s: %w", handle, err)
	}
	return nil
}

// Nack schedules redelivery after the visibility delay, or dead-letters
// the message when its budget is spent.
func (q *PostgresQueue) Nack(ctx context.Context, handle AckHandle) error {
	query := `
		UPDATE queue_messages
		SET dead = (attempts >= $2),
		    visible_at = NOW() + $3 * INTERVAL '1 second'
		WHERE id = $1
	`
	_, err := q.db.ExecContext(ctx, query, string(handle), q.maxDeliver, int(q.visibility.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to nack message %s: %w", handle, err)
	}
	return nil
}

// ReceiveDead pops one dead-lettered message for the reaper.
func (q *PostgresQueue) ReceiveDead(ctx context.Context) (*Message, error) {
	query := `
		DELETE FROM queue_messages
		WHERE id = (
			SELECT id FROM queue_messages
			WHERE dead
			ORDER BY enqueued_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, payload_json, attempts, enqueued_at
	`

	var (
		id         string
		payload    string
		attempts   int
		enqueuedAt time.Time
	)
	err := q.db.QueryRowContext(ctx, query).Scan(&id, &payload, &attempts, &enqueuedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to receive dead letter: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("failed to decode dead letter %s: %w", id, err)
	}
	return &Message{ID: id, Job: &job, Attempts: attempts, EnqueuedAt: enqueuedAt}, nil
}

// Depth returns the number of visible messages.
func (q *PostgresQueue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_messages WHERE NOT dead AND visible_at <= NOW()`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return n, nil
}
