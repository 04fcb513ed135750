// Package queue defines the durable, at-least-once job queue feeding
// the pipeline. A received message stays invisible for the visibility
// timeout; a consumer crash before Ack makes it reappear. Messages
// that exhaust their delivery budget move to a dead-letter channel.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

// ErrEmpty is returned by Receive when no message becomes visible
// within the poll timeout.
var ErrEmpty = errors.New("queue: no message available")

// Message wraps a job with its delivery bookkeeping.
type Message struct {
	ID         string
	Job        *models.Job
	Attempts   int // delivery attempts so far, including this one
	EnqueuedAt time.Time
}

// AckHandle identifies one in-flight delivery for Ack/Nack.
type AckHandle string

// Queue is the job queue contract. Implementations must deliver each
// message to exactly one consumer at a time under visibility-timeout
// semantics; ordering across jobs is not guaranteed.
type Queue interface {
	// Submit enqueues a job and returns its message ID.
	Submit(ctx context.Context, job *models.Job) (string, error)

	// Receive blocks until a message is visible or the poll timeout
	// elapses (ErrEmpty). The message stays invisible until Ack, Nack,
	// or visibility-timeout expiry.
	Receive(ctx context.Context, pollTimeout time.Duration) (*Message, AckHandle, error)

	// Ack removes a delivered message permanently.
	Ack(ctx context.Context, handle AckHandle) error

	// Nack makes a delivered message visible again after the
	// visibility delay, or dead-letters it if the delivery budget is
	// spent.
	Nack(ctx context.Context, handle AckHandle) error

	// ReceiveDead pops one dead-lettered message, if any (ErrEmpty
	// otherwise). Used by the reaper to write terminal failures.
	ReceiveDead(ctx context.Context) (*Message, error)

	// Depth returns the number of visible messages waiting.
	Depth(ctx context.Context) (int, error)
}
