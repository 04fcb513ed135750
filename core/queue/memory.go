package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

// MemoryQueue is an in-process Queue with visibility-timeout semantics.
// It backs local single-binary deployments and tests; durability comes
// from the Postgres implementation.
type MemoryQueue struct {
	mu         sync.Mutex
	visible    []*memoryMessage
	inflight   map[AckHandle]*memoryMessage
	dead       []*memoryMessage
	visibility time.Duration
	maxDeliver int
	wakeup     chan struct{}
}

type memoryMessage struct {
	msg       Message
	visibleAt time.Time
}

// NewMemoryQueue creates a queue with the given visibility timeout and
// per-message delivery budget.
func NewMemoryQueue(visibility time.Duration, maxDeliveries int) *MemoryQueue {
	if maxDeliveries <= 0 {
		maxDeliveries = 3
	}
	return &MemoryQueue{
		inflight:   make(map[AckHandle]*memoryMessage),
		visibility: visibility,
		maxDeliver: maxDeliveries,
		wakeup:     make(chan struct{}, 1),
	}
}

// Submit enqueues a job.
func (q *MemoryQueue) Submit(_ context.Context, job *models.Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.New().String()
	q.visible = append(q.visible, &memoryMessage{
		msg: Message{ID: id, Job: job, EnqueuedAt: time.Now()},
	})

	select {
	case q.wakeup <- struct{}{}:
	default:
	}
	return id, nil
}

// Receive pops the oldest visible message, marking it in-flight until
// Ack, Nack, or visibility expiry.
func (q *MemoryQueue) Receive(ctx context.Context, pollTimeout time.Duration) (*Message, AckHandle, error) {
	deadline := time.Now().Add(pollTimeout)
	for {
		if msg, handle := q.tryReceive(); msg != nil {
			return msg, handle, nil
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, "", ErrEmpty
		}
		// Expired in-flight messages only return on the next sweep,
		// so cap the sleep.
		if wait > 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}

		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-q.wakeup:
		case <-time.After(wait):
		}
	}
}

func (q *MemoryQueue) tryReceive() (*Message, AckHandle) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sweepExpiredLocked()

	now := time.Now()
	idx := -1
	for i, mm := range q.visible {
		if !mm.visibleAt.After(now) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ""
	}

	mm := q.visible[idx]
	q.visible = append(q.visible[:idx], q.visible[idx+1:]...)
	mm.msg.Attempts++
	mm.visibleAt = time.Now().Add(q.visibility)

	handle := AckHandle(uuid.New().String())
	q.inflight[handle] = mm

	msg := mm.msg
	return &msg, handle
}

// sweepExpiredLocked requeues in-flight messages whose visibility
// timeout elapsed (consumer crashed without Ack).
func (q *MemoryQueue) sweepExpiredLocked() {
	now := time.Now()
	for handle, mm := range q.inflight {
		if now.Before(mm.visibleAt) {
			continue
		}
		delete(q.inflight, handle)
		if mm.msg.Attempts >= q.maxDeliver {
			q.dead = append(q.dead, mm)
		} else {
			q.visible = append(q.visible, mm)
		}
	}
}

// Ack removes the delivery permanently.
func (q *MemoryQueue) Ack(_ context.Context, handle AckHandle) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, handle)
	return nil
}

// Nack requeues the delivery after the visibility delay, or
// dead-letters it when the budget is spent.
func (q *MemoryQueue) Nack(_ context.Context, handle AckHandle) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	mm, ok := q.inflight[handle]
	if !ok {
		return nil
	}
	delete(q.inflight, handle)

	if mm.msg.Attempts >= q.maxDeliver {
		q.dead = append(q.dead, mm)
		return nil
	}
	// Redeliver after the visibility delay, not immediately.
	mm.visibleAt = time.Now().Add(q.visibility)
	q.visible = append(q.visible, mm)
	return nil
}

// ReceiveDead pops one dead-lettered message.
func (q *MemoryQueue) ReceiveDead(_ context.Context) (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sweepExpiredLocked()

	if len(q.dead) == 0 {
		return nil, ErrEmpty
	}
	mm := q.dead[0]
	q.dead = q.dead[1:]
	msg := mm.msg
	return &msg, nil
}

// Depth returns the number of visible messages.
func (q *MemoryQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sweepExpiredLocked()

	now := time.Now()
	n := 0
	for _, mm := range q.visible {
		if !mm.visibleAt.After(now) {
			n++
		}
	}
	return n, nil
}
