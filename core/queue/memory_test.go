package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

func testJob(version string) *models.Job {
	return &models.Job{
		ModelName:    "demo",
		Version:      version,
		SourceCommit: "abc123",
		ScriptPath:   "models/demo/main.py",
		SubmittedAt:  time.Now(),
	}
}

func TestMemoryQueue_SubmitReceiveAck(t *testing.T) {
	q := NewMemoryQueue(time.Minute, 3)
	ctx := context.Background()

	id, err := q.Submit(ctx, testJob("1.0.1"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msg, handle, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "demo", msg.Job.ModelName)
	assert.Equal(t, 1, msg.Attempts)

	require.NoError(t, q.Ack(ctx, handle))

	_, _, err = q.Receive(ctx, 100*time.Millisecond)
	assert.Equal(t, ErrEmpty, err)
}

func TestMemoryQueue_InFlightInvisible(t *testing.T) {
	q := NewMemoryQueue(time.Minute, 3)
	ctx := context.Background()

	_, err := q.Submit(ctx, testJob("1.0.1"))
	require.NoError(t, err)

	_, _, err = q.Receive(ctx, time.Second)
	require.NoError(t, err)

	// Message is in flight: a second consumer sees nothing.
	_, _, err = q.Receive(ctx, 100*time.Millisecond)
	assert.Equal(t, ErrEmpty, err)
}

func TestMemoryQueue_CrashRedelivers(t *testing.T) {
	q := NewMemoryQueue(50*time.Millisecond, 3)
	ctx := context.Background()

	_, err := q.Submit(ctx, testJob("1.0.1"))
	require.NoError(t, err)

	// Receive and never ack: visibility timeout must redeliver.
	first, _, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)

	second, handle, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Attempts)
	require.NoError(t, q.Ack(ctx, handle))
}

func TestMemoryQueue_NackRedeliversAfterDelay(t *testing.T) {
	q := NewMemoryQueue(60*time.Millisecond, 3)
	ctx := context.Background()

	_, err := q.Submit(ctx, testJob("1.0.1"))
	require.NoError(t, err)

	_, handle, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, handle))

	// Not yet visible.
	_, _, err = q.Receive(ctx, 10*time.Millisecond)
	assert.Equal(t, ErrEmpty, err)

	// Visible after the delay.
	msg, _, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, msg.Attempts)
}

func TestMemoryQueue_DeadLetterAfterBudget(t *testing.T) {
	q := NewMemoryQueue(10*time.Millisecond, 2)
	ctx := context.Background()

	_, err := q.Submit(ctx, testJob("1.0.1"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, handle, err := q.Receive(ctx, time.Second)
		require.NoError(t, err)
		require.NoError(t, q.Nack(ctx, handle))
		time.Sleep(20 * time.Millisecond)
	}

	// Budget spent: message is dead, not redelivered.
	_, _, err = q.Receive(ctx, 50*time.Millisecond)
	assert.Equal(t, ErrEmpty, err)

	dead, err := q.ReceiveDead(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", dead.Job.Version)

	_, err = q.ReceiveDead(ctx)
	assert.Equal(t, ErrEmpty, err)
}

func TestMemoryQueue_Depth(t *testing.T) {
	q := NewMemoryQueue(time.Minute, 3)
	ctx := context.Background()

	for _, v := range []string{"1.0.1", "1.0.2", "1.0.3"} {
		_, err := q.Submit(ctx, testJob(v))
		require.NoError(t, err)
	}

	n, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, _, err = q.Receive(ctx, time.Second)
	require.NoError(t, err)

	n, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
