package status

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

func demoJob(version string) *models.Job {
	return &models.Job{ModelName: "demo", Version: version, SourceCommit: "abc123"}
}

func TestMemoryStore_ProgressMonotonic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, demoJob("1.0.1")))
	require.NoError(t, s.SetStage(ctx, "demo", "1.0.1", models.StageMeshing))

	// A stale stage write cannot drag progress backwards.
	require.NoError(t, s.SetStage(ctx, "demo", "1.0.1", models.StageCloning))

	rec, err := s.Get(ctx, "demo", "1.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.StageMeshing.Progress, rec.Progress)
	assert.Equal(t, models.StageCloning.Label, rec.Stage)
}

func TestMemoryStore_TerminalIsFrozen(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, demoJob("1.0.1")))
	require.NoError(t, s.MarkFailed(ctx, "demo", "1.0.1", models.ErrScriptExecution, "script raised"))

	assert.Equal(t, ErrTerminal, s.SetStage(ctx, "demo", "1.0.1", models.StageExecuting))
	assert.Equal(t, ErrTerminal, s.MarkSucceeded(ctx, "demo", "1.0.1"))
	assert.Equal(t, ErrTerminal, s.Create(ctx, demoJob("1.0.1")))

	rec, err := s.Get(ctx, "demo", "1.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, string(models.ErrScriptExecution), rec.ErrorKind)
	assert.Equal(t, "script raised", rec.Error)
	assert.NotNil(t, rec.CompletedAt)
}

func TestMemoryStore_ResubmitQueuedResets(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	job := demoJob("1.0.1")
	job.SourceCommit = "abc123"
	require.NoError(t, s.Create(ctx, job))

	// Resubmitting before any worker picked it up is idempotent.
	job.SourceCommit = "def456"
	require.NoError(t, s.Create(ctx, job))

	rec, err := s.Get(ctx, "demo", "1.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, rec.Status)
	assert.Equal(t, "def456", rec.SourceCommit)
}

func TestMemoryStore_ResubmitRunningIsRefused(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, demoJob("1.0.1")))
	require.NoError(t, s.SetStage(ctx, "demo", "1.0.1", models.StageExecuting))

	// An in-flight version keeps its progress; pollers never see it
	// drop back to zero.
	assert.Equal(t, ErrInFlight, s.Create(ctx, demoJob("1.0.1")))

	rec, err := s.Get(ctx, "demo", "1.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, rec.Status)
	assert.Equal(t, models.StageExecuting.Progress, rec.Progress)
}

func TestMemoryStore_SucceededRecord(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, demoJob("1.0.1")))
	require.NoError(t, s.MarkSucceeded(ctx, "demo", "1.0.1"))

	rec, err := s.Get(ctx, "demo", "1.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, rec.Status)
	assert.Equal(t, 100, rec.Progress)
	assert.Empty(t, rec.Error)
}

func TestMemoryStore_ListByModel(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, demoJob("1.0.1")))
	require.NoError(t, s.Create(ctx, demoJob("1.0.2")))
	require.NoError(t, s.Create(ctx, &models.Job{ModelName: "keyboard", Version: "2.0.1"}))

	recs, err := s.ListByModel(ctx, "demo")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = s.Get(ctx, "demo", "9.9.9")
	assert.Equal(t, ErrNotFound, err)
}
