package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reindervandervoort/cad-pipeline/core/models"
	"github.com/reindervandervoort/cad-pipeline/core/retry"
)

// countingProvisioner records provision/terminate calls and can fail
// the first n provision attempts.
type countingProvisioner struct {
	mu          sync.Mutex
	provisioned int
	terminated  int
	failFirst   int
}

func (p *countingProvisioner) Provision(_ context.Context, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.provisioned++
	if p.provisioned <= p.failFirst {
		return errors.New("capacity not available")
	}
	return nil
}

func (p *countingProvisioner) Terminate(_ context.Context, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated++
	return nil
}

func fastPool(p Provisioner, min, max int, idleTimeout time.Duration) *Pool {
	pool := NewPool(p, min, max, idleTimeout)
	pool.retryPolicy = retry.Policy{
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		MaxElapsedTime:  time.Second,
		MaxAttempts:     3,
	}
	return pool
}

func TestPool_AcquireProvisionsUpToMax(t *testing.T) {
	prov := &countingProvisioner{}
	pool := fastPool(prov, 0, 2, time.Minute)

	w1, err := pool.Acquire(context.Background(), "demo/1.0.1")
	require.NoError(t, err)
	assert.Equal(t, WorkerBusy, w1.State())

	w2, err := pool.Acquire(context.Background(), "demo/1.0.2")
	require.NoError(t, err)
	assert.NotEqual(t, w1.ID, w2.ID)

	_, err = pool.Acquire(context.Background(), "demo/1.0.3")
	assert.ErrorIs(t, err, ErrSaturated)
}

func TestPool_ReleaseMakesWorkerReusable(t *testing.T) {
	prov := &countingProvisioner{}
	pool := fastPool(prov, 0, 1, time.Minute)

	w1, err := pool.Acquire(context.Background(), "demo/1.0.1")
	require.NoError(t, err)
	pool.Release(context.Background(), w1, false)
	assert.Equal(t, WorkerIdle, w1.State())

	w2, err := pool.Acquire(context.Background(), "demo/1.0.2")
	require.NoError(t, err)
	assert.Equal(t, w1.ID, w2.ID, "idle worker is reused, not reprovisioned")
	assert.Equal(t, 1, prov.provisioned)
}

func TestPool_FatalReleaseRecyclesWorker(t *testing.T) {
	prov := &countingProvisioner{}
	pool := fastPool(prov, 1, 2, time.Minute)
	require.NoError(t, pool.EnsureMin(context.Background()))

	w, err := pool.Acquire(context.Background(), "demo/1.0.4")
	require.NoError(t, err)

	pool.Release(context.Background(), w, true)
	assert.Equal(t, WorkerTerminated, w.State())
	assert.Equal(t, 1, prov.terminated)
	// The warm minimum is restored with a fresh worker.
	assert.Equal(t, 1, pool.liveCount())
	assert.Equal(t, 2, prov.provisioned)
}

func TestPool_IdleTimeoutTerminatesAboveMin(t *testing.T) {
	prov := &countingProvisioner{}
	pool := fastPool(prov, 1, 3, 10*time.Millisecond)

	var workers []*Worker
	for i := 0; i < 3; i++ {
		w, err := pool.Acquire(context.Background(), "demo/job")
		require.NoError(t, err)
		workers = append(workers, w)
	}
	for _, w := range workers {
		pool.Release(context.Background(), w, false)
	}

	time.Sleep(20 * time.Millisecond)
	pool.ReapIdle(context.Background())

	assert.Equal(t, 1, pool.liveCount(), "pool shrinks back to its warm minimum")
	assert.Equal(t, 2, prov.terminated)
}

func TestPool_ProvisioningRetriesThenClassifies(t *testing.T) {
	prov := &countingProvisioner{failFirst: 2}
	pool := fastPool(prov, 0, 1, time.Minute)

	w, err := pool.Acquire(context.Background(), "demo/1.0.5")
	require.NoError(t, err, "transient provisioning failures are retried")
	assert.Equal(t, WorkerBusy, w.State())
	assert.Equal(t, 3, prov.provisioned)
}

func TestPool_ProvisioningExhaustionIsClassified(t *testing.T) {
	prov := &countingProvisioner{failFirst: 100}
	pool := fastPool(prov, 0, 1, time.Minute)

	_, err := pool.Acquire(context.Background(), "demo/1.0.6")
	require.Error(t, err)
	assert.Equal(t, models.ErrProvisioning, models.KindOf(err))
	assert.Equal(t, 0, pool.liveCount(), "failed slot is not left in the pool")
}

func TestWorker_InvalidTransitionRejected(t *testing.T) {
	w := &Worker{ID: "w1", state: WorkerIdle}
	assert.Error(t, w.transition(WorkerTerminated), "idle workers drain before terminating")
	require.NoError(t, w.transition(WorkerDraining))
	require.NoError(t, w.transition(WorkerTerminated))
	assert.Error(t, w.transition(WorkerIdle))
}
