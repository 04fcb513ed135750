// Package scheduler owns the worker pool and the dispatch loop that
// drains the job queue into it. Workers move through a fixed state
// machine: provisioning, idle, busy, draining, terminated. The pool
// keeps a warm minimum so the first job after a quiet period does not
// pay the provisioning delay.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reindervandervoort/cad-pipeline/core/models"
	"github.com/reindervandervoort/cad-pipeline/core/retry"
)

// WorkerState is one of the five lifecycle states.
type WorkerState string

const (
	WorkerProvisioning WorkerState = "provisioning"
	WorkerIdle         WorkerState = "idle"
	WorkerBusy         WorkerState = "busy"
	WorkerDraining     WorkerState = "draining"
	WorkerTerminated   WorkerState = "terminated"
)

// ErrSaturated is returned by Acquire when every worker is busy and
// the pool is at its maximum size. The caller leaves the job queued.
var ErrSaturated = errors.New("scheduler: worker pool saturated")

// validTransitions is the full transition table; anything absent is a
// programming error, not a runtime condition.
var validTransitions = map[WorkerState][]WorkerState{
	WorkerProvisioning: {WorkerIdle, WorkerTerminated},
	WorkerIdle:         {WorkerBusy, WorkerDraining},
	WorkerBusy:         {WorkerIdle, WorkerDraining},
	WorkerDraining:     {WorkerTerminated},
}

// Worker is the pool's handle on one execution slot. In local mode it
// is an in-process slot; in fleet mode it mirrors a remote host.
type Worker struct {
	ID string

	mu        sync.Mutex
	state     WorkerState
	idleSince time.Time
	jobKey    string
}

// State returns the worker's current state.
func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// transition moves the worker to next, enforcing the transition table.
func (w *Worker) transition(next WorkerState) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, allowed := range validTransitions[w.state] {
		if allowed == next {
			if next == WorkerIdle {
				w.idleSince = time.Now()
				w.jobKey = ""
			}
			w.state = next
			return nil
		}
	}
	return fmt.Errorf("scheduler: invalid worker transition %s -> %s", w.state, next)
}

// Provisioner creates and destroys the resource behind a worker slot.
// The local deployment uses a no-op provisioner; the fleet deployment
// launches EC2 hosts.
type Provisioner interface {
	Provision(ctx context.Context, workerID string) error
	Terminate(ctx context.Context, workerID string) error
}

// NoopProvisioner backs in-process workers that need no external
// resource.
type NoopProvisioner struct{}

func (NoopProvisioner) Provision(context.Context, string) error { return nil }
func (NoopProvisioner) Terminate(context.Context, string) error { return nil }

// Pool manages the worker set between min and max slots.
type Pool struct {
	provisioner Provisioner
	min, max    int
	idleTimeout time.Duration
	retryPolicy retry.Policy

	mu      sync.Mutex
	workers map[string]*Worker
}

// NewPool creates a pool bounded by min and max workers. Idle workers
// above min are terminated after idleTimeout.
func NewPool(p Provisioner, min, max int, idleTimeout time.Duration) *Pool {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	return &Pool{
		provisioner: p,
		min:         min,
		max:         max,
		idleTimeout: idleTimeout,
		retryPolicy: retry.DefaultPolicy(),
		workers:     make(map[string]*Worker),
	}
}

// Start warms the pool to its minimum and runs the idle reaper until
// ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	if err := p.EnsureMin(ctx); err != nil {
		log.Printf("Failed to warm worker pool: %v", err)
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Shutdown(context.Background())
			return
		case <-ticker.C:
			p.ReapIdle(ctx)
		}
	}
}

// EnsureMin provisions workers until the live count reaches min.
func (p *Pool) EnsureMin(ctx context.Context) error {
	for p.liveCount() < p.min {
		if _, err := p.provision(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Acquire returns an idle worker marked busy for jobKey, provisioning
// a new one when the pool has headroom. Returns ErrSaturated when all
// slots are busy at max, and a ProvisioningError when provisioning
// fails after retries.
func (p *Pool) Acquire(ctx context.Context, jobKey string) (*Worker, error) {
	if w := p.takeIdle(jobKey); w != nil {
		return w, nil
	}

	if p.liveCount() >= p.max {
		return nil, ErrSaturated
	}

	w, err := p.provision(ctx)
	if err != nil {
		return nil, err
	}
	if err := w.transition(WorkerBusy); err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.jobKey = jobKey
	w.mu.Unlock()
	return w, nil
}

// Release returns a worker to the pool after a job. A worker-fatal
// run drains and terminates it; the warm minimum is restored on the
// next reaper tick or EnsureMin call.
func (p *Pool) Release(ctx context.Context, w *Worker, fatal bool) {
	if fatal {
		log.Printf("Recycling worker %s after fatal job error", w.ID)
		p.retire(ctx, w)
		if err := p.EnsureMin(ctx); err != nil {
			log.Printf("Failed to replace recycled worker: %v", err)
		}
		return
	}
	if err := w.transition(WorkerIdle); err != nil {
		log.Printf("Failed to release worker %s: %v", w.ID, err)
	}
}

// ReapIdle terminates workers above the minimum that have been idle
// longer than the idle timeout.
func (p *Pool) ReapIdle(ctx context.Context) {
	if p.idleTimeout <= 0 {
		return
	}

	cutoff := time.Now().Add(-p.idleTimeout)
	for _, w := range p.snapshot() {
		if p.liveCount() <= p.min {
			return
		}
		w.mu.Lock()
		expired := w.state == WorkerIdle && w.idleSince.Before(cutoff)
		w.mu.Unlock()
		if expired {
			log.Printf("Terminating worker %s after idle timeout", w.ID)
			p.retire(ctx, w)
		}
	}
}

// Shutdown drains and terminates every worker.
func (p *Pool) Shutdown(ctx context.Context) {
	for _, w := range p.snapshot() {
		p.retire(ctx, w)
	}
}

// Stats reports the live worker count per state.
func (p *Pool) Stats() map[WorkerState]int {
	stats := make(map[WorkerState]int)
	for _, w := range p.snapshot() {
		stats[w.State()]++
	}
	return stats
}

func (p *Pool) provision(ctx context.Context) (*Worker, error) {
	w := &Worker{ID: uuid.New().String(), state: WorkerProvisioning}
	p.mu.Lock()
	p.workers[w.ID] = w
	p.mu.Unlock()

	err := retry.Do(ctx, p.retryPolicy, func() error {
		return p.provisioner.Provision(ctx, w.ID)
	})
	if err != nil {
		p.forget(w)
		return nil, models.WrapPipelineError(models.ErrProvisioning, err,
			"failed to provision worker %s", w.ID)
	}

	if err := w.transition(WorkerIdle); err != nil {
		return nil, err
	}
	log.Printf("Worker %s provisioned (pool size %d)", w.ID, p.liveCount())
	return w, nil
}

// retire walks a worker through draining to terminated and releases
// its backing resource.
func (p *Pool) retire(ctx context.Context, w *Worker) {
	if err := w.transition(WorkerDraining); err != nil {
		return
	}
	if err := p.provisioner.Terminate(ctx, w.ID); err != nil {
		log.Printf("Failed to terminate worker %s: %v", w.ID, err)
	}
	if err := w.transition(WorkerTerminated); err != nil {
		log.Printf("Failed to finalize worker %s: %v", w.ID, err)
	}
	p.forget(w)
}

// takeIdle atomically claims an idle worker for jobKey.
func (p *Pool) takeIdle(jobKey string) *Worker {
	for _, w := range p.snapshot() {
		w.mu.Lock()
		if w.state == WorkerIdle {
			w.state = WorkerBusy
			w.jobKey = jobKey
			w.mu.Unlock()
			return w
		}
		w.mu.Unlock()
	}
	return nil
}

func (p *Pool) liveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (p *Pool) forget(w *Worker) {
	p.mu.Lock()
	delete(p.workers, w.ID)
	p.mu.Unlock()
}

func (p *Pool) snapshot() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w)
	}
	return out
}
