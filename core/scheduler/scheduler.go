package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/reindervandervoort/cad-pipeline/core/models"
	"github.com/reindervandervoort/cad-pipeline/core/queue"
	"github.com/reindervandervoort/cad-pipeline/core/sandbox"
	"github.com/reindervandervoort/cad-pipeline/core/status"
)

// JobRunner executes one job to a terminal status. Satisfied by
// executor.Executor.
type JobRunner interface {
	Run(ctx context.Context, job *models.Job) error
}

// Scheduler drains the queue into the worker pool. One Scheduler runs
// per deployment; workers pull nothing themselves in local mode.
type Scheduler struct {
	Queue  queue.Queue
	Pool   *Pool
	Runner JobRunner
	Status status.Store

	// PollTimeout bounds one empty Receive before the loop re-checks
	// for shutdown.
	PollTimeout time.Duration

	// MaxDeliveries mirrors the queue's delivery budget so the final
	// failed provisioning attempt records its own error kind instead
	// of the generic dead-letter message.
	MaxDeliveries int

	wg sync.WaitGroup
}

// New creates a scheduler over the given queue, pool, and runner.
func New(q queue.Queue, pool *Pool, runner JobRunner, st status.Store) *Scheduler {
	return &Scheduler{
		Queue:         q,
		Pool:          pool,
		Runner:        runner,
		Status:        st,
		PollTimeout:   5 * time.Second,
		MaxDeliveries: 3,
	}
}

// Start runs the dispatch loop and the dead-letter reaper until ctx
// is cancelled, then waits for in-flight jobs to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reapDeadLetters(ctx)
	}()

	for ctx.Err() == nil {
		s.dispatchOne(ctx)
	}
	s.wg.Wait()
}

// dispatchOne receives one message and hands it to a worker. A
// saturated pool or a provisioning failure leaves the message on the
// queue for a later delivery attempt.
func (s *Scheduler) dispatchOne(ctx context.Context) {
	msg, handle, err := s.Queue.Receive(ctx, s.PollTimeout)
	if err == queue.ErrEmpty || ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Printf("Failed to receive from queue: %v", err)
		return
	}

	w, err := s.Pool.Acquire(ctx, msg.Job.Key())
	if err != nil {
		if err == ErrSaturated {
			log.Printf("Pool saturated, requeueing job %s", msg.Job.Key())
		} else {
			log.Printf("%s: requeueing job %s: %v", models.ErrProvisioning, msg.Job.Key(), err)
			// This nack dead-letters the message once the budget is
			// spent, so record the real failure kind now.
			if s.MaxDeliveries > 0 && msg.Attempts >= s.MaxDeliveries {
				failErr := s.Status.MarkFailed(ctx, msg.Job.ModelName, msg.Job.Version,
					models.ErrProvisioning, "failed to provision a worker after retries: "+err.Error())
				if failErr != nil && failErr != status.ErrTerminal {
					log.Printf("Failed to record provisioning failure for %s: %v", msg.Job.Key(), failErr)
				}
			}
		}
		if nackErr := s.Queue.Nack(ctx, handle); nackErr != nil {
			log.Printf("Failed to nack job %s: %v", msg.Job.Key(), nackErr)
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runOn(ctx, w, msg, handle)
	}()
}

// runOn executes the job on its assigned worker and settles the queue
// delivery. The delivery is acked once the job reached a terminal
// status; an interrupted run is nacked so the queue redelivers it.
func (s *Scheduler) runOn(ctx context.Context, w *Worker, msg *queue.Message, handle queue.AckHandle) {
	log.Printf("Worker %s picked up job %s (attempt %d)", w.ID, msg.Job.Key(), msg.Attempts)

	runErr := s.Runner.Run(ctx, msg.Job)

	if s.isTerminal(ctx, msg.Job) {
		if err := s.Queue.Ack(ctx, handle); err != nil {
			log.Printf("Failed to ack job %s: %v", msg.Job.Key(), err)
		}
	} else {
		log.Printf("Job %s did not reach a terminal status, requeueing: %v", msg.Job.Key(), runErr)
		if err := s.Queue.Nack(ctx, handle); err != nil {
			log.Printf("Failed to nack job %s: %v", msg.Job.Key(), err)
		}
	}

	s.Pool.Release(ctx, w, sandbox.IsFatalToWorker(runErr))
}

func (s *Scheduler) isTerminal(ctx context.Context, job *models.Job) bool {
	rec, err := s.Status.Get(ctx, job.ModelName, job.Version)
	return err == nil && rec.Status.Terminal()
}

// reapDeadLetters drains the dead-letter channel and writes terminal
// failures for jobs that exhausted their delivery budget without ever
// reaching a terminal status on their own.
func (s *Scheduler) reapDeadLetters(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.DrainDeadLetters(ctx)
		}
	}
}

// DrainDeadLetters processes every currently dead-lettered message.
func (s *Scheduler) DrainDeadLetters(ctx context.Context) {
	for {
		msg, err := s.Queue.ReceiveDead(ctx)
		if err == queue.ErrEmpty {
			return
		}
		if err != nil {
			log.Printf("Failed to receive dead letter: %v", err)
			return
		}

		if s.isTerminal(ctx, msg.Job) {
			continue
		}

		log.Printf("Job %s exhausted %d delivery attempts, marking failed", msg.Job.Key(), msg.Attempts)
		// The real cause is unknown here (worker crashes, saturation),
		// so no error kind: blaming the script would mislead pollers.
		err = s.Status.MarkFailed(ctx, msg.Job.ModelName, msg.Job.Version,
			"", "job exhausted its delivery attempts without completing")
		if err != nil && err != status.ErrTerminal {
			log.Printf("Failed to record dead-letter failure for %s: %v", msg.Job.Key(), err)
		}
	}
}
