package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/reindervandervoort/cad-pipeline/core/queue"
)

// HostLauncher launches and terminates remote worker hosts. The AWS
// provider implements it with EC2 instances whose bootstrap starts a
// worker binary against the shared queue.
type HostLauncher interface {
	LaunchWorkerHost(ctx context.Context) (hostID string, err error)
	TerminateWorkerHost(ctx context.Context, hostID string) error
}

// FleetScaler sizes the remote worker-host fleet from queue depth.
// Hosts pull jobs themselves, so the scaler only decides how many
// exist: scale up when the backlog outgrows the fleet, scale down
// after a sustained quiet period.
type FleetScaler struct {
	Queue    queue.Queue
	Launcher HostLauncher

	MinHosts int
	MaxHosts int
	// JobsPerHost is the backlog each host is expected to absorb
	// before another one is launched.
	JobsPerHost int
	// IdleAfter is how long the queue must stay empty before hosts
	// above the minimum are terminated.
	IdleAfter time.Duration

	mu        sync.Mutex
	hosts     []string
	lastBusy  time.Time
	startedAt time.Time
}

// NewFleetScaler creates a scaler with the given bounds.
func NewFleetScaler(q queue.Queue, launcher HostLauncher, min, max, jobsPerHost int, idleAfter time.Duration) *FleetScaler {
	if jobsPerHost < 1 {
		jobsPerHost = 1
	}
	return &FleetScaler{
		Queue:       q,
		Launcher:    launcher,
		MinHosts:    min,
		MaxHosts:    max,
		JobsPerHost: jobsPerHost,
		IdleAfter:   idleAfter,
		startedAt:   time.Now(),
	}
}

// Start runs the scaling loop until ctx is cancelled, then terminates
// the fleet.
func (f *FleetScaler) Start(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.terminateAll(context.Background())
			return
		case <-ticker.C:
			if err := f.CheckAndScale(ctx); err != nil {
				log.Printf("Fleet scaler error: %v", err)
			}
		}
	}
}

// CheckAndScale performs one sizing pass.
func (f *FleetScaler) CheckAndScale(ctx context.Context) error {
	depth, err := f.Queue.Depth(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue depth: %w", err)
	}

	f.mu.Lock()
	if depth > 0 {
		f.lastBusy = time.Now()
	}
	current := len(f.hosts)
	f.mu.Unlock()

	want := (depth + f.JobsPerHost - 1) / f.JobsPerHost
	if want < f.MinHosts {
		want = f.MinHosts
	}
	if want > f.MaxHosts {
		want = f.MaxHosts
	}

	if want > current {
		log.Printf("Queue depth %d, scaling fleet %d -> %d hosts", depth, current, want)
		return f.scaleUp(ctx, want-current)
	}

	if depth == 0 && current > f.MinHosts && f.quietFor(f.IdleAfter) {
		log.Printf("Queue idle for %s, scaling fleet %d -> %d hosts", f.IdleAfter, current, f.MinHosts)
		return f.scaleDown(ctx, current-f.MinHosts)
	}
	return nil
}

// HostCount returns the number of hosts the scaler currently manages.
func (f *FleetScaler) HostCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hosts)
}

func (f *FleetScaler) quietFor(d time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	since := f.lastBusy
	if since.IsZero() {
		since = f.startedAt
	}
	return time.Since(since) >= d
}

func (f *FleetScaler) scaleUp(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		hostID, err := f.Launcher.LaunchWorkerHost(ctx)
		if err != nil {
			return fmt.Errorf("failed to launch worker host: %w", err)
		}
		f.mu.Lock()
		f.hosts = append(f.hosts, hostID)
		f.mu.Unlock()
		log.Printf("Launched worker host %s", hostID)
	}
	return nil
}

func (f *FleetScaler) scaleDown(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		f.mu.Lock()
		if len(f.hosts) == 0 {
			f.mu.Unlock()
			return nil
		}
		hostID := f.hosts[len(f.hosts)-1]
		f.hosts = f.hosts[:len(f.hosts)-1]
		f.mu.Unlock()

		if err := f.Launcher.TerminateWorkerHost(ctx, hostID); err != nil {
			return fmt.Errorf("failed to terminate worker host %s: %w", hostID, err)
		}
		log.Printf("Terminated worker host %s", hostID)
	}
	return nil
}

func (f *FleetScaler) terminateAll(ctx context.Context) {
	f.mu.Lock()
	hosts := f.hosts
	f.hosts = nil
	f.mu.Unlock()

	for _, hostID := range hosts {
		if err := f.Launcher.TerminateWorkerHost(ctx, hostID); err != nil {
			log.Printf("Failed to terminate worker host %s: %v", hostID, err)
		}
	}
}
