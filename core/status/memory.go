package status

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

// MemoryStore is the in-process Store used by local deployments and
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.JobStatus
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.JobStatus)}
}

func key(model, version string) string {
	return model + "/" + version
}

// Create writes the initial queued record.
func (s *MemoryStore) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key(job.ModelName, job.Version)]; ok {
		if existing.Status.Terminal() {
			return ErrTerminal
		}
		if existing.Status == models.StatusRunning {
			return ErrInFlight
		}
	}

	s.records[key(job.ModelName, job.Version)] = &models.JobStatus{
		ModelName:    job.ModelName,
		Version:      job.Version,
		Status:       models.StatusQueued,
		Stage:        models.StageQueued.Label,
		Progress:     models.StageQueued.Progress,
		SourceCommit: job.SourceCommit,
		UpdatedAt:    time.Now(),
	}
	return nil
}

// SetStage moves a running record forward; progress never regresses.
func (s *MemoryStore) SetStage(_ context.Context, model, version string, stage models.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key(model, version)]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		return ErrTerminal
	}

	rec.Status = models.StatusRunning
	rec.Stage = stage.Label
	if stage.Progress > rec.Progress {
		rec.Progress = stage.Progress
	}
	rec.UpdatedAt = time.Now()
	return nil
}

// MarkSucceeded finalizes the record at 100%.
func (s *MemoryStore) MarkSucceeded(_ context.Context, model, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key(model, version)]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		return ErrTerminal
	}

	now := time.Now()
	rec.Status = models.StatusSucceeded
	rec.Stage = models.StageComplete.Label
	rec.Progress = models.StageComplete.Progress
	rec.UpdatedAt = now
	rec.CompletedAt = &now
	return nil
}

// MarkFailed finalizes the record with the error kind and message.
// Progress freezes wherever the job was.
func (s *MemoryStore) MarkFailed(_ context.Context, model, version string, kind models.ErrorKind, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key(model, version)]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		return ErrTerminal
	}

	now := time.Now()
	rec.Status = models.StatusFailed
	rec.ErrorKind = string(kind)
	rec.Error = message
	rec.UpdatedAt = now
	rec.CompletedAt = &now
	return nil
}

// Get returns a copy of the record.
func (s *MemoryStore) Get(_ context.Context, model, version string) (*models.JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key(model, version)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListByModel returns all versions for a model, newest first.
func (s *MemoryStore) ListByModel(_ context.Context, model string) ([]*models.JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.JobStatus
	for _, rec := range s.records {
		if rec.ModelName == model {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
