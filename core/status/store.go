// Package status persists the queryable per-job state record. Records
// are keyed by (model, version) and never contended across jobs. The
// store, not its callers, enforces the two invariants polling
// consumers rely on: progress never decreases, and a terminal record
// never transitions again.
package status

import (
	"context"
	"errors"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

// ErrNotFound is returned when no record exists for (model, version).
var ErrNotFound = errors.New("status: record not found")

// ErrTerminal is returned on any write against a record that already
// reached succeeded or failed. A new attempt must be a new job version.
var ErrTerminal = errors.New("status: record is terminal")

// ErrInFlight is returned by Create while a record is running. The
// in-flight worker owns the record; resetting it would show pollers a
// progress regression.
var ErrInFlight = errors.New("status: record is in flight")

// Store is the status store contract.
type Store interface {
	// Create writes the initial queued record. Re-creating a queued
	// record resets it (idempotent resubmission); a running record
	// returns ErrInFlight and a terminal one ErrTerminal.
	Create(ctx context.Context, job *models.Job) error

	// SetStage moves a running record to the given stage. Progress
	// regressions are clamped, never written.
	SetStage(ctx context.Context, model, version string, stage models.Stage) error

	// MarkSucceeded finalizes the record at 100%.
	MarkSucceeded(ctx context.Context, model, version string) error

	// MarkFailed finalizes the record with an error kind and message.
	MarkFailed(ctx context.Context, model, version string, kind models.ErrorKind, message string) error

	// Get returns the record for (model, version).
	Get(ctx context.Context, model, version string) (*models.JobStatus, error)

	// ListByModel returns all versions recorded for a model, newest
	// first.
	ListByModel(ctx context.Context, model string) ([]*models.JobStatus, error)
}
