package models

import (
	"fmt"
	"time"
)

// Job represents a model-generation request submitted to the pipeline.
// It is immutable once created; a re-attempt is a new Job with a new
// version, never a mutation of an existing one.
type Job struct {
	ModelName         string
	Version           string // opaque, caller-supplied, e.g. "1.0.42"
	SourceRepo        string // git URL or local path
	SourceCommit      string // pinned commit hash
	ScriptPath        string // path of the generation script inside the repo
	ChangeDescription string
	Parameters        map[string]interface{} // optional external parameter blob
	SubmittedAt       time.Time
}

// Key returns the composite key identifying this job and all of its
// downstream records.
func (j *Job) Key() string {
	return fmt.Sprintf("%s/%s", j.ModelName, j.Version)
}

// ArtifactPrefix returns the durable-storage prefix for this job's
// artifacts. Re-running the same (model, version) overwrites in place.
func (j *Job) ArtifactPrefix() string {
	return fmt.Sprintf("models/%s/%s", j.ModelName, j.Version)
}

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Stage is a free-text progress marker with an associated progress
// percentage. The executor walks the ladder in order.
type Stage struct {
	Label    string
	Progress int
}

var (
	StageQueued    = Stage{"queued", 0}
	StageCloning   = Stage{"cloning", 10}
	StageExecuting = Stage{"executing", 30}
	StageMeshing   = Stage{"meshing", 50}
	StageManifest  = Stage{"manifest", 70}
	StageUploading = Stage{"uploading", 85}
	StageNotifying = Stage{"notifying", 90}
	StageComplete  = Stage{"complete", 100}
)

// JobStatus is the queryable per-job state record. Progress is
// monotonically non-decreasing while running; once Status is terminal
// the record never changes again.
type JobStatus struct {
	ModelName    string     `json:"modelName"`
	Version      string     `json:"version"`
	Status       Status     `json:"status"`
	Stage        string     `json:"stage"`
	Progress     int        `json:"progress"`
	ErrorKind    string     `json:"errorKind,omitempty"`
	Error        string     `json:"error,omitempty"`
	SourceCommit string     `json:"sourceCommit"`
	UpdatedAt    time.Time  `json:"timestamp"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// CompletionEvent is the terminal fan-out payload delivered to
// subscribers at most once per job.
type CompletionEvent struct {
	ModelName      string    `json:"modelName"`
	Version        string    `json:"version"`
	Status         Status    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	ArtifactPrefix string    `json:"artifactPrefix"`
	ScreenshotURLs []string  `json:"screenshotUrls"`
}
