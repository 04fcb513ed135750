// Package handlers implements the HTTP request handlers.
package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/reindervandervoort/cad-pipeline/core/models"
	"github.com/reindervandervoort/cad-pipeline/core/queue"
	"github.com/reindervandervoort/cad-pipeline/core/status"
	"github.com/reindervandervoort/cad-pipeline/storage"
)

// JobHandler handles job submission and status queries.
type JobHandler struct {
	queue     queue.Queue
	status    status.Store
	artifacts storage.Store
}

// NewJobHandler creates a new job handler.
func NewJobHandler(q queue.Queue, st status.Store, artifacts storage.Store) *JobHandler {
	return &JobHandler{queue: q, status: st, artifacts: artifacts}
}

// SubmitJobRequest represents the request to submit a job.
type SubmitJobRequest struct {
	ModelName         string                 `json:"modelName"`
	Version           string                 `json:"version"`
	SourceRepo        string                 `json:"sourceRepo"`
	SourceCommit      string                 `json:"sourceCommit"`
	ScriptPath        string                 `json:"scriptPath"`
	ChangeDescription string                 `json:"changeDescription"`
	Parameters        map[string]interface{} `json:"parameters"`
}

// SubmitJobResponse represents the response after submitting a job.
type SubmitJobResponse struct {
	ModelName   string    `json:"modelName"`
	Version     string    `json:"version"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// SubmitJob handles POST /v1/jobs.
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ModelName == "" || req.Version == "" || req.SourceRepo == "" || req.ScriptPath == "" {
		http.Error(w, "modelName, version, sourceRepo and scriptPath are required", http.StatusBadRequest)
		return
	}

	job := &models.Job{
		ModelName:         req.ModelName,
		Version:           req.Version,
		SourceRepo:        req.SourceRepo,
		SourceCommit:      req.SourceCommit,
		ScriptPath:        req.ScriptPath,
		ChangeDescription: req.ChangeDescription,
		Parameters:        req.Parameters,
		SubmittedAt:       time.Now(),
	}

	// Reserve the status record first so a duplicate submission of a
	// finished version is rejected before anything is queued.
	if err := h.status.Create(r.Context(), job); err != nil {
		if err == status.ErrTerminal {
			http.Error(w, "Version already completed; submit a new version", http.StatusConflict)
			return
		}
		if err == status.ErrInFlight {
			http.Error(w, "Version is currently being processed", http.StatusConflict)
			return
		}
		http.Error(w, "Failed to create job: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := h.queue.Submit(r.Context(), job); err != nil {
		http.Error(w, "Failed to enqueue job: "+err.Error(), http.StatusInternalServerError)
		return
	}

	log.Printf("Job %s submitted", job.Key())

	writeJSON(w, http.StatusAccepted, SubmitJobResponse{
		ModelName:   job.ModelName,
		Version:     job.Version,
		Status:      string(models.StatusQueued),
		SubmittedAt: job.SubmittedAt,
	})
}

// GetStatus handles GET /v1/models/{model}/versions/{version}.
func (h *JobHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	rec, err := h.status.Get(r.Context(), vars["model"], vars["version"])
	if err == status.ErrNotFound {
		http.Error(w, "Unknown model version", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to read status: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListVersions handles GET /v1/models/{model}/versions.
func (h *JobHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	recs, err := h.status.ListByModel(r.Context(), vars["model"])
	if err != nil {
		http.Error(w, "Failed to list versions: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model":    vars["model"],
		"versions": recs,
	})
}

// GetManifest handles GET /v1/models/{model}/versions/{version}/manifest.
// It serves the uploaded assembly document, so it only exists for
// succeeded versions.
func (h *JobHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	job := &models.Job{ModelName: vars["model"], Version: vars["version"]}

	data, err := h.artifacts.Get(r.Context(), job.ArtifactPrefix()+"/assembly.json")
	if err == storage.ErrNotFound {
		http.Error(w, "No manifest for this version", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to read manifest: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
