package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reindervandervoort/cad-pipeline/core/models"
	"github.com/reindervandervoort/cad-pipeline/core/queue"
	"github.com/reindervandervoort/cad-pipeline/core/status"
	"github.com/reindervandervoort/cad-pipeline/storage"
)

func testRouter(t *testing.T) (*mux.Router, *queue.MemoryQueue, status.Store, *storage.LocalStore) {
	t.Helper()
	q := queue.NewMemoryQueue(time.Minute, 3)
	st := status.NewMemoryStore()
	artifacts := storage.NewLocalStore(t.TempDir(), "")

	r := mux.NewRouter()
	h := NewJobHandler(q, st, artifacts)
	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/jobs", h.SubmitJob).Methods("POST")
	api.HandleFunc("/models/{model}/versions", h.ListVersions).Methods("GET")
	api.HandleFunc("/models/{model}/versions/{version}", h.GetStatus).Methods("GET")
	api.HandleFunc("/models/{model}/versions/{version}/manifest", h.GetManifest).Methods("GET")
	return r, q, st, artifacts
}

const submitBody = `{
	"modelName": "demo",
	"version": "1.0.1",
	"sourceRepo": "https://example.com/models.git",
	"sourceCommit": "abc123",
	"scriptPath": "models/demo/main.py"
}`

func TestSubmitJob_QueuesAndRecordsStatus(t *testing.T) {
	r, q, st, _ := testRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(submitBody)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	jobStatus, err := st.Get(context.Background(), "demo", "1.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, jobStatus.Status)
	assert.Equal(t, 0, jobStatus.Progress)
}

func TestSubmitJob_MissingFields(t *testing.T) {
	r, _, _, _ := testRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"modelName":"demo"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitJob_CompletedVersionConflicts(t *testing.T) {
	r, _, st, _ := testRouter(t)

	job := &models.Job{ModelName: "demo", Version: "1.0.1"}
	require.NoError(t, st.Create(context.Background(), job))
	require.NoError(t, st.MarkSucceeded(context.Background(), "demo", "1.0.1"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(submitBody)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitJob_RunningVersionConflicts(t *testing.T) {
	r, q, st, _ := testRouter(t)

	job := &models.Job{ModelName: "demo", Version: "1.0.1"}
	require.NoError(t, st.Create(context.Background(), job))
	require.NoError(t, st.SetStage(context.Background(), "demo", "1.0.1", models.StageExecuting))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(submitBody)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Nothing was enqueued and the worker's progress is untouched.
	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	jobStatus, err := st.Get(context.Background(), "demo", "1.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, jobStatus.Status)
	assert.Equal(t, models.StageExecuting.Progress, jobStatus.Progress)
}

func TestGetStatus(t *testing.T) {
	r, _, st, _ := testRouter(t)

	require.NoError(t, st.Create(context.Background(), &models.Job{ModelName: "demo", Version: "1.0.1"}))
	require.NoError(t, st.SetStage(context.Background(), "demo", "1.0.1", models.StageMeshing))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models/demo/versions/1.0.1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.JobStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "meshing", got.Stage)
	assert.Equal(t, 50, got.Progress)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models/demo/versions/9.9.9", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListVersions(t *testing.T) {
	r, _, st, _ := testRouter(t)

	for _, v := range []string{"1.0.1", "1.0.2"} {
		require.NoError(t, st.Create(context.Background(), &models.Job{ModelName: "demo", Version: v}))
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models/demo/versions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Versions []models.JobStatus `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got.Versions, 2)
}

func TestGetManifest(t *testing.T) {
	r, _, _, artifacts := testRouter(t)

	require.NoError(t, artifacts.Put(context.Background(),
		"models/demo/1.0.1/assembly.json", "application/json",
		[]byte(`{"modelName":"demo","version":"1.0.1","solids":[]}`)))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models/demo/versions/1.0.1/manifest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"solids"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models/demo/versions/9.9.9/manifest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
