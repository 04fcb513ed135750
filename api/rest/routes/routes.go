// Package routes wires the HTTP API.
package routes

import (
	"github.com/gorilla/mux"

	"github.com/reindervandervoort/cad-pipeline/api/rest/handlers"
	"github.com/reindervandervoort/cad-pipeline/core/queue"
	"github.com/reindervandervoort/cad-pipeline/core/scheduler"
	"github.com/reindervandervoort/cad-pipeline/core/status"
	"github.com/reindervandervoort/cad-pipeline/storage"
)

// SetupRoutes configures all API routes.
func SetupRoutes(r *mux.Router, q queue.Queue, st status.Store, artifacts storage.Store, pool *scheduler.Pool) {
	jobHandler := handlers.NewJobHandler(q, st, artifacts)
	healthHandler := handlers.NewHealthHandler(q, pool)

	r.HandleFunc("/healthz", healthHandler.Health).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/jobs", jobHandler.SubmitJob).Methods("POST")
	api.HandleFunc("/models/{model}/versions", jobHandler.ListVersions).Methods("GET")
	api.HandleFunc("/models/{model}/versions/{version}", jobHandler.GetStatus).Methods("GET")
	api.HandleFunc("/models/{model}/versions/{version}/manifest", jobHandler.GetManifest).Methods("GET")
}
