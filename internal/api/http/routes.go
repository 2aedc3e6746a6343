package http

import (
	"net/http"

	"github.com/stratadb/strata/internal/dataset"
)

// NewRouter registers all API routes on a fresh mux. Middleware is applied
// by the caller around the returned handler.
func NewRouter(orch *dataset.Orchestrator, maxUploadBytes int64) *http.ServeMux {
	datasets := NewDatasetHandler(orch, maxUploadBytes)
	rows := NewRowsHandler(orch)
	schemas := NewSchemaHandler(orch)
	batches := NewBatchHandler(orch)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/datasets", datasets.Create)
	mux.HandleFunc("GET /v1/datasets", datasets.List)
	mux.HandleFunc("GET /v1/datasets/{id}", datasets.Get)
	mux.HandleFunc("PATCH /v1/datasets/{id}", datasets.Update)
	mux.HandleFunc("DELETE /v1/datasets/{id}", datasets.Delete)

	mux.HandleFunc("POST /v1/datasets/{id}/batches", datasets.Ingest)
	mux.HandleFunc("GET /v1/datasets/{id}/batches", batches.List)
	mux.HandleFunc("GET /v1/datasets/{id}/batches/{batchID}", batches.Get)
	mux.HandleFunc("DELETE /v1/datasets/{id}/batches/{batchID}", batches.Delete)

	mux.HandleFunc("GET /v1/datasets/{id}/rows", rows.Read)
	mux.HandleFunc("GET /v1/datasets/{id}/export", rows.Export)

	mux.HandleFunc("GET /v1/datasets/{id}/schema", schemas.Get)
	mux.HandleFunc("GET /v1/datasets/{id}/schema/history", schemas.History)
	mux.HandleFunc("GET /v1/datasets/{id}/columns", schemas.Columns)
	mux.HandleFunc("PATCH /v1/datasets/{id}/columns/{column}/masking", schemas.UpdateMasking)
	mux.HandleFunc("DELETE /v1/datasets/{id}/columns/{column}", schemas.DropColumn)

	return mux
}
