package http

import (
	"net/http"

	"github.com/stratadb/strata/internal/dataset"
	"github.com/stratadb/strata/pkg/types"
)

// BatchHandler handles batch listing and deletion.
type BatchHandler struct {
	orch *dataset.Orchestrator
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(orch *dataset.Orchestrator) *BatchHandler {
	return &BatchHandler{orch: orch}
}

// List handles GET /v1/datasets/{id}/batches.
func (h *BatchHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	page, pageSize := pageParams(r)
	items, total, err := h.orch.ListBatches(r.Context(), r.PathValue("id"), page, pageSize)
	if err != nil {
		writeStrataError(w, err, requestID)
		return
	}
	if items == nil {
		items = []*types.Batch{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// Get handles GET /v1/datasets/{id}/batches/{batchID}.
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	batch, err := h.orch.GetBatch(r.Context(), r.PathValue("id"), r.PathValue("batchID"))
	if err != nil {
		writeStrataError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// Delete handles DELETE /v1/datasets/{id}/batches/{batchID}.
func (h *BatchHandler) Delete(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if _, ok := requireWriter(w, r, requestID); !ok {
		return
	}

	err := h.orch.DeleteBatch(r.Context(), r.PathValue("id"), r.PathValue("batchID"))
	if err != nil {
		writeStrataError(w, err, requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
