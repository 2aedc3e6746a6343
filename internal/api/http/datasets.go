package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stratadb/strata/internal/dataset"
	"github.com/stratadb/strata/pkg/types"
)

// DatasetHandler handles dataset CRUD and file ingestion.
type DatasetHandler struct {
	orch           *dataset.Orchestrator
	maxUploadBytes int64
}

// NewDatasetHandler creates a new dataset handler.
func NewDatasetHandler(orch *dataset.Orchestrator, maxUploadBytes int64) *DatasetHandler {
	return &DatasetHandler{orch: orch, maxUploadBytes: maxUploadBytes}
}

// CreateDatasetRequest is the body of POST /v1/datasets.
type CreateDatasetRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Owner       string   `json:"owner"`
	Tags        []string `json:"tags,omitempty"`
	IsPublic    bool     `json:"is_public"`
	Cadence     string   `json:"cadence,omitempty"`
}

// ListResponse is the envelope for paginated collection responses.
type ListResponse struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// Create handles POST /v1/datasets.
func (h *DatasetHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if _, ok := requireWriter(w, r, requestID); !ok {
		return
	}

	var req CreateDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	ds, err := h.orch.CreateDataset(r.Context(), dataset.CreateDatasetRequest{
		Name:        req.Name,
		Description: req.Description,
		Owner:       req.Owner,
		Tags:        req.Tags,
		IsPublic:    req.IsPublic,
		Cadence:     types.Cadence(req.Cadence),
	})
	if err != nil {
		writeStrataError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusCreated, ds)
}

// List handles GET /v1/datasets.
func (h *DatasetHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	page, pageSize := pageParams(r)
	items, total, err := h.orch.ListDatasets(r.Context(), page, pageSize)
	if err != nil {
		writeStrataError(w, err, requestID)
		return
	}
	if items == nil {
		items = []*types.Dataset{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// Get handles GET /v1/datasets/{id}.
func (h *DatasetHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	ds, err := h.orch.GetDataset(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStrataError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

// UpdateDatasetRequest is the body of PATCH /v1/datasets/{id}.
// Nil fields are left unchanged.
type UpdateDatasetRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	IsPublic    *bool     `json:"is_public,omitempty"`
	Cadence     *string   `json:"cadence,omitempty"`
}

// Update handles PATCH /v1/datasets/{id}.
func (h *DatasetHandler) Update(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if _, ok := requireWriter(w, r, requestID); !ok {
		return
	}

	ds, err := h.orch.GetDataset(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStrataError(w, err, requestID)
		return
	}

	var req UpdateDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if req.Name != nil {
		ds.Name = *req.Name
	}
	if req.Description != nil {
		ds.Description = *req.Description
	}
	if req.Tags != nil {
		ds.Tags = *req.Tags
	}
	if req.IsPublic != nil {
		ds.IsPublic = *req.IsPublic
	}
	if req.Cadence != nil {
		ds.Cadence = types.Cadence(*req.Cadence)
	}

	if err := h.orch.UpdateDataset(r.Context(), ds); err != nil {
		writeStrataError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

// Delete handles DELETE /v1/datasets/{id}.
func (h *DatasetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if _, ok := requireWriter(w, r, requestID); !ok {
		return
	}

	if err := h.orch.DeleteDataset(r.Context(), r.PathValue("id")); err != nil {
		writeStrataError(w, err, requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Ingest handles POST /v1/datasets/{id}/batches. The request body is the raw
// file; format comes from the format query parameter.
func (h *DatasetHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if _, ok := requireWriter(w, r, requestID); !ok {
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		writeError(w, http.StatusBadRequest, "format query parameter is required", requestID)
		return
	}

	var batchKey time.Time
	if v := r.URL.Query().Get("batch_key"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid batch_key: %v", err), requestID)
			return
		}
		batchKey = parsed
	}

	body := http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	batch, err := h.orch.Ingest(r.Context(), dataset.IngestRequest{
		DatasetID: r.PathValue("id"),
		BatchKey:  batchKey,
		Uploader:  r.Header.Get("X-Strata-User"),
		Format:    format,
		File:      body,
	})
	if err != nil {
		writeStrataError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

// requireWriter resolves the role and rejects viewers on mutating endpoints.
func requireWriter(w http.ResponseWriter, r *http.Request, requestID string) (string, bool) {
	role, ok := roleFromRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown role", requestID)
		return "", false
	}
	if role == types.RoleViewer {
		writeError(w, http.StatusForbidden, "viewers cannot modify datasets", requestID)
		return "", false
	}
	return role, true
}

// pageParams extracts page and page_size query parameters with defaults.
func pageParams(r *http.Request) (int, int) {
	page := 1
	pageSize := 50
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pageSize = n
		}
	}
	return page, pageSize
}
