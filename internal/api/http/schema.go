package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/stratadb/strata/internal/dataset"
	"github.com/stratadb/strata/pkg/types"
)

// SchemaHandler handles schema inspection and column-level changes.
type SchemaHandler struct {
	orch *dataset.Orchestrator
}

// NewSchemaHandler creates a new schema handler.
func NewSchemaHandler(orch *dataset.Orchestrator) *SchemaHandler {
	return &SchemaHandler{orch: orch}
}

// Get handles GET /v1/datasets/{id}/schema. The version query parameter
// selects a historical version; absent means latest.
func (h *SchemaHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	version := 0
	if v := r.URL.Query().Get("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid version %q", v), requestID)
			return
		}
		version = n
	}

	columns, err := h.orch.GetSchema(r.Context(), r.PathValue("id"), version)
	if err != nil {
		writeStrataError(w, err, requestID)
		return
	}
	if columns == nil {
		columns = []types.Column{}
	}
	writeJSON(w, http.StatusOK, columns)
}

// Columns handles GET /v1/datasets/{id}/columns, the full listing including
// soft-deleted columns.
func (h *SchemaHandler) Columns(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	columns, err := h.orch.GetAllColumns(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStrataError(w, err, requestID)
		return
	}
	if columns == nil {
		columns = []types.Column{}
	}
	writeJSON(w, http.StatusOK, columns)
}

// History handles GET /v1/datasets/{id}/schema/history.
func (h *SchemaHandler) History(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	history, err := h.orch.GetSchemaHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStrataError(w, err, requestID)
		return
	}
	if history == nil {
		history = []types.SchemaVersion{}
	}
	writeJSON(w, http.StatusOK, history)
}

// MaskingRequest is the body of PATCH /v1/datasets/{id}/columns/{column}/masking.
type MaskingRequest struct {
	Rule string `json:"rule"`
}

// UpdateMasking handles PATCH /v1/datasets/{id}/columns/{column}/masking.
func (h *SchemaHandler) UpdateMasking(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if _, ok := requireWriter(w, r, requestID); !ok {
		return
	}

	var req MaskingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	err := h.orch.UpdateMaskingRule(r.Context(), r.PathValue("id"), r.PathValue("column"), req.Rule)
	if err != nil {
		writeStrataError(w, err, requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DropColumn handles DELETE /v1/datasets/{id}/columns/{column}.
func (h *SchemaHandler) DropColumn(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if _, ok := requireWriter(w, r, requestID); !ok {
		return
	}

	err := h.orch.DropColumn(r.Context(), r.PathValue("id"), r.PathValue("column"))
	if err != nil {
		writeStrataError(w, err, requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
