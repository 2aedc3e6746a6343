package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/stratadb/strata/internal/dataset"
	"github.com/stratadb/strata/pkg/types"
)

// RowsHandler handles paginated row reads and exports.
type RowsHandler struct {
	orch *dataset.Orchestrator
}

// NewRowsHandler creates a new rows handler.
func NewRowsHandler(orch *dataset.Orchestrator) *RowsHandler {
	return &RowsHandler{orch: orch}
}

// Read handles GET /v1/datasets/{id}/rows.
//
// Query parameters: page, page_size, batch_id, columns (comma-separated
// logical names), filters (JSON array of {column, op, value|values}), and
// masked. Only admins may request masked=false.
func (h *RowsHandler) Read(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	role, ok := roleFromRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown role", requestID)
		return
	}
	applyMask, ok := maskParam(w, r, role, requestID)
	if !ok {
		return
	}

	opts, err := readOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	page, err := h.orch.ReadRows(r.Context(), r.PathValue("id"), opts, role, applyMask)
	if err != nil {
		writeStrataError(w, err, requestID)
		return
	}
	if page.Rows == nil {
		page.Rows = []types.Row{}
	}
	writeJSON(w, http.StatusOK, page)
}

// Export handles GET /v1/datasets/{id}/export. The response body is the
// exported file; format defaults to csv.
func (h *RowsHandler) Export(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	role, ok := roleFromRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown role", requestID)
		return
	}
	masked, ok := maskParam(w, r, role, requestID)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	datasetID := r.PathValue("id")

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
	case "json":
		w.Header().Set("Content-Type", "application/json")
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", datasetID+"."+format))

	err := h.orch.Export(r.Context(), datasetID, r.URL.Query().Get("batch_id"),
		format, role, masked, w)
	if err != nil {
		// Headers may already be written; report what we can.
		writeStrataError(w, err, requestID)
	}
}

// maskParam parses the masked query parameter and enforces that only admins
// bypass masking. Defaults to true.
func maskParam(w http.ResponseWriter, r *http.Request, role, requestID string) (bool, bool) {
	v := r.URL.Query().Get("masked")
	if v == "" || v == "true" || v == "1" {
		return true, true
	}
	if role != types.RoleAdmin {
		writeError(w, http.StatusForbidden, "only admins may read unmasked values", requestID)
		return false, false
	}
	return false, true
}

// readOptions parses pagination, projection, and filter query parameters.
func readOptions(r *http.Request) (types.ReadOptions, error) {
	page, pageSize := pageParams(r)
	opts := types.ReadOptions{
		Page:     page,
		PageSize: pageSize,
		BatchID:  r.URL.Query().Get("batch_id"),
	}

	if v := r.URL.Query().Get("columns"); v != "" {
		for _, col := range strings.Split(v, ",") {
			if col = strings.TrimSpace(col); col != "" {
				opts.Columns = append(opts.Columns, col)
			}
		}
	}

	if v := r.URL.Query().Get("filters"); v != "" {
		if err := json.Unmarshal([]byte(v), &opts.Filters); err != nil {
			return opts, fmt.Errorf("invalid filters: %v", err)
		}
	}
	return opts, nil
}
