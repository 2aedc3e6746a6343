package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stratadb/strata/internal/cache"
	"github.com/stratadb/strata/internal/catalog"
	"github.com/stratadb/strata/internal/dataset"
	"github.com/stratadb/strata/internal/ledger"
	"github.com/stratadb/strata/internal/rowstore"
	"github.com/stratadb/strata/internal/schema"
	"github.com/stratadb/strata/pkg/types"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	db, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	rows, err := rowstore.Open(filepath.Join(dir, "rows.db"), 0)
	if err != nil {
		t.Fatalf("failed to open row store: %v", err)
	}
	t.Cleanup(func() { rows.Close() })

	orch := dataset.NewOrchestrator(db, schema.NewRegistry(db), ledger.NewLedger(db),
		rows, cache.NewMemoryCache(), nil, nil)

	handler := DefaultMiddleware()(NewRouter(orch, 1<<20))
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, role, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if role != "" {
		req.Header.Set(roleHeader, role)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return resp, raw
}

func createTestDataset(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, body := doRequest(t, http.MethodPost, srv.URL+"/v1/datasets", types.RoleAdmin,
		`{"name":"signups","owner":"data-team","cadence":"daily"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create dataset status = %d, body %s", resp.StatusCode, body)
	}
	var ds types.Dataset
	if err := json.Unmarshal(body, &ds); err != nil {
		t.Fatalf("failed to decode dataset: %v", err)
	}
	return ds.ID
}

func ingestTestCSV(t *testing.T, srv *httptest.Server, datasetID string) types.Batch {
	t.Helper()
	csv := "user_id,email\n1,alice@example.com\n2,bob@example.com\n"
	resp, body := doRequest(t, http.MethodPost,
		srv.URL+"/v1/datasets/"+datasetID+"/batches?format=csv", types.RoleContributor, csv)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status = %d, body %s", resp.StatusCode, body)
	}
	var batch types.Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		t.Fatalf("failed to decode batch: %v", err)
	}
	return batch
}

func TestAPI_DatasetLifecycle(t *testing.T) {
	srv := newTestServer(t)
	id := createTestDataset(t, srv)

	batch := ingestTestCSV(t, srv, id)
	if batch.Status != types.BatchReady || batch.RowCount != 2 {
		t.Errorf("batch = %+v, want ready with 2 rows", batch)
	}

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/v1/datasets/"+id, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get dataset status = %d", resp.StatusCode)
	}
	var ds types.Dataset
	if err := json.Unmarshal(body, &ds); err != nil {
		t.Fatalf("failed to decode dataset: %v", err)
	}
	if ds.RowCount != 2 || ds.SchemaVersion != 1 {
		t.Errorf("dataset = rows %d version %d, want 2 rows at version 1", ds.RowCount, ds.SchemaVersion)
	}

	resp, _ = doRequest(t, http.MethodDelete, srv.URL+"/v1/datasets/"+id, types.RoleAdmin, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete dataset status = %d, want 204", resp.StatusCode)
	}
	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/v1/datasets/"+id, "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestAPI_RowsMaskedByDefault(t *testing.T) {
	srv := newTestServer(t)
	id := createTestDataset(t, srv)
	ingestTestCSV(t, srv, id)

	resp, _ := doRequest(t, http.MethodPatch,
		srv.URL+"/v1/datasets/"+id+"/columns/email/masking", types.RoleAdmin, `{"rule":"email"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("masking patch status = %d", resp.StatusCode)
	}

	// Default role is viewer; masked values come back.
	resp, body := doRequest(t, http.MethodGet, srv.URL+"/v1/datasets/"+id+"/rows?page=1&page_size=10", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rows status = %d, body %s", resp.StatusCode, body)
	}
	if strings.Contains(string(body), "alice@example.com") {
		t.Error("viewer response leaked a raw email")
	}
	if !strings.Contains(string(body), "al***@example.com") {
		t.Errorf("viewer response missing masked email: %s", body)
	}

	// masked=false requires admin.
	resp, _ = doRequest(t, http.MethodGet,
		srv.URL+"/v1/datasets/"+id+"/rows?masked=false", types.RoleViewer, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("unmasked read as viewer status = %d, want 403", resp.StatusCode)
	}
	resp, body = doRequest(t, http.MethodGet,
		srv.URL+"/v1/datasets/"+id+"/rows?masked=false&page=1&page_size=10", types.RoleAdmin, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unmasked read as admin status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "alice@example.com") {
		t.Error("admin unmasked response missing raw email")
	}
}

func TestAPI_ViewerCannotMutate(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doRequest(t, http.MethodPost, srv.URL+"/v1/datasets", types.RoleViewer,
		`{"name":"x","owner":"o"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("viewer create status = %d, want 403", resp.StatusCode)
	}

	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/v1/datasets", "intruder", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown role status = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_SchemaEndpoints(t *testing.T) {
	srv := newTestServer(t)
	id := createTestDataset(t, srv)
	ingestTestCSV(t, srv, id)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/v1/datasets/"+id+"/schema", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("schema status = %d", resp.StatusCode)
	}
	var columns []types.Column
	if err := json.Unmarshal(body, &columns); err != nil {
		t.Fatalf("failed to decode schema: %v", err)
	}
	if len(columns) != 2 {
		t.Errorf("schema columns = %d, want 2", len(columns))
	}

	resp, _ = doRequest(t, http.MethodDelete,
		srv.URL+"/v1/datasets/"+id+"/columns/email", types.RoleAdmin, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("drop column status = %d", resp.StatusCode)
	}

	resp, body = doRequest(t, http.MethodGet, srv.URL+"/v1/datasets/"+id+"/schema/history", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	var history []types.SchemaVersion
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(history) != 2 || history[0].ChangeSummary != "Dropped: email" {
		t.Errorf("history = %+v, want drop recorded as version 2", history)
	}

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/v1/datasets/"+id+"/schema?version=0", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("schema version=0 status = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_BatchEndpoints(t *testing.T) {
	srv := newTestServer(t)
	id := createTestDataset(t, srv)
	batch := ingestTestCSV(t, srv, id)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/v1/datasets/"+id+"/batches", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list batches status = %d", resp.StatusCode)
	}
	var list struct {
		Items []types.Batch `json:"items"`
		Total int64         `json:"total"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("failed to decode batch list: %v", err)
	}
	if list.Total != 1 || len(list.Items) != 1 {
		t.Errorf("batch list = %+v, want one batch", list)
	}

	resp, _ = doRequest(t, http.MethodDelete,
		srv.URL+"/v1/datasets/"+id+"/batches/"+batch.BatchID, types.RoleContributor, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete batch status = %d", resp.StatusCode)
	}
	resp, _ = doRequest(t, http.MethodGet,
		srv.URL+"/v1/datasets/"+id+"/batches/"+batch.BatchID, "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get deleted batch status = %d, want 404", resp.StatusCode)
	}
}

func TestAPI_ExportCSV(t *testing.T) {
	srv := newTestServer(t)
	id := createTestDataset(t, srv)
	ingestTestCSV(t, srv, id)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/datasets/"+id+"/export?format=csv", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("export content type = %q, want text/csv", ct)
	}
}
