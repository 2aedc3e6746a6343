package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stratadb/strata/internal/catalog"
	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Now().UTC()
	ds := &types.Dataset{
		ID: "ds-1", Name: "events", Owner: "data-team",
		Cadence: types.CadenceDaily, Status: types.DatasetReady,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := db.CreateDataset(context.Background(), ds); err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	return NewLedger(db)
}

func TestCreateBatch(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	key := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	b, err := l.CreateBatch(ctx, "ds-1", "", key, 1, "uploader@corp", "csv")
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	if b.BatchID == "" {
		t.Error("batch id not assigned")
	}
	if b.Status != types.BatchProcessing {
		t.Errorf("initial status = %s, want processing", b.Status)
	}

	got, err := l.GetBatch(ctx, "ds-1", b.BatchID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if !got.BatchKey.Equal(key) || got.SchemaVersion != 1 || got.UploadedBy != "uploader@corp" {
		t.Errorf("GetBatch = %+v, want key=%v version=1 uploader", got, key)
	}
}

func TestCreateBatch_DatasetNotFound(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.CreateBatch(context.Background(), "missing", "", time.Now(), 1, "u", "csv")
	if !serrors.IsNotFound(err) {
		t.Errorf("CreateBatch(missing dataset) = %v, want not-found", err)
	}
}

func TestUpdateStatus_TerminalIsImmutable(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	b, err := l.CreateBatch(ctx, "ds-1", "", time.Now(), 1, "u", "csv")
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	if err := l.UpdateStatus(ctx, "ds-1", b.BatchID, types.BatchReady, 500, 8192); err != nil {
		t.Fatalf("UpdateStatus(ready) failed: %v", err)
	}
	got, _ := l.GetBatch(ctx, "ds-1", b.BatchID)
	if got.Status != types.BatchReady || got.RowCount != 500 || got.SizeBytes != 8192 {
		t.Errorf("batch after update = %+v, want ready/500/8192", got)
	}

	// ready is terminal; a second transition must be rejected.
	err = l.UpdateStatus(ctx, "ds-1", b.BatchID, types.BatchFailed, 0, 0)
	if serrors.GetCode(err) != serrors.CodeBatchTerminal {
		t.Errorf("UpdateStatus(terminal) = %v, want BATCH_TERMINAL", err)
	}
	got, _ = l.GetBatch(ctx, "ds-1", b.BatchID)
	if got.Status != types.BatchReady || got.RowCount != 500 {
		t.Errorf("terminal batch mutated: %+v", got)
	}
}

func TestUpdateStatus_Validation(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	err := l.UpdateStatus(ctx, "ds-1", "missing", types.BatchReady, 0, 0)
	if serrors.GetCode(err) != serrors.CodeBatchNotFound {
		t.Errorf("UpdateStatus(missing) = %v, want BATCH_NOT_FOUND", err)
	}

	b, _ := l.CreateBatch(ctx, "ds-1", "", time.Now(), 1, "u", "csv")
	err = l.UpdateStatus(ctx, "ds-1", b.BatchID, types.BatchProcessing, 0, 0)
	if serrors.GetCode(err) != serrors.CodeInvalidRequest {
		t.Errorf("UpdateStatus(processing target) = %v, want INVALID_REQUEST", err)
	}
}

func TestListBatches_NewestFirstPagination(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		b, err := l.CreateBatch(ctx, "ds-1", "", base.AddDate(0, 0, i), 1, "u", "csv")
		if err != nil {
			t.Fatalf("CreateBatch %d failed: %v", i, err)
		}
		ids = append(ids, b.BatchID)
	}

	page1, total, err := l.ListBatches(ctx, "ds-1", 1, 2)
	if err != nil {
		t.Fatalf("ListBatches failed: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page1) != 2 || page1[0].BatchID != ids[4] || page1[1].BatchID != ids[3] {
		t.Errorf("page 1 not newest-first: got %v", []string{page1[0].BatchID, page1[1].BatchID})
	}

	page3, _, err := l.ListBatches(ctx, "ds-1", 3, 2)
	if err != nil {
		t.Fatalf("ListBatches page 3 failed: %v", err)
	}
	if len(page3) != 1 || page3[0].BatchID != ids[0] {
		t.Errorf("page 3 = %v, want oldest batch only", page3)
	}
}

func TestListBatches_TieBreakOnBatchID(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	key := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := l.CreateBatch(ctx, "ds-1", "", key, 1, "u", "csv"); err != nil {
			t.Fatalf("CreateBatch failed: %v", err)
		}
	}

	batches, _, err := l.ListBatches(ctx, "ds-1", 1, 10)
	if err != nil {
		t.Fatalf("ListBatches failed: %v", err)
	}
	for i := 1; i < len(batches); i++ {
		if batches[i-1].BatchID < batches[i].BatchID {
			t.Errorf("tie-break not descending by batch id: %s before %s",
				batches[i-1].BatchID, batches[i].BatchID)
		}
	}
}

func TestDeleteBatch(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	b, _ := l.CreateBatch(ctx, "ds-1", "", time.Now(), 1, "u", "csv")
	if err := l.UpdateStatus(ctx, "ds-1", b.BatchID, types.BatchReady, 100, 1024); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	deleted, err := l.DeleteBatch(ctx, "ds-1", b.BatchID)
	if err != nil {
		t.Fatalf("DeleteBatch failed: %v", err)
	}
	if deleted.RowCount != 100 {
		t.Errorf("deleted record row count = %d, want 100", deleted.RowCount)
	}
	if _, err := l.GetBatch(ctx, "ds-1", b.BatchID); !serrors.IsNotFound(err) {
		t.Errorf("GetBatch after delete = %v, want not-found", err)
	}

	if _, err := l.DeleteBatch(ctx, "ds-1", b.BatchID); !serrors.IsNotFound(err) {
		t.Errorf("double delete = %v, want not-found", err)
	}
}

func TestDeleteAllBatches(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.CreateBatch(ctx, "ds-1", "", time.Now(), 1, "u", "csv"); err != nil {
			t.Fatalf("CreateBatch failed: %v", err)
		}
	}

	deleted, err := l.DeleteAllBatches(ctx, "ds-1")
	if err != nil {
		t.Fatalf("DeleteAllBatches failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}
	count, _ := l.CountBatches(ctx, "ds-1")
	if count != 0 {
		t.Errorf("count after delete-all = %d, want 0", count)
	}
}

func TestGetLatestBatch(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.GetLatestBatch(ctx, "ds-1"); !serrors.IsNotFound(err) {
		t.Errorf("GetLatestBatch(empty) = %v, want not-found", err)
	}

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	var last string
	for i := 0; i < 3; i++ {
		b, _ := l.CreateBatch(ctx, "ds-1", "", base.AddDate(0, 0, i), 1, "u", "csv")
		last = b.BatchID
	}

	latest, err := l.GetLatestBatch(ctx, "ds-1")
	if err != nil {
		t.Fatalf("GetLatestBatch failed: %v", err)
	}
	if latest.BatchID != last {
		t.Errorf("latest = %s, want %s", latest.BatchID, last)
	}
}
