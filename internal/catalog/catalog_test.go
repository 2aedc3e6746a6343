package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestDataset(id string) *types.Dataset {
	now := time.Now().UTC().Truncate(time.Second)
	return &types.Dataset{
		ID:         id,
		Name:       "events",
		Owner:      "data-team",
		Tags:       []string{"prod", "events"},
		Cadence:    types.CadenceDaily,
		FileFormat: "csv",
		Status:     types.DatasetUploading,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestDatasetCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ds := newTestDataset("ds-1")
	if err := db.CreateDataset(ctx, ds); err != nil {
		t.Fatalf("CreateDataset failed: %v", err)
	}

	got, err := db.GetDataset(ctx, "ds-1")
	if err != nil {
		t.Fatalf("GetDataset failed: %v", err)
	}
	if got.Name != ds.Name || got.Owner != ds.Owner || got.Cadence != ds.Cadence {
		t.Errorf("GetDataset = %+v, want %+v", got, ds)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "prod" {
		t.Errorf("tags round-trip failed: %v", got.Tags)
	}
	if got.SchemaVersion != 0 {
		t.Errorf("new dataset schema_version = %d, want 0", got.SchemaVersion)
	}

	got.Description = "clickstream events"
	got.IsPublic = true
	if err := db.UpdateDataset(ctx, got); err != nil {
		t.Fatalf("UpdateDataset failed: %v", err)
	}
	got, err = db.GetDataset(ctx, "ds-1")
	if err != nil {
		t.Fatalf("GetDataset after update failed: %v", err)
	}
	if got.Description != "clickstream events" || !got.IsPublic {
		t.Errorf("update not persisted: %+v", got)
	}

	if err := db.UpdateDatasetStatus(ctx, "ds-1", types.DatasetReady); err != nil {
		t.Fatalf("UpdateDatasetStatus failed: %v", err)
	}
	got, _ = db.GetDataset(ctx, "ds-1")
	if got.Status != types.DatasetReady {
		t.Errorf("status = %s, want ready", got.Status)
	}

	if err := db.DeleteDataset(ctx, "ds-1"); err != nil {
		t.Fatalf("DeleteDataset failed: %v", err)
	}
	if _, err := db.GetDataset(ctx, "ds-1"); !serrors.IsNotFound(err) {
		t.Errorf("GetDataset after delete = %v, want not-found", err)
	}
}

func TestGetDataset_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetDataset(context.Background(), "missing")
	if !serrors.IsNotFound(err) {
		t.Errorf("GetDataset(missing) = %v, want not-found", err)
	}
	if serrors.GetCode(err) != serrors.CodeDatasetNotFound {
		t.Errorf("code = %s, want DATASET_NOT_FOUND", serrors.GetCode(err))
	}
}

func TestListDatasets_Pagination(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ds := newTestDataset(string(rune('a' + i)))
		ds.CreatedAt = time.Unix(int64(1_700_000_000+i), 0)
		ds.UpdatedAt = ds.CreatedAt
		if err := db.CreateDataset(ctx, ds); err != nil {
			t.Fatalf("CreateDataset failed: %v", err)
		}
	}

	page1, total, err := db.ListDatasets(ctx, 1, 2)
	if err != nil {
		t.Fatalf("ListDatasets failed: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page1) != 2 {
		t.Fatalf("page 1 size = %d, want 2", len(page1))
	}
	// Newest created first.
	if page1[0].ID != "e" || page1[1].ID != "d" {
		t.Errorf("page 1 order = [%s %s], want [e d]", page1[0].ID, page1[1].ID)
	}

	page3, _, err := db.ListDatasets(ctx, 3, 2)
	if err != nil {
		t.Fatalf("ListDatasets page 3 failed: %v", err)
	}
	if len(page3) != 1 || page3[0].ID != "a" {
		t.Errorf("page 3 = %v, want single dataset a", page3)
	}
}

func TestAddDatasetCounters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.CreateDataset(ctx, newTestDataset("ds-1")); err != nil {
		t.Fatalf("CreateDataset failed: %v", err)
	}

	if err := db.AddDatasetCounters(ctx, "ds-1", 100, 2048, 1); err != nil {
		t.Fatalf("AddDatasetCounters failed: %v", err)
	}
	if err := db.AddDatasetCounters(ctx, "ds-1", -40, -1024, 0); err != nil {
		t.Fatalf("AddDatasetCounters (negative) failed: %v", err)
	}

	ds, err := db.GetDataset(ctx, "ds-1")
	if err != nil {
		t.Fatalf("GetDataset failed: %v", err)
	}
	if ds.RowCount != 60 || ds.SizeBytes != 1024 || ds.BatchCount != 1 {
		t.Errorf("counters = (%d, %d, %d), want (60, 1024, 1)", ds.RowCount, ds.SizeBytes, ds.BatchCount)
	}

	// Counters never go negative even if deltas over-subtract.
	if err := db.AddDatasetCounters(ctx, "ds-1", -1000, -100000, -5); err != nil {
		t.Fatalf("AddDatasetCounters (floor) failed: %v", err)
	}
	ds, _ = db.GetDataset(ctx, "ds-1")
	if ds.RowCount != 0 || ds.SizeBytes != 0 || ds.BatchCount != 0 {
		t.Errorf("counters after floor = (%d, %d, %d), want zeros", ds.RowCount, ds.SizeBytes, ds.BatchCount)
	}
}

func TestBumpSchemaVersion_CAS(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.CreateDataset(ctx, newTestDataset("ds-1")); err != nil {
		t.Fatalf("CreateDataset failed: %v", err)
	}

	// First bump from the expected version succeeds.
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		ok, err := db.BumpSchemaVersion(ctx, tx, "ds-1", 0, 1)
		if err != nil {
			return err
		}
		if !ok {
			t.Error("first bump lost the race against nobody")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	// A second bump from the same stale expected version must not apply.
	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		ok, err := db.BumpSchemaVersion(ctx, tx, "ds-1", 0, 1)
		if err != nil {
			return err
		}
		if ok {
			t.Error("stale bump applied, CAS guard failed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	ds, err := db.GetDataset(ctx, "ds-1")
	if err != nil {
		t.Fatalf("GetDataset failed: %v", err)
	}
	if ds.SchemaVersion != 1 {
		t.Errorf("schema_version = %d, want 1", ds.SchemaVersion)
	}
}
