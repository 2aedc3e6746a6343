package schema

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stratadb/strata/internal/catalog"
	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

func newTestRegistry(t *testing.T) (*Registry, *catalog.DB) {
	t.Helper()
	db, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Now().UTC()
	ds := &types.Dataset{
		ID:        "ds-1",
		Name:      "events",
		Owner:     "data-team",
		Cadence:   types.CadenceDaily,
		Status:    types.DatasetUploading,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.CreateDataset(context.Background(), ds); err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	return NewRegistry(db), db
}

func threeColumns() []types.Column {
	return []types.Column{
		{Name: "user_id", Type: types.TypeInteger},
		{Name: "email", Type: types.TypeText},
		{Name: "signup_ts", Type: types.TypeTimestamp},
	}
}

func TestSetSchema_InitialVersion(t *testing.T) {
	r, db := newTestRegistry(t)
	ctx := context.Background()

	version, err := r.SetSchema(ctx, "ds-1", threeColumns(), "batch-1")
	if err != nil {
		t.Fatalf("SetSchema failed: %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}

	cols, err := r.GetSchema(ctx, "ds-1", 0)
	if err != nil {
		t.Fatalf("GetSchema failed: %v", err)
	}
	if len(cols) != 3 {
		t.Fatalf("column count = %d, want 3", len(cols))
	}
	for i, want := range []string{"user_id", "email", "signup_ts"} {
		if cols[i].Name != want || cols[i].Position != i {
			t.Errorf("cols[%d] = %q at %d, want %q at %d", i, cols[i].Name, cols[i].Position, want, i)
		}
		if !cols[i].Active || cols[i].VersionAdded != 1 {
			t.Errorf("cols[%d] active/version = %v/%d, want true/1", i, cols[i].Active, cols[i].VersionAdded)
		}
	}

	ds, err := db.GetDataset(ctx, "ds-1")
	if err != nil {
		t.Fatalf("GetDataset failed: %v", err)
	}
	if ds.SchemaVersion != 1 {
		t.Errorf("dataset schema_version = %d, want 1", ds.SchemaVersion)
	}
}

func TestEvolveSchema_IdenticalShapeReusesVersion(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.SetSchema(ctx, "ds-1", threeColumns(), "batch-1"); err != nil {
		t.Fatalf("SetSchema failed: %v", err)
	}

	version, changed, err := r.EvolveSchema(ctx, "ds-1", threeColumns(), "batch-2")
	if err != nil {
		t.Fatalf("EvolveSchema failed: %v", err)
	}
	if changed {
		t.Error("identical shape reported as changed")
	}
	if version != 1 {
		t.Errorf("version = %d, want 1 (reused)", version)
	}

	history, err := r.GetHistory(ctx, "ds-1")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1", len(history))
	}
}

func TestEvolveSchema_AddAndDrop(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.SetSchema(ctx, "ds-1", threeColumns(), "batch-1"); err != nil {
		t.Fatalf("SetSchema failed: %v", err)
	}

	// Second upload adds region and drops signup_ts.
	next := []types.Column{
		{Name: "user_id", Type: types.TypeInteger},
		{Name: "email", Type: types.TypeText},
		{Name: "region", Type: types.TypeText},
	}
	version, changed, err := r.EvolveSchema(ctx, "ds-1", next, "batch-2")
	if err != nil {
		t.Fatalf("EvolveSchema failed: %v", err)
	}
	if !changed || version != 2 {
		t.Fatalf("(version, changed) = (%d, %v), want (2, true)", version, changed)
	}

	history, err := r.GetHistory(ctx, "ds-1")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if history[0].Version != 2 || history[1].Version != 1 {
		t.Errorf("history order = [%d %d], want newest-first [2 1]", history[0].Version, history[1].Version)
	}
	if history[0].ChangeSummary != "Added: region; Dropped: signup_ts" {
		t.Errorf("change summary = %q, want %q", history[0].ChangeSummary, "Added: region; Dropped: signup_ts")
	}

	// The dropped column is still present, inactive, in the full listing.
	all, err := r.GetAllColumns(ctx, "ds-1")
	if err != nil {
		t.Fatalf("GetAllColumns failed: %v", err)
	}
	var dropped *types.Column
	for i := range all {
		if all[i].Name == "signup_ts" {
			dropped = &all[i]
		}
	}
	if dropped == nil {
		t.Fatal("dropped column missing from full listing")
	}
	if dropped.Active || dropped.VersionRemoved != 2 || dropped.RemovedAt == nil {
		t.Errorf("dropped column = %+v, want inactive with version_removed=2 and removal time", dropped)
	}

	// The historical version still lists the dropped column.
	v1, err := r.GetSchema(ctx, "ds-1", 1)
	if err != nil {
		t.Fatalf("GetSchema(v1) failed: %v", err)
	}
	names := make(map[string]bool, len(v1))
	for _, col := range v1 {
		names[col.Name] = true
	}
	if !names["signup_ts"] || names["region"] {
		t.Errorf("version 1 columns = %v, want signup_ts without region", names)
	}

	// The current version lists the new column and not the dropped one.
	v2, err := r.GetSchema(ctx, "ds-1", 0)
	if err != nil {
		t.Fatalf("GetSchema(latest) failed: %v", err)
	}
	names = make(map[string]bool, len(v2))
	for _, col := range v2 {
		names[col.Name] = true
	}
	if names["signup_ts"] || !names["region"] {
		t.Errorf("version 2 columns = %v, want region without signup_ts", names)
	}
}

func TestEvolveSchema_TypeChangeKeepsVersion(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.SetSchema(ctx, "ds-1", threeColumns(), "batch-1"); err != nil {
		t.Fatalf("SetSchema failed: %v", err)
	}

	// Same names, one column arriving with a different inferred type.
	next := threeColumns()
	next[0].Type = types.TypeText
	version, changed, err := r.EvolveSchema(ctx, "ds-1", next, "batch-2")
	if err != nil {
		t.Fatalf("EvolveSchema failed: %v", err)
	}
	if changed || version != 1 {
		t.Errorf("(version, changed) = (%d, %v), want (1, false)", version, changed)
	}

	// The column keeps its original type family.
	cols, _ := r.GetSchema(ctx, "ds-1", 0)
	if cols[0].Type != types.TypeInteger {
		t.Errorf("column type = %s, want integer (original)", cols[0].Type)
	}
}

func TestEvolveSchema_Reactivation(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.SetSchema(ctx, "ds-1", threeColumns(), "batch-1"); err != nil {
		t.Fatalf("SetSchema failed: %v", err)
	}
	if err := r.DropColumn(ctx, "ds-1", "email"); err != nil {
		t.Fatalf("DropColumn failed: %v", err)
	}

	version, changed, err := r.EvolveSchema(ctx, "ds-1", threeColumns(), "batch-2")
	if err != nil {
		t.Fatalf("EvolveSchema failed: %v", err)
	}
	if !changed || version != 3 {
		t.Fatalf("(version, changed) = (%d, %v), want (3, true)", version, changed)
	}

	cols, _ := r.GetSchema(ctx, "ds-1", 0)
	found := false
	for _, col := range cols {
		if col.Name == "email" && col.Active {
			found = true
		}
	}
	if !found {
		t.Error("reactivated column not active at latest version")
	}
}

func TestEvolveSchema_EmptySchemaRejected(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, _, err := r.EvolveSchema(context.Background(), "ds-1", []types.Column{{Name: "  "}}, "batch-1")
	if serrors.GetCode(err) != serrors.CodeEmptySchema {
		t.Errorf("EvolveSchema(empty) = %v, want EMPTY_SCHEMA", err)
	}
}

func TestEvolveSchema_DatasetNotFound(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, _, err := r.EvolveSchema(context.Background(), "missing", threeColumns(), "batch-1")
	if !serrors.IsNotFound(err) {
		t.Errorf("EvolveSchema(missing dataset) = %v, want not-found", err)
	}
}

func TestUpdateMaskingRule(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.SetSchema(ctx, "ds-1", threeColumns(), "batch-1"); err != nil {
		t.Fatalf("SetSchema failed: %v", err)
	}

	if err := r.UpdateMaskingRule(ctx, "ds-1", "email", "email"); err != nil {
		t.Fatalf("UpdateMaskingRule failed: %v", err)
	}
	cols, _ := r.GetSchema(ctx, "ds-1", 0)
	for _, col := range cols {
		if col.Name == "email" && col.MaskingRule != "email" {
			t.Errorf("masking rule = %q, want email", col.MaskingRule)
		}
	}

	// Unknown rules are rejected at patch time.
	if err := r.UpdateMaskingRule(ctx, "ds-1", "email", "no_such_rule"); serrors.GetCode(err) != serrors.CodeInvalidMaskRule {
		t.Errorf("UpdateMaskingRule(bad rule) = %v, want INVALID_MASK_RULE", err)
	}
	if err := r.UpdateMaskingRule(ctx, "ds-1", "missing_col", "email"); serrors.GetCode(err) != serrors.CodeColumnNotFound {
		t.Errorf("UpdateMaskingRule(bad column) = %v, want COLUMN_NOT_FOUND", err)
	}
}

func TestDropColumn(t *testing.T) {
	r, db := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.SetSchema(ctx, "ds-1", threeColumns(), "batch-1"); err != nil {
		t.Fatalf("SetSchema failed: %v", err)
	}
	if err := r.DropColumn(ctx, "ds-1", "email"); err != nil {
		t.Fatalf("DropColumn failed: %v", err)
	}

	ds, _ := db.GetDataset(ctx, "ds-1")
	if ds.SchemaVersion != 2 {
		t.Errorf("schema_version after drop = %d, want 2", ds.SchemaVersion)
	}
	history, _ := r.GetHistory(ctx, "ds-1")
	if history[0].ChangeSummary != "Dropped: email" {
		t.Errorf("summary = %q, want %q", history[0].ChangeSummary, "Dropped: email")
	}

	if err := r.DropColumn(ctx, "ds-1", "email"); serrors.GetCode(err) != serrors.CodeColumnNotFound {
		t.Errorf("DropColumn(already dropped) = %v, want COLUMN_NOT_FOUND", err)
	}
}

func TestDeleteSchema(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.SetSchema(ctx, "ds-1", threeColumns(), "batch-1"); err != nil {
		t.Fatalf("SetSchema failed: %v", err)
	}
	if err := r.DeleteSchema(ctx, "ds-1"); err != nil {
		t.Fatalf("DeleteSchema failed: %v", err)
	}

	cols, err := r.GetAllColumns(ctx, "ds-1")
	if err != nil {
		t.Fatalf("GetAllColumns failed: %v", err)
	}
	if len(cols) != 0 {
		t.Errorf("columns after delete = %d, want 0", len(cols))
	}
	history, _ := r.GetHistory(ctx, "ds-1")
	if len(history) != 0 {
		t.Errorf("history after delete = %d, want 0", len(history))
	}
}

// Two concurrent evolutions with diverging shapes: exactly one version per
// distinct diff, no duplicate version numbers.
func TestEvolveSchema_ConcurrentDivergingShapes(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.SetSchema(ctx, "ds-1", threeColumns(), "batch-1"); err != nil {
		t.Fatalf("SetSchema failed: %v", err)
	}

	shapeA := append(threeColumns(), types.Column{Name: "region", Type: types.TypeText})
	shapeB := append(threeColumns(), types.Column{Name: "score", Type: types.TypeFloat})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, errs[0] = r.EvolveSchema(ctx, "ds-1", shapeA, "batch-a")
	}()
	go func() {
		defer wg.Done()
		_, _, errs[1] = r.EvolveSchema(ctx, "ds-1", shapeB, "batch-b")
	}()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent evolve %d failed: %v", i, err)
		}
	}

	history, err := r.GetHistory(ctx, "ds-1")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	seen := make(map[int]bool)
	for _, v := range history {
		if seen[v.Version] {
			t.Fatalf("duplicate schema version %d", v.Version)
		}
		seen[v.Version] = true
	}
	if len(history) != 3 {
		t.Errorf("history length = %d, want 3 (v1 + one per distinct diff)", len(history))
	}

	// The loser re-diffed against the winner's schema, so its evolution also
	// dropped the winner's column. Exactly one of the two survives.
	cols, _ := r.GetSchema(ctx, "ds-1", 0)
	names := make(map[string]bool, len(cols))
	for _, col := range cols {
		names[col.Name] = true
	}
	if names["region"] == names["score"] {
		t.Errorf("latest columns = %v, want exactly one of region/score active", names)
	}
}
