package rowstore

import (
	"testing"

	"github.com/stratadb/strata/pkg/types"
)

func TestTableName(t *testing.T) {
	got := TableName("3fa85f64-5717-4562-b3fc-2c963f66afa6")
	want := "ds_rows_3fa85f64_5717_4562_b3fc_2c963f66afa6"
	if got != want {
		t.Errorf("TableName = %q, want %q", got, want)
	}
}

func TestMapColumns(t *testing.T) {
	schema := []types.Column{
		{Name: "User ID", Type: types.TypeInteger},
		{Name: "user-id", Type: types.TypeText},  // collides with User ID after sanitization
		{Name: "2nd_place", Type: types.TypeText}, // leading digit
		{Name: "batch_id", Type: types.TypeText},  // reserved partition column
		{Name: "Préis", Type: types.TypeFloat},    // non-ascii runes
	}

	mapped := mapColumns(schema)
	want := []string{"user_id", "user_id_2", "c_2nd_place", "batch_id_2", "pr_is"}
	for i, col := range mapped {
		if col.Physical != want[i] {
			t.Errorf("mapped[%d] = %q, want %q", i, col.Physical, want[i])
		}
		if col.Logical != schema[i].Name {
			t.Errorf("mapped[%d] logical = %q, want %q", i, col.Logical, schema[i].Name)
		}
	}

	// Deterministic: same input yields the same mapping.
	again := mapColumns(schema)
	for i := range mapped {
		if mapped[i] != again[i] {
			t.Errorf("mapping not deterministic at %d: %v vs %v", i, mapped[i], again[i])
		}
	}

	// Collision-free: all physical names distinct.
	seen := make(map[string]bool)
	for _, col := range mapped {
		if seen[col.Physical] {
			t.Errorf("duplicate physical name %q", col.Physical)
		}
		seen[col.Physical] = true
	}
}

func TestSQLType(t *testing.T) {
	tests := []struct {
		in   types.ColumnType
		want string
	}{
		{types.TypeText, "TEXT"},
		{types.TypeInteger, "INTEGER"},
		{types.TypeFloat, "REAL"},
		{types.TypeBoolean, "INTEGER"},
		{types.TypeTimestamp, "TEXT"},
	}
	for _, tt := range tests {
		if got := sqlType(tt.in); got != tt.want {
			t.Errorf("sqlType(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
