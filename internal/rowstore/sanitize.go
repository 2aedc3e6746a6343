package rowstore

import (
	"fmt"
	"strings"

	"github.com/stratadb/strata/pkg/types"
)

// tablePrefix names per-dataset row tables: ds_rows_<sanitized dataset id>.
const tablePrefix = "ds_rows_"

// reserved physical column names used by the partitioning scheme. Logical
// columns that would collide with them get disambiguated like any other
// collision.
var reservedColumns = map[string]bool{
	"batch_id": true,
	"chunk_id": true,
	"row_seq":  true,
}

// TableName derives the physical table name for a dataset. Dataset IDs are
// UUIDs, so this is deterministic and collision-free per dataset.
func TableName(datasetID string) string {
	return tablePrefix + sanitizeIdent(datasetID)
}

// physColumn binds a logical column to its physical counterpart.
type physColumn struct {
	Logical  string
	Physical string
	Type     types.ColumnType
}

// mapColumns maps logical column names to physical ones with a deterministic,
// collision-free rule: lowercase, non-alphanumeric runes become underscores,
// a leading digit gets a "c_" prefix, and duplicates (including collisions
// with the reserved partitioning columns) are disambiguated by an ordinal
// suffix in schema position order.
func mapColumns(schema []types.Column) []physColumn {
	taken := make(map[string]bool, len(schema)+len(reservedColumns))
	for name := range reservedColumns {
		taken[name] = true
	}

	mapped := make([]physColumn, 0, len(schema))
	for _, col := range schema {
		name := sanitizeIdent(col.Name)
		if name == "" {
			name = "col"
		}
		if name[0] >= '0' && name[0] <= '9' {
			name = "c_" + name
		}
		if taken[name] {
			for i := 2; ; i++ {
				candidate := fmt.Sprintf("%s_%d", name, i)
				if !taken[candidate] {
					name = candidate
					break
				}
			}
		}
		taken[name] = true
		mapped = append(mapped, physColumn{Logical: col.Name, Physical: name, Type: col.Type})
	}
	return mapped
}

// sanitizeIdent lowercases s and replaces every non-alphanumeric rune with
// an underscore.
func sanitizeIdent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// sqlType maps a logical column type to its SQLite storage type.
func sqlType(t types.ColumnType) string {
	switch t {
	case types.TypeInteger:
		return "INTEGER"
	case types.TypeFloat:
		return "REAL"
	case types.TypeBoolean:
		return "INTEGER"
	case types.TypeTimestamp:
		return "TEXT"
	default:
		return "TEXT"
	}
}
