// Package types provides core data types for Strata.
package types

import "time"

// ColumnType is the logical type of a dataset column. Columns are fixed at
// ingestion-time inferred type; later batches supplying differently-typed
// values store NULL for that column rather than failing the batch.
type ColumnType string

const (
	TypeText      ColumnType = "text"
	TypeInteger   ColumnType = "integer"
	TypeFloat     ColumnType = "float"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
)

// DatasetStatus tracks the lifecycle of a dataset.
type DatasetStatus string

const (
	DatasetUploading  DatasetStatus = "uploading"
	DatasetProcessing DatasetStatus = "processing"
	DatasetReady      DatasetStatus = "ready"
	DatasetFailed     DatasetStatus = "failed"
)

// BatchStatus tracks the lifecycle of a single ingestion batch.
// processing is the only non-terminal state; ready and failed are immutable.
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchReady      BatchStatus = "ready"
	BatchFailed     BatchStatus = "failed"
)

// Cadence is the expected ingestion frequency of a dataset.
type Cadence string

const (
	CadenceOnce    Cadence = "once"
	CadenceHourly  Cadence = "hourly"
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// Caller roles. Role is always passed explicitly through masking-sensitive
// calls; RoleAdmin bypasses every masking rule.
const (
	RoleAdmin       = "admin"
	RoleContributor = "contributor"
	RoleViewer      = "viewer"
)

// Dataset is the metadata record for one dataset.
type Dataset struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Owner         string        `json:"owner"`
	Tags          []string      `json:"tags,omitempty"`
	IsPublic      bool          `json:"is_public"`
	Cadence       Cadence       `json:"cadence"`
	FileFormat    string        `json:"file_format"`
	Status        DatasetStatus `json:"status"`
	RowCount      int64         `json:"row_count"`
	SizeBytes     int64         `json:"size_bytes"`
	BatchCount    int64         `json:"batch_count"`
	SchemaVersion int           `json:"schema_version"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Column is one logical column of a dataset's schema. Removed columns are
// soft-deleted: Active=false with RemovedAt set, so historical batches
// ingested before the removal remain queryable.
type Column struct {
	Name           string     `json:"name"`
	Type           ColumnType `json:"type"`
	Nullable       bool       `json:"nullable"`
	MaskingRule    string     `json:"masking_rule,omitempty"`
	Position       int        `json:"position"`
	Active         bool       `json:"active"`
	VersionAdded   int        `json:"version_added"`
	VersionRemoved int        `json:"version_removed,omitempty"`
	AddedAt        time.Time  `json:"added_at"`
	RemovedAt      *time.Time `json:"removed_at,omitempty"`
}

// SchemaVersion is an immutable, numbered snapshot marker of a dataset's
// active column set. A new version is created only when the column set changes.
type SchemaVersion struct {
	DatasetID     string    `json:"dataset_id"`
	Version       int       `json:"version"`
	BatchID       string    `json:"batch_id,omitempty"`
	ColumnCount   int       `json:"column_count"`
	ChangeSummary string    `json:"change_summary"`
	CreatedAt     time.Time `json:"created_at"`
}

// Batch is one discrete ingestion event for a dataset.
type Batch struct {
	DatasetID     string      `json:"dataset_id"`
	BatchID       string      `json:"batch_id"`
	BatchKey      time.Time   `json:"batch_key"`
	SchemaVersion int         `json:"schema_version"`
	RowCount      int64       `json:"row_count"`
	SizeBytes     int64       `json:"size_bytes"`
	FileFormat    string      `json:"file_format"`
	Status        BatchStatus `json:"status"`
	UploadedBy    string      `json:"uploaded_by"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Row is one logical data row, keyed by original (unsanitized) column names.
type Row map[string]interface{}

// FilterOp is a per-column comparison operator on the read path.
type FilterOp string

const (
	OpGT FilterOp = "gt"
	OpLT FilterOp = "lt"
	OpEQ FilterOp = "eq"
	OpIN FilterOp = "in"
)

// Filter restricts a read to rows matching a column comparison.
type Filter struct {
	Column string        `json:"column"`
	Op     FilterOp      `json:"op"`
	Value  interface{}   `json:"value,omitempty"`
	Values []interface{} `json:"values,omitempty"`
}

// ReadOptions parameterize a paginated row read.
type ReadOptions struct {
	Page     int      `json:"page"`      // 1-based
	PageSize int      `json:"page_size"` // 1..1000
	BatchID  string   `json:"batch_id,omitempty"`
	Columns  []string `json:"columns,omitempty"` // logical names; empty means all active
	Filters  []Filter `json:"filters,omitempty"`
}

// RowPage is one page of rows plus the total row count at read time.
// Total may shrink between consecutive page fetches (e.g. a batch deleted
// mid-browse); that is not an error.
type RowPage struct {
	Rows     []Row `json:"rows"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

// MaxPageSize bounds the page_size read parameter.
const MaxPageSize = 1000

// DefaultChunkSize is the number of rows per physical storage chunk.
// (batch, chunk) is the partition key of the per-dataset row table, so
// batch-scoped reads and batch deletion are range operations, not scans.
const DefaultChunkSize = 10000

// ValidCadence reports whether c is a recognized ingestion cadence.
func ValidCadence(c Cadence) bool {
	switch c {
	case CadenceOnce, CadenceHourly, CadenceDaily, CadenceWeekly, CadenceMonthly:
		return true
	}
	return false
}
