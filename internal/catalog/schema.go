// Package catalog provides the metadata catalog for datasets, schemas, and batches.
package catalog

// Schema contains the SQL schema definitions for the metadata catalog (catalog.db).
// The catalog is a SQLite database that serves as the source of truth for all
// dataset, schema, and batch metadata in the system.

// CreateDatasetsTableSQL creates the core datasets table.
// schema_version is the compare-and-swap field for concurrent schema evolution:
// a version bump only succeeds if the stored version still equals the version
// the writer diffed against.
const CreateDatasetsTableSQL = `
CREATE TABLE IF NOT EXISTS datasets (
    dataset_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    owner TEXT NOT NULL,
    tags TEXT NOT NULL DEFAULT '[]',
    is_public INTEGER NOT NULL DEFAULT 0,
    cadence TEXT NOT NULL DEFAULT 'once',
    file_format TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'uploading',
    row_count INTEGER NOT NULL DEFAULT 0,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    batch_count INTEGER NOT NULL DEFAULT 0,
    schema_version INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`

// CreateSchemaColumnsTableSQL creates the schema columns table.
// Columns are soft-deleted: removal sets is_active=0 and records
// version_removed/removed_at, but the row is never physically deleted, so
// batches ingested before the removal remain queryable.
const CreateSchemaColumnsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_columns (
    dataset_id TEXT NOT NULL,
    column_name TEXT NOT NULL,
    column_type TEXT NOT NULL,
    position INTEGER NOT NULL,
    masking_rule TEXT NOT NULL DEFAULT '',
    is_active INTEGER NOT NULL DEFAULT 1,
    version_added INTEGER NOT NULL,
    version_removed INTEGER NOT NULL DEFAULT 0,
    added_at INTEGER NOT NULL,
    removed_at INTEGER,
    PRIMARY KEY (dataset_id, column_name)
)`

// CreateSchemaVersionsTableSQL creates the schema versions table.
// Version records are immutable once written.
const CreateSchemaVersionsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_versions (
    dataset_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    batch_id TEXT NOT NULL DEFAULT '',
    column_count INTEGER NOT NULL,
    change_summary TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    PRIMARY KEY (dataset_id, version)
)`

// CreateBatchesTableSQL creates the batch ledger table.
// Status transitions are processing -> ready|failed; terminal statuses are
// immutable. Listing order is newest-first by (batch_key DESC, batch_id DESC).
const CreateBatchesTableSQL = `
CREATE TABLE IF NOT EXISTS batches (
    dataset_id TEXT NOT NULL,
    batch_id TEXT NOT NULL,
    batch_key INTEGER NOT NULL,
    schema_version INTEGER NOT NULL,
    row_count INTEGER NOT NULL DEFAULT 0,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    file_format TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'processing',
    uploaded_by TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    PRIMARY KEY (dataset_id, batch_id)
)`

// CreateCatalogIndexesSQL creates indexes for the common access paths.
var CreateCatalogIndexesSQL = []string{
	// Newest-first batch listing per dataset
	`CREATE INDEX IF NOT EXISTS idx_batches_order ON batches(dataset_id, batch_key DESC, batch_id DESC)`,

	// Active-column lookups on the read path
	`CREATE INDEX IF NOT EXISTS idx_schema_columns_active ON schema_columns(dataset_id, is_active, position)`,

	// Version history, newest-first
	`CREATE INDEX IF NOT EXISTS idx_schema_versions_order ON schema_versions(dataset_id, version DESC)`,

	// Dataset listing by owner
	`CREATE INDEX IF NOT EXISTS idx_datasets_owner ON datasets(owner, created_at DESC)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateDatasetsTableSQL,
		CreateSchemaColumnsTableSQL,
		CreateSchemaVersionsTableSQL,
		CreateBatchesTableSQL,
	}
	statements = append(statements, CreateCatalogIndexesSQL...)
	return statements
}
