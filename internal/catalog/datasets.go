package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

const datasetColumns = `dataset_id, name, description, owner, tags, is_public,
	cadence, file_format, status, row_count, size_bytes, batch_count,
	schema_version, created_at, updated_at`

// CreateDataset inserts a new dataset record.
func (d *DB) CreateDataset(ctx context.Context, ds *types.Dataset) error {
	tags, err := json.Marshal(ds.Tags)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode tags: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.write.ExecContext(ctx, `
		INSERT INTO datasets (`+datasetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.Name, ds.Description, ds.Owner, string(tags), boolToInt(ds.IsPublic),
		string(ds.Cadence), ds.FileFormat, string(ds.Status), ds.RowCount, ds.SizeBytes,
		ds.BatchCount, ds.SchemaVersion, ds.CreatedAt.Unix(), ds.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("catalog: failed to insert dataset: %w", err)
	}
	return nil
}

// GetDataset retrieves a dataset by ID.
func (d *DB) GetDataset(ctx context.Context, datasetID string) (*types.Dataset, error) {
	row := d.read.QueryRowContext(ctx, `
		SELECT `+datasetColumns+` FROM datasets WHERE dataset_id = ?`, datasetID)

	ds, err := scanDataset(row)
	if err == sql.ErrNoRows {
		return nil, serrors.NewDatasetNotFound(datasetID)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get dataset: %w", err)
	}
	return ds, nil
}

// ListDatasets returns datasets newest-first, paginated. Total is the count
// across all pages.
func (d *DB) ListDatasets(ctx context.Context, page, pageSize int) ([]*types.Dataset, int64, error) {
	var total int64
	if err := d.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: failed to count datasets: %w", err)
	}

	rows, err := d.read.QueryContext(ctx, `
		SELECT `+datasetColumns+` FROM datasets
		ORDER BY created_at DESC, dataset_id DESC
		LIMIT ? OFFSET ?`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: failed to list datasets: %w", err)
	}
	defer rows.Close()

	var datasets []*types.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("catalog: failed to scan dataset: %w", err)
		}
		datasets = append(datasets, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("catalog: failed to iterate datasets: %w", err)
	}
	return datasets, total, nil
}

// UpdateDataset updates the mutable metadata fields of a dataset.
func (d *DB) UpdateDataset(ctx context.Context, ds *types.Dataset) error {
	tags, err := json.Marshal(ds.Tags)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode tags: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.write.ExecContext(ctx, `
		UPDATE datasets
		SET name = ?, description = ?, tags = ?, is_public = ?, cadence = ?,
		    updated_at = ?
		WHERE dataset_id = ?`,
		ds.Name, ds.Description, string(tags), boolToInt(ds.IsPublic),
		string(ds.Cadence), time.Now().Unix(), ds.ID,
	)
	if err != nil {
		return fmt.Errorf("catalog: failed to update dataset: %w", err)
	}
	return requireDataset(res, ds.ID)
}

// UpdateDatasetStatus sets the lifecycle status of a dataset.
func (d *DB) UpdateDatasetStatus(ctx context.Context, datasetID string, status types.DatasetStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.write.ExecContext(ctx, `
		UPDATE datasets SET status = ?, updated_at = ? WHERE dataset_id = ?`,
		string(status), time.Now().Unix(), datasetID,
	)
	if err != nil {
		return fmt.Errorf("catalog: failed to update dataset status: %w", err)
	}
	return requireDataset(res, datasetID)
}

// AddDatasetCounters adjusts the aggregate row, byte, and batch counters.
// Deltas may be negative (batch deletion).
func (d *DB) AddDatasetCounters(ctx context.Context, datasetID string, rowDelta, byteDelta, batchDelta int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.write.ExecContext(ctx, `
		UPDATE datasets
		SET row_count = MAX(0, row_count + ?),
		    size_bytes = MAX(0, size_bytes + ?),
		    batch_count = MAX(0, batch_count + ?),
		    updated_at = ?
		WHERE dataset_id = ?`,
		rowDelta, byteDelta, batchDelta, time.Now().Unix(), datasetID,
	)
	if err != nil {
		return fmt.Errorf("catalog: failed to update dataset counters: %w", err)
	}
	return requireDataset(res, datasetID)
}

// BumpSchemaVersion advances a dataset's schema version from expected to next
// using compare-and-swap semantics: the update only applies if the stored
// version still equals expected. Returns false (no error) when another writer
// won the race; callers re-diff against the new schema and retry.
func (d *DB) BumpSchemaVersion(ctx context.Context, tx *sql.Tx, datasetID string, expected, next int) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE datasets SET schema_version = ?, updated_at = ?
		WHERE dataset_id = ? AND schema_version = ?`,
		next, time.Now().Unix(), datasetID, expected,
	)
	if err != nil {
		return false, fmt.Errorf("catalog: failed to bump schema version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("catalog: failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// DeleteDataset removes the dataset record. Schema and batch records are
// removed by their own components; the orchestrator sequences the cascade.
func (d *DB) DeleteDataset(ctx context.Context, datasetID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.write.ExecContext(ctx, `DELETE FROM datasets WHERE dataset_id = ?`, datasetID)
	if err != nil {
		return fmt.Errorf("catalog: failed to delete dataset: %w", err)
	}
	return requireDataset(res, datasetID)
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan code.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDataset(s scanner) (*types.Dataset, error) {
	var ds types.Dataset
	var tags string
	var isPublic int
	var createdAt, updatedAt int64

	err := s.Scan(
		&ds.ID, &ds.Name, &ds.Description, &ds.Owner, &tags, &isPublic,
		&ds.Cadence, &ds.FileFormat, &ds.Status, &ds.RowCount, &ds.SizeBytes,
		&ds.BatchCount, &ds.SchemaVersion, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &ds.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	ds.IsPublic = isPublic != 0
	ds.CreatedAt = time.Unix(createdAt, 0).UTC()
	ds.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &ds, nil
}

func requireDataset(res sql.Result, datasetID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: failed to read rows affected: %w", err)
	}
	if n == 0 {
		return serrors.NewDatasetNotFound(datasetID)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
