// Package ledger implements the batch ledger: per-ingestion metadata records.
//
// A batch is created in the processing state and transitions exactly once to
// ready or failed; terminal statuses are immutable. Listing is newest-first
// by (batch key, batch id) so pagination stays stable when two batches share
// a key.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stratadb/strata/internal/catalog"
	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

// Ledger manages batch records in the catalog.
type Ledger struct {
	db *catalog.DB
}

// NewLedger creates a batch ledger backed by the catalog database.
func NewLedger(db *catalog.DB) *Ledger {
	return &Ledger{db: db}
}

const batchColumns = `dataset_id, batch_id, batch_key, schema_version, row_count,
	size_bytes, file_format, status, uploaded_by, created_at`

// CreateBatch records a new batch in the processing state and returns it.
// An empty batchID is assigned a fresh UUID; the orchestrator pre-generates
// IDs so schema version records can reference their originating batch.
func (l *Ledger) CreateBatch(ctx context.Context, datasetID, batchID string, batchKey time.Time, schemaVersion int, uploader, fileFormat string) (*types.Batch, error) {
	if _, err := l.db.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}
	if batchID == "" {
		batchID = uuid.NewString()
	}

	b := &types.Batch{
		DatasetID:     datasetID,
		BatchID:       batchID,
		BatchKey:      batchKey.UTC(),
		SchemaVersion: schemaVersion,
		FileFormat:    fileFormat,
		Status:        types.BatchProcessing,
		UploadedBy:    uploader,
		CreatedAt:     time.Now().UTC(),
	}

	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batches (`+batchColumns+`)
			VALUES (?, ?, ?, ?, 0, 0, ?, ?, ?, ?)`,
			b.DatasetID, b.BatchID, b.BatchKey.Unix(), b.SchemaVersion,
			b.FileFormat, string(b.Status), b.UploadedBy, b.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("ledger: failed to insert batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// UpdateStatus transitions a processing batch to ready or failed, recording
// the final row and byte counts. Updating a terminal batch returns a
// BATCH_TERMINAL error; callers treat it as reportable, not fatal.
func (l *Ledger) UpdateStatus(ctx context.Context, datasetID, batchID string, status types.BatchStatus, rowCount, sizeBytes int64) error {
	if status != types.BatchReady && status != types.BatchFailed {
		return serrors.New(serrors.ErrCategoryValidation, serrors.CodeInvalidRequest,
			fmt.Sprintf("invalid target batch status %q", status))
	}

	var affected int64
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE batches SET status = ?, row_count = ?, size_bytes = ?
			WHERE dataset_id = ? AND batch_id = ? AND status = ?`,
			string(status), rowCount, sizeBytes,
			datasetID, batchID, string(types.BatchProcessing),
		)
		if err != nil {
			return fmt.Errorf("ledger: failed to update batch status: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	// Distinguish a missing batch from an already-terminal one.
	if _, err := l.GetBatch(ctx, datasetID, batchID); err != nil {
		return err
	}
	return serrors.New(serrors.ErrCategoryLedger, serrors.CodeBatchTerminal,
		fmt.Sprintf("batch %s already terminal", batchID))
}

// GetBatch retrieves one batch record.
func (l *Ledger) GetBatch(ctx context.Context, datasetID, batchID string) (*types.Batch, error) {
	row := l.db.Reader().QueryRowContext(ctx, `
		SELECT `+batchColumns+` FROM batches
		WHERE dataset_id = ? AND batch_id = ?`, datasetID, batchID)

	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, serrors.NewBatchNotFound(batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to get batch: %w", err)
	}
	return b, nil
}

// ListBatches returns one page of batches, newest-first, plus the total
// batch count for the dataset.
func (l *Ledger) ListBatches(ctx context.Context, datasetID string, page, pageSize int) ([]*types.Batch, int64, error) {
	total, err := l.CountBatches(ctx, datasetID)
	if err != nil {
		return nil, 0, err
	}

	rows, err := l.db.Reader().QueryContext(ctx, `
		SELECT `+batchColumns+` FROM batches
		WHERE dataset_id = ?
		ORDER BY batch_key DESC, batch_id DESC
		LIMIT ? OFFSET ?`, datasetID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []*types.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ledger: failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ledger: failed to iterate batches: %w", err)
	}
	return batches, total, nil
}

// DeleteBatch removes one batch record, returning the record as it stood for
// counter adjustment. Row data removal is sequenced by the orchestrator
// before this call.
func (l *Ledger) DeleteBatch(ctx context.Context, datasetID, batchID string) (*types.Batch, error) {
	b, err := l.GetBatch(ctx, datasetID, batchID)
	if err != nil {
		return nil, err
	}
	err = l.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM batches WHERE dataset_id = ? AND batch_id = ?`, datasetID, batchID)
		if err != nil {
			return fmt.Errorf("ledger: failed to delete batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteAllBatches removes every batch record for a dataset and returns the
// number removed. This is the cascade entry point of dataset deletion.
func (l *Ledger) DeleteAllBatches(ctx context.Context, datasetID string) (int64, error) {
	var deleted int64
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM batches WHERE dataset_id = ?`, datasetID)
		if err != nil {
			return fmt.Errorf("ledger: failed to delete batches: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

// CountBatches returns the total number of batches for a dataset.
func (l *Ledger) CountBatches(ctx context.Context, datasetID string) (int64, error) {
	var total int64
	err := l.db.Reader().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM batches WHERE dataset_id = ?`, datasetID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("ledger: failed to count batches: %w", err)
	}
	return total, nil
}

// GetLatestBatch returns the newest batch for a dataset.
func (l *Ledger) GetLatestBatch(ctx context.Context, datasetID string) (*types.Batch, error) {
	row := l.db.Reader().QueryRowContext(ctx, `
		SELECT `+batchColumns+` FROM batches
		WHERE dataset_id = ?
		ORDER BY batch_key DESC, batch_id DESC
		LIMIT 1`, datasetID)

	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, serrors.NewBatchNotFound("latest")
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to get latest batch: %w", err)
	}
	return b, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(s scanner) (*types.Batch, error) {
	var b types.Batch
	var batchKey, createdAt int64
	err := s.Scan(&b.DatasetID, &b.BatchID, &batchKey, &b.SchemaVersion,
		&b.RowCount, &b.SizeBytes, &b.FileFormat, &b.Status, &b.UploadedBy, &createdAt)
	if err != nil {
		return nil, err
	}
	b.BatchKey = time.Unix(batchKey, 0).UTC()
	b.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &b, nil
}
