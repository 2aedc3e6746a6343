// Package dataset implements the orchestrator coordinating the schema
// registry, batch ledger, row store, masking engine, and pagination cache.
//
// Write path: evolve schema, create the batch record, provision and write
// the row table, mark the batch terminal, then invalidate the dataset's
// cache entries. The invalidation is issued only after the row store has
// durably acknowledged the write. Read path: cache lookup, then a filtered
// row store read, masking per value, and a fire-and-forget cache populate.
package dataset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/stratadb/strata/internal/cache"
	"github.com/stratadb/strata/internal/catalog"
	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/events"
	"github.com/stratadb/strata/internal/ingest"
	"github.com/stratadb/strata/internal/ledger"
	"github.com/stratadb/strata/internal/mask"
	"github.com/stratadb/strata/internal/rowstore"
	"github.com/stratadb/strata/internal/schema"
	"github.com/stratadb/strata/internal/storage"
	"github.com/stratadb/strata/pkg/types"
)

// Orchestrator is the coordinating façade over the storage subsystem.
type Orchestrator struct {
	db       *catalog.DB
	registry *schema.Registry
	ledger   *ledger.Ledger
	rows     *rowstore.Manager
	cache    cache.PageCache
	cacheTTL time.Duration
	objects  storage.ObjectStorage // nil disables raw-file archival
	notifier events.Notifier
}

// NewOrchestrator wires the orchestrator. objects may be nil; a nil notifier
// is replaced with a no-op one.
func NewOrchestrator(db *catalog.DB, registry *schema.Registry, lg *ledger.Ledger, rows *rowstore.Manager, pc cache.PageCache, objects storage.ObjectStorage, notifier events.Notifier) *Orchestrator {
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	return &Orchestrator{
		db:       db,
		registry: registry,
		ledger:   lg,
		rows:     rows,
		cache:    pc,
		cacheTTL: cache.DefaultTTL,
		objects:  objects,
		notifier: notifier,
	}
}

// SetCacheTTL overrides the lifetime of cached pages.
func (o *Orchestrator) SetCacheTTL(ttl time.Duration) {
	if ttl > 0 {
		o.cacheTTL = ttl
	}
}

// CreateDatasetRequest carries the metadata for a new dataset.
type CreateDatasetRequest struct {
	Name        string
	Description string
	Owner       string
	Tags        []string
	IsPublic    bool
	Cadence     types.Cadence
}

// CreateDataset registers a new, empty dataset.
func (o *Orchestrator) CreateDataset(ctx context.Context, req CreateDatasetRequest) (*types.Dataset, error) {
	if req.Name == "" || req.Owner == "" {
		return nil, serrors.New(serrors.ErrCategoryValidation, serrors.CodeInvalidRequest,
			"dataset name and owner are required")
	}
	if req.Cadence == "" {
		req.Cadence = types.CadenceOnce
	}
	if !types.ValidCadence(req.Cadence) {
		return nil, serrors.New(serrors.ErrCategoryValidation, serrors.CodeInvalidRequest,
			fmt.Sprintf("unknown cadence %q", req.Cadence))
	}

	now := time.Now().UTC()
	ds := &types.Dataset{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Owner:       req.Owner,
		Tags:        req.Tags,
		IsPublic:    req.IsPublic,
		Cadence:     req.Cadence,
		Status:      types.DatasetUploading,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.db.CreateDataset(ctx, ds); err != nil {
		return nil, err
	}
	o.publish(ctx, events.Event{Type: events.TypeDatasetCreated, DatasetID: ds.ID})
	return ds, nil
}

// GetDataset returns one dataset's metadata.
func (o *Orchestrator) GetDataset(ctx context.Context, datasetID string) (*types.Dataset, error) {
	return o.db.GetDataset(ctx, datasetID)
}

// ListDatasets returns datasets newest-first, paginated.
func (o *Orchestrator) ListDatasets(ctx context.Context, page, pageSize int) ([]*types.Dataset, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > types.MaxPageSize {
		pageSize = 50
	}
	return o.db.ListDatasets(ctx, page, pageSize)
}

// UpdateDataset edits dataset metadata and invalidates the dataset's cache
// entries.
func (o *Orchestrator) UpdateDataset(ctx context.Context, ds *types.Dataset) error {
	if err := o.db.UpdateDataset(ctx, ds); err != nil {
		return err
	}
	o.invalidate(ctx, ds.ID)
	return nil
}

// IngestRequest carries one upload.
type IngestRequest struct {
	DatasetID string
	BatchKey  time.Time // temporal key; zero means now
	Uploader  string
	Format    string // csv, tsv, json, ndjson
	File      io.Reader
}

// Ingest runs the full write path for one uploaded file and returns the
// terminal batch record. A failed batch leaves the dataset's prior batches
// queryable; the error describes what failed.
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (*types.Batch, error) {
	ds, err := o.db.GetDataset(ctx, req.DatasetID)
	if err != nil {
		return nil, err
	}
	if req.BatchKey.IsZero() {
		req.BatchKey = time.Now().UTC()
	}

	// The file is buffered once: parsed for rows and archived verbatim.
	raw, err := io.ReadAll(req.File)
	if err != nil {
		return nil, serrors.NewStorageError(serrors.CodeUploadFailed, "failed to read upload", err)
	}
	sizeBytes := int64(len(raw))

	parsed, err := ingest.Parse(bytes.NewReader(raw), req.Format)
	if err != nil {
		return nil, err
	}

	if err := o.db.UpdateDatasetStatus(ctx, ds.ID, types.DatasetProcessing); err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	version, _, err := o.registry.EvolveSchema(ctx, ds.ID, parsed.Columns, batchID)
	if err != nil {
		o.settleDatasetStatus(ctx, ds.ID)
		return nil, err
	}

	batch, err := o.ledger.CreateBatch(ctx, ds.ID, batchID, req.BatchKey, version, req.Uploader, req.Format)
	if err != nil {
		o.settleDatasetStatus(ctx, ds.ID)
		return nil, err
	}

	o.archiveRawFile(ctx, ds.ID, batchID, req.Format, raw)

	activeSchema, err := o.registry.GetSchema(ctx, ds.ID, version)
	if err != nil {
		return o.failBatch(ctx, batch, 0, 0, err)
	}
	if err := o.rows.EnsureTable(ctx, ds.ID, activeSchema); err != nil {
		// Provisioning errors are fatal to the batch.
		return o.failBatch(ctx, batch, 0, 0, err)
	}

	written, err := o.rows.WriteRows(ctx, ds.ID, batchID, activeSchema, parsed.Rows)
	if err != nil {
		// Partial counts are preserved; no silent partial success.
		return o.failBatch(ctx, batch, written, sizeBytes, err)
	}

	if err := o.ledger.UpdateStatus(ctx, ds.ID, batchID, types.BatchReady, written, sizeBytes); err != nil {
		return o.failBatch(ctx, batch, written, sizeBytes, err)
	}
	if err := o.db.AddDatasetCounters(ctx, ds.ID, written, sizeBytes, 1); err != nil {
		log.Printf("[WARN] dataset: failed to update counters for %s: %v", ds.ID, err)
	}
	if err := o.db.UpdateDatasetStatus(ctx, ds.ID, types.DatasetReady); err != nil {
		log.Printf("[WARN] dataset: failed to update status for %s: %v", ds.ID, err)
	}

	// Invalidate only after the row store durably acknowledged the write.
	o.invalidate(ctx, ds.ID)
	o.publish(ctx, events.Event{
		Type:          events.TypeDatasetIngested,
		DatasetID:     ds.ID,
		BatchID:       batchID,
		SchemaVersion: version,
		RowCount:      written,
	})

	batch.Status = types.BatchReady
	batch.RowCount = written
	batch.SizeBytes = sizeBytes
	return batch, nil
}

// failBatch marks the batch failed with the partial counts and settles the
// dataset status. The original error is returned to the caller.
func (o *Orchestrator) failBatch(ctx context.Context, batch *types.Batch, written, sizeBytes int64, cause error) (*types.Batch, error) {
	if err := o.ledger.UpdateStatus(ctx, batch.DatasetID, batch.BatchID, types.BatchFailed, written, sizeBytes); err != nil {
		log.Printf("[WARN] dataset: failed to mark batch %s failed: %v", batch.BatchID, err)
	}
	o.settleDatasetStatus(ctx, batch.DatasetID)
	// Rows from completed chunks may exist; they are invisible to batch
	// listings of ready batches but still invalidate cached totals.
	o.invalidate(ctx, batch.DatasetID)

	batch.Status = types.BatchFailed
	batch.RowCount = written
	batch.SizeBytes = sizeBytes
	return batch, cause
}

// settleDatasetStatus returns a dataset to ready if it has any batches, or
// failed if its first ingestion never landed.
func (o *Orchestrator) settleDatasetStatus(ctx context.Context, datasetID string) {
	count, err := o.ledger.CountBatches(ctx, datasetID)
	status := types.DatasetReady
	if err != nil || count == 0 {
		status = types.DatasetFailed
	}
	if err := o.db.UpdateDatasetStatus(ctx, datasetID, status); err != nil {
		log.Printf("[WARN] dataset: failed to settle status for %s: %v", datasetID, err)
	}
}

// archiveRawFile stores the uploaded file verbatim. Archival failures do not
// fail the batch; the typed rows are the source of truth.
func (o *Orchestrator) archiveRawFile(ctx context.Context, datasetID, batchID, format string, raw []byte) {
	if o.objects == nil {
		return
	}
	path := storage.BatchObjectPath(datasetID, batchID, format)
	if _, err := o.objects.Put(ctx, path, bytes.NewReader(raw)); err != nil {
		log.Printf("[WARN] dataset: failed to archive raw file %s: %v", path, err)
	}
}

// ReadRows runs the read path: cache lookup, row store read, per-value
// masking, cache populate. role drives masking; applyMask=false bypasses
// masking entirely and is gated by the API layer to privileged callers.
func (o *Orchestrator) ReadRows(ctx context.Context, datasetID string, opts types.ReadOptions, role string, applyMask bool) (*types.RowPage, error) {
	if _, err := o.db.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}
	if opts.Page < 1 {
		opts.Page = 1
	}

	maskRole := role
	if !applyMask {
		maskRole = types.RoleAdmin
	}

	key := cache.Key(datasetID, opts, maskRole)
	if page, ok := o.cache.Get(ctx, key); ok {
		return &types.RowPage{Rows: page.Rows, Total: page.Total, Page: opts.Page, PageSize: opts.PageSize}, nil
	}

	activeSchema, err := o.registry.GetSchema(ctx, datasetID, 0)
	if err != nil {
		return nil, err
	}
	if len(activeSchema) == 0 {
		return &types.RowPage{Rows: []types.Row{}, Page: opts.Page, PageSize: opts.PageSize}, nil
	}

	page, err := o.rows.ReadRows(ctx, datasetID, activeSchema, opts)
	if err != nil {
		return nil, err
	}
	o.maskRows(page.Rows, activeSchema, maskRole)

	// Fire-and-forget populate; masked pages are what gets cached.
	o.cache.Put(ctx, key, &cache.Page{Rows: page.Rows, Total: page.Total}, o.cacheTTL)
	return page, nil
}

// maskRows applies each column's masking rule in place.
func (o *Orchestrator) maskRows(rows []types.Row, activeSchema []types.Column, role string) {
	if role == types.RoleAdmin {
		return
	}
	for _, col := range activeSchema {
		if col.MaskingRule == "" {
			continue
		}
		for _, row := range rows {
			if v, ok := row[col.Name]; ok {
				row[col.Name] = mask.Mask(v, col.MaskingRule, role)
			}
		}
	}
}

// Export streams the dataset's rows (optionally one batch) to w in the
// requested format. masked=false exports raw values.
func (o *Orchestrator) Export(ctx context.Context, datasetID, batchID, format, role string, masked bool, w io.Writer) error {
	if _, err := o.db.GetDataset(ctx, datasetID); err != nil {
		return err
	}
	activeSchema, err := o.registry.GetSchema(ctx, datasetID, 0)
	if err != nil {
		return err
	}
	if len(activeSchema) == 0 {
		return serrors.New(serrors.ErrCategorySchema, serrors.CodeEmptySchema,
			fmt.Sprintf("dataset %s has no schema to export", datasetID))
	}

	var transform rowstore.TransformFunc
	if masked && role != types.RoleAdmin {
		rules := make(map[string]string, len(activeSchema))
		for _, col := range activeSchema {
			if col.MaskingRule != "" {
				rules[col.Name] = col.MaskingRule
			}
		}
		transform = func(column string, value interface{}) interface{} {
			if rule, ok := rules[column]; ok {
				return mask.Mask(value, rule, role)
			}
			return value
		}
	}
	return o.rows.ExportRows(ctx, datasetID, activeSchema, batchID, format, transform, w)
}

// UpdateMaskingRule patches one column's masking rule and invalidates the
// dataset's cached pages, since masked output changed.
func (o *Orchestrator) UpdateMaskingRule(ctx context.Context, datasetID, column, rule string) error {
	if err := o.registry.UpdateMaskingRule(ctx, datasetID, column, rule); err != nil {
		return err
	}
	o.invalidate(ctx, datasetID)
	o.publish(ctx, events.Event{Type: events.TypeMaskingUpdated, DatasetID: datasetID})
	return nil
}

// DropColumn soft-deletes a column and invalidates the dataset's cache.
func (o *Orchestrator) DropColumn(ctx context.Context, datasetID, column string) error {
	if err := o.registry.DropColumn(ctx, datasetID, column); err != nil {
		return err
	}
	o.invalidate(ctx, datasetID)
	return nil
}

// GetSchema returns the columns active as of version (0 for latest).
func (o *Orchestrator) GetSchema(ctx context.Context, datasetID string, version int) ([]types.Column, error) {
	return o.registry.GetSchema(ctx, datasetID, version)
}

// GetAllColumns returns the full column listing including soft-deleted ones.
func (o *Orchestrator) GetAllColumns(ctx context.Context, datasetID string) ([]types.Column, error) {
	return o.registry.GetAllColumns(ctx, datasetID)
}

// GetSchemaHistory returns all schema versions, newest-first.
func (o *Orchestrator) GetSchemaHistory(ctx context.Context, datasetID string) ([]types.SchemaVersion, error) {
	return o.registry.GetHistory(ctx, datasetID)
}

// ListBatches returns one page of batches, newest-first.
func (o *Orchestrator) ListBatches(ctx context.Context, datasetID string, page, pageSize int) ([]*types.Batch, int64, error) {
	if _, err := o.db.GetDataset(ctx, datasetID); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > types.MaxPageSize {
		pageSize = 50
	}
	return o.ledger.ListBatches(ctx, datasetID, page, pageSize)
}

// GetBatch returns one batch record.
func (o *Orchestrator) GetBatch(ctx context.Context, datasetID, batchID string) (*types.Batch, error) {
	return o.ledger.GetBatch(ctx, datasetID, batchID)
}

// DeleteBatch removes exactly one batch: its rows first, then the ledger
// record, then the aggregate counters, the archived raw file, and the
// dataset's cache entries.
func (o *Orchestrator) DeleteBatch(ctx context.Context, datasetID, batchID string) error {
	if _, err := o.ledger.GetBatch(ctx, datasetID, batchID); err != nil {
		return err
	}

	deletedRows, err := o.rows.DeleteBatchRows(ctx, datasetID, batchID)
	if err != nil {
		return err
	}
	batch, err := o.ledger.DeleteBatch(ctx, datasetID, batchID)
	if err != nil {
		return err
	}
	if err := o.db.AddDatasetCounters(ctx, datasetID, -deletedRows, -batch.SizeBytes, -1); err != nil {
		log.Printf("[WARN] dataset: failed to update counters for %s: %v", datasetID, err)
	}
	if o.objects != nil {
		path := storage.BatchObjectPath(datasetID, batchID, batch.FileFormat)
		if err := o.objects.Delete(ctx, path); err != nil {
			log.Printf("[WARN] dataset: failed to delete archived file %s: %v", path, err)
		}
	}

	o.invalidate(ctx, datasetID)
	o.publish(ctx, events.Event{
		Type:      events.TypeBatchDeleted,
		DatasetID: datasetID,
		BatchID:   batchID,
		RowCount:  deletedRows,
	})
	return nil
}

// DeleteDataset cascades: row table, batch records, schema, archived files,
// the dataset record itself, and every cached page.
func (o *Orchestrator) DeleteDataset(ctx context.Context, datasetID string) error {
	if _, err := o.db.GetDataset(ctx, datasetID); err != nil {
		return err
	}

	if err := o.rows.DropTable(ctx, datasetID); err != nil {
		return err
	}
	if _, err := o.ledger.DeleteAllBatches(ctx, datasetID); err != nil {
		return err
	}
	if err := o.registry.DeleteSchema(ctx, datasetID); err != nil {
		return err
	}
	if o.objects != nil {
		if err := o.objects.DeletePrefix(ctx, storage.DatasetPrefix(datasetID)); err != nil {
			log.Printf("[WARN] dataset: failed to delete archived files for %s: %v", datasetID, err)
		}
	}
	if err := o.db.DeleteDataset(ctx, datasetID); err != nil {
		return err
	}

	o.invalidate(ctx, datasetID)
	o.publish(ctx, events.Event{Type: events.TypeDatasetDeleted, DatasetID: datasetID})
	return nil
}

// invalidate drops the dataset's cached pages, logging failures. A missed
// invalidation is bounded by the entry TTL.
func (o *Orchestrator) invalidate(ctx context.Context, datasetID string) {
	if err := o.cache.InvalidateDataset(ctx, datasetID); err != nil {
		log.Printf("[WARN] dataset: cache invalidation failed for %s: %v", datasetID, err)
	}
}

// publish sends an event, logging failures. Event delivery is best-effort.
func (o *Orchestrator) publish(ctx context.Context, event events.Event) {
	if err := o.notifier.Publish(ctx, event); err != nil {
		log.Printf("[WARN] dataset: failed to publish %s for %s: %v", event.Type, event.DatasetID, err)
	}
}
