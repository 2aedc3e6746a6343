// Package rowstore manages the physical per-dataset row tables.
//
// Each dataset gets one table keyed by (batch_id, chunk_id, row_seq): batch
// and chunk form the partition key, the in-chunk sequence the clustering
// key. Batch-scoped reads and batch deletion are therefore range operations
// on the primary key rather than table scans. Writes are chunked (10,000
// rows per chunk by default) with one retry per chunk.
package rowstore

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

// Manager provisions and addresses per-dataset row tables in rows.db.
type Manager struct {
	write     *sql.DB
	read      *sql.DB
	dbPath    string
	chunkSize int
	mu        sync.Mutex // serializes writes, SQLite allows one writer
}

// Open opens (creating if needed) the row database at dbPath. chunkSize <= 0
// selects the default of 10,000 rows per chunk.
func Open(dbPath string, chunkSize int) (*Manager, error) {
	if chunkSize <= 0 {
		chunkSize = types.DefaultChunkSize
	}

	write, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("rowstore: failed to open database: %w", err)
	}
	write.SetMaxOpenConns(1)
	write.SetMaxIdleConns(1)

	read, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("rowstore: failed to open read database: %w", err)
	}
	read.SetMaxOpenConns(4)
	read.SetMaxIdleConns(4)
	read.SetConnMaxLifetime(5 * time.Minute)

	return &Manager{write: write, read: read, dbPath: dbPath, chunkSize: chunkSize}, nil
}

// ChunkSize returns the configured rows-per-chunk.
func (m *Manager) ChunkSize() int { return m.chunkSize }

// Close closes both connections.
func (m *Manager) Close() error {
	var firstErr error
	if err := m.read.Close(); err != nil {
		firstErr = fmt.Errorf("rowstore: failed to close read database: %w", err)
	}
	if err := m.write.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("rowstore: failed to close write database: %w", err)
	}
	return firstErr
}

// EnsureTable provisions the dataset's row table on first write and extends
// it with new physical columns when the schema grew. Calling it with an
// unchanged schema is a no-op. Provisioning errors are fatal to the batch.
func (m *Manager) EnsureTable(ctx context.Context, datasetID string, schema []types.Column) error {
	table := TableName(datasetID)
	mapped := mapColumns(schema)
	if len(mapped) == 0 {
		return serrors.NewTableProvisionError(
			fmt.Sprintf("dataset %s: cannot provision table without columns", datasetID), nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var defs []string
	for _, col := range mapped {
		defs = append(defs, col.Physical+" "+sqlType(col.Type))
	}
	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		batch_id TEXT NOT NULL,
		chunk_id INTEGER NOT NULL,
		row_seq INTEGER NOT NULL,
		%s,
		PRIMARY KEY (batch_id, chunk_id, row_seq)
	)`, table, strings.Join(defs, ",\n\t\t"))
	if _, err := m.write.ExecContext(ctx, createSQL); err != nil {
		return serrors.NewTableProvisionError(
			fmt.Sprintf("failed to create table for dataset %s", datasetID), err)
	}

	existing, err := m.tableColumns(ctx, table)
	if err != nil {
		return serrors.NewTableProvisionError(
			fmt.Sprintf("failed to inspect table for dataset %s", datasetID), err)
	}
	for _, col := range mapped {
		if existing[col.Physical] {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.Physical, sqlType(col.Type))
		if _, err := m.write.ExecContext(ctx, alter); err != nil {
			return serrors.NewTableProvisionError(
				fmt.Sprintf("failed to add column %s for dataset %s", col.Physical, datasetID), err)
		}
	}
	return nil
}

// tableColumns returns the physical column names of a table.
func (m *Manager) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := m.write.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// WriteRows writes rows for one batch in fixed-size chunks, one transaction
// per chunk. A failed chunk is retried once; if the retry also fails, the
// rows written so far are reported alongside a partial-write error so the
// batch can be failed with accurate counts. Values that do not fit the
// column's declared type are stored as NULL.
func (m *Manager) WriteRows(ctx context.Context, datasetID, batchID string, schema []types.Column, rows []types.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	table := TableName(datasetID)
	mapped := mapColumns(schema)

	names := make([]string, 0, len(mapped)+3)
	names = append(names, "batch_id", "chunk_id", "row_seq")
	for _, col := range mapped {
		names = append(names, col.Physical)
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(names, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", "))

	m.mu.Lock()
	defer m.mu.Unlock()

	var written int64
	for chunkID := 0; chunkID*m.chunkSize < len(rows); chunkID++ {
		start := chunkID * m.chunkSize
		end := start + m.chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		err := m.writeChunk(ctx, insertSQL, mapped, batchID, chunkID, chunk)
		if err != nil {
			log.Printf("[WARN] rowstore: chunk %d of batch %s failed, retrying: %v", chunkID, batchID, err)
			err = m.writeChunk(ctx, insertSQL, mapped, batchID, chunkID, chunk)
		}
		if err != nil {
			return written, serrors.NewPartialWriteFailure(
				fmt.Sprintf("batch %s: chunk %d failed after retry, %d of %d rows written",
					batchID, chunkID, written, len(rows)), err)
		}
		written += int64(len(chunk))
	}
	return written, nil
}

// writeChunk inserts one chunk inside a transaction. The chunk either lands
// completely or not at all, so the retry can safely replay it.
func (m *Manager) writeChunk(ctx context.Context, insertSQL string, mapped []physColumn, batchID string, chunkID int, chunk []types.Row) error {
	tx, err := m.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rowstore: failed to begin chunk transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("rowstore: failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]interface{}, len(mapped)+3)
	for seq, row := range chunk {
		args[0] = batchID
		args[1] = chunkID
		args[2] = seq
		for i, col := range mapped {
			args[i+3] = coerceValue(row[col.Logical], col.Type)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("rowstore: failed to insert row %d of chunk %d: %w", seq, chunkID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rowstore: failed to commit chunk %d: %w", chunkID, err)
	}
	return nil
}

// ReadRows executes a filtered, projected, paginated read and returns one
// page plus the total count of matching rows. Projection is applied at the
// storage layer; batch filtering restricts the partition key.
func (m *Manager) ReadRows(ctx context.Context, datasetID string, schema []types.Column, opts types.ReadOptions) (*types.RowPage, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 || opts.PageSize > types.MaxPageSize {
		return nil, serrors.New(serrors.ErrCategoryValidation, serrors.CodeInvalidRequest,
			fmt.Sprintf("page_size %d out of range 1..%d", opts.PageSize, types.MaxPageSize))
	}

	table := TableName(datasetID)
	mapped := mapColumns(schema)
	physByLogical := make(map[string]physColumn, len(mapped))
	for _, col := range mapped {
		physByLogical[col.Logical] = col
	}

	selected := mapped
	if len(opts.Columns) > 0 {
		projected := make([]string, len(opts.Columns))
		copy(projected, opts.Columns)
		sort.Strings(projected)
		selected = selected[:0:0]
		for _, name := range projected {
			col, ok := physByLogical[name]
			if !ok {
				return nil, serrors.NewColumnNotFound(name)
			}
			selected = append(selected, col)
		}
	}

	var where []string
	var args []interface{}
	if opts.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, opts.BatchID)
	}
	filterClauses, filterArgs, err := buildFilterClause(opts.Filters, physByLogical)
	if err != nil {
		return nil, err
	}
	where = append(where, filterClauses...)
	args = append(args, filterArgs...)

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", table, whereSQL)
	if err := m.read.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("rowstore: failed to count rows: %w", err)
	}

	physNames := make([]string, len(selected))
	for i, col := range selected {
		physNames[i] = col.Physical
	}
	querySQL := fmt.Sprintf(`SELECT %s FROM %s%s
		ORDER BY batch_id, chunk_id, row_seq
		LIMIT ? OFFSET ?`,
		strings.Join(physNames, ", "), table, whereSQL)
	queryArgs := append(append([]interface{}{}, args...), opts.PageSize, (opts.Page-1)*opts.PageSize)

	rows, err := m.read.QueryContext(ctx, querySQL, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("rowstore: failed to query rows: %w", err)
	}
	defer rows.Close()

	page := &types.RowPage{
		Rows:     []types.Row{},
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.PageSize,
	}
	values := make([]interface{}, len(selected))
	ptrs := make([]interface{}, len(selected))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("rowstore: failed to scan row: %w", err)
		}
		row := make(types.Row, len(selected))
		for i, col := range selected {
			row[col.Logical] = decodeValue(values[i], col.Type)
		}
		page.Rows = append(page.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rowstore: failed to iterate rows: %w", err)
	}
	return page, nil
}

// DeleteBatchRows removes exactly the rows of one batch and returns how many
// were deleted. The batch id is the leading primary-key column, so this is a
// range delete.
func (m *Manager) DeleteBatchRows(ctx context.Context, datasetID, batchID string) (int64, error) {
	table := TableName(datasetID)

	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.write.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE batch_id = ?", table), batchID)
	if err != nil {
		return 0, fmt.Errorf("rowstore: failed to delete batch rows: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rowstore: failed to read rows affected: %w", err)
	}
	return deleted, nil
}

// DropTable removes the dataset's row table entirely. Used by dataset
// deletion; dropping a never-provisioned table is a no-op.
func (m *Manager) DropTable(ctx context.Context, datasetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.write.ExecContext(ctx,
		fmt.Sprintf("DROP TABLE IF EXISTS %s", TableName(datasetID)))
	if err != nil {
		return fmt.Errorf("rowstore: failed to drop table: %w", err)
	}
	return nil
}

// CountRows returns the total number of stored rows for a dataset. A dataset
// whose table was never provisioned has zero rows.
func (m *Manager) CountRows(ctx context.Context, datasetID string) (int64, error) {
	var total int64
	err := m.read.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", TableName(datasetID))).Scan(&total)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, fmt.Errorf("rowstore: failed to count rows: %w", err)
	}
	return total, nil
}
