// Package schema implements the schema registry: the versioned, soft-deletable
// column set of each dataset.
//
// Evolution is diff-based. Columns present in both the active set and a new
// ingestion keep their position, type, and masking rule; new columns are
// appended at the next version; columns absent from the new ingestion are
// soft-deleted (active=false plus a removal timestamp) so batches written
// before the removal stay queryable. The version bump itself is a
// compare-and-swap on the dataset record; the loser of a concurrent bump
// re-diffs against the winner's schema and retries.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/stratadb/strata/internal/catalog"
	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/mask"
	"github.com/stratadb/strata/pkg/types"
)

// maxEvolveAttempts bounds the CAS retry loop. Each retry re-reads the
// current schema, so losing repeatedly means pathological write contention.
const maxEvolveAttempts = 5

// Registry manages dataset schemas in the catalog.
type Registry struct {
	db *catalog.DB
}

// NewRegistry creates a schema registry backed by the catalog database.
func NewRegistry(db *catalog.DB) *Registry {
	return &Registry{db: db}
}

// SetSchema creates version 1 of a dataset's schema verbatim from the
// inferred columns. The dataset must exist and carry no schema yet.
func (r *Registry) SetSchema(ctx context.Context, datasetID string, columns []types.Column, batchID string) (int, error) {
	version, _, err := r.EvolveSchema(ctx, datasetID, columns, batchID)
	return version, err
}

// EvolveSchema diffs the inferred columns against the dataset's active
// column set and, when the set changed, writes the next schema version.
// Returns the resulting version and whether a new version was created.
// Re-ingesting an identical column shape reuses the current version.
func (r *Registry) EvolveSchema(ctx context.Context, datasetID string, columns []types.Column, batchID string) (int, bool, error) {
	usable := usableColumns(columns)
	if len(usable) == 0 {
		return 0, false, serrors.New(serrors.ErrCategorySchema, serrors.CodeEmptySchema,
			fmt.Sprintf("dataset %s: new column set has zero usable columns", datasetID))
	}
	for _, col := range usable {
		if !mask.ValidRule(col.MaskingRule) {
			return 0, false, serrors.NewInvalidMaskRule(col.MaskingRule)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxEvolveAttempts; attempt++ {
		version, changed, err := r.tryEvolve(ctx, datasetID, usable, batchID)
		if err == nil {
			return version, changed, nil
		}
		if !errors.Is(err, serrors.NewSchemaConflict(datasetID)) {
			return 0, false, err
		}
		lastErr = err
	}
	return 0, false, lastErr
}

// tryEvolve performs one diff-and-bump attempt.
func (r *Registry) tryEvolve(ctx context.Context, datasetID string, incoming []types.Column, batchID string) (int, bool, error) {
	ds, err := r.db.GetDataset(ctx, datasetID)
	if err != nil {
		return 0, false, err
	}
	existing, err := r.loadColumns(ctx, datasetID)
	if err != nil {
		return 0, false, err
	}

	diff := computeDiff(existing, incoming)
	for _, tc := range diff.typeChanged {
		// The physical column keeps its original type family; mismatched
		// values in later batches are stored as NULL.
		log.Printf("[WARN] schema: dataset %s column %q type changed %s -> %s, keeping %s",
			datasetID, tc.name, tc.oldType, tc.newType, tc.oldType)
	}
	if len(diff.added) == 0 && len(diff.reactivated) == 0 && len(diff.dropped) == 0 {
		return ds.SchemaVersion, false, nil
	}

	next := ds.SchemaVersion + 1
	now := time.Now().UTC()
	summary := diff.summary()
	activeAfter := diff.activeCountAfter(existing)

	err = r.db.WithTx(ctx, func(tx *sql.Tx) error {
		ok, err := r.db.BumpSchemaVersion(ctx, tx, datasetID, ds.SchemaVersion, next)
		if err != nil {
			return err
		}
		if !ok {
			return serrors.NewSchemaConflict(datasetID)
		}
		if err := applyDiff(ctx, tx, datasetID, diff, next, now); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO schema_versions (dataset_id, version, batch_id, column_count, change_summary, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			datasetID, next, batchID, activeAfter, summary, now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("schema: failed to insert version record: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return next, true, nil
}

// GetSchema returns the columns active as of the given version, ordered by
// position. version <= 0 means the latest version.
func (r *Registry) GetSchema(ctx context.Context, datasetID string, version int) ([]types.Column, error) {
	if version <= 0 {
		ds, err := r.db.GetDataset(ctx, datasetID)
		if err != nil {
			return nil, err
		}
		version = ds.SchemaVersion
	}

	all, err := r.loadColumns(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	var active []types.Column
	for _, col := range all {
		if col.VersionAdded <= version && (col.VersionRemoved == 0 || col.VersionRemoved > version) {
			active = append(active, col)
		}
	}
	return active, nil
}

// GetAllColumns returns every column ever defined for the dataset, including
// soft-deleted ones, ordered by position.
func (r *Registry) GetAllColumns(ctx context.Context, datasetID string) ([]types.Column, error) {
	if _, err := r.db.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}
	return r.loadColumns(ctx, datasetID)
}

// GetHistory returns all schema versions for the dataset, newest-first.
func (r *Registry) GetHistory(ctx context.Context, datasetID string) ([]types.SchemaVersion, error) {
	if _, err := r.db.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}

	rows, err := r.db.Reader().QueryContext(ctx, `
		SELECT dataset_id, version, batch_id, column_count, change_summary, created_at
		FROM schema_versions WHERE dataset_id = ? ORDER BY version DESC`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("schema: failed to query versions: %w", err)
	}
	defer rows.Close()

	var versions []types.SchemaVersion
	for rows.Next() {
		var v types.SchemaVersion
		var createdAt int64
		if err := rows.Scan(&v.DatasetID, &v.Version, &v.BatchID, &v.ColumnCount, &v.ChangeSummary, &createdAt); err != nil {
			return nil, fmt.Errorf("schema: failed to scan version: %w", err)
		}
		v.CreatedAt = time.Unix(createdAt, 0).UTC()
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema: failed to iterate versions: %w", err)
	}
	return versions, nil
}

// UpdateMaskingRule patches the masking rule of one active column. Unknown
// rules are rejected here, at patch time; the read path never fails on a
// rule it does not recognize.
func (r *Registry) UpdateMaskingRule(ctx context.Context, datasetID, column, rule string) error {
	if !mask.ValidRule(rule) {
		return serrors.NewInvalidMaskRule(rule)
	}
	if _, err := r.db.GetDataset(ctx, datasetID); err != nil {
		return err
	}

	var affected int64
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE schema_columns SET masking_rule = ?
			WHERE dataset_id = ? AND column_name = ? AND is_active = 1`,
			rule, datasetID, column,
		)
		if err != nil {
			return fmt.Errorf("schema: failed to update masking rule: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return serrors.NewColumnNotFound(column)
	}
	return nil
}

// DropColumn soft-deletes one active column, bumping the schema version.
func (r *Registry) DropColumn(ctx context.Context, datasetID, column string) error {
	var lastErr error
	for attempt := 0; attempt < maxEvolveAttempts; attempt++ {
		err := r.tryDropColumn(ctx, datasetID, column)
		if err == nil {
			return nil
		}
		if !errors.Is(err, serrors.NewSchemaConflict(datasetID)) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (r *Registry) tryDropColumn(ctx context.Context, datasetID, column string) error {
	ds, err := r.db.GetDataset(ctx, datasetID)
	if err != nil {
		return err
	}
	active, err := r.GetSchema(ctx, datasetID, ds.SchemaVersion)
	if err != nil {
		return err
	}
	found := false
	for _, col := range active {
		if col.Name == column {
			found = true
			break
		}
	}
	if !found {
		return serrors.NewColumnNotFound(column)
	}

	next := ds.SchemaVersion + 1
	now := time.Now().UTC()
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		ok, err := r.db.BumpSchemaVersion(ctx, tx, datasetID, ds.SchemaVersion, next)
		if err != nil {
			return err
		}
		if !ok {
			return serrors.NewSchemaConflict(datasetID)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE schema_columns
			SET is_active = 0, version_removed = ?, removed_at = ?
			WHERE dataset_id = ? AND column_name = ? AND is_active = 1`,
			next, now.Unix(), datasetID, column,
		)
		if err != nil {
			return fmt.Errorf("schema: failed to soft-delete column: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO schema_versions (dataset_id, version, batch_id, column_count, change_summary, created_at)
			VALUES (?, ?, '', ?, ?, ?)`,
			datasetID, next, len(active)-1, "Dropped: "+column, now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("schema: failed to insert version record: %w", err)
		}
		return nil
	})
}

// DeleteSchema removes all schema records for a dataset. This is the cascade
// path of dataset deletion; soft-delete semantics do not apply because the
// dataset itself is going away.
func (r *Registry) DeleteSchema(ctx context.Context, datasetID string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_columns WHERE dataset_id = ?`, datasetID); err != nil {
			return fmt.Errorf("schema: failed to delete columns: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_versions WHERE dataset_id = ?`, datasetID); err != nil {
			return fmt.Errorf("schema: failed to delete versions: %w", err)
		}
		return nil
	})
}

// loadColumns reads every column row for a dataset, ordered by position.
func (r *Registry) loadColumns(ctx context.Context, datasetID string) ([]types.Column, error) {
	rows, err := r.db.Reader().QueryContext(ctx, `
		SELECT column_name, column_type, position, masking_rule, is_active,
		       version_added, version_removed, added_at, removed_at
		FROM schema_columns WHERE dataset_id = ? ORDER BY position`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("schema: failed to query columns: %w", err)
	}
	defer rows.Close()

	var columns []types.Column
	for rows.Next() {
		var col types.Column
		var isActive int
		var addedAt int64
		var removedAt sql.NullInt64
		err := rows.Scan(&col.Name, &col.Type, &col.Position, &col.MaskingRule,
			&isActive, &col.VersionAdded, &col.VersionRemoved, &addedAt, &removedAt)
		if err != nil {
			return nil, fmt.Errorf("schema: failed to scan column: %w", err)
		}
		col.Active = isActive != 0
		col.Nullable = true
		col.AddedAt = time.Unix(addedAt, 0).UTC()
		if removedAt.Valid {
			t := time.Unix(removedAt.Int64, 0).UTC()
			col.RemovedAt = &t
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema: failed to iterate columns: %w", err)
	}
	return columns, nil
}

// schemaDiff is the outcome of diffing incoming columns against the stored set.
type schemaDiff struct {
	added       []types.Column // brand new columns, in incoming order
	reactivated []string       // previously dropped columns reappearing
	dropped     []string       // active columns absent from the incoming set
	typeChanged []typeChange
	nextPos     int // first free position for new columns
}

type typeChange struct {
	name    string
	oldType types.ColumnType
	newType types.ColumnType
}

// computeDiff compares incoming columns against the full stored column set.
// A previously dropped column reappearing counts as added, but keeps its
// original type and masking rule since its physical column already exists.
func computeDiff(existing []types.Column, incoming []types.Column) *schemaDiff {
	byName := make(map[string]types.Column, len(existing))
	maxPos := -1
	for _, col := range existing {
		byName[col.Name] = col
		if col.Position > maxPos {
			maxPos = col.Position
		}
	}

	diff := &schemaDiff{nextPos: maxPos + 1}
	seen := make(map[string]bool, len(incoming))
	for _, col := range incoming {
		seen[col.Name] = true
		prev, known := byName[col.Name]
		switch {
		case !known:
			diff.added = append(diff.added, col)
		case !prev.Active:
			diff.reactivated = append(diff.reactivated, col.Name)
		case prev.Type != col.Type:
			diff.typeChanged = append(diff.typeChanged, typeChange{col.Name, prev.Type, col.Type})
		}
	}
	for _, col := range existing {
		if col.Active && !seen[col.Name] {
			diff.dropped = append(diff.dropped, col.Name)
		}
	}
	sort.Strings(diff.dropped)
	return diff
}

// summary renders the human-readable change summary, e.g.
// "Added: region; Dropped: legacy_id".
func (d *schemaDiff) summary() string {
	var addedNames []string
	for _, col := range d.added {
		addedNames = append(addedNames, col.Name)
	}
	addedNames = append(addedNames, d.reactivated...)
	sort.Strings(addedNames)

	var parts []string
	if len(addedNames) > 0 {
		parts = append(parts, "Added: "+strings.Join(addedNames, ", "))
	}
	if len(d.dropped) > 0 {
		parts = append(parts, "Dropped: "+strings.Join(d.dropped, ", "))
	}
	return strings.Join(parts, "; ")
}

// activeCountAfter computes the active column count once the diff applies.
func (d *schemaDiff) activeCountAfter(existing []types.Column) int {
	count := 0
	for _, col := range existing {
		if col.Active {
			count++
		}
	}
	return count + len(d.added) + len(d.reactivated) - len(d.dropped)
}

// applyDiff writes the column changes for the new version inside tx.
func applyDiff(ctx context.Context, tx *sql.Tx, datasetID string, diff *schemaDiff, version int, now time.Time) error {
	pos := diff.nextPos
	for _, col := range diff.added {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO schema_columns (dataset_id, column_name, column_type, position,
				masking_rule, is_active, version_added, version_removed, added_at)
			VALUES (?, ?, ?, ?, ?, 1, ?, 0, ?)`,
			datasetID, col.Name, string(col.Type), pos, col.MaskingRule, version, now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("schema: failed to insert column %q: %w", col.Name, err)
		}
		pos++
	}
	for _, name := range diff.reactivated {
		// version_added is preserved so pre-drop versions still list the
		// column; a single (added, removed) interval per column cannot
		// represent a gap.
		_, err := tx.ExecContext(ctx, `
			UPDATE schema_columns
			SET is_active = 1, version_removed = 0, removed_at = NULL
			WHERE dataset_id = ? AND column_name = ?`,
			datasetID, name,
		)
		if err != nil {
			return fmt.Errorf("schema: failed to reactivate column %q: %w", name, err)
		}
	}
	for _, name := range diff.dropped {
		_, err := tx.ExecContext(ctx, `
			UPDATE schema_columns
			SET is_active = 0, version_removed = ?, removed_at = ?
			WHERE dataset_id = ? AND column_name = ? AND is_active = 1`,
			version, now.Unix(), datasetID, name,
		)
		if err != nil {
			return fmt.Errorf("schema: failed to soft-delete column %q: %w", name, err)
		}
	}
	return nil
}

// usableColumns drops entries with empty names.
func usableColumns(columns []types.Column) []types.Column {
	usable := make([]types.Column, 0, len(columns))
	for _, col := range columns {
		if strings.TrimSpace(col.Name) != "" {
			usable = append(usable, col)
		}
	}
	return usable
}
