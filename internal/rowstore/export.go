package rowstore

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

// exportPageSize is the page size used when streaming the full row set.
const exportPageSize = types.MaxPageSize

// TransformFunc rewrites one value before it is serialized. The orchestrator
// injects masking here; a nil transform exports raw values.
type TransformFunc func(column string, value interface{}) interface{}

// ExportRows streams the dataset's rows (optionally restricted to one batch)
// through the paginated read path and serializes them to w in the requested
// format ("csv" or "json").
func (m *Manager) ExportRows(ctx context.Context, datasetID string, schema []types.Column, batchID, format string, transform TransformFunc, w io.Writer) error {
	switch format {
	case "csv":
		return m.exportCSV(ctx, datasetID, schema, batchID, transform, w)
	case "json":
		return m.exportJSON(ctx, datasetID, schema, batchID, transform, w)
	default:
		return serrors.New(serrors.ErrCategoryValidation, serrors.CodeInvalidRequest,
			fmt.Sprintf("unsupported export format %q", format))
	}
}

func (m *Manager) exportCSV(ctx context.Context, datasetID string, schema []types.Column, batchID string, transform TransformFunc, w io.Writer) error {
	cw := csv.NewWriter(w)

	header := make([]string, len(schema))
	for i, col := range schema {
		header[i] = col.Name
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("rowstore: failed to write csv header: %w", err)
	}

	err := m.forEachRow(ctx, datasetID, schema, batchID, func(row types.Row) error {
		record := make([]string, len(schema))
		for i, col := range schema {
			v := row[col.Name]
			if transform != nil {
				v = transform(col.Name, v)
			}
			record[i] = renderCSV(v)
		}
		return cw.Write(record)
	})
	if err != nil {
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("rowstore: failed to flush csv: %w", err)
	}
	return nil
}

func (m *Manager) exportJSON(ctx context.Context, datasetID string, schema []types.Column, batchID string, transform TransformFunc, w io.Writer) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return fmt.Errorf("rowstore: failed to write json: %w", err)
	}
	enc := json.NewEncoder(w)
	first := true

	err := m.forEachRow(ctx, datasetID, schema, batchID, func(row types.Row) error {
		if transform != nil {
			for _, col := range schema {
				row[col.Name] = transform(col.Name, row[col.Name])
			}
		}
		if !first {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		first = false
		return enc.Encode(row)
	})
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, "]"); err != nil {
		return fmt.Errorf("rowstore: failed to write json: %w", err)
	}
	return nil
}

// forEachRow pages through the full row set in storage order.
func (m *Manager) forEachRow(ctx context.Context, datasetID string, schema []types.Column, batchID string, fn func(types.Row) error) error {
	for page := 1; ; page++ {
		rp, err := m.ReadRows(ctx, datasetID, schema, types.ReadOptions{
			Page:     page,
			PageSize: exportPageSize,
			BatchID:  batchID,
		})
		if err != nil {
			return err
		}
		for _, row := range rp.Rows {
			if err := fn(row); err != nil {
				return err
			}
		}
		if len(rp.Rows) < exportPageSize {
			return nil
		}
	}
}

func renderCSV(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
