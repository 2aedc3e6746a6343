// Package ingest parses uploaded tabular files and infers column types.
//
// Supported formats are csv, tsv, json (an array of flat objects), and
// ndjson (one object per line). All are row-oriented and header-bearing;
// inferred types are primitive scalars only.
package ingest

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

// ParsedFile is the outcome of parsing one upload: the inferred column set
// in stable order and the rows keyed by logical column name.
type ParsedFile struct {
	Columns []types.Column
	Rows    []types.Row
}

// Parse reads the whole file from r in the given format.
func Parse(r io.Reader, format string) (*ParsedFile, error) {
	switch strings.ToLower(format) {
	case "csv":
		return parseDelimited(r, ',')
	case "tsv":
		return parseDelimited(r, '\t')
	case "json":
		return parseJSONArray(r)
	case "ndjson", "jsonl":
		return parseNDJSON(r)
	default:
		return nil, serrors.New(serrors.ErrCategoryValidation, serrors.CodeInvalidRequest,
			fmt.Sprintf("unsupported file format %q", format))
	}
}

func parseDelimited(r io.Reader, comma rune) (*ParsedFile, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, serrors.New(serrors.ErrCategorySchema, serrors.CodeEmptySchema, "file has no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to read header: %w", err)
	}

	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.TrimSpace(h)
	}

	caps := make([]capabilities, len(names))
	for i := range caps {
		caps[i] = newCapabilities()
	}

	var rows []types.Row
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: failed to read record %d: %w", len(rows)+2, err)
		}
		row := make(types.Row, len(names))
		for i, name := range names {
			if name == "" || i >= len(record) {
				continue
			}
			value := strings.TrimSpace(record[i])
			if value == "" {
				row[name] = nil
				continue
			}
			row[name] = value
			caps[i].observe(value)
		}
		rows = append(rows, row)
	}

	columns := make([]types.Column, 0, len(names))
	for i, name := range names {
		if name == "" {
			continue
		}
		columns = append(columns, types.Column{
			Name:     name,
			Type:     caps[i].resolve(),
			Nullable: true,
		})
	}
	if len(columns) == 0 {
		return nil, serrors.New(serrors.ErrCategorySchema, serrors.CodeEmptySchema, "header has no usable columns")
	}
	return &ParsedFile{Columns: columns, Rows: rows}, nil
}

func parseJSONArray(r io.Reader) (*ParsedFile, error) {
	var objects []map[string]interface{}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&objects); err != nil {
		return nil, fmt.Errorf("ingest: failed to decode json array: %w", err)
	}
	return fromObjects(objects)
}

func parseNDJSON(r io.Reader) (*ParsedFile, error) {
	var objects []map[string]interface{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var obj map[string]interface{}
		dec := json.NewDecoder(strings.NewReader(text))
		dec.UseNumber()
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("ingest: failed to decode ndjson line %d: %w", line, err)
		}
		objects = append(objects, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ingest: failed to read ndjson: %w", err)
	}
	return fromObjects(objects)
}

// fromObjects builds a parsed file from decoded JSON objects. Column order
// is the sorted union of keys, so re-uploads of the same shape always infer
// the same column ordering regardless of per-object key order.
func fromObjects(objects []map[string]interface{}) (*ParsedFile, error) {
	if len(objects) == 0 {
		return nil, serrors.New(serrors.ErrCategorySchema, serrors.CodeEmptySchema, "file has no rows")
	}

	nameSet := make(map[string]bool)
	for _, obj := range objects {
		for name := range obj {
			if strings.TrimSpace(name) != "" {
				nameSet[name] = true
			}
		}
	}
	if len(nameSet) == 0 {
		return nil, serrors.New(serrors.ErrCategorySchema, serrors.CodeEmptySchema, "objects have no usable keys")
	}
	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)

	caps := make(map[string]*capabilities, len(names))
	for _, name := range names {
		c := newCapabilities()
		caps[name] = &c
	}

	rows := make([]types.Row, len(objects))
	for i, obj := range objects {
		row := make(types.Row, len(names))
		for _, name := range names {
			value := normalizeJSON(obj[name])
			row[name] = value
			caps[name].observe(value)
		}
		rows[i] = row
	}

	columns := make([]types.Column, len(names))
	for i, name := range names {
		columns[i] = types.Column{
			Name:     name,
			Type:     caps[name].resolve(),
			Nullable: true,
		}
	}
	return &ParsedFile{Columns: columns, Rows: rows}, nil
}

// normalizeJSON converts decoder output to the value forms the row store
// coerces. Nested arrays and objects are not scalar; they degrade to their
// JSON text.
func normalizeJSON(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case string, bool:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}
