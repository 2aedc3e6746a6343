package rowstore

import (
	"strconv"
	"strings"
	"time"

	"github.com/stratadb/strata/pkg/types"
)

// timestampFormats are the accepted input layouts, tried in order. Values
// are normalized to RFC 3339 UTC for storage.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerceValue converts a raw ingested value to the column's declared type
// for storage. A value that cannot be represented in the declared type is
// stored as NULL rather than failing the batch; column types are fixed at
// first ingestion.
func coerceValue(value interface{}, t types.ColumnType) interface{} {
	if value == nil {
		return nil
	}
	switch t {
	case types.TypeInteger:
		return coerceInteger(value)
	case types.TypeFloat:
		return coerceFloat(value)
	case types.TypeBoolean:
		return coerceBoolean(value)
	case types.TypeTimestamp:
		return coerceTimestamp(value)
	default:
		return coerceText(value)
	}
}

func coerceText(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return nil
	}
}

func coerceInteger(value interface{}) interface{} {
	switch v := value.(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		// JSON numbers arrive as float64; accept only whole values.
		if v == float64(int64(v)) {
			return int64(v)
		}
		return nil
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i
		}
		return nil
	default:
		return nil
	}
}

func coerceFloat(value interface{}) interface{} {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
		return nil
	default:
		return nil
	}
}

func coerceBoolean(value interface{}) interface{} {
	switch v := value.(type) {
	case bool:
		return boolInt(v)
	case int:
		if v == 0 || v == 1 {
			return int64(v)
		}
		return nil
	case int64:
		if v == 0 || v == 1 {
			return v
		}
		return nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "t", "yes", "1":
			return int64(1)
		case "false", "f", "no", "0":
			return int64(0)
		}
		return nil
	default:
		return nil
	}
}

func coerceTimestamp(value interface{}) interface{} {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range timestampFormats {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC().Format(time.RFC3339)
			}
		}
		return nil
	default:
		return nil
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// decodeValue converts a stored value back to its logical representation on
// the read path.
func decodeValue(value interface{}, t types.ColumnType) interface{} {
	if value == nil {
		return nil
	}
	switch t {
	case types.TypeBoolean:
		if i, ok := value.(int64); ok {
			return i != 0
		}
	case types.TypeText, types.TypeTimestamp:
		if b, ok := value.([]byte); ok {
			return string(b)
		}
	}
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}
