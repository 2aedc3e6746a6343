package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/stratadb/strata/pkg/types"
)

// capabilities tracks which primitive types every observed value of a column
// can still be. Inference intersects capabilities across values and picks
// the narrowest surviving type.
type capabilities struct {
	integer   bool
	float     bool
	boolean   bool
	timestamp bool
	sawValue  bool
}

func newCapabilities() capabilities {
	return capabilities{integer: true, float: true, boolean: true, timestamp: true}
}

// observe narrows the capabilities by one value. Nil and empty values carry
// no type information.
func (c *capabilities) observe(value interface{}) {
	if value == nil {
		return
	}
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return
		}
		c.sawValue = true
		c.integer = c.integer && isInteger(s)
		c.float = c.float && isFloat(s)
		c.boolean = c.boolean && isBooleanWord(s)
		c.timestamp = c.timestamp && isTimestamp(s)
	case bool:
		c.sawValue = true
		c.integer = false
		c.float = false
		c.timestamp = false
	case float64:
		c.sawValue = true
		c.boolean = false
		c.timestamp = false
		c.integer = c.integer && v == float64(int64(v))
	case int, int64:
		c.sawValue = true
		c.boolean = false
		c.timestamp = false
	default:
		c.sawValue = true
		c.integer = false
		c.float = false
		c.boolean = false
		c.timestamp = false
	}
}

// resolve picks the narrowest type the column's values all satisfy. Columns
// with no observed values default to text.
func (c *capabilities) resolve() types.ColumnType {
	if !c.sawValue {
		return types.TypeText
	}
	switch {
	case c.boolean:
		return types.TypeBoolean
	case c.integer:
		return types.TypeInteger
	case c.float:
		return types.TypeFloat
	case c.timestamp:
		return types.TypeTimestamp
	default:
		return types.TypeText
	}
}

func isInteger(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func isFloat(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// isBooleanWord accepts only the word forms; "1"/"0" stay numeric.
func isBooleanWord(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false", "yes", "no":
		return true
	}
	return false
}

var inferTimestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func isTimestamp(s string) bool {
	for _, layout := range inferTimestampFormats {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
