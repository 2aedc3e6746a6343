// Package cache implements the read-through pagination cache.
//
// Keys canonicalize every parameter that affects a page's content, including
// the caller role: masked output differs by role, and caching a shared
// unmasked page would leak raw values across roles. Invalidation is
// dataset-wide: coarse, but trivially correct against every mutation.
// Backends degrade to cache misses on failure; the cache is never allowed to
// block a read.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"

	"github.com/stratadb/strata/pkg/types"
)

// DefaultTTL bounds entry lifetime; correctness comes from invalidation,
// the TTL only caps memory held by abandoned query shapes.
const DefaultTTL = 5 * time.Minute

// Page is the cached unit: one page of masked rows plus the total count
// observed at read time.
type Page struct {
	Rows  []types.Row `json:"rows"`
	Total int64       `json:"total"`
}

// PageCache is the pagination cache contract. Get returns (nil, false) on
// miss; backend failures degrade to misses. Put is fire-and-forget: failures
// are logged by the backend and never surfaced.
type PageCache interface {
	Get(ctx context.Context, key string) (*Page, bool)
	Put(ctx context.Context, key string, page *Page, ttl time.Duration)
	InvalidateDataset(ctx context.Context, datasetID string) error
	Close() error
}

// keyPrefix namespaces every cache key by dataset so invalidation can match
// on "rows:<dataset>:*".
func keyPrefix(datasetID string) string {
	return "rows:" + datasetID + ":"
}

// Key builds the canonical cache key for one read. Projection columns are
// sorted and filters rendered deterministically, so semantically identical
// requests always hash identically.
func Key(datasetID string, opts types.ReadOptions, role string) string {
	cols := make([]string, len(opts.Columns))
	copy(cols, opts.Columns)
	sort.Strings(cols)

	filters := make([]string, len(opts.Filters))
	for i, f := range opts.Filters {
		filters[i] = renderFilter(f)
	}
	sort.Strings(filters)

	canonical := strings.Join([]string{
		datasetID,
		strconv.Itoa(opts.Page),
		strconv.Itoa(opts.PageSize),
		opts.BatchID,
		strings.Join(cols, ","),
		strings.Join(filters, ","),
		role,
	}, "|")

	return keyPrefix(datasetID) + strconv.FormatUint(murmur3.Sum64([]byte(canonical)), 16)
}

func renderFilter(f types.Filter) string {
	if f.Op == types.OpIN {
		vals := make([]string, len(f.Values))
		for i, v := range f.Values {
			vals[i] = fmt.Sprint(v)
		}
		sort.Strings(vals)
		return f.Column + " in " + strings.Join(vals, ";")
	}
	return fmt.Sprintf("%s %s %v", f.Column, f.Op, f.Value)
}

// encodePage serializes a page to snappy-compressed JSON, the wire format
// shared by both backends.
func encodePage(page *Page) ([]byte, error) {
	raw, err := json.Marshal(page)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to encode page: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// decodePage reverses encodePage.
func decodePage(data []byte) (*Page, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to decompress page: %w", err)
	}
	var page Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("cache: failed to decode page: %w", err)
	}
	return &page, nil
}
