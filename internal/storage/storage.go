// Package storage provides object storage for raw uploaded batch files.
// Implementations include S3 and the local filesystem.
package storage

import (
	"context"
	"fmt"
	"io"
)

// ObjectStorage abstracts the archive of raw uploaded files. Uploads stream
// from the request body; downloads stream back for re-export or reprocessing.
type ObjectStorage interface {
	// Put stores the object at objectPath, returning the number of bytes written.
	Put(ctx context.Context, objectPath string, body io.Reader) (int64, error)

	// Get opens the object for reading. The caller closes the returned reader.
	Get(ctx context.Context, objectPath string) (io.ReadCloser, error)

	// Delete removes one object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// DeletePrefix removes every object under the prefix. Used by dataset
	// deletion to drop all archived batch files at once.
	DeletePrefix(ctx context.Context, prefix string) error

	// Exists reports whether the object is present.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// List returns all object paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases any held resources.
	Close() error
}

// BatchObjectPath is the archive location of one batch's raw file.
func BatchObjectPath(datasetID, batchID, format string) string {
	return fmt.Sprintf("datasets/%s/batches/%s.%s", datasetID, batchID, format)
}

// DatasetPrefix is the archive prefix holding everything for one dataset.
func DatasetPrefix(datasetID string) string {
	return fmt.Sprintf("datasets/%s/", datasetID)
}
